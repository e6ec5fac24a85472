package domain

import (
	"context"
)

// Order es la orden lista para el wire, ya cuantizada.
type Order struct {
	ClientOrderID string          `json:"client_order_id"` // derivado del intent_id, idempotente
	Instrument    string          `json:"instrument"`
	Side          Side            `json:"side"`
	OrderType     OrderType       `json:"order_type"`
	LinkedType    LinkedOrderType `json:"linked_type,omitempty"`
	QtyQ          float64         `json:"qty_q"`
	LimitPriceQ   float64         `json:"limit_price_q"`
	TriggerPriceQ float64         `json:"trigger_price_q,omitempty"`
	ReduceOnly    bool            `json:"reduce_only"`
}

// SubmitStatus clasifica el resultado de una submission.
type SubmitStatus string

const (
	SubmitAck       SubmitStatus = "ACK"       // exchange confirmó recepción
	SubmitRejected  SubmitStatus = "REJECTED"  // rechazo explícito del exchange
	SubmitAmbiguous SubmitStatus = "AMBIGUOUS" // timeout o sin ack: requiere reconciliación
)

// SubmitResult es la respuesta del connector a una submission.
type SubmitResult struct {
	Status          SubmitStatus
	ExchangeOrderID string
	Code            ErrorCode // razón del exchange en REJECTED/AMBIGUOUS
	Message         string
}

// QueryResult es la verdad del exchange sobre un client_order_id.
type QueryResult struct {
	Found           bool
	ExchangeOrderID string
	State           string // open/filled/cancelled/rejected según el exchange
}

// ExchangeConnector es el contrato del cliente de wire del exchange.
//
// Es un colaborador externo: Arbiter sólo lo conoce por esta interfaz y la
// única capability de Submit vive en el dispatch chokepoint. Toda submission
// lleva un client_order_id estable derivado del intent_id.
type ExchangeConnector interface {
	// Submit envía exactamente una orden. Un error de transporte (timeout,
	// conexión caída) equivale a un resultado AMBIGUOUS: el caller no debe
	// asumir ni éxito ni fracaso.
	Submit(ctx context.Context, order *Order) (*SubmitResult, error)

	// QueryByClientID consulta la verdad del exchange para un client_order_id.
	QueryByClientID(ctx context.Context, clientOrderID string) (*QueryResult, error)
}

// ReconnectAware lo implementan connectors cuya sesión puede caerse. El
// handler debe rehacer autenticación y suscripciones privadas antes de que
// el despacho se reanude.
type ReconnectAware interface {
	OnReconnect(handler func(ctx context.Context) error)
}
