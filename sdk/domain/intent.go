package domain

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/xKoRx/arbiter/sdk/utils"
)

// Side representa la dirección de una orden.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// OrderType representa el tipo de orden solicitado.
type OrderType string

const (
	OrderTypeLimit      OrderType = "LIMIT"
	OrderTypeMarket     OrderType = "MARKET"
	OrderTypeStopLimit  OrderType = "STOP_LIMIT"
	OrderTypeStopMarket OrderType = "STOP_MARKET"
)

// LinkedOrderType representa órdenes enlazadas (OCO/OTO). Vacío si no aplica.
type LinkedOrderType string

const (
	LinkedOrderNone LinkedOrderType = ""
	LinkedOrderOCO  LinkedOrderType = "OCO"
	LinkedOrderOTO  LinkedOrderType = "OTO"
)

// IntentAction representa la acción solicitada por la estrategia.
type IntentAction string

const (
	ActionPlace  IntentAction = "PLACE"
	ActionCancel IntentAction = "CANCEL"
	ActionClose  IntentAction = "CLOSE"
	ActionHedge  IntentAction = "HEDGE"
)

// IntentClass clasifica un intent según su efecto sobre la exposición.
//
// Open incrementa exposición; Close la reduce; Cancel no toca posición.
// La clasificación decide qué permite cada TradingMode degradado.
type IntentClass string

const (
	ClassOpen   IntentClass = "OPEN"
	ClassClose  IntentClass = "CLOSE"
	ClassCancel IntentClass = "CANCEL"
)

// ClassFor deriva la clase de un intent a partir de acción y reduce_only.
func ClassFor(action IntentAction, reduceOnly bool) IntentClass {
	switch action {
	case ActionCancel:
		return ClassCancel
	case ActionClose, ActionHedge:
		return ClassClose
	default:
		if reduceOnly {
			return ClassClose
		}
		return ClassOpen
	}
}

// Intent representa una acción de orden propuesta, inmutable una vez creada.
//
// Correcciones se modelan como Intents nuevos con intent_id fresco y
// PrevIntentID apuntando al original; nunca como mutación.
type Intent struct {
	// Identidad
	IntentID     string `json:"intent_id"`      // UUIDv7, generado una sola vez
	RunID        string `json:"run_id"`         // ciclo de decisión que lo produjo
	PrevIntentID string `json:"prev_intent_id"` // back-reference si corrige otro intent

	// Decisión
	AccountID  string          `json:"account_id"`
	Instrument string          `json:"instrument"`
	Side       Side            `json:"side"`
	Action     IntentAction    `json:"action"`
	OrderType  OrderType       `json:"order_type"`
	LinkedType LinkedOrderType `json:"linked_type,omitempty"`
	Quantity   float64         `json:"quantity"`
	LimitPrice float64         `json:"limit_price"`

	// TriggerPrice es el precio de disparo para órdenes stop; 0 si no aplica.
	TriggerPrice float64 `json:"trigger_price,omitempty"`

	ReduceOnly bool `json:"reduce_only"`

	// Metadata libre (excluida de la codificación canónica)
	Metadata map[string]string `json:"metadata,omitempty"`

	// Captura (excluida de la codificación canónica)
	CreatedAtMs int64 `json:"created_at_ms"`
}

// StrategyOutput es la salida congelada de la capa de estrategia que origina
// un Intent. Arbiter no genera señales; sólo las valida y despacha.
type StrategyOutput struct {
	AccountID    string
	Instrument   string
	Side         Side
	Action       IntentAction
	OrderType    OrderType
	LinkedType   LinkedOrderType
	Quantity     float64
	LimitPrice   float64
	TriggerPrice float64
	ReduceOnly   bool
	PrevIntentID string
	Metadata     map[string]string
}

// BuildIntent construye un Intent inmutable desde la salida de estrategia.
//
// El intent_id (UUIDv7) y el timestamp de captura se generan aquí, una sola
// vez; ninguno participa en la codificación canónica.
func BuildIntent(out StrategyOutput, runID string) (*Intent, error) {
	if out.AccountID == "" {
		return nil, NewError(ErrMissingRequiredField, "account_id is required")
	}
	if out.Instrument == "" {
		return nil, NewError(ErrMissingRequiredField, "instrument is required")
	}
	if runID == "" {
		return nil, NewError(ErrMissingRequiredField, "run_id is required")
	}
	switch out.Side {
	case SideBuy, SideSell:
	default:
		return nil, NewError(ErrInvalidInput, "side must be BUY or SELL").
			WithDetail("side", string(out.Side))
	}
	switch out.Action {
	case ActionPlace, ActionCancel, ActionClose, ActionHedge:
	default:
		return nil, NewError(ErrInvalidInput, "unknown intent action").
			WithDetail("action", string(out.Action))
	}

	meta := make(map[string]string, len(out.Metadata))
	for k, v := range out.Metadata {
		meta[k] = v
	}

	return &Intent{
		IntentID:     utils.GenerateUUIDv7(),
		RunID:        runID,
		PrevIntentID: out.PrevIntentID,
		AccountID:    out.AccountID,
		Instrument:   out.Instrument,
		Side:         out.Side,
		Action:       out.Action,
		OrderType:    out.OrderType,
		LinkedType:   out.LinkedType,
		Quantity:     out.Quantity,
		LimitPrice:   out.LimitPrice,
		TriggerPrice: out.TriggerPrice,
		ReduceOnly:   out.ReduceOnly,
		Metadata:     meta,
		CreatedAtMs:  utils.NowUnixMilli(),
	}, nil
}

// Class retorna la clase del intent (Open/Close/Cancel).
func (i *Intent) Class() IntentClass {
	return ClassFor(i.Action, i.ReduceOnly)
}

// ResourceKey identifica el recurso serializable (cuenta + instrumento).
// Intents con la misma clave se evalúan bajo single-writer.
func (i *Intent) ResourceKey() string {
	return i.AccountID + "::" + i.Instrument
}

// ClientOrderID deriva el identificador idempotente que acompaña cada
// submission al exchange. Es función pura del intent_id: reintentos y
// reconciliación usan siempre el mismo valor.
func (i *Intent) ClientOrderID() string {
	sum := sha256.Sum256([]byte("arbiter:" + i.IntentID))
	return "arb-" + hex.EncodeToString(sum[:10])
}
