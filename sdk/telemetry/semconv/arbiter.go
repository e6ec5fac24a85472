package semconv

import "go.opentelemetry.io/otel/attribute"

// Arbiter contiene atributos semánticos específicos del pipeline de despacho.
//
// # Identificadores
//
//   - arbiter.intent_id: UUIDv7 del intent
//   - arbiter.run_id: ciclo de decisión que produjo el intent
//   - arbiter.client_order_id: idempotency key derivada del intent_id
//   - arbiter.exchange_order_id: id asignado por el exchange
//   - arbiter.account_id: cuenta afectada
//
// # Trading
//
//   - arbiter.instrument: instrumento (BTC-PERPETUAL, etc.)
//   - arbiter.side: lado de la orden (BUY/SELL)
//   - arbiter.order_type: tipo de orden
//   - arbiter.qty: cantidad cuantizada
//   - arbiter.price: precio cuantizado
//
// # Pipeline
//
//   - arbiter.gate: nombre del gate evaluado
//   - arbiter.verdict: accept/reject
//   - arbiter.reason: código de razón del rechazo
//   - arbiter.journal_state: estado del journal entry
//   - arbiter.risk_state: RiskState process-wide
//   - arbiter.attempt: número de intento de despacho
//   - arbiter.hash: digest canónico del intent
var Arbiter = arbiterAttributes{
	// Identificadores
	IntentID:        attribute.Key("arbiter.intent_id"),
	RunID:           attribute.Key("arbiter.run_id"),
	ClientOrderID:   attribute.Key("arbiter.client_order_id"),
	ExchangeOrderID: attribute.Key("arbiter.exchange_order_id"),
	AccountID:       attribute.Key("arbiter.account_id"),

	// Trading
	Instrument: attribute.Key("arbiter.instrument"),
	Side:       attribute.Key("arbiter.side"),
	OrderType:  attribute.Key("arbiter.order_type"),
	Qty:        attribute.Key("arbiter.qty"),
	Price:      attribute.Key("arbiter.price"),

	// Pipeline
	Gate:         attribute.Key("arbiter.gate"),
	Verdict:      attribute.Key("arbiter.verdict"),
	Reason:       attribute.Key("arbiter.reason"),
	JournalState: attribute.Key("arbiter.journal_state"),
	RiskState:    attribute.Key("arbiter.risk_state"),
	Attempt:      attribute.Key("arbiter.attempt"),
	Hash:         attribute.Key("arbiter.hash"),
	ConfigKey:    attribute.Key("arbiter.config_key"),
	Component:    attribute.Key("arbiter.component"),
}

type arbiterAttributes struct {
	// Identificadores
	IntentID        attribute.Key // UUIDv7 del intent
	RunID           attribute.Key // ciclo de decisión
	ClientOrderID   attribute.Key // idempotency key derivada
	ExchangeOrderID attribute.Key // id del exchange
	AccountID       attribute.Key // cuenta afectada

	// Trading
	Instrument attribute.Key // instrumento
	Side       attribute.Key // BUY/SELL
	OrderType  attribute.Key // tipo de orden
	Qty        attribute.Key // cantidad cuantizada
	Price      attribute.Key // precio cuantizado

	// Pipeline
	Gate         attribute.Key // nombre del gate
	Verdict      attribute.Key // accept/reject
	Reason       attribute.Key // código de rechazo
	JournalState attribute.Key // estado del journal entry
	RiskState    attribute.Key // RiskState process-wide
	Attempt      attribute.Key // intento de despacho
	Hash         attribute.Key // digest canónico
	ConfigKey    attribute.Key // clave de configuración (fail-closed)
	Component    attribute.Key // componente emisor
}
