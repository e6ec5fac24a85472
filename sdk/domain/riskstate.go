package domain

// RiskState es el estado de riesgo process-wide del pipeline.
//
// Las transiciones son escalaciones one-way (NORMAL → THROTTLED →
// RECONCILING → HALTED) salvo Clear explícito de un operador o de la
// recuperación. Todas pasan por la máquina de estados; nunca por mutación
// directa desde call sites arbitrarios.
type RiskState string

const (
	RiskNormal      RiskState = "NORMAL"
	RiskThrottled   RiskState = "THROTTLED"
	RiskReconciling RiskState = "RECONCILING"
	RiskHalted      RiskState = "HALTED"
)

var riskRank = map[RiskState]int{
	RiskNormal:      0,
	RiskThrottled:   1,
	RiskReconciling: 2,
	RiskHalted:      3,
}

// Valid indica si el estado es uno de los cuatro conocidos.
func (s RiskState) Valid() bool {
	_, ok := riskRank[s]
	return ok
}

// Escalates indica si pasar de s a target es una escalación permitida.
// Mantenerse en el mismo estado no escala.
func (s RiskState) Escalates(target RiskState) bool {
	sr, ok1 := riskRank[s]
	tr, ok2 := riskRank[target]
	return ok1 && ok2 && tr > sr
}

// TradingMode es el modo efectivo derivado del RiskState.
type TradingMode string

const (
	ModeActive     TradingMode = "ACTIVE"      // todo permitido
	ModeReduceOnly TradingMode = "REDUCE_ONLY" // sólo Close y Cancel
	ModeCancelOnly TradingMode = "CANCEL_ONLY" // sólo Cancel
)

// ModeFor deriva el modo efectivo de trading para un RiskState.
//
// THROTTLED y RECONCILING degradan a reduce-only: la exposición no puede
// crecer mientras el estado del exchange sea dudoso. HALTED sólo permite
// cancelaciones.
func ModeFor(state RiskState) TradingMode {
	switch state {
	case RiskHalted:
		return ModeCancelOnly
	case RiskThrottled, RiskReconciling:
		return ModeReduceOnly
	default:
		return ModeActive
	}
}

// AllowedInMode indica si una clase de intent está permitida en un modo.
func (c IntentClass) AllowedInMode(mode TradingMode) bool {
	switch c {
	case ClassCancel:
		return true
	case ClassClose:
		return mode != ModeCancelOnly
	default:
		return mode == ModeActive
	}
}
