package internal

import (
	"context"
	"math"

	"github.com/xKoRx/arbiter/sdk/domain"
)

// Nombres de gates en orden canónico de pipeline. El orden es parte del
// contrato: config-presence corre antes que cuantización, cuantización antes
// que política, política antes que risk-state, risk-state antes que budget.
const (
	GateConfig    = "config"
	GateQuantize  = "quantize"
	GatePolicy    = "policy"
	GateRiskState = "risk_state"
	GateExposure  = "exposure"
)

var gateOrder = []string{GateConfig, GateQuantize, GatePolicy, GateRiskState, GateExposure}

// EvalInput es la entrada congelada de una evaluación de pipeline. Se captura
// una sola vez bajo el keyed mutex del recurso; los gates no leen estado
// mutable compartido.
type EvalInput struct {
	Intent   *domain.Intent
	Snapshot *ConfigSnapshot

	// Spec resuelto para el instrumento del intent (servicio de specs con
	// fallback al snapshot). Nil si ninguna fuente lo tiene.
	Spec *domain.InstrumentSpec

	// RiskState capturado al inicio de la evaluación.
	RiskState domain.RiskState

	// Exposición proyectada actual (neta + pendiente) del recurso
	// cuenta+instrumento, en unidades de contrato.
	CurrentExposure float64
}

// EvalResult acumula los productos intermedios de los gates que los
// siguientes necesitan (cantidad y precio cuantizados).
type EvalResult struct {
	Quantized domain.QuantizedFields
	quantized bool
}

type gate interface {
	Name() string
	Evaluate(ctx context.Context, in *EvalInput, out *EvalResult) domain.GateVerdict
}

// ---------------------------------------------------------------------------
// config: presencia de configuración y metadata de instrumento (fail-closed)
// ---------------------------------------------------------------------------

type configGate struct{}

func (g *configGate) Name() string { return GateConfig }

func (g *configGate) Evaluate(ctx context.Context, in *EvalInput, out *EvalResult) domain.GateVerdict {
	if in.Snapshot == nil {
		return domain.Reject(GateConfig, domain.ErrConfigMissing, "no config snapshot loaded")
	}
	if in.Spec == nil {
		v := domain.Reject(GateConfig, domain.ErrConfigMissing, "no instrument spec for intent")
		v.Details = map[string]interface{}{
			"instrument": in.Intent.Instrument,
		}
		return v
	}
	return domain.Accept(GateConfig)
}

// ---------------------------------------------------------------------------
// quantize: cantidad y precio a la grilla del instrumento
// ---------------------------------------------------------------------------

type quantizeGate struct{}

func (g *quantizeGate) Name() string { return GateQuantize }

func (g *quantizeGate) Evaluate(ctx context.Context, in *EvalInput, out *EvalResult) domain.GateVerdict {
	// Las cancelaciones referencian una orden existente; no llevan cantidad
	// ni precio propios que cuantizar.
	if in.Intent.Class() == domain.ClassCancel {
		return domain.Accept(GateQuantize)
	}

	// Market y stop-market no llevan precio límite: la grilla de ticks sólo
	// aplica a la cantidad.
	marketLike := in.Intent.OrderType == domain.OrderTypeMarket ||
		in.Intent.OrderType == domain.OrderTypeStopMarket
	rawPrice := in.Intent.LimitPrice
	if marketLike {
		rawPrice = in.Spec.TickSize
	}

	q, err := domain.Quantize(in.Intent.Side, in.Intent.Quantity, rawPrice, in.Spec)
	if err != nil {
		return domain.RejectFromError(GateQuantize, err)
	}
	if marketLike {
		q.PriceTicks = 0
		q.LimitPriceQ = 0
	}

	// Las órdenes stop llevan además un precio de disparo en la misma grilla.
	switch in.Intent.OrderType {
	case domain.OrderTypeStopLimit, domain.OrderTypeStopMarket:
		ticks, triggerQ, err := domain.QuantizeTrigger(in.Intent.Side, in.Intent.TriggerPrice, in.Spec)
		if err != nil {
			return domain.RejectFromError(GateQuantize, err)
		}
		q.TriggerTicks = ticks
		q.TriggerPriceQ = triggerQ
	}

	out.Quantized = q
	out.quantized = true
	return domain.Accept(GateQuantize)
}

// ---------------------------------------------------------------------------
// policy: permisos de tipo de orden y órdenes enlazadas
// ---------------------------------------------------------------------------

type policyGate struct{}

func (g *policyGate) Name() string { return GatePolicy }

func (g *policyGate) Evaluate(ctx context.Context, in *EvalInput, out *EvalResult) domain.GateVerdict {
	policy := in.Snapshot.Policy

	if in.Intent.LinkedType != domain.LinkedOrderNone && !policy.AllowLinkedOrders {
		v := domain.Reject(GatePolicy, domain.ErrLinkedOrderTypeForbidden, "linked orders not permitted by policy")
		v.Details = map[string]interface{}{"linked_type": string(in.Intent.LinkedType)}
		return v
	}

	switch in.Intent.OrderType {
	case domain.OrderTypeMarket:
		if !policy.AllowMarketOrders {
			return domain.Reject(GatePolicy, domain.ErrOrderTypeMarketForbidden, "market orders not permitted by policy")
		}
	case domain.OrderTypeStopLimit, domain.OrderTypeStopMarket:
		if !policy.AllowStopOrders {
			return domain.Reject(GatePolicy, domain.ErrOrderTypeStopForbidden, "stop orders not permitted by policy")
		}
	}

	return domain.Accept(GatePolicy)
}

// ---------------------------------------------------------------------------
// risk_state: modo degradado por clase de intent
// ---------------------------------------------------------------------------

type riskStateGate struct{}

func (g *riskStateGate) Name() string { return GateRiskState }

func (g *riskStateGate) Evaluate(ctx context.Context, in *EvalInput, out *EvalResult) domain.GateVerdict {
	mode := domain.ModeFor(in.RiskState)
	class := in.Intent.Class()
	if class.AllowedInMode(mode) {
		return domain.Accept(GateRiskState)
	}

	reason := domain.ErrModeForbidsOpen
	if class == domain.ClassClose {
		reason = domain.ErrModeForbidsClose
	}
	v := domain.Reject(GateRiskState, reason, "intent class not allowed in current trading mode")
	v.Details = map[string]interface{}{
		"risk_state": string(in.RiskState),
		"mode":       string(mode),
		"class":      string(class),
	}
	return v
}

// ---------------------------------------------------------------------------
// exposure: presupuesto de exposición y tamaño máximo de orden
// ---------------------------------------------------------------------------

type exposureGate struct{}

func (g *exposureGate) Name() string { return GateExposure }

func (g *exposureGate) Evaluate(ctx context.Context, in *EvalInput, out *EvalResult) domain.GateVerdict {
	// Close y Cancel sólo reducen o no tocan exposición; nunca exceden el
	// presupuesto.
	if in.Intent.Class() != domain.ClassOpen {
		return domain.Accept(GateExposure)
	}
	if !out.quantized {
		// El orden de pipeline garantiza cuantización previa para Opens.
		return domain.Reject(GateExposure, domain.ErrInvalidInput, "exposure gate reached without quantized fields")
	}

	limits := in.Snapshot.Risk
	qty := out.Quantized.QtyQ

	if qty > limits.MaxOrderQty {
		v := domain.Reject(GateExposure, domain.ErrOrderQtyExceeded, "quantized qty above max order qty")
		v.Details = map[string]interface{}{
			"qty_q":         qty,
			"max_order_qty": limits.MaxOrderQty,
		}
		return v
	}

	projected := in.CurrentExposure + signedExposure(in.Intent.Side, qty, in.Spec.ContractMultiplier)
	if math.Abs(projected) > limits.MaxExposure {
		v := domain.Reject(GateExposure, domain.ErrExposureExceeded, "projected exposure above budget")
		v.Details = map[string]interface{}{
			"current":      in.CurrentExposure,
			"projected":    projected,
			"max_exposure": limits.MaxExposure,
		}
		return v
	}

	return domain.Accept(GateExposure)
}

// signedExposure convierte una cantidad cuantizada en delta de exposición con
// signo (BUY positivo, SELL negativo), en unidades de contrato.
func signedExposure(side domain.Side, qtyQ, contractMultiplier float64) float64 {
	delta := qtyQ * contractMultiplier
	if side == domain.SideSell {
		return -delta
	}
	return delta
}
