package domain

import (
	"math"
)

// InstrumentSpec contiene la metadata de trading de un instrumento.
//
// Proviene del Config Snapshot (o del repositorio de specs) y es requisito
// del gate de cuantización: un spec ausente o inválido rechaza el intent,
// nunca se sustituye por defaults.
type InstrumentSpec struct {
	Instrument         string  `json:"instrument"`
	TickSize           float64 `json:"tick_size"`
	AmountStep         float64 `json:"amount_step"`
	MinAmount          float64 `json:"min_amount"`
	ContractMultiplier float64 `json:"contract_multiplier"`
}

// Validate verifica que el spec sea usable para cuantizar.
func (s *InstrumentSpec) Validate() error {
	if s == nil {
		return NewError(ErrInstrumentMetadataMissing, "instrument spec is nil")
	}
	if !isFinitePositive(s.TickSize) {
		return NewError(ErrInstrumentMetadataMissing, "tick_size must be finite and > 0").
			WithDetail("instrument", s.Instrument).
			WithDetail("tick_size", s.TickSize)
	}
	if !isFinitePositive(s.AmountStep) {
		return NewError(ErrInstrumentMetadataMissing, "amount_step must be finite and > 0").
			WithDetail("instrument", s.Instrument).
			WithDetail("amount_step", s.AmountStep)
	}
	if math.IsNaN(s.MinAmount) || math.IsInf(s.MinAmount, 0) || s.MinAmount < 0 {
		return NewError(ErrInstrumentMetadataMissing, "min_amount must be finite and >= 0").
			WithDetail("instrument", s.Instrument).
			WithDetail("min_amount", s.MinAmount)
	}
	if !isFinitePositive(s.ContractMultiplier) {
		return NewError(ErrInstrumentMetadataMissing, "contract_multiplier must be finite and > 0").
			WithDetail("instrument", s.Instrument).
			WithDetail("contract_multiplier", s.ContractMultiplier)
	}
	return nil
}

// QuantizedFields es el resultado de cuantizar cantidad y precio.
//
// Los steps enteros son la representación exacta; los valores float
// reconstruidos se usan para el wire y el journal.
type QuantizedFields struct {
	QtySteps     int64   `json:"qty_steps"`
	PriceTicks   int64   `json:"price_ticks"`
	TriggerTicks int64   `json:"trigger_ticks,omitempty"`
	QtyQ         float64 `json:"qty_q"`
	LimitPriceQ  float64 `json:"limit_price_q"`

	// TriggerPriceQ es el precio de disparo cuantizado; 0 si la orden no es
	// stop.
	TriggerPriceQ float64 `json:"trigger_price_q,omitempty"`
}

// Quantize ajusta cantidad y precio a la grilla del instrumento.
//
// La cantidad siempre se trunca hacia abajo al múltiplo de amount_step.
// El precio se trunca hacia abajo para BUY y hacia arriba para SELL (el
// lado conservador en ambos casos). Rechaza con TOO_SMALL_AFTER_QUANTIZATION
// si la cantidad truncada queda bajo min_amount.
func Quantize(side Side, rawQty, rawLimitPrice float64, spec *InstrumentSpec) (QuantizedFields, error) {
	if err := spec.Validate(); err != nil {
		return QuantizedFields{}, err
	}
	if !isFinitePositive(rawQty) || !isFinitePositive(rawLimitPrice) {
		return QuantizedFields{}, NewError(ErrInvalidInput, "qty and limit price must be finite and > 0").
			WithDetail("raw_qty", rawQty).
			WithDetail("raw_limit_price", rawLimitPrice)
	}

	qtySteps := stepsFloor(rawQty, spec.AmountStep)
	qtyQ := float64(qtySteps) * spec.AmountStep
	if qtyQ < spec.MinAmount {
		return QuantizedFields{}, NewError(ErrTooSmallAfterQuantization, "quantized qty below min amount").
			WithDetail("raw_qty", rawQty).
			WithDetail("qty_q", qtyQ).
			WithDetail("min_amount", spec.MinAmount)
	}

	var priceTicks int64
	switch side {
	case SideBuy:
		priceTicks = stepsFloor(rawLimitPrice, spec.TickSize)
	case SideSell:
		priceTicks = stepsCeil(rawLimitPrice, spec.TickSize)
	default:
		return QuantizedFields{}, NewError(ErrInvalidInput, "side must be BUY or SELL").
			WithDetail("side", string(side))
	}

	return QuantizedFields{
		QtySteps:    qtySteps,
		PriceTicks:  priceTicks,
		QtyQ:        qtyQ,
		LimitPriceQ: float64(priceTicks) * spec.TickSize,
	}, nil
}

// QuantizeTrigger ajusta el precio de disparo de una orden stop a la grilla
// de ticks, con la misma regla conservadora por lado que el precio límite.
func QuantizeTrigger(side Side, rawTrigger float64, spec *InstrumentSpec) (int64, float64, error) {
	if err := spec.Validate(); err != nil {
		return 0, 0, err
	}
	if !isFinitePositive(rawTrigger) {
		return 0, 0, NewError(ErrInvalidInput, "trigger price must be finite and > 0").
			WithDetail("raw_trigger", rawTrigger)
	}

	var ticks int64
	switch side {
	case SideBuy:
		ticks = stepsFloor(rawTrigger, spec.TickSize)
	case SideSell:
		ticks = stepsCeil(rawTrigger, spec.TickSize)
	default:
		return 0, 0, NewError(ErrInvalidInput, "side must be BUY or SELL").
			WithDetail("side", string(side))
	}
	return ticks, float64(ticks) * spec.TickSize, nil
}

func isFinitePositive(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0) && v > 0
}

func stepsFloor(value, step float64) int64 {
	ratio := value / step
	if n, ok := nearInteger(ratio); ok {
		return n
	}
	return int64(math.Floor(ratio))
}

func stepsCeil(value, step float64) int64 {
	ratio := value / step
	if n, ok := nearInteger(ratio); ok {
		return n
	}
	return int64(math.Ceil(ratio))
}

// nearInteger detecta ratios que son enteros salvo ruido de float64, para que
// un valor representable exacto no pierda un step completo al truncar.
func nearInteger(value float64) (int64, bool) {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return 0, false
	}
	rounded := math.Round(value)
	tolerance := math.Max(math.Abs(value), 1.0) * 4 * 2.220446049250313e-16
	if math.Abs(value-rounded) <= tolerance {
		return int64(rounded), true
	}
	return 0, false
}
