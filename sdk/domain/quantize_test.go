package domain

import (
	"math"
	"testing"
)

func validSpec() *InstrumentSpec {
	return &InstrumentSpec{
		Instrument:         "BTC-PERPETUAL",
		TickSize:           0.5,
		AmountStep:         10,
		MinAmount:          10,
		ContractMultiplier: 1,
	}
}

func TestQuantize(t *testing.T) {
	tests := []struct {
		name      string
		side      Side
		qty       float64
		price     float64
		spec      *InstrumentSpec
		wantQty   float64
		wantPrice float64
		wantCode  ErrorCode
	}{
		{
			name: "exact grid passes through",
			side: SideBuy, qty: 20, price: 50000.5, spec: validSpec(),
			wantQty: 20, wantPrice: 50000.5,
		},
		{
			name: "buy price floors to tick",
			side: SideBuy, qty: 25, price: 50000.7, spec: validSpec(),
			wantQty: 20, wantPrice: 50000.5,
		},
		{
			name: "sell price ceils to tick",
			side: SideSell, qty: 25, price: 50000.7, spec: validSpec(),
			wantQty: 20, wantPrice: 50001.0,
		},
		{
			name: "too small after quantization",
			side: SideBuy, qty: 9.9, price: 50000, spec: validSpec(),
			wantCode: ErrTooSmallAfterQuantization,
		},
		{
			name: "tick size zero rejects as metadata missing",
			side: SideBuy, qty: 20, price: 50000,
			spec: &InstrumentSpec{Instrument: "X", TickSize: 0, AmountStep: 10, MinAmount: 10, ContractMultiplier: 1},
			wantCode: ErrInstrumentMetadataMissing,
		},
		{
			name: "amount step negative rejects as metadata missing",
			side: SideBuy, qty: 20, price: 50000,
			spec: &InstrumentSpec{Instrument: "X", TickSize: 0.5, AmountStep: -1, MinAmount: 10, ContractMultiplier: 1},
			wantCode: ErrInstrumentMetadataMissing,
		},
		{
			name: "nil spec rejects as metadata missing",
			side: SideBuy, qty: 20, price: 50000, spec: nil,
			wantCode: ErrInstrumentMetadataMissing,
		},
		{
			name: "non-finite qty rejects as invalid input",
			side: SideBuy, qty: math.NaN(), price: 50000, spec: validSpec(),
			wantCode: ErrInvalidInput,
		},
		{
			name: "zero price rejects as invalid input",
			side: SideBuy, qty: 20, price: 0, spec: validSpec(),
			wantCode: ErrInvalidInput,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Quantize(tt.side, tt.qty, tt.price, tt.spec)
			if tt.wantCode != "" {
				if err == nil {
					t.Fatalf("expected error code %s, got nil", tt.wantCode)
				}
				if CodeOf(err) != tt.wantCode {
					t.Fatalf("expected code %s, got %s (%v)", tt.wantCode, CodeOf(err), err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got.QtyQ != tt.wantQty {
				t.Fatalf("qty_q: expected %v, got %v", tt.wantQty, got.QtyQ)
			}
			if got.LimitPriceQ != tt.wantPrice {
				t.Fatalf("limit_price_q: expected %v, got %v", tt.wantPrice, got.LimitPriceQ)
			}
		})
	}
}

func TestQuantizeTrigger(t *testing.T) {
	tests := []struct {
		name     string
		side     Side
		trigger  float64
		want     float64
		wantCode ErrorCode
	}{
		{name: "buy trigger floors to tick", side: SideBuy, trigger: 49000.3, want: 49000},
		{name: "sell trigger ceils to tick", side: SideSell, trigger: 49000.3, want: 49000.5},
		{name: "zero trigger rejects as invalid input", side: SideBuy, trigger: 0, wantCode: ErrInvalidInput},
		{name: "nan trigger rejects as invalid input", side: SideSell, trigger: math.NaN(), wantCode: ErrInvalidInput},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, got, err := QuantizeTrigger(tt.side, tt.trigger, validSpec())
			if tt.wantCode != "" {
				if err == nil {
					t.Fatalf("expected error code %s, got nil", tt.wantCode)
				}
				if CodeOf(err) != tt.wantCode {
					t.Fatalf("expected code %s, got %s (%v)", tt.wantCode, CodeOf(err), err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Fatalf("trigger_price_q: expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestQuantizeNearIntegerRatio(t *testing.T) {
	// 0.3 / 0.1 no es exactamente 3.0 en float64; el truncado ingenuo
	// perdería un step completo.
	spec := &InstrumentSpec{Instrument: "X", TickSize: 0.1, AmountStep: 0.1, MinAmount: 0.1, ContractMultiplier: 1}
	got, err := Quantize(SideBuy, 0.3, 0.3, spec)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.QtySteps != 3 {
		t.Fatalf("expected 3 qty steps, got %d", got.QtySteps)
	}
	if got.PriceTicks != 3 {
		t.Fatalf("expected 3 price ticks, got %d", got.PriceTicks)
	}
}
