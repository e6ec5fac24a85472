package internal

import (
	"context"
	"testing"

	"github.com/xKoRx/arbiter/sdk/domain"
)

func TestExposureCommitSettle(t *testing.T) {
	l := NewExposureLedger()
	key := "acc-1::BTC-PERPETUAL"

	if got := l.Projected(key); got != 0 {
		t.Fatalf("projected = %v, want 0", got)
	}

	l.Commit(key, "i-1", 100)
	l.Commit(key, "i-2", -30)
	if got := l.Projected(key); got != 70 {
		t.Fatalf("projected = %v, want 70", got)
	}

	// Confirmado: el pendiente se consolida en neto.
	l.Settle(key, "i-1", true)
	if got := l.Projected(key); got != 70 {
		t.Fatalf("projected = %v, want 70 after settle", got)
	}

	// Fallido: el pendiente se libera sin efecto.
	l.Settle(key, "i-2", false)
	if got := l.Projected(key); got != 100 {
		t.Fatalf("projected = %v, want 100 (net only)", got)
	}
}

func TestExposureSettleUnknownIsNoop(t *testing.T) {
	l := NewExposureLedger()
	l.Settle("acc-1::BTC-PERPETUAL", "missing", true)
	if got := l.Projected("acc-1::BTC-PERPETUAL"); got != 0 {
		t.Fatalf("projected = %v, want 0", got)
	}
}

func TestExposureCommitIdempotentPerIntent(t *testing.T) {
	l := NewExposureLedger()
	key := "acc-1::BTC-PERPETUAL"
	l.Commit(key, "i-1", 100)
	l.Commit(key, "i-1", 100) // replay del mismo intent
	if got := l.Projected(key); got != 100 {
		t.Fatalf("projected = %v, want 100 (no double count)", got)
	}
}

func TestExposureKeysAreIndependent(t *testing.T) {
	l := NewExposureLedger()
	l.Commit("acc-1::BTC-PERPETUAL", "i-1", 100)
	l.Commit("acc-1::ETH-PERPETUAL", "i-2", 40)

	if got := l.Projected("acc-1::BTC-PERPETUAL"); got != 100 {
		t.Fatalf("btc = %v, want 100", got)
	}
	if got := l.Projected("acc-1::ETH-PERPETUAL"); got != 40 {
		t.Fatalf("eth = %v, want 40", got)
	}

	snap := l.Snapshot()
	if len(snap) != 2 || snap["acc-1::BTC-PERPETUAL"] != 100 {
		t.Fatalf("snapshot = %v", snap)
	}
}

func TestRiskKeeperEscalationOneWay(t *testing.T) {
	tel, metrics := newTestTelemetry(t)
	k := NewRiskKeeper(tel, metrics)
	ctx := context.Background()

	if k.State() != domain.RiskNormal {
		t.Fatalf("initial state = %s, want NORMAL", k.State())
	}

	if !k.Escalate(ctx, domain.RiskReconciling, "ambiguous") {
		t.Fatalf("expected escalation to RECONCILING")
	}
	// Bajar por Escalate está prohibido.
	if k.Escalate(ctx, domain.RiskThrottled, "lower") {
		t.Fatalf("de-escalation must not transition")
	}
	if k.State() != domain.RiskReconciling {
		t.Fatalf("state = %s, want RECONCILING", k.State())
	}

	if !k.Escalate(ctx, domain.RiskHalted, "permanent failure") {
		t.Fatalf("expected escalation to HALTED")
	}
	if k.Mode() != domain.ModeCancelOnly {
		t.Fatalf("mode = %s, want CANCEL_ONLY", k.Mode())
	}

	// Sólo Clear de operador baja.
	k.Clear(ctx, "ops-oncall")
	if k.State() != domain.RiskNormal {
		t.Fatalf("state = %s, want NORMAL after clear", k.State())
	}
}
