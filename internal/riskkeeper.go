package internal

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"

	"github.com/xKoRx/arbiter/sdk/domain"
	"github.com/xKoRx/arbiter/sdk/telemetry"
	"github.com/xKoRx/arbiter/sdk/telemetry/metricbundle"
	"github.com/xKoRx/arbiter/sdk/telemetry/semconv"
	"github.com/xKoRx/arbiter/sdk/utils"
)

// RiskKeeper es el único dueño del RiskState process-wide.
//
// El campo de estado es privado: toda transición pasa por Escalate (one-way,
// según el ranking de estados) o Clear (acción explícita de operador). Los
// gates leen un snapshot consistente vía State().
type RiskKeeper struct {
	mu          sync.RWMutex
	state       domain.RiskState
	reason      string
	changedAtMs int64

	telemetry *telemetry.Client
	metrics   *metricbundle.ArbiterMetrics
}

// NewRiskKeeper crea el keeper en NORMAL.
func NewRiskKeeper(tel *telemetry.Client, metrics *metricbundle.ArbiterMetrics) *RiskKeeper {
	return &RiskKeeper{
		state:       domain.RiskNormal,
		changedAtMs: utils.NowUnixMilli(),
		telemetry:   tel,
		metrics:     metrics,
	}
}

// State retorna el estado actual.
func (k *RiskKeeper) State() domain.RiskState {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.state
}

// Mode retorna el modo de trading efectivo derivado del estado actual.
func (k *RiskKeeper) Mode() domain.TradingMode {
	return domain.ModeFor(k.State())
}

// Reason retorna la razón de la última transición.
func (k *RiskKeeper) Reason() string {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.reason
}

// Escalate sube el estado a target si es una escalación válida. Retorna si
// hubo transición (mantenerse o bajar no transiciona).
func (k *RiskKeeper) Escalate(ctx context.Context, target domain.RiskState, reason string) bool {
	k.mu.Lock()
	from := k.state
	if !from.Escalates(target) {
		k.mu.Unlock()
		return false
	}
	k.state = target
	k.reason = reason
	k.changedAtMs = utils.NowUnixMilli()
	k.mu.Unlock()

	k.metrics.RecordRiskStateTransition(ctx, string(from), string(target))
	k.telemetry.Warn(ctx, "Risk state escalated",
		semconv.Arbiter.RiskState.String(string(target)),
		attribute.String("from", string(from)),
		attribute.String("reason", reason),
	)
	return true
}

// Clear vuelve a NORMAL por acción de operador. Es la única vía de descenso.
func (k *RiskKeeper) Clear(ctx context.Context, operator string) {
	k.mu.Lock()
	from := k.state
	if from == domain.RiskNormal {
		k.mu.Unlock()
		return
	}
	k.state = domain.RiskNormal
	k.reason = "cleared by " + operator
	k.changedAtMs = utils.NowUnixMilli()
	k.mu.Unlock()

	k.metrics.RecordRiskStateTransition(ctx, string(from), string(domain.RiskNormal))
	k.telemetry.Info(ctx, "Risk state cleared",
		attribute.String("from", string(from)),
		attribute.String("operator", operator),
	)
}
