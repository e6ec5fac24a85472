package internal

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/xKoRx/arbiter/sdk/domain"
	"github.com/xKoRx/arbiter/sdk/telemetry"
	"github.com/xKoRx/arbiter/sdk/telemetry/metricbundle"
	"github.com/xKoRx/arbiter/sdk/telemetry/semconv"
)

const (
	defaultMaxReconcileAttempts = 5
	reconcileRetryDelay         = 2 * time.Second
)

// reconciler resuelve despachos ambiguos consultando la verdad del exchange.
//
// Cola + worker: cada intent ambiguo se encola una vez (dedupe por pending
// set) y el worker lo resuelve consultando QueryByClientID. El replay de
// arranque alimenta exactamente el mismo camino que la ambigüedad en vivo.
type reconciler struct {
	journal    *Journal
	connector  domain.ExchangeConnector
	dispatcher *Dispatcher
	risk       *RiskKeeper
	exposure   *ExposureLedger
	telemetry  *telemetry.Client
	metrics    *metricbundle.ArbiterMetrics

	maxAttempts int
	retryDelay  time.Duration

	queue           chan string
	pending         map[string]struct{}
	ambiguousCounts map[string]int
	mu              sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func newReconciler(
	parentCtx context.Context,
	journal *Journal,
	connector domain.ExchangeConnector,
	dispatcher *Dispatcher,
	risk *RiskKeeper,
	exposure *ExposureLedger,
	telemetryClient *telemetry.Client,
	metrics *metricbundle.ArbiterMetrics,
	maxAttempts int,
) *reconciler {
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxReconcileAttempts
	}
	ctx, cancel := context.WithCancel(parentCtx)
	return &reconciler{
		journal:     journal,
		connector:   connector,
		dispatcher:  dispatcher,
		risk:        risk,
		exposure:    exposure,
		telemetry:   telemetryClient,
		metrics:     metrics,
		maxAttempts: maxAttempts,
		retryDelay:  reconcileRetryDelay,
		queue:       make(chan string, 1024),
		pending:     make(map[string]struct{}),
		ctx:         ctx,
		cancel:      cancel,
	}
}

func (r *reconciler) Start() {
	r.wg.Add(1)
	go r.worker()
}

func (r *reconciler) Stop() {
	r.cancel()
	r.wg.Wait()
}

// Notify encola un intent ambiguo para resolución. Dedupe por intent_id.
func (r *reconciler) Notify(intentID string) {
	if intentID == "" {
		return
	}
	r.mu.Lock()
	if _, exists := r.pending[intentID]; exists {
		r.mu.Unlock()
		return
	}
	r.pending[intentID] = struct{}{}
	r.mu.Unlock()

	select {
	case r.queue <- intentID:
	default:
		// Nunca se descarta un intent no resuelto: sin lugar en la cola se
		// reprograma hasta poder encolarlo.
		r.mu.Lock()
		delete(r.pending, intentID)
		r.mu.Unlock()
		r.telemetry.Warn(r.ctx, "Reconciler queue full, retrying later",
			semconv.Arbiter.IntentID.String(intentID),
		)
		r.retryLater(intentID)
	}
}

func (r *reconciler) worker() {
	defer r.wg.Done()

	for {
		select {
		case <-r.ctx.Done():
			return
		case intentID := <-r.queue:
			r.mu.Lock()
			delete(r.pending, intentID)
			r.mu.Unlock()

			if err := r.resolve(r.ctx, intentID); err != nil {
				r.telemetry.Warn(r.ctx, "Reconciliation attempt failed",
					semconv.Arbiter.IntentID.String(intentID),
					attribute.String("error", err.Error()),
				)
			}
		}
	}
}

// retryLater re-encola tras un backoff fijo, sin bloquear el worker.
func (r *reconciler) retryLater(intentID string) {
	timer := time.AfterFunc(r.retryDelay, func() {
		r.Notify(intentID)
	})
	go func() {
		<-r.ctx.Done()
		timer.Stop()
	}()
}

// resolve ejecuta un paso de reconciliación sobre una entrada Dispatched.
//
// Found ⇒ Confirmed (o Failed si el exchange la rechazó). Proven-absent ⇒
// exactamente una resubmission reutilizando el mismo client_order_id.
// Todavía-ambiguo ⇒ re-encola con tope de intentos; agotado el tope,
// PERMANENTLY_FAILED y escalación a HALTED.
func (r *reconciler) resolve(ctx context.Context, intentID string) error {
	start := time.Now()

	entry, err := r.journal.Get(intentID)
	if err != nil {
		return err
	}
	if entry == nil {
		return domain.NewError(domain.ErrNotFound, "intent not in journal").
			WithDetail("intent_id", intentID)
	}
	if entry.State.Terminal() {
		return nil
	}

	ctx = telemetry.WithIntent(ctx, entry.IntentID, entry.RunID)
	ctx, span := r.telemetry.StartSpan(ctx, "arbiter.reconcile")
	defer span.End()
	defer func() {
		r.metrics.RecordReconcileLatency(ctx, float64(time.Since(start).Microseconds())/1000.0)
	}()

	// Mientras hay estado dudoso en el exchange la exposición no puede
	// crecer.
	r.risk.Escalate(ctx, domain.RiskReconciling, "ambiguous dispatch under reconciliation")

	qr, err := r.connector.QueryByClientID(ctx, entry.ClientOrderID)
	if err != nil {
		return r.stillAmbiguous(ctx, entry, fmt.Sprintf("query failed: %v", err))
	}

	if qr.Found {
		if isRejectedState(qr.State) {
			if _, err := r.journal.Resolve(entry.IntentID, StateFailed, qr.ExchangeOrderID, "exchange reports rejected"); err != nil {
				return err
			}
			r.exposure.Settle(entry.Intent.ResourceKey(), entry.IntentID, false)
			r.metrics.RecordReconcileResult(ctx, "failed")
			r.telemetry.Info(ctx, "Reconciled as failed",
				semconv.Arbiter.ClientOrderID.String(entry.ClientOrderID),
				attribute.String("exchange_state", qr.State),
			)
			return nil
		}

		if _, err := r.journal.Resolve(entry.IntentID, StateConfirmed, qr.ExchangeOrderID, ""); err != nil {
			return err
		}
		r.exposure.Settle(entry.Intent.ResourceKey(), entry.IntentID, true)
		r.metrics.RecordReconcileResult(ctx, "confirmed")
		r.telemetry.Info(ctx, "Reconciled as confirmed",
			semconv.Arbiter.ClientOrderID.String(entry.ClientOrderID),
			semconv.Arbiter.ExchangeOrderID.String(qr.ExchangeOrderID),
		)
		return nil
	}

	// El exchange afirma que la orden nunca llegó: una única resubmission
	// con el mismo intent_id y client_order_id (idempotente del lado del
	// exchange). Un segundo proven-absent cierra permanentemente.
	if entry.Attempts >= 2 {
		return r.permanentFail(ctx, entry, "proven absent after resubmission")
	}

	// Si el proceso murió entre la marca PROVEN_ABSENT y la resubmission, el
	// replay retoma desde aquí: la entrada ya está marcada y la tabla de
	// transiciones no admite reescribirla sobre sí misma.
	updated := entry
	if entry.State != StateProvenAbsent {
		updated, err = r.journal.Resolve(entry.IntentID, StateProvenAbsent, "", "proven absent, resubmitting")
		if err != nil {
			return err
		}
	}
	r.metrics.RecordReconcileResult(ctx, "proven_absent")
	r.telemetry.Warn(ctx, "Order proven absent, resubmitting once",
		semconv.Arbiter.ClientOrderID.String(entry.ClientOrderID),
		semconv.Arbiter.Attempt.Int(updated.Attempts),
	)

	outcome, err := r.dispatcher.Dispatch(ctx, updated)
	if err != nil {
		return err
	}
	switch outcome.Status {
	case domain.SubmitAck:
		r.exposure.Settle(updated.Intent.ResourceKey(), updated.IntentID, true)
	case domain.SubmitRejected:
		r.exposure.Settle(updated.Intent.ResourceKey(), updated.IntentID, false)
	default:
		return r.stillAmbiguous(ctx, updated, outcome.Message)
	}
	return nil
}

// stillAmbiguous re-encola con tope de intentos de reconciliación.
func (r *reconciler) stillAmbiguous(ctx context.Context, entry *JournalEntry, reason string) error {
	attempts := r.bumpAmbiguousAttempts(entry.IntentID)
	if attempts >= r.maxAttempts {
		return r.permanentFail(ctx, entry, "reconciliation attempts exhausted: "+reason)
	}
	r.metrics.RecordReconcileResult(ctx, "ambiguous")
	r.telemetry.Warn(ctx, "Still ambiguous, will retry",
		semconv.Arbiter.ClientOrderID.String(entry.ClientOrderID),
		attribute.Int("reconcile_attempts", attempts),
		attribute.String("reason", reason),
	)
	r.retryLater(entry.IntentID)
	return nil
}

func (r *reconciler) permanentFail(ctx context.Context, entry *JournalEntry, reason string) error {
	if _, err := r.journal.Resolve(entry.IntentID, StatePermanentlyFailed, "", reason); err != nil {
		return err
	}
	r.exposure.Settle(entry.Intent.ResourceKey(), entry.IntentID, false)
	r.metrics.RecordReconcileResult(ctx, "permanently_failed")
	r.telemetry.Error(ctx, "Intent permanently failed", nil,
		semconv.Arbiter.ClientOrderID.String(entry.ClientOrderID),
		attribute.String("reason", reason),
	)
	// Un intent irresoluble implica que la vista local y el exchange pueden
	// divergir: se corta el intake hasta intervención de operador.
	r.risk.Escalate(ctx, domain.RiskHalted, "intent permanently failed: "+entry.IntentID)
	return nil
}

// bumpAmbiguousAttempts cuenta reintentos de reconciliación en memoria. El
// contador vive fuera del journal: un reinicio vuelve a contar desde cero
// con el replay, lo que es deseable (el exchange pudo recuperarse).
func (r *reconciler) bumpAmbiguousAttempts(intentID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ambiguousCounts == nil {
		r.ambiguousCounts = make(map[string]int)
	}
	r.ambiguousCounts[intentID]++
	return r.ambiguousCounts[intentID]
}

func isRejectedState(state string) bool {
	switch strings.ToLower(state) {
	case "rejected", "cancelled_by_exchange":
		return true
	default:
		return false
	}
}
