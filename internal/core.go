package internal

import (
	"bytes"
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"

	"github.com/xKoRx/arbiter/sdk/domain"
	"github.com/xKoRx/arbiter/sdk/telemetry"
	"github.com/xKoRx/arbiter/sdk/telemetry/metricbundle"
	"github.com/xKoRx/arbiter/sdk/telemetry/semconv"
)

// Core es el chokepoint por el que pasa toda decisión que afecta órdenes.
//
// Flujo de Submit: construir Intent inmutable → evaluar gates (sin efectos)
// → hash canónico → append al journal (primer y único efecto persistente de
// la decisión) → exposición pendiente → despacho. Un rechazo en cualquier
// punto antes del append no deja huella en journal, exposición ni exchange.
type Core struct {
	snapshot   *ConfigSnapshot
	journal    *Journal
	pipeline   *Pipeline
	dispatcher *Dispatcher
	reconciler *reconciler
	risk       *RiskKeeper
	exposure   *ExposureLedger
	specs      *InstrumentSpecService
	telemetry  *telemetry.Client
	metrics    *metricbundle.ArbiterMetrics

	runID string

	// keyed mutex por recurso cuenta+instrumento: single-writer por
	// recurso, recursos disjuntos en paralelo.
	keysMu sync.Mutex
	keys   map[string]*sync.Mutex
}

// CoreOptions configura la construcción del Core.
type CoreOptions struct {
	// MaxReconcileAttempts limita los reintentos de reconciliación antes de
	// PERMANENTLY_FAILED. 0 usa el default.
	MaxReconcileAttempts int

	// SpecRepository respalda el servicio de specs. Nil para operar sólo
	// con el seed del snapshot.
	SpecRepository domain.InstrumentSpecRepository
}

// NewCore cablea el pipeline completo. El connector entra una sola vez y
// queda capturado por el único dispatcher; el Core no lo re-expone.
func NewCore(
	ctx context.Context,
	snapshot *ConfigSnapshot,
	journal *Journal,
	connector domain.ExchangeConnector,
	tel *telemetry.Client,
	metrics *metricbundle.ArbiterMetrics,
	runID string,
	opts CoreOptions,
) (*Core, error) {
	if snapshot == nil {
		return nil, domain.NewError(domain.ErrConfigMissing, "core requires a loaded config snapshot")
	}
	if journal == nil {
		return nil, domain.NewError(domain.ErrInvalidInput, "core requires a journal")
	}
	if connector == nil {
		return nil, domain.NewError(domain.ErrInvalidInput, "core requires an exchange connector")
	}

	pipeline, err := newPipeline(tel, metrics)
	if err != nil {
		return nil, err
	}

	risk := NewRiskKeeper(tel, metrics)
	exposure := NewExposureLedger()
	dispatcher := newDispatcher(connector, journal, tel, metrics)
	rec := newReconciler(ctx, journal, connector, dispatcher, risk, exposure, tel, metrics, opts.MaxReconcileAttempts)

	specs := NewInstrumentSpecService(opts.SpecRepository, tel, metrics)
	specs.Seed(snapshot)

	core := &Core{
		snapshot:   snapshot,
		journal:    journal,
		pipeline:   pipeline,
		dispatcher: dispatcher,
		reconciler: rec,
		risk:       risk,
		exposure:   exposure,
		specs:      specs,
		telemetry:  tel,
		metrics:    metrics,
		runID:      runID,
		keys:       make(map[string]*sync.Mutex),
	}

	// Una sesión caída obliga a re-verificar el estado de todo lo no
	// resuelto antes de despachar de nuevo.
	if ra, ok := connector.(domain.ReconnectAware); ok {
		ra.OnReconnect(func(ctx context.Context) error {
			return core.Recover(ctx)
		})
	}

	rec.Start()
	return core, nil
}

// Shutdown detiene workers y cierra el journal.
func (c *Core) Shutdown() error {
	c.reconciler.Stop()
	c.specs.Stop()
	return c.journal.Close()
}

// RunID retorna el run id del ciclo actual.
func (c *Core) RunID() string { return c.runID }

// Risk expone el keeper (para la superficie de operador: Clear).
func (c *Core) Risk() *RiskKeeper { return c.risk }

// Specs expone el servicio de specs (feed de metadata, listener).
func (c *Core) Specs() *InstrumentSpecService { return c.specs }

// Journal expone el journal para la superficie de ops (sólo lectura).
func (c *Core) Journal() *Journal { return c.journal }

// ExposureSnapshot retorna la proyección de exposición por recurso.
func (c *Core) ExposureSnapshot() map[string]float64 { return c.exposure.Snapshot() }

// ConfigDigest retorna el digest del snapshot activo.
func (c *Core) ConfigDigest() string { return c.snapshot.Digest }

func (c *Core) lockFor(resourceKey string) *sync.Mutex {
	c.keysMu.Lock()
	defer c.keysMu.Unlock()
	mu, ok := c.keys[resourceKey]
	if !ok {
		mu = &sync.Mutex{}
		c.keys[resourceKey] = mu
	}
	return mu
}

// SubmitReceipt es el resultado completo de un Submit: el intent construido,
// su decisión con trazas por gate y, si fue aceptado, el resultado del
// despacho.
type SubmitReceipt struct {
	Intent   *domain.Intent
	Hash     string
	Decision *Decision
	Outcome  *DispatchOutcome
}

// Accepted indica si el intent pasó todos los gates y fue journalizado.
func (r *SubmitReceipt) Accepted() bool {
	return r != nil && r.Decision != nil && r.Decision.Accepted
}

// Submit es la única entrada de decisiones de orden al sistema.
//
// Garantías: evaluación determinista bajo entrada congelada; cero efectos
// persistentes si cualquier gate rechaza; append durable antes de cualquier
// submission; exactamente un Submit por intento de despacho.
func (c *Core) Submit(ctx context.Context, out domain.StrategyOutput) (*SubmitReceipt, error) {
	intent, err := domain.BuildIntent(out, c.runID)
	if err != nil {
		return nil, err
	}

	ctx = telemetry.WithIntent(ctx, intent.IntentID, intent.RunID)
	ctx, span := c.telemetry.StartSpan(ctx, "arbiter.submit")
	defer span.End()

	resourceKey := intent.ResourceKey()
	mu := c.lockFor(resourceKey)
	mu.Lock()

	// Entrada congelada: spec, risk state y exposición se capturan una vez.
	spec := c.resolveSpec(ctx, intent.Instrument)
	in := &EvalInput{
		Intent:          intent,
		Snapshot:        c.snapshot,
		Spec:            spec,
		RiskState:       c.risk.State(),
		CurrentExposure: c.exposure.Projected(resourceKey),
	}

	decision := c.pipeline.Evaluate(ctx, in)
	if !decision.Accepted {
		mu.Unlock()
		// Post-condición de rechazo: ni journal, ni exposición, ni wire.
		return &SubmitReceipt{Intent: intent, Decision: decision}, nil
	}

	hash, err := c.digestChecked(ctx, intent)
	if err != nil {
		mu.Unlock()
		return &SubmitReceipt{Intent: intent, Decision: rejectedDecision(decision, err)}, nil
	}

	entry := &JournalEntry{
		IntentID:      intent.IntentID,
		RunID:         intent.RunID,
		Hash:          hash,
		ConfigDigest:  c.snapshot.Digest,
		ClientOrderID: intent.ClientOrderID(),
		Intent:        intent,
		Quantized:     decision.Quantized,
	}

	if err := c.journal.Append(entry); err != nil {
		mu.Unlock()
		code := domain.CodeOf(err)
		if domain.IsFatal(code) {
			return nil, err
		}
		// Fallo de infraestructura antes del append efectivo: Reject sin
		// efectos, nunca elegible para reconciliación.
		c.telemetry.Error(ctx, "Journal append failed, rejecting intent", err)
		return &SubmitReceipt{Intent: intent, Hash: hash, Decision: rejectedDecision(decision, err)}, nil
	}

	c.metrics.RecordJournalAppend(ctx,
		semconv.Arbiter.Instrument.String(intent.Instrument),
	)
	c.telemetry.Info(ctx, "Intent journaled",
		semconv.Arbiter.Hash.String(hash),
		semconv.Arbiter.ClientOrderID.String(entry.ClientOrderID),
		semconv.Arbiter.JournalState.String(string(StatePending)),
	)

	// Exposición pendiente sólo después del append: el journal es la
	// frontera de efectos.
	if intent.Class() != domain.ClassCancel {
		c.exposure.Commit(resourceKey, intent.IntentID, signedDelta(intent, decision.Quantized, spec))
	}

	// El I/O de despacho corre fuera de la sección crítica del recurso.
	mu.Unlock()

	outcome, err := c.dispatcher.Dispatch(ctx, entry)
	if err != nil {
		return &SubmitReceipt{Intent: intent, Hash: hash, Decision: decision}, err
	}
	c.settleAfterDispatch(ctx, intent, resourceKey, outcome)

	return &SubmitReceipt{Intent: intent, Hash: hash, Decision: decision, Outcome: outcome}, nil
}

func (c *Core) settleAfterDispatch(ctx context.Context, intent *domain.Intent, resourceKey string, outcome *DispatchOutcome) {
	switch outcome.Status {
	case domain.SubmitAck:
		c.exposure.Settle(resourceKey, intent.IntentID, true)
	case domain.SubmitRejected:
		c.exposure.Settle(resourceKey, intent.IntentID, false)
		if outcome.Code == domain.ErrTooManyRequests {
			c.risk.Escalate(ctx, domain.RiskThrottled, "exchange throttling submissions")
		}
	default:
		// Ambiguo: el pendiente queda vivo hasta que la reconciliación
		// resuelva.
		c.reconciler.Notify(intent.IntentID)
		c.risk.Escalate(ctx, domain.RiskReconciling, "ambiguous dispatch: "+intent.IntentID)
	}
}

// resolveSpec busca el spec del instrumento: servicio vivo primero, snapshot
// como seed. Nil si ninguna fuente lo tiene (el gate de config rechaza).
func (c *Core) resolveSpec(ctx context.Context, instrument string) *domain.InstrumentSpec {
	if spec, ok := c.specs.GetSpec(ctx, instrument); ok {
		return spec
	}
	if spec, ok := c.snapshot.Spec(instrument); ok {
		return spec
	}
	return nil
}

// digestChecked calcula el digest canónico del intent y verifica el
// contrato de determinismo recodificando: dos codificaciones de la misma
// entrada congelada deben ser byte a byte idénticas. Una divergencia corta
// el intake (HALTED) y nunca se reintenta.
func (c *Core) digestChecked(ctx context.Context, intent *domain.Intent) (string, error) {
	first, err := domain.CanonicalBytes(intent)
	if err != nil {
		return "", err
	}
	second, err := domain.CanonicalBytes(intent)
	if err != nil {
		return "", err
	}
	if !bytes.Equal(first, second) {
		c.risk.Escalate(ctx, domain.RiskHalted, "determinism violation on canonical encoding")
		c.telemetry.Error(ctx, "Canonical encoding not deterministic", nil,
			semconv.Arbiter.Hash.String(domain.HashBytes(first)),
		)
		return "", domain.NewError(domain.ErrDeterminismViolation, "canonical encoding produced divergent bytes").
			WithDetail("intent_id", intent.IntentID)
	}
	return domain.HashBytes(first), nil
}

// Recover reprocesa todas las entradas no terminales del journal tras un
// arranque (o reconexión). Pending nunca llegó al wire (Dispatched se
// escribe antes del Submit), así que se despacha normalmente; Dispatched y
// ProvenAbsent van por el mismo camino de resolución que la ambigüedad en
// vivo.
func (c *Core) Recover(ctx context.Context) error {
	entries, err := c.journal.ScanPending()
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return nil
	}

	c.telemetry.Warn(ctx, "Recovering unresolved journal entries",
		attribute.Int("entries", len(entries)),
	)
	c.risk.Escalate(ctx, domain.RiskReconciling, "startup replay of unresolved entries")

	for _, entry := range entries {
		entryCtx := telemetry.WithIntent(ctx, entry.IntentID, entry.RunID)
		resourceKey := entry.Intent.ResourceKey()

		// Reconstruir el pendiente de exposición perdido con el proceso.
		if entry.Intent.Class() != domain.ClassCancel {
			spec := c.resolveSpec(entryCtx, entry.Intent.Instrument)
			c.exposure.Commit(resourceKey, entry.IntentID, signedDelta(entry.Intent, entry.Quantized, spec))
		}

		switch entry.State {
		case StatePending:
			outcome, err := c.dispatcher.Dispatch(entryCtx, entry)
			if err != nil {
				// Sin resultado de despacho no habrá settle posterior: el
				// pendiente recién reconstruido se libera y la entrada queda
				// no terminal para el próximo replay.
				c.exposure.Settle(resourceKey, entry.IntentID, false)
				c.telemetry.Error(entryCtx, "Recovery dispatch failed", err)
				continue
			}
			c.settleAfterDispatch(entryCtx, entry.Intent, resourceKey, outcome)
		default:
			c.reconciler.Notify(entry.IntentID)
		}
	}
	return nil
}

// signedDelta proyecta el delta de exposición de un intent journalizado. El
// signo es la dirección del trade (BUY positivo, SELL negativo) tanto para
// opens como para closes: un SELL reduce-only ya resta del neto largo.
func signedDelta(intent *domain.Intent, q domain.QuantizedFields, spec *domain.InstrumentSpec) float64 {
	multiplier := 1.0
	if spec != nil {
		multiplier = spec.ContractMultiplier
	}
	return signedExposure(intent.Side, q.QtyQ, multiplier)
}

func rejectedDecision(d *Decision, err error) *Decision {
	verdict := domain.RejectFromError("journal", err)
	return &Decision{
		Accepted: false,
		Traces:   append(append([]domain.GateVerdict(nil), d.Traces...), verdict),
		Reason:   domain.CodeOf(err),
	}
}
