package internal

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/lib/pq"
	"go.opentelemetry.io/otel/attribute"

	"github.com/xKoRx/arbiter/sdk/domain"
	"github.com/xKoRx/arbiter/sdk/telemetry"
	"github.com/xKoRx/arbiter/sdk/telemetry/metricbundle"
	"github.com/xKoRx/arbiter/sdk/telemetry/semconv"
)

// instrumentSpecsChannel es el canal NOTIFY de Postgres que invalida la
// caché cuando otro proceso actualiza specs. Payload: nombre del
// instrumento (vacío invalida todo).
const instrumentSpecsChannel = "arbiter_instrument_specs"

type specCacheEntry struct {
	spec         *domain.InstrumentSpec
	reportedAtMs int64
}

// InstrumentSpecService sirve metadata de instrumentos con caché en memoria
// sobre el repositorio persistente.
//
// Es la fuente viva de specs (alimentada por el feed de metadata del
// exchange); el snapshot de configuración provee el seed de arranque
// fail-closed. Reportes stale (reported_at anterior al cacheado) se
// descartan.
type InstrumentSpecService struct {
	mu    sync.RWMutex
	specs map[string]*specCacheEntry

	repo      domain.InstrumentSpecRepository
	telemetry *telemetry.Client
	metrics   *metricbundle.ArbiterMetrics

	listenerMu sync.Mutex
	listener   *pq.Listener
	stopCh     chan struct{}
	wg         sync.WaitGroup
}

// NewInstrumentSpecService crea el servicio. repo puede ser nil (sólo caché).
func NewInstrumentSpecService(repo domain.InstrumentSpecRepository, tel *telemetry.Client, metrics *metricbundle.ArbiterMetrics) *InstrumentSpecService {
	return &InstrumentSpecService{
		specs:     make(map[string]*specCacheEntry),
		repo:      repo,
		telemetry: tel,
		metrics:   metrics,
		stopCh:    make(chan struct{}),
	}
}

// Seed precarga la caché con los specs del snapshot de configuración.
func (s *InstrumentSpecService) Seed(snapshot *ConfigSnapshot) {
	if snapshot == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for inst, spec := range snapshot.Instruments {
		if _, exists := s.specs[inst]; exists {
			continue
		}
		cloned := *spec
		s.specs[inst] = &specCacheEntry{spec: &cloned, reportedAtMs: snapshot.LoadedAtMs}
	}
}

// Upsert procesa un reporte de specs del feed de metadata: actualiza caché
// y persiste. Entradas stale se descartan.
func (s *InstrumentSpecService) Upsert(ctx context.Context, specs []*domain.InstrumentSpec, reportedAtMs int64) error {
	var fresh []*domain.InstrumentSpec

	s.mu.Lock()
	for _, spec := range specs {
		if spec == nil || spec.Instrument == "" {
			continue
		}
		if err := spec.Validate(); err != nil {
			s.telemetry.Warn(ctx, "Skipping invalid instrument spec",
				semconv.Arbiter.Instrument.String(spec.Instrument),
				attribute.String("error", err.Error()),
			)
			continue
		}
		entry := s.specs[spec.Instrument]
		if entry != nil && entry.reportedAtMs > reportedAtMs {
			continue // stale
		}
		cloned := *spec
		s.specs[spec.Instrument] = &specCacheEntry{spec: &cloned, reportedAtMs: reportedAtMs}
		fresh = append(fresh, &cloned)
	}
	s.mu.Unlock()

	if len(fresh) == 0 {
		return nil
	}

	s.telemetry.Info(ctx, "Instrument specs upserted",
		attribute.Int("specs_count", len(fresh)),
		attribute.Int64("reported_at_ms", reportedAtMs),
	)

	if s.repo != nil {
		if err := s.repo.UpsertSpecs(ctx, fresh, reportedAtMs); err != nil {
			s.telemetry.Warn(ctx, "Failed to persist instrument specs",
				attribute.String("error", err.Error()),
			)
			return err
		}
	}
	return nil
}

// GetSpec retorna una copia del spec de un instrumento. Cache miss consulta
// el repositorio y puebla la caché.
func (s *InstrumentSpecService) GetSpec(ctx context.Context, instrument string) (*domain.InstrumentSpec, bool) {
	s.mu.RLock()
	entry, ok := s.specs[instrument]
	s.mu.RUnlock()
	if ok && entry != nil {
		s.metrics.RecordSpecLookup(ctx, "hit",
			semconv.Arbiter.Instrument.String(instrument),
		)
		cloned := *entry.spec
		return &cloned, true
	}

	s.metrics.RecordSpecLookup(ctx, "miss",
		semconv.Arbiter.Instrument.String(instrument),
	)
	if s.repo == nil {
		return nil, false
	}

	spec, err := s.repo.GetSpec(ctx, instrument)
	if err != nil {
		s.telemetry.Warn(ctx, "Instrument spec lookup failed",
			semconv.Arbiter.Instrument.String(instrument),
			attribute.String("error", err.Error()),
		)
		return nil, false
	}
	if spec == nil {
		return nil, false
	}

	s.mu.Lock()
	s.specs[instrument] = &specCacheEntry{spec: spec, reportedAtMs: 0}
	s.mu.Unlock()

	cloned := *spec
	return &cloned, true
}

// Invalidate elimina un instrumento de la caché (o toda la caché si vacío);
// la persistencia queda intacta.
func (s *InstrumentSpecService) Invalidate(instrument string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if instrument == "" {
		s.specs = make(map[string]*specCacheEntry)
		return
	}
	delete(s.specs, instrument)
}

// StartListener abre un LISTEN de Postgres para invalidar la caché cuando
// otro proceso actualiza specs.
func (s *InstrumentSpecService) StartListener(connStr string) error {
	if connStr == "" {
		return nil
	}

	s.listenerMu.Lock()
	defer s.listenerMu.Unlock()

	if s.listener != nil {
		return nil
	}

	listener := pq.NewListener(connStr, 5*time.Second, time.Minute, nil)
	if err := listener.Listen(instrumentSpecsChannel); err != nil {
		listener.Close()
		return err
	}
	s.listener = listener

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			select {
			case <-s.stopCh:
				return
			case notification := <-listener.Notify:
				if notification == nil {
					continue
				}
				s.Invalidate(strings.TrimSpace(notification.Extra))
			}
		}
	}()

	return nil
}

// Stop cierra el listener y espera el goroutine.
func (s *InstrumentSpecService) Stop() {
	close(s.stopCh)
	s.listenerMu.Lock()
	if s.listener != nil {
		s.listener.Close()
		s.listener = nil
	}
	s.listenerMu.Unlock()
	s.wg.Wait()
}
