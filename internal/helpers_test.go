package internal

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/xKoRx/arbiter/sdk/domain"
	"github.com/xKoRx/arbiter/sdk/telemetry"
	"github.com/xKoRx/arbiter/sdk/telemetry/metricbundle"
)

func newTestTelemetry(t *testing.T) (*telemetry.Client, *metricbundle.ArbiterMetrics) {
	t.Helper()
	tel, err := telemetry.New(context.Background(), "arbiter-test", "testing",
		telemetry.WithoutTraces(),
		telemetry.WithoutMetrics(),
	)
	if err != nil {
		t.Fatalf("telemetry.New: %v", err)
	}
	metrics, err := metricbundle.NewArbiterMetrics(tel.Meter())
	if err != nil {
		t.Fatalf("NewArbiterMetrics: %v", err)
	}
	return tel, metrics
}

func newTestJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := OpenJournal(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatalf("OpenJournal: %v", err)
	}
	t.Cleanup(func() { j.Close() })
	return j
}

// stubKV es un backend de configuración en memoria.
type stubKV struct {
	values map[string]string
}

var _ KV = (*stubKV)(nil)

func (s *stubKV) Get(ctx context.Context, key string) (string, bool, error) {
	val, ok := s.values[key]
	return val, ok, nil
}

// completeKV retorna un stub con todas las claves requeridas para los
// instrumentos dados.
func completeKV(instruments ...string) *stubKV {
	values := map[string]string{
		"policy/allow_linked_orders": "false",
		"policy/allow_market_orders": "true",
		"policy/allow_stop_orders":   "false",
		"risk/max_exposure":          "100000",
		"risk/max_order_qty":         "1000",
	}
	for _, inst := range instruments {
		values["instruments/"+inst+"/tick_size"] = "0.5"
		values["instruments/"+inst+"/amount_step"] = "10"
		values["instruments/"+inst+"/min_amount"] = "10"
		values["instruments/"+inst+"/contract_multiplier"] = "1"
	}
	return &stubKV{values: values}
}

func loadTestSnapshot(t *testing.T, instruments ...string) *ConfigSnapshot {
	t.Helper()
	snap, err := LoadSnapshot(context.Background(), completeKV(instruments...), instruments)
	if err != nil {
		t.Fatalf("LoadSnapshot: %v", err)
	}
	return snap
}

// stubConnector implementa el connector del exchange con comportamiento
// programable y conteo de submissions.
type stubConnector struct {
	mu       sync.Mutex
	submits  []*domain.Order
	queries  []string
	submitFn func(order *domain.Order) (*domain.SubmitResult, error)
	queryFn  func(clientOrderID string) (*domain.QueryResult, error)
}

var _ domain.ExchangeConnector = (*stubConnector)(nil)

func (s *stubConnector) Submit(ctx context.Context, order *domain.Order) (*domain.SubmitResult, error) {
	s.mu.Lock()
	s.submits = append(s.submits, order)
	fn := s.submitFn
	s.mu.Unlock()
	if fn != nil {
		return fn(order)
	}
	return &domain.SubmitResult{Status: domain.SubmitAck, ExchangeOrderID: "ex-1"}, nil
}

func (s *stubConnector) QueryByClientID(ctx context.Context, clientOrderID string) (*domain.QueryResult, error) {
	s.mu.Lock()
	s.queries = append(s.queries, clientOrderID)
	fn := s.queryFn
	s.mu.Unlock()
	if fn != nil {
		return fn(clientOrderID)
	}
	return &domain.QueryResult{Found: false}, nil
}

func (s *stubConnector) submitCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.submits)
}

func testOutput(instrument string) domain.StrategyOutput {
	return domain.StrategyOutput{
		AccountID:  "acc-1",
		Instrument: instrument,
		Side:       domain.SideBuy,
		Action:     domain.ActionPlace,
		OrderType:  domain.OrderTypeLimit,
		Quantity:   100,
		LimitPrice: 50000,
	}
}

func buildTestIntent(t *testing.T, instrument string) *domain.Intent {
	t.Helper()
	intent, err := domain.BuildIntent(testOutput(instrument), "run-1")
	if err != nil {
		t.Fatalf("BuildIntent: %v", err)
	}
	return intent
}

func appendTestEntry(t *testing.T, j *Journal, intent *domain.Intent) *JournalEntry {
	t.Helper()
	hash, err := domain.IntentDigest(intent)
	if err != nil {
		t.Fatalf("IntentDigest: %v", err)
	}
	entry := &JournalEntry{
		IntentID:      intent.IntentID,
		RunID:         intent.RunID,
		Hash:          hash,
		ClientOrderID: intent.ClientOrderID(),
		Intent:        intent,
		Quantized: domain.QuantizedFields{
			QtySteps:    10,
			PriceTicks:  100000,
			QtyQ:        100,
			LimitPriceQ: 50000,
		},
	}
	if err := j.Append(entry); err != nil {
		t.Fatalf("Append: %v", err)
	}
	return entry
}
