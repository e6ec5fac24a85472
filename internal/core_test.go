package internal

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/xKoRx/arbiter/sdk/domain"
)

func newTestCore(t *testing.T, connector *stubConnector) (*Core, *Journal) {
	t.Helper()
	tel, metrics := newTestTelemetry(t)
	j := newTestJournal(t)
	snap := loadTestSnapshot(t, "BTC-PERPETUAL")
	core, err := NewCore(context.Background(), snap, j, connector, tel, metrics, "run-test", CoreOptions{})
	if err != nil {
		t.Fatalf("NewCore: %v", err)
	}
	t.Cleanup(func() { core.Shutdown() })
	return core, j
}

func waitForState(t *testing.T, j *Journal, intentID string, want JournalState) *JournalEntry {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		entry, err := j.Get(intentID)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if entry != nil && entry.State == want {
			return entry
		}
		time.Sleep(10 * time.Millisecond)
	}
	entry, _ := j.Get(intentID)
	t.Fatalf("entry never reached %s: %+v", want, entry)
	return nil
}

func TestSubmitAcceptedEndToEnd(t *testing.T) {
	connector := &stubConnector{}
	core, j := newTestCore(t, connector)

	receipt, err := core.Submit(context.Background(), testOutput("BTC-PERPETUAL"))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if !receipt.Accepted() {
		t.Fatalf("expected accept, reason %s", receipt.Decision.Reason)
	}
	if receipt.Hash == "" {
		t.Fatalf("expected canonical hash in receipt")
	}
	if receipt.Outcome == nil || receipt.Outcome.Status != domain.SubmitAck {
		t.Fatalf("outcome = %+v", receipt.Outcome)
	}
	if connector.submitCount() != 1 {
		t.Fatalf("submits = %d, want 1", connector.submitCount())
	}

	entry, _ := j.Get(receipt.Intent.IntentID)
	if entry == nil || entry.State != StateConfirmed {
		t.Fatalf("journal entry = %+v", entry)
	}
	if entry.Hash != receipt.Hash {
		t.Fatalf("journaled hash mismatch")
	}
	if entry.ConfigDigest != core.ConfigDigest() {
		t.Fatalf("expected config digest journaled with the decision")
	}

	// Exposición consolidada tras confirmación.
	if got := core.ExposureSnapshot()["acc-1::BTC-PERPETUAL"]; got != 100 {
		t.Fatalf("exposure = %v, want 100", got)
	}
}

// Post-condición de rechazo: ni journal, ni exposición, ni wire.
func TestSubmitRejectedLeavesNoTrace(t *testing.T) {
	connector := &stubConnector{}
	core, j := newTestCore(t, connector)

	out := testOutput("BTC-PERPETUAL")
	out.Quantity = 5 // bajo min_amount tras cuantizar

	receipt, err := core.Submit(context.Background(), out)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if receipt.Accepted() {
		t.Fatalf("expected reject")
	}
	if receipt.Decision.Reason != domain.ErrTooSmallAfterQuantization {
		t.Fatalf("reason = %s", receipt.Decision.Reason)
	}

	if connector.submitCount() != 0 {
		t.Fatalf("submits = %d, want 0", connector.submitCount())
	}
	entry, _ := j.Get(receipt.Intent.IntentID)
	if entry != nil {
		t.Fatalf("rejected intent reached the journal: %+v", entry)
	}
	count, _ := j.PendingCount()
	if count != 0 {
		t.Fatalf("pending = %d, want 0", count)
	}
	if len(core.ExposureSnapshot()) != 0 {
		t.Fatalf("exposure = %v, want empty", core.ExposureSnapshot())
	}
}

// Instrumento desconocido: fail-closed en el primer gate, con traza.
func TestSubmitUnknownInstrumentFailClosed(t *testing.T) {
	connector := &stubConnector{}
	core, _ := newTestCore(t, connector)

	receipt, err := core.Submit(context.Background(), testOutput("DOGE-PERPETUAL"))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if receipt.Accepted() {
		t.Fatalf("expected reject")
	}
	verdict := receipt.Decision.RejectVerdict()
	if verdict.Gate != GateConfig || verdict.Reason != domain.ErrConfigMissing {
		t.Fatalf("verdict = %+v", verdict)
	}
}

// Determinismo observable: la misma salida congelada produce el mismo hash
// en submits independientes (el intent_id difiere, el hash no).
func TestSubmitDeterministicHashes(t *testing.T) {
	connector := &stubConnector{}
	core, _ := newTestCore(t, connector)

	a, err := core.Submit(context.Background(), testOutput("BTC-PERPETUAL"))
	if err != nil {
		t.Fatalf("Submit a: %v", err)
	}
	b, err := core.Submit(context.Background(), testOutput("BTC-PERPETUAL"))
	if err != nil {
		t.Fatalf("Submit b: %v", err)
	}

	if a.Intent.IntentID == b.Intent.IntentID {
		t.Fatalf("intent ids must be unique")
	}
	if a.Hash != b.Hash {
		t.Fatalf("hashes differ for identical frozen input: %s != %s", a.Hash, b.Hash)
	}
}

// HALTED corta el intake de opens; las cancelaciones siguen pasando.
func TestSubmitHaltedIntake(t *testing.T) {
	connector := &stubConnector{}
	core, _ := newTestCore(t, connector)

	core.Risk().Escalate(context.Background(), domain.RiskHalted, "test halt")

	receipt, err := core.Submit(context.Background(), testOutput("BTC-PERPETUAL"))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if receipt.Accepted() {
		t.Fatalf("open accepted under HALTED")
	}
	if receipt.Decision.Reason != domain.ErrModeForbidsOpen {
		t.Fatalf("reason = %s", receipt.Decision.Reason)
	}

	cancel := testOutput("BTC-PERPETUAL")
	cancel.Action = domain.ActionCancel
	receipt, err = core.Submit(context.Background(), cancel)
	if err != nil {
		t.Fatalf("Submit cancel: %v", err)
	}
	if !receipt.Accepted() {
		t.Fatalf("cancel rejected under HALTED: %s", receipt.Decision.Reason)
	}
}

// Crash antes del despacho: la entrada quedó Pending; el replay la despacha
// exactamente una vez.
func TestRecoverPendingEntryDispatchesOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")

	// Proceso 1: journaliza y "muere" antes de despachar.
	j1, err := OpenJournal(path)
	if err != nil {
		t.Fatalf("OpenJournal: %v", err)
	}
	intent := buildTestIntent(t, "BTC-PERPETUAL")
	appendTestEntry(t, j1, intent)
	if err := j1.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// Proceso 2: arranca sobre el mismo journal.
	j2, err := OpenJournal(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	tel, metrics := newTestTelemetry(t)
	connector := &stubConnector{}
	core, err := NewCore(context.Background(), loadTestSnapshot(t, "BTC-PERPETUAL"), j2, connector, tel, metrics, "run-2", CoreOptions{})
	if err != nil {
		t.Fatalf("NewCore: %v", err)
	}
	defer core.Shutdown()

	if err := core.Recover(context.Background()); err != nil {
		t.Fatalf("Recover: %v", err)
	}

	entry := waitForState(t, j2, intent.IntentID, StateConfirmed)
	if entry.Attempts != 1 {
		t.Fatalf("attempts = %d, want 1", entry.Attempts)
	}
	if connector.submitCount() != 1 {
		t.Fatalf("submits = %d, want exactly 1", connector.submitCount())
	}
}

// Crash con submission en vuelo: la entrada quedó Dispatched; el replay
// reconcilia contra el exchange y NUNCA re-emite si la orden existe.
func TestRecoverDispatchedEntryReconcilesWithoutResubmit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")

	j1, err := OpenJournal(path)
	if err != nil {
		t.Fatalf("OpenJournal: %v", err)
	}
	intent := buildTestIntent(t, "BTC-PERPETUAL")
	appendTestEntry(t, j1, intent)
	if _, err := j1.MarkDispatched(intent.IntentID); err != nil {
		t.Fatalf("MarkDispatched: %v", err)
	}
	if err := j1.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	j2, err := OpenJournal(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	tel, metrics := newTestTelemetry(t)
	connector := &stubConnector{
		queryFn: func(string) (*domain.QueryResult, error) {
			return &domain.QueryResult{Found: true, ExchangeOrderID: "ex-7", State: "open"}, nil
		},
	}
	core, err := NewCore(context.Background(), loadTestSnapshot(t, "BTC-PERPETUAL"), j2, connector, tel, metrics, "run-2", CoreOptions{})
	if err != nil {
		t.Fatalf("NewCore: %v", err)
	}
	defer core.Shutdown()

	if err := core.Recover(context.Background()); err != nil {
		t.Fatalf("Recover: %v", err)
	}

	entry := waitForState(t, j2, intent.IntentID, StateConfirmed)
	if entry.ExchangeOrderID != "ex-7" {
		t.Fatalf("exchange_order_id = %q", entry.ExchangeOrderID)
	}
	if connector.submitCount() != 0 {
		t.Fatalf("submits = %d, want 0 (duplicate submission)", connector.submitCount())
	}
	if core.Risk().State() != domain.RiskReconciling {
		t.Fatalf("risk = %s, want RECONCILING during replay", core.Risk().State())
	}
}

// Un close consolidado reduce la exposición neta: el delta lleva el signo de
// la dirección del trade, sin inversión por clase.
func TestSubmitCloseReducesNetExposure(t *testing.T) {
	connector := &stubConnector{}
	core, _ := newTestCore(t, connector)

	open, err := core.Submit(context.Background(), testOutput("BTC-PERPETUAL"))
	if err != nil {
		t.Fatalf("Submit open: %v", err)
	}
	if !open.Accepted() {
		t.Fatalf("open rejected: %s", open.Decision.Reason)
	}
	if got := core.ExposureSnapshot()["acc-1::BTC-PERPETUAL"]; got != 100 {
		t.Fatalf("exposure after open = %v, want 100", got)
	}

	out := testOutput("BTC-PERPETUAL")
	out.Side = domain.SideSell
	out.ReduceOnly = true
	closing, err := core.Submit(context.Background(), out)
	if err != nil {
		t.Fatalf("Submit close: %v", err)
	}
	if !closing.Accepted() {
		t.Fatalf("close rejected: %s", closing.Decision.Reason)
	}

	if got := core.ExposureSnapshot()["acc-1::BTC-PERPETUAL"]; got != 0 {
		t.Fatalf("exposure after close = %v, want 0 (position flat)", got)
	}
}

// Crash entre la marca PROVEN_ABSENT y la resubmission: el replay retoma la
// única resubmission pendiente en vez de dejar la entrada varada.
func TestRecoverProvenAbsentEntryResubmitsOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")

	// Proceso 1: despacho ambiguo, el exchange probó ausencia, y el proceso
	// muere antes de la resubmission.
	j1, err := OpenJournal(path)
	if err != nil {
		t.Fatalf("OpenJournal: %v", err)
	}
	intent := buildTestIntent(t, "BTC-PERPETUAL")
	appendTestEntry(t, j1, intent)
	if _, err := j1.MarkDispatched(intent.IntentID); err != nil {
		t.Fatalf("MarkDispatched: %v", err)
	}
	if _, err := j1.Resolve(intent.IntentID, StateProvenAbsent, "", "proven absent, resubmitting"); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if err := j1.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// Proceso 2: el exchange sigue sin tenerla; el replay resubmite una vez.
	j2, err := OpenJournal(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	tel, metrics := newTestTelemetry(t)
	connector := &stubConnector{
		queryFn: func(string) (*domain.QueryResult, error) {
			return &domain.QueryResult{Found: false}, nil
		},
	}
	core, err := NewCore(context.Background(), loadTestSnapshot(t, "BTC-PERPETUAL"), j2, connector, tel, metrics, "run-2", CoreOptions{})
	if err != nil {
		t.Fatalf("NewCore: %v", err)
	}
	defer core.Shutdown()

	if err := core.Recover(context.Background()); err != nil {
		t.Fatalf("Recover: %v", err)
	}

	entry := waitForState(t, j2, intent.IntentID, StateConfirmed)
	if entry.Attempts != 2 {
		t.Fatalf("attempts = %d, want 2", entry.Attempts)
	}
	if connector.submitCount() != 1 {
		t.Fatalf("submits = %d, want 1 (single resubmission)", connector.submitCount())
	}
	if connector.submits[0].ClientOrderID != intent.ClientOrderID() {
		t.Fatalf("resubmission changed client_order_id")
	}
}

// Si el despacho de recovery falla sin resultado, el pendiente de exposición
// reconstruido se libera en vez de quedar sin camino de settle.
func TestRecoverDispatchErrorReleasesPending(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")

	j1, err := OpenJournal(path)
	if err != nil {
		t.Fatalf("OpenJournal: %v", err)
	}
	intent := buildTestIntent(t, "BTC-PERPETUAL")
	appendTestEntry(t, j1, intent)
	if err := j1.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	j2, err := OpenJournal(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	tel, metrics := newTestTelemetry(t)
	connector := &stubConnector{}
	connector.submitFn = func(*domain.Order) (*domain.SubmitResult, error) {
		// La base se cierra bajo el despacho: la resolución del journal
		// falla y Dispatch termina con error en vez de outcome.
		j2.Close()
		return &domain.SubmitResult{Status: domain.SubmitAck, ExchangeOrderID: "ex-1"}, nil
	}
	core, err := NewCore(context.Background(), loadTestSnapshot(t, "BTC-PERPETUAL"), j2, connector, tel, metrics, "run-2", CoreOptions{})
	if err != nil {
		t.Fatalf("NewCore: %v", err)
	}
	defer core.Shutdown()

	if err := core.Recover(context.Background()); err != nil {
		t.Fatalf("Recover: %v", err)
	}

	if got := core.ExposureSnapshot()["acc-1::BTC-PERPETUAL"]; got != 0 {
		t.Fatalf("exposure = %v, want 0 (pending released)", got)
	}
}

// Despacho ambiguo en vivo: el intent va al reconciliador y se resuelve sin
// segunda submission cuando el exchange confirma tenerla.
func TestSubmitAmbiguousRoutesToReconciler(t *testing.T) {
	connector := &stubConnector{}
	connector.submitFn = func(order *domain.Order) (*domain.SubmitResult, error) {
		return &domain.SubmitResult{Status: domain.SubmitAmbiguous, Message: "timeout waiting ack"}, nil
	}
	connector.queryFn = func(string) (*domain.QueryResult, error) {
		return &domain.QueryResult{Found: true, ExchangeOrderID: "ex-11", State: "open"}, nil
	}
	core, j := newTestCore(t, connector)

	receipt, err := core.Submit(context.Background(), testOutput("BTC-PERPETUAL"))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if receipt.Outcome.Status != domain.SubmitAmbiguous {
		t.Fatalf("outcome = %s, want AMBIGUOUS", receipt.Outcome.Status)
	}

	entry := waitForState(t, j, receipt.Intent.IntentID, StateConfirmed)
	if entry.Attempts != 1 {
		t.Fatalf("attempts = %d, want 1 (no resubmission)", entry.Attempts)
	}
	if connector.submitCount() != 1 {
		t.Fatalf("submits = %d, want 1", connector.submitCount())
	}
}
