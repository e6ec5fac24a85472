package internal

import (
	"sync"
)

// ExposureLedger lleva la exposición por recurso cuenta+instrumento, en
// unidades de contrato con signo (BUY positivo, SELL negativo).
//
// net es exposición confirmada; pending es exposición journalizada pero no
// resuelta (en vuelo). El gate de budget evalúa contra la proyección
// net+pending. Nada entra al ledger antes del append al journal: un intent
// rechazado no deja huella aquí.
type ExposureLedger struct {
	mu      sync.RWMutex
	net     map[string]float64
	pending map[string]map[string]float64 // resource key → intent_id → delta
}

// NewExposureLedger crea un ledger vacío.
func NewExposureLedger() *ExposureLedger {
	return &ExposureLedger{
		net:     make(map[string]float64),
		pending: make(map[string]map[string]float64),
	}
}

// Projected retorna net + pendiente para un recurso.
func (l *ExposureLedger) Projected(resourceKey string) float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	total := l.net[resourceKey]
	for _, delta := range l.pending[resourceKey] {
		total += delta
	}
	return total
}

// Commit registra el delta de un intent journalizado como pendiente.
// Idempotente por intent_id dentro del mismo recurso.
func (l *ExposureLedger) Commit(resourceKey, intentID string, delta float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.pending[resourceKey] == nil {
		l.pending[resourceKey] = make(map[string]float64)
	}
	l.pending[resourceKey][intentID] = delta
}

// Settle resuelve el pendiente de un intent: applied=true lo consolida en
// net (Confirmed); applied=false lo libera sin efecto (Failed,
// PermanentlyFailed). No-op si el intent no tenía pendiente.
func (l *ExposureLedger) Settle(resourceKey, intentID string, applied bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	perIntent, ok := l.pending[resourceKey]
	if !ok {
		return
	}
	delta, ok := perIntent[intentID]
	if !ok {
		return
	}
	delete(perIntent, intentID)
	if len(perIntent) == 0 {
		delete(l.pending, resourceKey)
	}
	if applied {
		l.net[resourceKey] += delta
	}
}

// Snapshot retorna la proyección por recurso, para /status.
func (l *ExposureLedger) Snapshot() map[string]float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make(map[string]float64, len(l.net))
	for key, v := range l.net {
		out[key] = v
	}
	for key, perIntent := range l.pending {
		for _, delta := range perIntent {
			out[key] += delta
		}
	}
	return out
}
