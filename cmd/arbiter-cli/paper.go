package main

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/xKoRx/arbiter/sdk/domain"
)

// paperConnector simula el exchange: acka toda submission con un id
// sintético y responde queries desde su propio registro. Sirve para operar
// el pipeline completo (journal, reconciliación, ops) sin wire real.
type paperConnector struct {
	mu     sync.Mutex
	orders map[string]string // client_order_id → exchange_order_id
}

var _ domain.ExchangeConnector = (*paperConnector)(nil)

func newPaperConnector() *paperConnector {
	return &paperConnector{orders: make(map[string]string)}
}

func (p *paperConnector) Submit(ctx context.Context, order *domain.Order) (*domain.SubmitResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	// Idempotente por client_order_id, como un exchange real con
	// idempotency keys.
	if existing, ok := p.orders[order.ClientOrderID]; ok {
		return &domain.SubmitResult{Status: domain.SubmitAck, ExchangeOrderID: existing}, nil
	}

	exchangeID := "paper-" + uuid.NewString()
	p.orders[order.ClientOrderID] = exchangeID
	return &domain.SubmitResult{Status: domain.SubmitAck, ExchangeOrderID: exchangeID}, nil
}

func (p *paperConnector) QueryByClientID(ctx context.Context, clientOrderID string) (*domain.QueryResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	exchangeID, ok := p.orders[clientOrderID]
	if !ok {
		return &domain.QueryResult{Found: false}, nil
	}
	return &domain.QueryResult{Found: true, ExchangeOrderID: exchangeID, State: "open"}, nil
}
