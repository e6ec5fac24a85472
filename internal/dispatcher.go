package internal

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/xKoRx/arbiter/sdk/domain"
	"github.com/xKoRx/arbiter/sdk/telemetry"
	"github.com/xKoRx/arbiter/sdk/telemetry/metricbundle"
	"github.com/xKoRx/arbiter/sdk/telemetry/semconv"
)

// DispatchOutcome es el resultado de un intento de despacho.
type DispatchOutcome struct {
	Status          domain.SubmitStatus
	ExchangeOrderID string
	Code            domain.ErrorCode
	Message         string
}

// Dispatcher es el chokepoint de despacho: tiene la única referencia con
// capability de Submit hacia el exchange. El constructor es privado del
// paquete y el Core cablea exactamente uno; ningún otro componente puede
// emitir órdenes.
type Dispatcher struct {
	connector domain.ExchangeConnector
	journal   *Journal
	telemetry *telemetry.Client
	metrics   *metricbundle.ArbiterMetrics
}

func newDispatcher(connector domain.ExchangeConnector, journal *Journal, tel *telemetry.Client, metrics *metricbundle.ArbiterMetrics) *Dispatcher {
	return &Dispatcher{
		connector: connector,
		journal:   journal,
		telemetry: tel,
		metrics:   metrics,
	}
}

// Dispatch despacha una entrada journalizada: transiciona a Dispatched en el
// journal y emite exactamente un Submit.
//
// Sólo acepta entradas en Pending o ProvenAbsent (la única resubmission
// permitida tras reconciliación). Un resultado ambiguo deja la entrada en
// Dispatched y NO reintenta en el lugar: la resolución es del reconciliador.
func (d *Dispatcher) Dispatch(ctx context.Context, entry *JournalEntry) (*DispatchOutcome, error) {
	if entry.State != StatePending && entry.State != StateProvenAbsent {
		return nil, domain.NewError(domain.ErrJournalConflict, "dispatch requires a pending entry").
			WithDetail("intent_id", entry.IntentID).
			WithDetail("state", string(entry.State))
	}

	start := time.Now()
	ctx = telemetry.WithIntent(ctx, entry.IntentID, entry.RunID)
	ctx, span := d.telemetry.StartSpan(ctx, "arbiter.dispatch")
	defer span.End()

	marked, err := d.journal.MarkDispatched(entry.IntentID)
	if err != nil {
		return nil, err
	}
	*entry = *marked

	order := &domain.Order{
		ClientOrderID: entry.ClientOrderID,
		Instrument:    entry.Intent.Instrument,
		Side:          entry.Intent.Side,
		OrderType:     entry.Intent.OrderType,
		LinkedType:    entry.Intent.LinkedType,
		QtyQ:          entry.Quantized.QtyQ,
		LimitPriceQ:   entry.Quantized.LimitPriceQ,
		TriggerPriceQ: entry.Quantized.TriggerPriceQ,
		ReduceOnly:    entry.Intent.ReduceOnly,
	}

	res, err := d.connector.Submit(ctx, order)
	d.metrics.RecordDispatchLatency(ctx, float64(time.Since(start).Microseconds())/1000.0)

	if err != nil || res == nil {
		// Error de transporte: no sabemos si la orden llegó. Ambiguo, la
		// entrada queda en Dispatched para el reconciliador.
		msg := "transport error during submit"
		if err != nil {
			msg = err.Error()
		}
		d.metrics.RecordDispatchOutcome(ctx, "ambiguous",
			semconv.Arbiter.Instrument.String(order.Instrument),
		)
		d.telemetry.Warn(ctx, "Dispatch ambiguous",
			semconv.Arbiter.ClientOrderID.String(order.ClientOrderID),
			semconv.Arbiter.Attempt.Int(entry.Attempts),
			attribute.String("error", msg),
		)
		return &DispatchOutcome{
			Status:  domain.SubmitAmbiguous,
			Code:    domain.ErrDispatchAmbiguous,
			Message: msg,
		}, nil
	}

	switch res.Status {
	case domain.SubmitAck:
		if _, err := d.journal.Resolve(entry.IntentID, StateConfirmed, res.ExchangeOrderID, ""); err != nil {
			return nil, err
		}
		d.metrics.RecordDispatchOutcome(ctx, "confirmed",
			semconv.Arbiter.Instrument.String(order.Instrument),
		)
		d.telemetry.Info(ctx, "Order confirmed",
			semconv.Arbiter.ClientOrderID.String(order.ClientOrderID),
			semconv.Arbiter.ExchangeOrderID.String(res.ExchangeOrderID),
		)
		return &DispatchOutcome{
			Status:          domain.SubmitAck,
			ExchangeOrderID: res.ExchangeOrderID,
		}, nil

	case domain.SubmitRejected:
		if _, err := d.journal.Resolve(entry.IntentID, StateFailed, "", res.Message); err != nil {
			return nil, err
		}
		d.metrics.RecordDispatchOutcome(ctx, "failed",
			semconv.Arbiter.Instrument.String(order.Instrument),
			semconv.Arbiter.Reason.String(string(res.Code)),
		)
		d.telemetry.Warn(ctx, "Order rejected by exchange",
			semconv.Arbiter.ClientOrderID.String(order.ClientOrderID),
			semconv.Arbiter.Reason.String(string(res.Code)),
			attribute.String("message", res.Message),
		)
		return &DispatchOutcome{
			Status:  domain.SubmitRejected,
			Code:    res.Code,
			Message: res.Message,
		}, nil

	default:
		d.metrics.RecordDispatchOutcome(ctx, "ambiguous",
			semconv.Arbiter.Instrument.String(order.Instrument),
		)
		d.telemetry.Warn(ctx, "Dispatch ambiguous",
			semconv.Arbiter.ClientOrderID.String(order.ClientOrderID),
			semconv.Arbiter.Attempt.Int(entry.Attempts),
			attribute.String("message", res.Message),
		)
		return &DispatchOutcome{
			Status:  domain.SubmitAmbiguous,
			Code:    domain.ErrDispatchAmbiguous,
			Message: res.Message,
		}, nil
	}
}
