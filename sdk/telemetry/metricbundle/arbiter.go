package metricbundle

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// ArbiterMetrics bundle de métricas para el pipeline de despacho.
//
// # Métricas de Conteo
//
//   - arbiter.gate.verdict: veredictos por gate (verdict=accept|reject, reason)
//   - arbiter.intent.accepted: intents que pasaron todos los gates
//   - arbiter.journal.append: appends al WAL
//   - arbiter.dispatch.outcome: resultados de despacho (confirmed/failed/ambiguous)
//   - arbiter.reconcile.result: resoluciones de reconciliación
//   - arbiter.risk_state.transition: escalaciones/clears de RiskState
//   - arbiter.spec.lookup: lookups de metadata de instrumento (hit/miss)
//
// # Métricas de Latencia
//
//   - arbiter.pipeline.latency_ms: evaluación completa de gates
//   - arbiter.dispatch.latency_ms: submission al exchange
//   - arbiter.reconcile.latency_ms: resolución de una ambigüedad
type ArbiterMetrics struct {
	// Counters
	GateVerdict         metric.Int64Counter
	IntentAccepted      metric.Int64Counter
	JournalAppend       metric.Int64Counter
	DispatchOutcome     metric.Int64Counter
	ReconcileResult     metric.Int64Counter
	RiskStateTransition metric.Int64Counter
	SpecLookup          metric.Int64Counter

	// Histograms
	PipelineLatency  metric.Float64Histogram
	DispatchLatency  metric.Float64Histogram
	ReconcileLatency metric.Float64Histogram
}

// NewArbiterMetrics crea el bundle de métricas del pipeline.
func NewArbiterMetrics(meter metric.Meter) (*ArbiterMetrics, error) {
	gateVerdict, err := meter.Int64Counter(
		"arbiter.gate.verdict",
		metric.WithDescription("Veredictos emitidos por los gates del pipeline"),
		metric.WithUnit("{verdict}"),
	)
	if err != nil {
		return nil, err
	}

	intentAccepted, err := meter.Int64Counter(
		"arbiter.intent.accepted",
		metric.WithDescription("Intents aceptados por el pipeline completo"),
		metric.WithUnit("{intent}"),
	)
	if err != nil {
		return nil, err
	}

	journalAppend, err := meter.Int64Counter(
		"arbiter.journal.append",
		metric.WithDescription("Entradas durables escritas al journal"),
		metric.WithUnit("{entry}"),
	)
	if err != nil {
		return nil, err
	}

	dispatchOutcome, err := meter.Int64Counter(
		"arbiter.dispatch.outcome",
		metric.WithDescription("Resultados de submissions al exchange"),
		metric.WithUnit("{dispatch}"),
	)
	if err != nil {
		return nil, err
	}

	reconcileResult, err := meter.Int64Counter(
		"arbiter.reconcile.result",
		metric.WithDescription("Resoluciones del reconciliador"),
		metric.WithUnit("{entry}"),
	)
	if err != nil {
		return nil, err
	}

	riskStateTransition, err := meter.Int64Counter(
		"arbiter.risk_state.transition",
		metric.WithDescription("Transiciones de RiskState"),
		metric.WithUnit("{transition}"),
	)
	if err != nil {
		return nil, err
	}

	specLookup, err := meter.Int64Counter(
		"arbiter.spec.lookup",
		metric.WithDescription("Lookups de metadata de instrumento"),
		metric.WithUnit("{lookup}"),
	)
	if err != nil {
		return nil, err
	}

	pipelineLatency, err := meter.Float64Histogram(
		"arbiter.pipeline.latency_ms",
		metric.WithDescription("Latencia de evaluación completa de gates"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	dispatchLatency, err := meter.Float64Histogram(
		"arbiter.dispatch.latency_ms",
		metric.WithDescription("Latencia de submission al exchange"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	reconcileLatency, err := meter.Float64Histogram(
		"arbiter.reconcile.latency_ms",
		metric.WithDescription("Latencia de resolución de una ambigüedad"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	return &ArbiterMetrics{
		GateVerdict:         gateVerdict,
		IntentAccepted:      intentAccepted,
		JournalAppend:       journalAppend,
		DispatchOutcome:     dispatchOutcome,
		ReconcileResult:     reconcileResult,
		RiskStateTransition: riskStateTransition,
		SpecLookup:          specLookup,
		PipelineLatency:     pipelineLatency,
		DispatchLatency:     dispatchLatency,
		ReconcileLatency:    reconcileLatency,
	}, nil
}

// RecordGateVerdict registra un veredicto de gate.
func (m *ArbiterMetrics) RecordGateVerdict(ctx context.Context, gate, verdict string, attrs ...attribute.KeyValue) {
	if m == nil {
		return
	}
	all := append([]attribute.KeyValue{
		attribute.String("gate", gate),
		attribute.String("verdict", verdict),
	}, attrs...)
	m.GateVerdict.Add(ctx, 1, metric.WithAttributes(all...))
}

// RecordIntentAccepted registra un intent aceptado por el pipeline.
func (m *ArbiterMetrics) RecordIntentAccepted(ctx context.Context, attrs ...attribute.KeyValue) {
	if m == nil {
		return
	}
	m.IntentAccepted.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordJournalAppend registra un append al journal.
func (m *ArbiterMetrics) RecordJournalAppend(ctx context.Context, attrs ...attribute.KeyValue) {
	if m == nil {
		return
	}
	m.JournalAppend.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordDispatchOutcome registra el resultado de una submission.
func (m *ArbiterMetrics) RecordDispatchOutcome(ctx context.Context, outcome string, attrs ...attribute.KeyValue) {
	if m == nil {
		return
	}
	all := append([]attribute.KeyValue{attribute.String("outcome", outcome)}, attrs...)
	m.DispatchOutcome.Add(ctx, 1, metric.WithAttributes(all...))
}

// RecordReconcileResult registra una resolución del reconciliador.
func (m *ArbiterMetrics) RecordReconcileResult(ctx context.Context, result string, attrs ...attribute.KeyValue) {
	if m == nil {
		return
	}
	all := append([]attribute.KeyValue{attribute.String("result", result)}, attrs...)
	m.ReconcileResult.Add(ctx, 1, metric.WithAttributes(all...))
}

// RecordRiskStateTransition registra una transición de RiskState.
func (m *ArbiterMetrics) RecordRiskStateTransition(ctx context.Context, from, to string, attrs ...attribute.KeyValue) {
	if m == nil {
		return
	}
	all := append([]attribute.KeyValue{
		attribute.String("from", from),
		attribute.String("to", to),
	}, attrs...)
	m.RiskStateTransition.Add(ctx, 1, metric.WithAttributes(all...))
}

// RecordSpecLookup registra un lookup de spec (result=hit|miss).
func (m *ArbiterMetrics) RecordSpecLookup(ctx context.Context, result string, attrs ...attribute.KeyValue) {
	if m == nil {
		return
	}
	all := append([]attribute.KeyValue{attribute.String("result", result)}, attrs...)
	m.SpecLookup.Add(ctx, 1, metric.WithAttributes(all...))
}

// RecordPipelineLatency registra la latencia de la evaluación de gates.
func (m *ArbiterMetrics) RecordPipelineLatency(ctx context.Context, ms float64, attrs ...attribute.KeyValue) {
	if m == nil {
		return
	}
	m.PipelineLatency.Record(ctx, ms, metric.WithAttributes(attrs...))
}

// RecordDispatchLatency registra la latencia de una submission.
func (m *ArbiterMetrics) RecordDispatchLatency(ctx context.Context, ms float64, attrs ...attribute.KeyValue) {
	if m == nil {
		return
	}
	m.DispatchLatency.Record(ctx, ms, metric.WithAttributes(attrs...))
}

// RecordReconcileLatency registra la latencia de una reconciliación.
func (m *ArbiterMetrics) RecordReconcileLatency(ctx context.Context, ms float64, attrs ...attribute.KeyValue) {
	if m == nil {
		return
	}
	m.ReconcileLatency.Record(ctx, ms, metric.WithAttributes(attrs...))
}
