package internal

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/xKoRx/arbiter/sdk/domain"
	"github.com/xKoRx/arbiter/sdk/telemetry"
	"github.com/xKoRx/arbiter/sdk/telemetry/metricbundle"
	"github.com/xKoRx/arbiter/sdk/telemetry/semconv"
)

// Decision es el registro completo de una evaluación de pipeline.
//
// Traces contiene un veredicto por gate evaluado, en orden; el primer
// rechazo termina la lista. La evaluación en sí es libre de efectos: sólo
// el Core decide si journalizar después.
type Decision struct {
	Accepted  bool
	Traces    []domain.GateVerdict
	Quantized domain.QuantizedFields

	// Reason es el código del primer rechazo; NO_ERROR si aceptado.
	Reason domain.ErrorCode
}

// RejectVerdict retorna el veredicto del gate que rechazó, o nil si aceptado.
func (d *Decision) RejectVerdict() *domain.GateVerdict {
	if d.Accepted || len(d.Traces) == 0 {
		return nil
	}
	last := d.Traces[len(d.Traces)-1]
	if last.Accepted {
		return nil
	}
	return &last
}

// Pipeline evalúa gates en orden fijo y fail-fast.
type Pipeline struct {
	gates     []gate
	telemetry *telemetry.Client
	metrics   *metricbundle.ArbiterMetrics
}

// newPipeline construye el pipeline con la lista canónica de gates y
// verifica estructuralmente el orden.
func newPipeline(tel *telemetry.Client, metrics *metricbundle.ArbiterMetrics) (*Pipeline, error) {
	gates := []gate{
		&configGate{},
		&quantizeGate{},
		&policyGate{},
		&riskStateGate{},
		&exposureGate{},
	}
	if err := verifyOrder(gates); err != nil {
		return nil, err
	}
	return &Pipeline{
		gates:     gates,
		telemetry: tel,
		metrics:   metrics,
	}, nil
}

// verifyOrder rechaza cualquier construcción que altere el orden canónico.
func verifyOrder(gates []gate) error {
	if len(gates) != len(gateOrder) {
		return fmt.Errorf("pipeline has %d gates, want %d", len(gates), len(gateOrder))
	}
	for i, g := range gates {
		if g.Name() != gateOrder[i] {
			return fmt.Errorf("gate %d is %q, want %q", i, g.Name(), gateOrder[i])
		}
	}
	return nil
}

// Evaluate corre los gates sobre la entrada congelada.
//
// Fail-fast: el primer rechazo corta la evaluación; ningún gate posterior
// corre. No produce efecto persistente de ningún tipo.
func (p *Pipeline) Evaluate(ctx context.Context, in *EvalInput) *Decision {
	start := time.Now()
	ctx, span := p.telemetry.StartSpan(ctx, "arbiter.gate.evaluate")
	defer span.End()

	decision := &Decision{Reason: domain.ErrNoError}
	result := &EvalResult{}

	for _, g := range p.gates {
		verdict := g.Evaluate(ctx, in, result)
		decision.Traces = append(decision.Traces, verdict)

		if !verdict.Accepted {
			decision.Reason = verdict.Reason
			p.metrics.RecordGateVerdict(ctx, g.Name(), "reject",
				semconv.Arbiter.Reason.String(string(verdict.Reason)),
				semconv.Arbiter.Instrument.String(in.Intent.Instrument),
			)
			p.telemetry.Info(ctx, "Gate rejected intent",
				semconv.Arbiter.Gate.String(g.Name()),
				semconv.Arbiter.Reason.String(string(verdict.Reason)),
				semconv.Arbiter.Instrument.String(in.Intent.Instrument),
				attribute.String("message", verdict.Message),
			)
			p.metrics.RecordPipelineLatency(ctx, float64(time.Since(start).Microseconds())/1000.0)
			return decision
		}

		p.metrics.RecordGateVerdict(ctx, g.Name(), "accept")
	}

	decision.Accepted = true
	decision.Quantized = result.Quantized
	p.metrics.RecordIntentAccepted(ctx,
		semconv.Arbiter.Instrument.String(in.Intent.Instrument),
		semconv.Arbiter.Side.String(string(in.Intent.Side)),
	)
	p.metrics.RecordPipelineLatency(ctx, float64(time.Since(start).Microseconds())/1000.0)
	return decision
}
