package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
)

// contextKey es el tipo para las claves de contexto
type contextKey string

const (
	commonAttrsKey contextKey = "telemetry_common_attrs"
)

// Claves de los atributos de identidad del pipeline. Se definen aquí (y no
// sólo en semconv) porque el cliente las necesita para extraerlas.
const (
	intentIDAttrKey = "arbiter.intent_id"
	runIDAttrKey    = "arbiter.run_id"
)

// WithIntent fija la identidad (intent_id, run_id) en el contexto. Todos los
// logs y métricas emitidos con ese contexto llevan ambos atributos.
func WithIntent(ctx context.Context, intentID, runID string) context.Context {
	return AppendCommonAttrs(ctx,
		attribute.String(intentIDAttrKey, intentID),
		attribute.String(runIDAttrKey, runID),
	)
}

// IntentFromContext extrae (intent_id, run_id) del contexto, si están.
func IntentFromContext(ctx context.Context) (intentID, runID string) {
	for _, attr := range GetCommonAttrs(ctx) {
		switch string(attr.Key) {
		case intentIDAttrKey:
			intentID = attr.Value.AsString()
		case runIDAttrKey:
			runID = attr.Value.AsString()
		}
	}
	return intentID, runID
}

// AppendCommonAttrs añade atributos comunes al contexto (para logs, métricas y trazas)
func AppendCommonAttrs(ctx context.Context, attrs ...attribute.KeyValue) context.Context {
	existing := GetCommonAttrs(ctx)
	merged := make([]attribute.KeyValue, 0, len(existing)+len(attrs))
	merged = append(merged, existing...)
	merged = append(merged, attrs...)
	return context.WithValue(ctx, commonAttrsKey, merged)
}

// GetCommonAttrs extrae atributos comunes del contexto
func GetCommonAttrs(ctx context.Context) []attribute.KeyValue {
	val := ctx.Value(commonAttrsKey)
	if val == nil {
		return []attribute.KeyValue{}
	}

	attrs, ok := val.([]attribute.KeyValue)
	if !ok {
		return []attribute.KeyValue{}
	}

	return attrs
}
