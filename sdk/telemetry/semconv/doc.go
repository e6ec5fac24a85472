// Package semconv define convenciones semánticas para atributos OpenTelemetry
// utilizados en el sistema de telemetría de Arbiter.
//
// Cada log, métrica y span del pipeline usa estas claves en lugar de strings
// sueltos, lo que permite reconstruir la cadena causal completa de un intent
// (veredictos de gates, transiciones de journal, resultado de despacho)
// consultando por arbiter.intent_id.
//
// Uso:
//
//	client.Info(ctx, "Gate rejected",
//	    semconv.Arbiter.Gate.String("quantize"),
//	    semconv.Arbiter.Reason.String("TOO_SMALL_AFTER_QUANTIZATION"),
//	)
package semconv
