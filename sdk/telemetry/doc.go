// Package telemetry proporciona observabilidad completa para Arbiter mediante
// los tres pilares:
//
// 1. Logs: Registro estructurado JSON compatible con Loki
// 2. Métricas: OpenTelemetry exportables vía OTLP
// 3. Trazas: Trazado distribuido con OpenTelemetry
//
// Todo log y métrica emitido dentro del pipeline lleva los atributos
// arbiter.intent_id y arbiter.run_id: con WithIntent se fijan una vez en el
// contexto y el cliente los propaga a cada registro (contrato de
// trazabilidad del sistema).
//
// Uso básico:
//
//	client, err := telemetry.New(ctx, "arbiter", "production")
//	if err != nil {
//	    panic(err)
//	}
//	defer client.Shutdown(ctx)
//
//	ctx = telemetry.WithIntent(ctx, intent.IntentID, intent.RunID)
//	client.Info(ctx, "Gate accepted",
//	    semconv.Arbiter.Gate.String("quantize"),
//	)
package telemetry
