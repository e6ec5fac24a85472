// Package metricbundle agrupa los instrumentos OpenTelemetry del dominio de
// Arbiter en bundles pre-creados, de modo que los componentes del pipeline
// registren métricas sin crear instrumentos en el hot path.
package metricbundle
