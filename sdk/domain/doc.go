// Package domain contiene tipos de dominio, validaciones y lógica de negocio
// para Arbiter.
//
// # Responsabilidades
//
// - Modelo de Intent inmutable y su codificación canónica + hash
// - Cuantización de cantidad/precio contra metadata de instrumento
// - Veredictos de gates (accept/reject con razón estructurada)
// - Máquina de estados de RiskState y modos de trading efectivos
// - Sistema de errores del dominio de trading
// - Contratos de colaboradores externos (exchange connector, repositorios)
//
// # Determinismo
//
// CanonicalBytes serializa únicamente los campos relevantes para la decisión
// (excluye intent_id, timestamps de captura y metadata libre) en JSON canónico
// RFC 8785, de modo que inputs congelados idénticos producen bytes y hash
// idénticos entre ejecuciones y reinicios:
//
//	bytes, _ := domain.CanonicalBytes(intent)
//	hash := domain.HashBytes(bytes)
package domain
