// Package utils provee utilidades comunes para el SDK de Arbiter:
// generación de UUIDv7 y helpers de timestamps en milisegundos.
package utils
