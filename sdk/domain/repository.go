package domain

import (
	"context"
)

// InstrumentSpecRepository persiste metadata de instrumentos.
//
// La implementación de referencia es PostgreSQL (internal/repository); los
// tests usan stubs in-memory.
type InstrumentSpecRepository interface {
	// GetSpec retorna el spec de un instrumento, o nil si no existe.
	GetSpec(ctx context.Context, instrument string) (*InstrumentSpec, error)

	// UpsertSpecs actualiza specs reportados por el feed de metadata.
	// reportedAtMs permite descartar reportes stale.
	UpsertSpecs(ctx context.Context, specs []*InstrumentSpec, reportedAtMs int64) error
}
