package telemetry

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
)

// Info registra un mensaje informativo
func (c *Client) Info(ctx context.Context, msg string, attrs ...attribute.KeyValue) {
	if c.logger == nil {
		return
	}

	c.logger.InfoContext(ctx, msg, c.slogArgs(ctx, attrs)...)
}

// Error registra un mensaje de error
func (c *Client) Error(ctx context.Context, msg string, err error, attrs ...attribute.KeyValue) {
	if c.logger == nil {
		return
	}

	args := c.slogArgs(ctx, attrs)
	if err != nil {
		args = append(args, slog.String("error", err.Error()))
	}
	c.logger.ErrorContext(ctx, msg, args...)
}

// Warn registra un mensaje de advertencia
func (c *Client) Warn(ctx context.Context, msg string, attrs ...attribute.KeyValue) {
	if c.logger == nil {
		return
	}

	c.logger.WarnContext(ctx, msg, c.slogArgs(ctx, attrs)...)
}

// Debug registra un mensaje de debug
func (c *Client) Debug(ctx context.Context, msg string, attrs ...attribute.KeyValue) {
	if c.logger == nil {
		return
	}

	c.logger.DebugContext(ctx, msg, c.slogArgs(ctx, attrs)...)
}

// slogArgs combina los atributos comunes del contexto (intent_id, run_id)
// con los del call site y los convierte a argumentos slog.
func (c *Client) slogArgs(ctx context.Context, attrs []attribute.KeyValue) []any {
	common := GetCommonAttrs(ctx)
	args := make([]any, 0, (len(common)+len(attrs))*2)
	for _, attr := range common {
		args = append(args, string(attr.Key), attr.Value.AsInterface())
	}
	for _, attr := range attrs {
		args = append(args, string(attr.Key), attr.Value.AsInterface())
	}
	return args
}
