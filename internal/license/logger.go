package license

import (
	"context"
	"log/slog"
	"time"

	fiterrors "fitcore/internal/errors"
	"fitcore/internal/infrastructure"
	"fitcore/internal/sproto"
)

// logLookup records one lookup. Not-found outcomes are expected and stay
// at debug level; other failures are warnings.
func (c *Core) logLookup(ctx context.Context, op string, tag sproto.Tag, start time.Time, err error) {
	duration := time.Since(start)
	c.opts.Metrics.recordLookup(ctx, op, duration, err)

	level := slog.LevelDebug
	msg := "License lookup completed"
	if err != nil {
		msg = "License lookup failed"
		if !fiterrors.IsNotFound(err) {
			level = slog.LevelWarn
		}
	}
	if !c.logger.Enabled(ctx, level) {
		return
	}

	attrs := []slog.Attr{
		slog.String("operation", op),
		slog.String("tag", tag.String()),
		slog.Duration("duration", duration),
	}
	if traceID := infrastructure.TraceIDFromContext(ctx); traceID != "" {
		attrs = append(attrs, slog.String("trace_id", traceID))
	}
	if err != nil {
		attrs = append(attrs,
			slog.String("code", fiterrors.CodeOf(err).String()),
			slog.String("error_type", classifyError(err)),
		)
	}
	c.logger.LogAttrs(ctx, level, msg, attrs...)
}
