package license

import (
	"context"
	"log/slog"
	"sync/atomic"

	fiterrors "fitcore/internal/errors"
)

// StartConsume checks that the feature in fc may be used now. Perpetual
// features and features without dates always pass; dated features need
// the clock capability.
func (c *Core) StartConsume(ctx context.Context, fc *FeatureContext) (err error) {
	const op = "license.start_consume"
	release, err := c.enter(op)
	if err != nil {
		return err
	}
	defer release()
	defer func() {
		started := err == nil && atomic.CompareAndSwapUint32(&fc.active, 0, 1)
		c.opts.Metrics.recordConsume(ctx, fc, started, err)
	}()

	if !fc.valid() || fc.license.core != c {
		return fiterrors.New(fiterrors.CodeInvalidFeatureContext, op)
	}
	if err := c.checkValidity(ctx, fc.license, true); err != nil {
		return err
	}
	if err := c.checkModel(fc.Model); err != nil {
		c.logger.DebugContext(ctx, "Feature not consumable",
			slog.Uint64("feature_id", uint64(fc.FeatureID)),
			slog.Uint64("product_id", uint64(fc.ProductID)),
			slog.String("code", fiterrors.CodeOf(err).String()),
		)
		return err
	}
	return nil
}

func (c *Core) checkModel(m LicenseModel) error {
	const op = "license.consume"
	if m.Perpetual {
		return nil
	}
	if m.StartDate == NoDate && m.EndDate == NoDate {
		return nil
	}
	if !c.caps.Has(CapClock) || c.opts.Clock == nil {
		return fiterrors.New(fiterrors.CodeNotSupported, op)
	}
	now, err := c.opts.Clock.UnixTime()
	if err != nil {
		return fiterrors.Wrap(fiterrors.CodeNoClock, op, err)
	}
	if now < m.StartDate {
		return fiterrors.New(fiterrors.CodeFeatureInactive, op)
	}
	if m.EndDate != NoDate && now > m.EndDate {
		return fiterrors.New(fiterrors.CodeFeatureExpired, op)
	}
	return nil
}

// EndConsume releases a feature started with StartConsume. Ending a
// context that is not consuming is a no-op.
func (c *Core) EndConsume(ctx context.Context, fc *FeatureContext) error {
	const op = "license.end_consume"
	release, err := c.enter(op)
	if err != nil {
		return err
	}
	defer release()

	if !fc.valid() || fc.license.core != c {
		return fiterrors.New(fiterrors.CodeInvalidFeatureContext, op)
	}
	if atomic.CompareAndSwapUint32(&fc.active, 1, 0) {
		c.opts.Metrics.recordRelease(ctx, fc)
	}
	return nil
}
