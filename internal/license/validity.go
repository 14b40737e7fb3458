package license

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	fiterrors "fitcore/internal/errors"
	"fitcore/internal/persist"
	"fitcore/internal/security"
	"fitcore/internal/sproto"
)

// CheckValidity runs the validity pipeline on l. With checkPersistence
// the update counter is compared with the persisted one.
func (c *Core) CheckValidity(ctx context.Context, l *License, checkPersistence bool) error {
	const op = "license.check_validity"
	release, err := c.enter(op)
	if err != nil {
		return err
	}
	defer release()
	if err := c.checkHandle(op, l); err != nil {
		return err
	}
	return c.checkValidity(ctx, l, checkPersistence)
}

// checkValidity is the pipeline body; the caller holds a core lock.
func (c *Core) checkValidity(ctx context.Context, l *License, checkPersistence bool) (err error) {
	ctx, span := c.tracer.Start(ctx, "license.validity",
		trace.WithAttributes(
			attribute.Bool("license.cached", l.Verified()),
			attribute.Bool("license.check_persistence", checkPersistence),
		),
	)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, fiterrors.CodeOf(err).String())
			span.SetAttributes(attribute.String("license.error_type", classifyError(err)))
		}
		span.End()
	}()

	if !l.Verified() {
		if err := c.checkHeader(l); err != nil {
			return err
		}
		alg, err := c.verifySignature(ctx, l)
		if err != nil {
			c.logger.WarnContext(ctx, "License signature rejected",
				slog.String("code", fiterrors.CodeOf(err).String()),
			)
			return err
		}
		span.SetAttributes(attribute.String("license.algorithm", alg.String()))
		if err := c.checkRequirements(l); err != nil {
			return err
		}
		if err := c.checkNodeLock(ctx, l); err != nil {
			return err
		}
	}

	if checkPersistence && c.persistenceEnabled() {
		if err := c.checkCounter(ctx, l); err != nil {
			return err
		}
	}

	if !l.Verified() {
		l.markVerified()
		c.logger.DebugContext(ctx, "License verified")
	}
	return nil
}

// checkHeader enforces the zero prefix and the minimum core version.
func (c *Core) checkHeader(l *License) error {
	h, err := l.w.Header()
	if err != nil {
		return err
	}
	required := uint16(h.Major)<<8 | uint16(h.Minor)
	if required > uint16(VersionMajor)<<8|uint16(VersionMinor) {
		return fiterrors.Wrap(fiterrors.CodeInvalidVersion, "license.header",
			fmt.Errorf("license requires core %d.%d", h.Major, h.Minor))
	}
	return nil
}

// checkRequirements compares the license requirements with the core
// capabilities.
func (c *Core) checkRequirements(l *License) error {
	const op = "license.requirements"
	lm, err := l.lmVersion()
	if err != nil {
		return err
	}
	el, found, err := l.field(sproto.TagRequirements)
	if err != nil {
		return err
	}
	if !found {
		if lm < LMVersionRequirements {
			return nil
		}
		return fiterrors.Wrap(fiterrors.CodeInvalidFormat, op,
			fmt.Errorf("version %d license without requirements", lm))
	}
	raw, err := l.w.Bytes(el)
	if err != nil {
		return err
	}
	required, err := DecodeRequirements(lm, raw)
	if err != nil {
		return err
	}
	if missing := required &^ c.caps; missing != 0 {
		return fiterrors.Wrap(fiterrors.CodeRequirementNotSupported, op,
			fmt.Errorf("missing %s", missing))
	}
	return nil
}

// checkNodeLock validates the fingerprint blob when the license carries
// one. The device comparison only runs with EnforceNodeLock.
func (c *Core) checkNodeLock(ctx context.Context, l *License) error {
	const op = "license.nodelock"
	el, found, err := l.field(sproto.TagFingerprint)
	if err != nil || !found {
		return err
	}
	if !c.caps.Has(CapNodeLock) {
		return fiterrors.New(fiterrors.CodeNodeLockNotSupported, op)
	}
	raw, err := l.w.Bytes(el)
	if err != nil {
		return err
	}
	want, err := security.ParseFingerprint(raw)
	if err != nil {
		return fiterrors.Wrap(fiterrors.CodeInvalidFormat, op, err)
	}
	if !c.opts.EnforceNodeLock {
		return nil
	}

	have, err := c.deviceFingerprint(ctx)
	if err != nil {
		return err
	}
	if !have.Matches(want) {
		return fiterrors.New(fiterrors.CodeFingerprintMismatch, op)
	}
	return nil
}

func (c *Core) deviceFingerprint(ctx context.Context) (security.Fingerprint, error) {
	const op = "license.device_id"
	if c.opts.DeviceID == nil {
		return security.Fingerprint{}, fiterrors.New(fiterrors.CodeNodeLockNotSupported, op)
	}
	id, err := c.opts.DeviceID.DeviceID(ctx)
	if err != nil {
		return security.Fingerprint{}, fiterrors.Wrap(fiterrors.CodeDeviceIDUnavailable, op, err)
	}
	fp, err := security.ComputeFingerprint(id)
	if err != nil {
		return security.Fingerprint{}, fiterrors.Wrap(fiterrors.CodeDeviceIDUnavailable, op, err)
	}
	return fp, nil
}

// checkCounter compares the license update counter with the persisted
// one. Licenses without a container id or counter predate counters and
// pass.
func (c *Core) checkCounter(ctx context.Context, l *License) error {
	const op = "license.counter"
	id, counter, found, err := l.identity()
	if err != nil || !found {
		return err
	}
	persisted, stored, err := persist.ReadCounter(ctx, c.opts.Store, id)
	if err != nil {
		return err
	}
	switch {
	case stored && persisted > counter:
		return fiterrors.Wrap(fiterrors.CodeUpdateCountMismatch, op,
			fmt.Errorf("license counter %d below persisted %d", counter, persisted))
	case !stored && counter != 0:
		return fiterrors.Wrap(fiterrors.CodeUpdateCountMismatch, op,
			fmt.Errorf("license counter %d with no persisted record", counter))
	}
	return nil
}

// PrepareLicenseUpdate checks that next may replace prev (which may be
// nil) and records the new update counter. The license bytes themselves
// are not stored; that is up to the caller.
func (c *Core) PrepareLicenseUpdate(ctx context.Context, prev, next *License) (err error) {
	const op = "license.prepare_update"
	release, err := c.enterExclusive(op)
	if err != nil {
		return err
	}
	defer release()
	defer func() { c.opts.Metrics.recordUpdate(ctx, err) }()

	if err := c.checkHandle(op, next); err != nil {
		return err
	}
	if prev != nil {
		if err := c.checkHandle(op, prev); err != nil {
			return err
		}
	}

	if err := c.checkValidity(ctx, next, false); err != nil {
		return err
	}
	id, counter, found, err := next.identity()
	if err != nil {
		return err
	}
	if !found {
		return fiterrors.Wrap(fiterrors.CodeInvalidFormat, op, errors.New("license has no container id or update counter"))
	}

	if prev != nil {
		if err := c.checkValidity(ctx, prev, false); err != nil {
			return err
		}
		prevID, prevCounter, prevFound, err := prev.identity()
		if err != nil {
			return err
		}
		if !prevFound {
			return fiterrors.Wrap(fiterrors.CodeInvalidFormat, op, errors.New("previous license has no container id or update counter"))
		}
		if prevID != id {
			return fiterrors.New(fiterrors.CodeContainerMismatch, op)
		}
		if counter <= prevCounter {
			return fiterrors.Wrap(fiterrors.CodeUpdateCountMismatch, op,
				fmt.Errorf("new counter %d not above %d", counter, prevCounter))
		}
	}

	if !c.persistenceEnabled() {
		return nil
	}
	// a missing record counts as zero
	persisted, _, err := persist.ReadCounter(ctx, c.opts.Store, id)
	if err != nil {
		return err
	}
	if counter <= persisted {
		return fiterrors.Wrap(fiterrors.CodeUpdateCountMismatch, op,
			fmt.Errorf("new counter %d not above persisted %d", counter, persisted))
	}
	if err := persist.WriteCounter(ctx, c.opts.Store, id, counter); err != nil {
		return err
	}
	c.logger.InfoContext(ctx, "License update counter advanced",
		slog.String("container", id.String()),
		slog.Uint64("counter", uint64(counter)),
	)
	return nil
}
