package license

import (
	"context"
	"encoding/base64"

	fiterrors "fitcore/internal/errors"
)

// GetFingerprint returns the base64 encoded fingerprint blob of this
// device, for embedding in a node locked license.
func (c *Core) GetFingerprint(ctx context.Context) (string, error) {
	const op = "license.fingerprint"
	release, err := c.enter(op)
	if err != nil {
		return "", err
	}
	defer release()
	return c.fingerprint(ctx)
}

func (c *Core) fingerprint(ctx context.Context) (string, error) {
	if !c.caps.Has(CapNodeLock) {
		return "", fiterrors.New(fiterrors.CodeNodeLockNotSupported, "license.fingerprint")
	}
	fp, err := c.deviceFingerprint(ctx)
	if err != nil {
		return "", err
	}
	blob, err := fp.MarshalBinary()
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(blob), nil
}

// FingerprintTo writes the base64 fingerprint into buf and returns its
// length. A short buf fails with a BufferTooSmallError carrying the
// required size.
func (c *Core) FingerprintTo(ctx context.Context, buf []byte) (int, error) {
	const op = "license.fingerprint"
	release, err := c.enter(op)
	if err != nil {
		return 0, err
	}
	defer release()

	s, err := c.fingerprint(ctx)
	if err != nil {
		return 0, err
	}
	if len(buf) < len(s) {
		return 0, &fiterrors.BufferTooSmallError{Required: len(s)}
	}
	return copy(buf, s), nil
}
