package license

import (
	"context"
	"errors"
	"log/slog"
	"time"

	fiterrors "fitcore/internal/errors"
	"fitcore/internal/security"
	"fitcore/internal/sproto"
)

// fallback reports whether a verification failure lets the pipeline try
// the next signature entry.
func fallback(err error) bool {
	switch fiterrors.CodeOf(err) {
	case fiterrors.CodeInvalidSignature, fiterrors.CodeKeyNotPresent, fiterrors.CodeInvalidSigningKey:
		return true
	}
	return false
}

// verifySignature walks the signature entries in document order and
// returns the algorithm of the first one that verifies.
func (c *Core) verifySignature(ctx context.Context, l *License) (Algorithm, error) {
	const op = "license.signature"
	w := l.w
	scope := sproto.NewScope()

	el, err := w.FindFirst(scope, sproto.TagAlgorithmID)
	if err != nil {
		if fiterrors.IsNotFound(err) {
			return 0, fiterrors.Wrap(fiterrors.CodeInvalidFormat, op, err)
		}
		return 0, err
	}

	var lastErr error
	for {
		alg, err := c.verifyEntry(ctx, l, scope, el)
		if err == nil {
			return alg, nil
		}
		if !fallback(err) {
			return 0, err
		}
		lastErr = err
		c.logger.DebugContext(ctx, "Signature entry rejected, trying next",
			slog.String("algorithm", alg.String()),
			slog.String("reason", fiterrors.CodeOf(err).String()),
		)

		el, err = w.FindNext(scope, sproto.TagAlgorithmID)
		if err != nil {
			if fiterrors.IsNotFound(err) {
				return 0, lastErr
			}
			return 0, err
		}
	}
}

// verifyEntry verifies the signature entry whose algorithm id is algEl.
// The scope is left after the entry's signature field.
func (c *Core) verifyEntry(ctx context.Context, l *License, scope *sproto.Scope, algEl sproto.Element) (Algorithm, error) {
	const op = "license.signature"
	w := l.w

	id, err := w.Uint32(algEl)
	if err != nil {
		return 0, err
	}
	alg := Algorithm(id)
	entry, _ := scope.FrameOf(sproto.TagSignatureEntry)

	key, keyErr := c.keyFor(alg)

	sigEl, err := w.FindNext(scope, sproto.TagSignature)
	if err != nil {
		if fiterrors.IsNotFound(err) {
			return alg, fiterrors.Wrap(fiterrors.CodeInvalidFormat, op, err)
		}
		return alg, err
	}
	if owner, ok := scope.FrameOf(sproto.TagSignatureEntry); !ok || owner.Addr != entry.Addr {
		return alg, fiterrors.Wrap(fiterrors.CodeInvalidFormat, op, errors.New("signature entry without signature"))
	}
	if keyErr != nil {
		return alg, keyErr
	}

	sig, err := w.Bytes(sigEl)
	if err != nil {
		return alg, err
	}
	signed, err := l.signedPart()
	if err != nil {
		return alg, err
	}

	start := time.Now()
	switch alg {
	case AlgAES:
		err = c.verifyAES(key, signed, sig)
	case AlgRSA:
		err = c.verifyRSA(ctx, l, key, signed, sig)
	default:
		err = fiterrors.New(fiterrors.CodeUnknownAlgorithm, op)
	}
	c.opts.Metrics.recordVerification(ctx, alg, time.Since(start), err)
	return alg, err
}

func (c *Core) verifyAES(key *keySlot, signed, sig []byte) error {
	const op = "license.signature.aes"
	if !c.caps.Has(CapAES) {
		return fiterrors.New(fiterrors.CodeAESNotSupported, op)
	}
	ok, err := security.VerifyOMAC(key.Material, signed, sig)
	if err != nil {
		return fiterrors.Wrap(fiterrors.CodeInvalidSigningKey, op, err)
	}
	if !ok {
		return fiterrors.New(fiterrors.CodeInvalidSignature, op)
	}
	return nil
}

func (c *Core) verifyRSA(ctx context.Context, l *License, key *keySlot, signed, sig []byte) error {
	const op = "license.signature.rsa"
	if !c.caps.Has(CapRSA) {
		return fiterrors.New(fiterrors.CodeRSANotSupported, op)
	}

	content := security.DaviesMeyer(signed)
	if !c.opts.DisableRSACache {
		if c.cache.Lookup(content) {
			c.opts.Metrics.recordCache(ctx, true)
			return nil
		}
		c.opts.Metrics.recordCache(ctx, false)
	}

	lm, err := l.lmVersion()
	if err != nil {
		return err
	}
	digest := security.AbreastDM(signed)
	if err := c.rsa.VerifyRSA(key.rsaPub, digest, sig, lm < LMVersionRawRSA); err != nil {
		c.cache.Invalidate()
		return fiterrors.Wrap(fiterrors.CodeInvalidSignature, op, err)
	}
	if !c.opts.DisableRSACache {
		c.cache.Store(content)
	}
	return nil
}
