package license

import (
	"context"
	"sync/atomic"

	"github.com/google/uuid"

	fiterrors "fitcore/internal/errors"
	"fitcore/internal/sproto"
)

// verifiedMagic marks a handle whose signature, capability and node-lock
// checks passed.
const verifiedMagic uint32 = 0x76657269

// License is a handle over one license buffer. The buffer is borrowed and
// never modified. A handle belongs to the core that constructed it.
type License struct {
	core     *Core
	w        *sproto.Walker
	verified atomic.Uint32
}

// NewLicenseFrom constructs a handle over rng in src. Construction never
// fails; on a core that is not initialized the first operation on the
// handle returns NotInitialized.
func (c *Core) NewLicenseFrom(src sproto.ByteSource, rng sproto.Range) *License {
	return &License{core: c, w: sproto.NewWalker(src, rng)}
}

// NewLicense constructs a handle over an in-memory license.
func (c *Core) NewLicense(buf []byte) *License {
	mem := sproto.NewMemory(buf)
	return c.NewLicenseFrom(mem, mem.Range())
}

// Walker exposes the decoder for callers that walk the license with their
// own scopes.
func (l *License) Walker() *sproto.Walker {
	return l.w
}

// Verified reports whether the handle passed the signature checks.
func (l *License) Verified() bool {
	return l.verified.Load() == verifiedMagic
}

func (l *License) markVerified() {
	l.verified.Store(verifiedMagic)
}

func (c *Core) checkHandle(op string, l *License) error {
	if l == nil || l.w == nil || l.core != c {
		return fiterrors.New(fiterrors.CodeInvalidParameter, op)
	}
	return nil
}

// field returns the first occurrence of tag, walking without validity
// checks. found is false when the license does not carry it.
func (l *License) field(tag sproto.Tag) (el sproto.Element, found bool, err error) {
	el, err = l.w.FindFirst(sproto.NewScope(), tag)
	if err != nil {
		if fiterrors.IsNotFound(err) {
			return sproto.Element{}, false, nil
		}
		return sproto.Element{}, false, err
	}
	return el, true, nil
}

func (l *License) uint32Field(tag sproto.Tag) (uint32, bool, error) {
	el, found, err := l.field(tag)
	if err != nil || !found {
		return 0, found, err
	}
	v, err := l.w.Uint32(el)
	return v, err == nil, err
}

// lmVersion returns the license manager version; absent means 0.
func (l *License) lmVersion() (uint32, error) {
	v, _, err := l.uint32Field(sproto.TagLMVersion)
	return v, err
}

// identity returns the container id and update counter. found is false
// when either is absent.
func (l *License) identity() (id uuid.UUID, counter uint32, found bool, err error) {
	const op = "license.identity"
	el, found, err := l.field(sproto.TagUID)
	if err != nil || !found {
		return uuid.Nil, 0, false, err
	}
	raw, err := l.w.Bytes(el)
	if err != nil {
		return uuid.Nil, 0, false, err
	}
	id, err = uuid.FromBytes(raw)
	if err != nil {
		return uuid.Nil, 0, false, fiterrors.Wrap(fiterrors.CodeInvalidFormat, op, err)
	}
	counter, found, err = l.uint32Field(sproto.TagUpdateCounter)
	if err != nil || !found {
		return uuid.Nil, 0, false, err
	}
	return id, counter, true, nil
}

// Identity verifies l without the update counter check and returns its
// container id and update counter. found is false for licenses that carry
// neither, which cannot be updated.
func (c *Core) Identity(ctx context.Context, l *License) (id uuid.UUID, counter uint32, found bool, err error) {
	const op = "license.identity"
	release, err := c.enter(op)
	if err != nil {
		return uuid.Nil, 0, false, err
	}
	defer release()
	if err := c.checkHandle(op, l); err != nil {
		return uuid.Nil, 0, false, err
	}
	if err := c.checkValidity(ctx, l, false); err != nil {
		return uuid.Nil, 0, false, err
	}
	return l.identity()
}

// signedPart returns the bytes covered by signatures: the License object.
func (l *License) signedPart() ([]byte, error) {
	const op = "license.signed"
	root, err := l.w.RootElement()
	if err != nil {
		return nil, err
	}
	frame, err := l.w.ObjectFrame(root)
	if err != nil {
		return nil, err
	}
	el, found, err := l.w.Field(frame, 0)
	if err != nil {
		return nil, err
	}
	if !found || el.Tag != sproto.TagLicense {
		return nil, fiterrors.New(fiterrors.CodeInvalidFormat, op)
	}
	return l.w.Bytes(el)
}
