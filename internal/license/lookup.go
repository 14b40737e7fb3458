package license

import (
	"context"
	"sync/atomic"
	"time"

	fiterrors "fitcore/internal/errors"
	"fitcore/internal/sproto"
)

// ItemValue is the result of an item lookup. Addr and Len locate the value
// in the license buffer; Int holds integers and booleans, Bytes a copy of
// strings and binaries. Containers only carry their location.
type ItemValue struct {
	Tag  sproto.Tag
	Type sproto.WireType
	Addr uint32
	Len  uint32

	Int   uint64
	Bytes []byte
}

// String returns the value of a string item.
func (v ItemValue) String() string {
	return string(v.Bytes)
}

// prevalidated tags are readable before the signature is checked, since
// verification needs them.
func prevalidated(tag sproto.Tag) bool {
	return tag == sproto.TagAlgorithmID || tag == sproto.TagSignature
}

// FindItem searches l for req.Tag. ref, when non-nil, confines a First
// search to the subtree ref points at; item carries the position between
// a First call and following Next calls.
func (c *Core) FindItem(ctx context.Context, l *License, ref, item *sproto.Scope, req sproto.Request) (v ItemValue, err error) {
	const op = "license.find_item"
	start := time.Now()
	release, err := c.enter(op)
	if err != nil {
		return ItemValue{}, err
	}
	defer release()
	defer func() { c.logLookup(ctx, op, req.Tag, start, err) }()

	if err := c.checkHandle(op, l); err != nil {
		return ItemValue{}, err
	}
	return c.findItem(ctx, l, ref, item, req)
}

func (c *Core) findItem(ctx context.Context, l *License, ref, item *sproto.Scope, req sproto.Request) (ItemValue, error) {
	if !prevalidated(req.Tag) {
		if err := c.checkValidity(ctx, l, true); err != nil {
			return ItemValue{}, err
		}
	}
	el, err := l.w.Find(ref, item, req)
	if err != nil {
		return ItemValue{}, err
	}
	return c.itemValue(l, el)
}

func (c *Core) itemValue(l *License, el sproto.Element) (ItemValue, error) {
	v := ItemValue{Tag: el.Tag, Type: el.Type(), Addr: el.Addr, Len: el.Len}
	switch el.Type() {
	case sproto.TypeInteger, sproto.TypeBoolean:
		n, err := l.w.Uint(el)
		if err != nil {
			return ItemValue{}, err
		}
		v.Int = n
	case sproto.TypeString, sproto.TypeBinary:
		b, err := l.w.Bytes(el)
		if err != nil {
			return ItemValue{}, err
		}
		v.Bytes = b
	}
	return v, nil
}

// GetLicenseInfo returns the first item matching req within ref.
func (c *Core) GetLicenseInfo(ctx context.Context, l *License, ref *sproto.Scope, req sproto.Request) (ItemValue, error) {
	req.Flags = req.Flags&sproto.Match | sproto.First
	return c.FindItem(ctx, l, ref, sproto.NewScope(), req)
}

// LicenseModel is the license property of the product owning a feature.
type LicenseModel struct {
	Perpetual        bool   `json:"perpetual"`
	StartDate        uint32 `json:"start_date"`
	EndDate          uint32 `json:"end_date"`
	ConcurrencyLimit uint32 `json:"concurrency_limit"`
}

// Defaults for absent license property fields.
const (
	UnlimitedConcurrency uint32 = 0xFFFFFFFF
	NoDate               uint32 = 0
)

// featureMagic marks a FeatureContext filled by FindFeature.
const featureMagic uint32 = 0x66656174

// FeatureContext is the result of FindFeature and the input of the
// consume calls. Pass the same context to a Next search to continue after
// the previous match.
type FeatureContext struct {
	marker  uint32
	license *License
	scope   *sproto.Scope
	// active is 1 between a successful StartConsume and its EndConsume.
	active uint32

	FeatureID uint32       `json:"feature_id"`
	ProductID uint32       `json:"product_id"`
	Model     LicenseModel `json:"license_model"`
}

// License returns the handle the context was found in.
func (fc *FeatureContext) License() *License {
	return fc.license
}

func (fc *FeatureContext) valid() bool {
	return fc != nil && fc.marker == featureMagic && fc.license != nil
}

// FindFeature finds the next feature with id featureID. flags is
// sproto.First or sproto.Next; Next resumes from fc.
func (c *Core) FindFeature(ctx context.Context, l *License, featureID uint32, flags sproto.Flags, fc *FeatureContext) (err error) {
	const op = "license.find_feature"
	start := time.Now()
	release, err := c.enter(op)
	if err != nil {
		return err
	}
	defer release()
	defer func() { c.logLookup(ctx, op, sproto.TagFeatureID, start, err) }()

	if fc == nil {
		return fiterrors.New(fiterrors.CodeInvalidParameter, op)
	}
	if err := c.checkHandle(op, l); err != nil {
		return err
	}

	var scope *sproto.Scope
	switch {
	case flags&sproto.First != 0:
		scope = sproto.NewScope()
	case flags&sproto.Next != 0:
		if !fc.valid() || fc.license != l || fc.FeatureID != featureID {
			return fiterrors.New(fiterrors.CodeInvalidFeatureContext, op)
		}
		scope = fc.scope
	default:
		return fiterrors.New(fiterrors.CodeInvalidParameter, op)
	}

	req := sproto.Request{
		Tag:   sproto.TagFeatureID,
		Type:  sproto.TypeInteger,
		Flags: flags&(sproto.First|sproto.Next) | sproto.Match,
		Match: sproto.IntValue(uint64(featureID)),
	}
	if _, err := c.findItem(ctx, l, nil, scope, req); err != nil {
		if fiterrors.CodeOf(err) == fiterrors.CodeItemNotFound {
			return fiterrors.Wrap(fiterrors.CodeFeatureNotFound, op, err)
		}
		return err
	}

	productID, model, err := c.featureModel(l, scope)
	if err != nil {
		return err
	}
	if atomic.CompareAndSwapUint32(&fc.active, 1, 0) {
		c.opts.Metrics.recordRelease(ctx, fc)
	}
	*fc = FeatureContext{
		marker:    featureMagic,
		license:   l,
		scope:     scope,
		FeatureID: featureID,
		ProductID: productID,
		Model:     model,
	}
	return nil
}

// featureModel reads the product id and license property of the product
// enclosing the feature scope points at.
func (c *Core) featureModel(l *License, scope *sproto.Scope) (uint32, LicenseModel, error) {
	const op = "license.feature_model"
	w := l.w

	product, ok := scope.FrameOf(sproto.TagProduct)
	if !ok {
		return 0, LicenseModel{}, fiterrors.New(fiterrors.CodeInvalidFormat, op)
	}
	el, found, err := w.Field(product, 0)
	if err != nil {
		return 0, LicenseModel{}, err
	}
	if !found {
		return 0, LicenseModel{}, fiterrors.New(fiterrors.CodeInvalidFormat, op)
	}
	productID, err := w.Uint32(el)
	if err != nil {
		return 0, LicenseModel{}, err
	}

	model := LicenseModel{ConcurrencyLimit: UnlimitedConcurrency}
	prop, ok := scope.FrameOf(sproto.TagLicenseProperty)
	if !ok {
		return 0, LicenseModel{}, fiterrors.New(fiterrors.CodeInvalidFormat, op)
	}

	if el, found, err = w.Field(prop, sproto.PropPerpetual); err != nil {
		return 0, LicenseModel{}, err
	} else if found {
		if model.Perpetual, err = w.Bool(el); err != nil {
			return 0, LicenseModel{}, err
		}
	}
	if el, found, err = w.Field(prop, sproto.PropStartDate); err != nil {
		return 0, LicenseModel{}, err
	} else if found {
		if model.StartDate, err = w.Uint32(el); err != nil {
			return 0, LicenseModel{}, err
		}
	}
	if el, found, err = w.Field(prop, sproto.PropEndDate); err != nil {
		return 0, LicenseModel{}, err
	} else if found {
		if model.EndDate, err = w.Uint32(el); err != nil {
			return 0, LicenseModel{}, err
		}
	}
	if el, found, err = w.Field(prop, sproto.PropConcurrency); err != nil {
		return 0, LicenseModel{}, err
	} else if found {
		conc, err := w.ObjectFrame(el)
		if err != nil {
			return 0, LicenseModel{}, err
		}
		limit, found, err := w.Field(conc, 0)
		if err != nil {
			return 0, LicenseModel{}, err
		}
		if found {
			if model.ConcurrencyLimit, err = w.Uint32(limit); err != nil {
				return 0, LicenseModel{}, err
			}
		}
	}
	return productID, model, nil
}
