package license_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	fiterrors "fitcore/internal/errors"
	"fitcore/internal/licgen"
	"fitcore/internal/license"
	"fitcore/internal/sproto"
)

var (
	jan2025 = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	jan2027 = time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC)
)

// catalog has feature 7 in products 42 and 44, and feature 8 in 43.
func catalog() *licgen.Description {
	d := fixtures.Perpetual()
	d.Vendors[0].Products = append(d.Vendors[0].Products,
		licgen.Product{
			ID: 43,
			Property: licgen.Property{
				Start:    &jan2025,
				End:      &jan2027,
				Features: []licgen.Feature{{ID: 8}},
			},
		},
		licgen.Product{
			ID: 44,
			Property: licgen.Property{
				Concurrency: &licgen.Concurrency{Limit: ptr(uint32(5))},
				Features:    []licgen.Feature{{ID: 7}, {ID: 9}},
			},
		},
	)
	return d
}

func TestGetLicenseInfo(t *testing.T) {
	ctx := context.Background()
	core := newCore(t, license.Options{})
	lic := core.NewLicense(generate(t, catalog()))

	v, err := core.GetLicenseInfo(ctx, lic, nil, request(sproto.TagLicenseName, sproto.Next))
	require.NoError(t, err)
	assert.Equal(t, sproto.TypeString, v.Type)
	assert.Equal(t, "sample", v.String())

	v, err = core.GetLicenseInfo(ctx, lic, nil, sproto.Request{
		Tag:   sproto.TagProductID,
		Type:  sproto.TypeInteger,
		Flags: sproto.Match,
		Match: sproto.IntValue(43),
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(43), v.Int)

	v, err = core.GetLicenseInfo(ctx, lic, nil, request(sproto.TagLMVersion, 0))
	require.NoError(t, err)
	assert.Equal(t, uint64(license.LMVersionBitfield), v.Int)

	_, err = core.GetLicenseInfo(ctx, lic, nil, request(sproto.TagCustomAttributes, 0))
	assert.ErrorIs(t, err, fiterrors.ErrItemNotFound)

	_, err = core.GetLicenseInfo(ctx, lic, nil, sproto.Request{Tag: sproto.TagLicenseName, Type: sproto.TypeInteger})
	assert.ErrorIs(t, err, fiterrors.ErrWireTypeMismatch)
}

func TestFindItemIteration(t *testing.T) {
	ctx := context.Background()
	core := newCore(t, license.Options{})
	lic := core.NewLicense(generate(t, catalog()))

	item := sproto.NewScope()
	var ids []uint64
	flags := sproto.First
	for {
		v, err := core.FindItem(ctx, lic, nil, item, request(sproto.TagFeatureID, flags))
		if err != nil {
			assert.ErrorIs(t, err, fiterrors.ErrItemNotFound)
			break
		}
		ids = append(ids, v.Int)
		flags = sproto.Next
	}
	assert.Equal(t, []uint64{7, 8, 7, 9}, ids)

	_, err := core.FindItem(ctx, lic, nil, sproto.NewScope(), request(sproto.TagFeatureID, sproto.Next))
	assert.ErrorIs(t, err, fiterrors.ErrScopeNotInitialized)
}

func TestFindItemWithinReference(t *testing.T) {
	ctx := context.Background()
	core := newCore(t, license.Options{})
	lic := core.NewLicense(generate(t, catalog()))

	product := sproto.NewScope()
	_, err := core.FindItem(ctx, lic, nil, product, sproto.Request{
		Tag:   sproto.TagProductID,
		Type:  sproto.TypeInteger,
		Flags: sproto.First | sproto.Match,
		Match: sproto.IntValue(43),
	})
	require.NoError(t, err)

	features := sproto.NewScope()
	v, err := core.FindItem(ctx, lic, product, features, request(sproto.TagFeatureID, sproto.First))
	require.NoError(t, err)
	assert.Equal(t, uint64(8), v.Int)

	_, err = core.FindItem(ctx, lic, nil, features, request(sproto.TagFeatureID, sproto.Next))
	assert.ErrorIs(t, err, fiterrors.ErrItemNotFound, "search stays inside product 43")

	v, err = core.GetLicenseInfo(ctx, lic, product, request(sproto.TagStartDate, 0))
	require.NoError(t, err)
	assert.Equal(t, uint64(jan2025.Unix()), v.Int)
}

func TestSignatureItemsBeforeValidation(t *testing.T) {
	ctx := context.Background()
	core := newCore(t, license.Options{})
	lic := core.NewLicense(corrupt(t, generate(t, fixtures.Perpetual())))

	v, err := core.FindItem(ctx, lic, nil, sproto.NewScope(), request(sproto.TagAlgorithmID, sproto.First))
	require.NoError(t, err)
	assert.Equal(t, uint64(license.AlgAES), v.Int)

	v, err = core.GetLicenseInfo(ctx, lic, nil, request(sproto.TagSignature, 0))
	require.NoError(t, err)
	assert.Len(t, v.Bytes, 16)

	_, err = core.GetLicenseInfo(ctx, lic, nil, request(sproto.TagLicenseName, 0))
	assert.ErrorIs(t, err, fiterrors.ErrInvalidSignature)
	assert.False(t, lic.Verified())
}

func TestFindFeature(t *testing.T) {
	ctx := context.Background()
	core := newCore(t, license.Options{})
	lic := core.NewLicense(generate(t, catalog()))

	var fc license.FeatureContext
	require.NoError(t, core.FindFeature(ctx, lic, 7, sproto.First, &fc))
	assert.Equal(t, uint32(42), fc.ProductID)
	assert.True(t, fc.Model.Perpetual)

	require.NoError(t, core.FindFeature(ctx, lic, 7, sproto.Next, &fc))
	assert.Equal(t, uint32(44), fc.ProductID)
	assert.Equal(t, license.LicenseModel{ConcurrencyLimit: 5}, fc.Model)

	err := core.FindFeature(ctx, lic, 7, sproto.Next, &fc)
	assert.ErrorIs(t, err, fiterrors.ErrFeatureNotFound)
	assert.Equal(t, uint32(44), fc.ProductID, "context untouched on failure")

	var dated license.FeatureContext
	require.NoError(t, core.FindFeature(ctx, lic, 8, sproto.First, &dated))
	assert.Equal(t, uint32(43), dated.ProductID)
	assert.Equal(t, license.LicenseModel{
		StartDate:        uint32(jan2025.Unix()),
		EndDate:          uint32(jan2027.Unix()),
		ConcurrencyLimit: license.UnlimitedConcurrency,
	}, dated.Model)

	err = core.FindFeature(ctx, lic, 1234, sproto.First, &license.FeatureContext{})
	assert.ErrorIs(t, err, fiterrors.ErrFeatureNotFound)
}

func TestFindFeatureContextErrors(t *testing.T) {
	ctx := context.Background()
	core := newCore(t, license.Options{})
	buf := generate(t, catalog())
	lic := core.NewLicense(buf)
	other := core.NewLicense(buf)

	var fc license.FeatureContext
	require.NoError(t, core.FindFeature(ctx, lic, 7, sproto.First, &fc))

	tests := []struct {
		name     string
		lic      *license.License
		id       uint32
		flags    sproto.Flags
		fc       *license.FeatureContext
		wantCode fiterrors.Code
	}{
		{"next with another id", lic, 9, sproto.Next, &fc, fiterrors.CodeInvalidFeatureContext},
		{"next with empty context", lic, 7, sproto.Next, &license.FeatureContext{}, fiterrors.CodeInvalidFeatureContext},
		{"next on another handle", other, 7, sproto.Next, &fc, fiterrors.CodeInvalidFeatureContext},
		{"no direction", lic, 7, 0, &fc, fiterrors.CodeInvalidParameter},
		{"nil context", lic, 7, sproto.First, nil, fiterrors.CodeInvalidParameter},
		{"nil license", nil, 7, sproto.First, &fc, fiterrors.CodeInvalidParameter},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := core.FindFeature(ctx, tt.lic, tt.id, tt.flags, tt.fc)
			assert.Equal(t, tt.wantCode, fiterrors.CodeOf(err), "err: %v", err)
		})
	}
}
