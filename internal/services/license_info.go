package services

import (
	"context"
	"encoding/hex"
	"time"

	"github.com/google/uuid"

	fiterrors "fitcore/internal/errors"
	"fitcore/internal/license"
	"fitcore/internal/sproto"
)

// LicenseInfo summarizes the license in service.
type LicenseInfo struct {
	Name          string       `json:"name,omitempty"`
	LMVersion     uint32       `json:"lm_version"`
	LicgenVersion uint32       `json:"licgen_version,omitempty"`
	ContainerID   string       `json:"container_id,omitempty"`
	UpdateCounter *uint32      `json:"update_counter,omitempty"`
	NodeLocked    bool         `json:"node_locked"`
	Size          int          `json:"size"`
	Source        string       `json:"source"`
	LoadedAt      time.Time    `json:"loaded_at"`
	Vendors       []VendorInfo `json:"vendors"`
	OpenSessions  int          `json:"open_sessions"`
}

// VendorInfo lists the products one vendor licenses.
type VendorInfo struct {
	ID       uint32        `json:"id"`
	Name     string        `json:"name,omitempty"`
	Products []ProductInfo `json:"products"`
}

// ProductInfo is one licensed product with its license model.
type ProductInfo struct {
	ID       uint32               `json:"id"`
	Name     string               `json:"name,omitempty"`
	Model    license.LicenseModel `json:"license_model"`
	Features []FeatureInfo        `json:"features"`
}

// FeatureInfo is one feature granted by a product.
type FeatureInfo struct {
	ID   uint32 `json:"id"`
	Name string `json:"name,omitempty"`
}

// Info walks the license in service and returns its contents.
func (s *LicenseService) Info(ctx context.Context) (*LicenseInfo, error) {
	cur := s.current.Load()
	if cur == nil {
		return nil, fiterrors.ErrNoLicense
	}
	l := cur.handle

	info := &LicenseInfo{
		Size:         len(cur.raw),
		Source:       cur.source,
		LoadedAt:     cur.loadedAt,
		Vendors:      []VendorInfo{},
		OpenSessions: s.sessions.count(),
	}

	lm, err := s.core.GetLicenseInfo(ctx, l, nil, request(sproto.TagLMVersion, 0))
	if err != nil {
		return nil, err
	}
	info.LMVersion = uint32(lm.Int)

	if info.Name, err = s.optionalString(ctx, l, nil, sproto.TagLicenseName); err != nil {
		return nil, err
	}
	if v, ok, err := s.optionalInt(ctx, l, nil, sproto.TagLicgenVersion); err != nil {
		return nil, err
	} else if ok {
		info.LicgenVersion = uint32(v)
	}
	if v, err := s.core.GetLicenseInfo(ctx, l, nil, request(sproto.TagUID, 0)); err == nil {
		info.ContainerID = formatUUID(v.Bytes)
	} else if !fiterrors.IsNotFound(err) {
		return nil, err
	}
	if v, ok, err := s.optionalInt(ctx, l, nil, sproto.TagUpdateCounter); err != nil {
		return nil, err
	} else if ok {
		counter := uint32(v)
		info.UpdateCounter = &counter
	}
	if _, err := s.core.GetLicenseInfo(ctx, l, nil, request(sproto.TagFingerprint, 0)); err == nil {
		info.NodeLocked = true
	} else if !fiterrors.IsNotFound(err) {
		return nil, err
	}

	vendor := sproto.NewScope()
	flags := sproto.First
	for {
		v, err := s.core.FindItem(ctx, l, nil, vendor, request(sproto.TagVendorID, flags))
		if fiterrors.IsNotFound(err) {
			break
		}
		if err != nil {
			return nil, err
		}
		vi, err := s.vendorInfo(ctx, l, vendor, uint32(v.Int))
		if err != nil {
			return nil, err
		}
		info.Vendors = append(info.Vendors, vi)
		flags = sproto.Next
	}
	return info, nil
}

func (s *LicenseService) vendorInfo(ctx context.Context, l *license.License, vendor *sproto.Scope, id uint32) (VendorInfo, error) {
	vi := VendorInfo{ID: id, Products: []ProductInfo{}}
	var err error
	if vi.Name, err = s.optionalString(ctx, l, vendor, sproto.TagVendorName); err != nil {
		return vi, err
	}

	product := sproto.NewScope()
	flags := sproto.First
	for {
		v, err := s.core.FindItem(ctx, l, vendor, product, request(sproto.TagProductID, flags))
		if fiterrors.IsNotFound(err) {
			return vi, nil
		}
		if err != nil {
			return vi, err
		}
		pi, err := s.productInfo(ctx, l, product, uint32(v.Int))
		if err != nil {
			return vi, err
		}
		vi.Products = append(vi.Products, pi)
		flags = sproto.Next
	}
}

func (s *LicenseService) productInfo(ctx context.Context, l *license.License, product *sproto.Scope, id uint32) (ProductInfo, error) {
	pi := ProductInfo{
		ID:       id,
		Features: []FeatureInfo{},
		Model:    license.LicenseModel{ConcurrencyLimit: license.UnlimitedConcurrency},
	}
	var err error
	if pi.Name, err = s.optionalString(ctx, l, product, sproto.TagProductName); err != nil {
		return pi, err
	}

	fields := []struct {
		tag sproto.Tag
		set func(uint64)
	}{
		{sproto.TagPerpetual, func(v uint64) { pi.Model.Perpetual = v != 0 }},
		{sproto.TagStartDate, func(v uint64) { pi.Model.StartDate = uint32(v) }},
		{sproto.TagEndDate, func(v uint64) { pi.Model.EndDate = uint32(v) }},
		{sproto.TagConcurrencyLimit, func(v uint64) { pi.Model.ConcurrencyLimit = uint32(v) }},
	}
	for _, f := range fields {
		v, ok, err := s.optionalInt(ctx, l, product, f.tag)
		if err != nil {
			return pi, err
		}
		if ok {
			f.set(v)
		}
	}

	feature := sproto.NewScope()
	flags := sproto.First
	for {
		v, err := s.core.FindItem(ctx, l, product, feature, request(sproto.TagFeatureID, flags))
		if fiterrors.IsNotFound(err) {
			return pi, nil
		}
		if err != nil {
			return pi, err
		}
		fi := FeatureInfo{ID: uint32(v.Int)}
		if fi.Name, err = s.optionalString(ctx, l, feature, sproto.TagFeatureName); err != nil {
			return pi, err
		}
		pi.Features = append(pi.Features, fi)
		flags = sproto.Next
	}
}

func (s *LicenseService) optionalString(ctx context.Context, l *license.License, ref *sproto.Scope, tag sproto.Tag) (string, error) {
	v, err := s.core.GetLicenseInfo(ctx, l, ref, request(tag, 0))
	if fiterrors.IsNotFound(err) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return v.String(), nil
}

func (s *LicenseService) optionalInt(ctx context.Context, l *license.License, ref *sproto.Scope, tag sproto.Tag) (uint64, bool, error) {
	v, err := s.core.GetLicenseInfo(ctx, l, ref, request(tag, 0))
	if fiterrors.IsNotFound(err) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return v.Int, true, nil
}

func formatUUID(b []byte) string {
	id, err := uuid.FromBytes(b)
	if err != nil {
		return hex.EncodeToString(b)
	}
	return id.String()
}
