// Package licgen builds signed sproto licenses from a declarative
// description. It is the vendor side counterpart of package license.
package licgen

import (
	"encoding/base64"
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"gopkg.in/yaml.v2"
)

// Description is the YAML form of a license.
type Description struct {
	// RequiredCore is the minimum core version, "major.minor".
	RequiredCore string `yaml:"required_core" validate:"omitempty,coreversion"`
	Header       Header `yaml:"header"`

	Vendors []Vendor `yaml:"vendors" validate:"dive"`
}

// Header carries the license identity and requirements.
type Header struct {
	LicgenVersion uint32 `yaml:"licgen_version"`
	LMVersion     uint32 `yaml:"lm_version" validate:"required"`
	UID           string `yaml:"uid" validate:"omitempty,uuid"`
	Name          string `yaml:"name" validate:"max=255"`

	// UpdateCounter is omitted from the license when nil.
	UpdateCounter *uint32 `yaml:"update_counter"`

	// Requirements lists capability names. A nil list omits the field.
	Requirements []string `yaml:"requirements"`

	// Fingerprint is a base64 fingerprint blob from the target device.
	Fingerprint string `yaml:"fingerprint" validate:"omitempty,base64"`
}

// Vendor groups products.
type Vendor struct {
	ID       uint32    `yaml:"id" validate:"required"`
	Name     string    `yaml:"name"`
	Products []Product `yaml:"products" validate:"dive"`
}

// Product is one licensed product and its license model.
type Product struct {
	ID           uint32   `yaml:"id" validate:"required"`
	VersionRegex string   `yaml:"version_regex"`
	Name         string   `yaml:"name"`
	Property     Property `yaml:"license"`
}

// Property is the license model shared by the product's features.
type Property struct {
	Features             []Feature    `yaml:"features" validate:"dive"`
	Perpetual            *bool        `yaml:"perpetual"`
	Start                *time.Time   `yaml:"start"`
	End                  *time.Time   `yaml:"end"`
	Counter              *uint32      `yaml:"counter"`
	DurationFromFirstUse *uint32      `yaml:"duration_from_first_use"`
	CustomAttributes     string       `yaml:"custom_attributes"`
	Concurrency          *Concurrency `yaml:"concurrency"`
}

// Feature is one licensed feature.
type Feature struct {
	ID   uint32 `yaml:"id"`
	Name string `yaml:"name"`
}

// Concurrency limits simultaneous use.
type Concurrency struct {
	Limit     *uint32 `yaml:"limit"`
	SoftLimit *uint32 `yaml:"soft_limit"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterValidation("coreversion", func(fl validator.FieldLevel) bool {
		_, _, err := parseCoreVersion(fl.Field().String())
		return err == nil
	})
	return v
}

func parseCoreVersion(s string) (major, minor uint8, err error) {
	if s == "" {
		return 1, 0, nil
	}
	if _, err := fmt.Sscanf(s, "%d.%d", &major, &minor); err != nil {
		return 0, 0, fmt.Errorf("invalid core version %q", s)
	}
	return major, minor, nil
}

// Validate checks the description for structural errors.
func (d *Description) Validate() error {
	if err := validate.Struct(d); err != nil {
		return fmt.Errorf("invalid license description: %w", err)
	}
	for _, v := range d.Vendors {
		for _, p := range v.Products {
			s, e := p.Property.Start, p.Property.End
			if s != nil && e != nil && e.Before(*s) {
				return fmt.Errorf("product %d: end date before start date", p.ID)
			}
		}
	}
	return nil
}

// ParseDescription decodes and validates a YAML description.
func ParseDescription(data []byte) (*Description, error) {
	var d Description
	if err := yaml.UnmarshalStrict(data, &d); err != nil {
		return nil, fmt.Errorf("failed to parse license description: %w", err)
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return &d, nil
}

// LoadDescription reads a description file.
func LoadDescription(path string) (*Description, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read license description: %w", err)
	}
	return ParseDescription(data)
}

func (h Header) uid() ([]byte, error) {
	if h.UID == "" {
		return nil, nil
	}
	id, err := uuid.Parse(h.UID)
	if err != nil {
		return nil, err
	}
	return id[:], nil
}

func (h Header) fingerprint() ([]byte, error) {
	if h.Fingerprint == "" {
		return nil, nil
	}
	return base64.StdEncoding.DecodeString(h.Fingerprint)
}

func unixDate(t *time.Time) (uint64, error) {
	u := t.Unix()
	if u <= 0 || u > 0xFFFFFFFF {
		return 0, fmt.Errorf("date %s outside the 32-bit unix range", t.Format(time.RFC3339))
	}
	return uint64(u), nil
}
