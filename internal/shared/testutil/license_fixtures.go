package testutil

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"fitcore/internal/licgen"
	"fitcore/internal/license"
)

// FixtureContainerID is the container id of the updatable fixtures.
const FixtureContainerID = "6f1c1c8e-8d0e-4a59-9b1e-6b0f4f3b2a10"

// FixtureAESKey is the vendor key every fixture is signed with.
var FixtureAESKey = []byte{
	0x2b, 0x7e, 0x15, 0x16, 0x28, 0xae, 0xd2, 0xa6,
	0xab, 0xf7, 0x15, 0x88, 0x09, 0xcf, 0x4f, 0x3c,
}

// LicenseFixtures provides signed licenses and utilities for license testing
type LicenseFixtures struct {
	TestDataDir string
	AESKey      []byte
}

// NewLicenseFixtures creates a new fixtures manager
func NewLicenseFixtures(testDataDir string) *LicenseFixtures {
	return &LicenseFixtures{
		TestDataDir: testDataDir,
		AESKey:      FixtureAESKey,
	}
}

// Perpetual returns product 42 with perpetual feature 7.
func (f *LicenseFixtures) Perpetual() *licgen.Description {
	perpetual := true
	return &licgen.Description{
		Header: licgen.Header{
			LMVersion:    license.LMVersionBitfield,
			Name:         "sample",
			Requirements: []string{"aes"},
		},
		Vendors: []licgen.Vendor{{
			ID:   1,
			Name: "acme",
			Products: []licgen.Product{{
				ID:   42,
				Name: "widget",
				Property: licgen.Property{
					Perpetual: &perpetual,
					Features:  []licgen.Feature{{ID: 7, Name: "export"}},
				},
			}},
		}},
	}
}

// Dated returns product 43 with feature 8 valid between start and end.
// A zero end leaves the license open ended.
func (f *LicenseFixtures) Dated(start, end time.Time) *licgen.Description {
	d := f.Perpetual()
	d.Header.Requirements = []string{"aes", "clock"}
	prop := licgen.Property{Features: []licgen.Feature{{ID: 8, Name: "report"}}}
	if !start.IsZero() {
		prop.Start = &start
	}
	if !end.IsZero() {
		prop.End = &end
	}
	d.Vendors[0].Products = []licgen.Product{{ID: 43, Property: prop}}
	return d
}

// Updatable returns the perpetual license with a container id and the
// given update counter.
func (f *LicenseFixtures) Updatable(counter uint32) *licgen.Description {
	d := f.Perpetual()
	d.Header.UID = FixtureContainerID
	d.Header.UpdateCounter = &counter
	return d
}

// Sign encodes and signs d with the fixture key.
func (f *LicenseFixtures) Sign(d *licgen.Description) ([]byte, error) {
	return licgen.Generate(d, licgen.AESSigner{Key: f.AESKey})
}

// Corrupt returns a copy of buf with one byte of the license name
// flipped, which breaks every signature.
func (f *LicenseFixtures) Corrupt(buf []byte, name string) ([]byte, error) {
	i := bytes.Index(buf, []byte(name))
	if i < 0 || name == "" {
		return nil, fmt.Errorf("name %q not in license", name)
	}
	out := append([]byte(nil), buf...)
	out[i] ^= 0x20
	return out, nil
}

// WriteLicense signs d and writes it under TestDataDir.
func (f *LicenseFixtures) WriteLicense(filename string, d *licgen.Description) (string, error) {
	buf, err := f.Sign(d)
	if err != nil {
		return "", fmt.Errorf("failed to sign %s: %w", filename, err)
	}
	return f.write(filename, buf)
}

// WriteCorruptedLicense writes a license damaged in the given way:
// empty, truncated, bad_header or bad_signature.
func (f *LicenseFixtures) WriteCorruptedLicense(filename, corruptionType string) (string, error) {
	buf, err := f.Sign(f.Perpetual())
	if err != nil {
		return "", err
	}

	switch corruptionType {
	case "empty":
		buf = nil
	case "truncated":
		buf = buf[:len(buf)/2]
	case "bad_header":
		buf[0] = 0xFF
	case "bad_signature":
		if buf, err = f.Corrupt(buf, "sample"); err != nil {
			return "", err
		}
	default:
		return "", fmt.Errorf("unknown corruption type: %s", corruptionType)
	}
	return f.write(filename, buf)
}

func (f *LicenseFixtures) write(filename string, data []byte) (string, error) {
	if err := os.MkdirAll(f.TestDataDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create test data directory: %w", err)
	}
	path := filepath.Join(f.TestDataDir, filename)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", filename, err)
	}
	return path, nil
}

// CleanupTestData removes all test data files
func (f *LicenseFixtures) CleanupTestData() error {
	return os.RemoveAll(f.TestDataDir)
}
