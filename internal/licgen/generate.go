package licgen

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"errors"
	"fmt"

	"fitcore/internal/license"
	"fitcore/internal/security"
	"fitcore/internal/sproto"
)

// Signer produces one signature entry over the encoded License object.
type Signer interface {
	Algorithm() license.Algorithm
	Sign(lmVersion uint32, signed []byte) ([]byte, error)
}

// AESSigner signs with AES-128 OMAC.
type AESSigner struct {
	Key []byte
}

func (s AESSigner) Algorithm() license.Algorithm { return license.AlgAES }

func (s AESSigner) Sign(_ uint32, signed []byte) ([]byte, error) {
	return security.OMAC(s.Key, signed)
}

// RSASigner signs the Abreast-DM digest with an RSA private key. Licenses
// older than license.LMVersionRawRSA get the SHA-256 wrapped form.
type RSASigner struct {
	Key *rsa.PrivateKey
}

func (s RSASigner) Algorithm() license.Algorithm { return license.AlgRSA }

func (s RSASigner) Sign(lm uint32, signed []byte) ([]byte, error) {
	if s.Key == nil {
		return nil, errors.New("rsa signer without key")
	}
	return security.SignRSA(s.Key, security.AbreastDM(signed), lm < license.LMVersionRawRSA)
}

// StaticSigner emits a fixed signature. It is useful for producing
// licenses with deliberately bad signatures.
type StaticSigner struct {
	Alg       license.Algorithm
	Signature []byte
}

func (s StaticSigner) Algorithm() license.Algorithm { return s.Alg }

func (s StaticSigner) Sign(uint32, []byte) ([]byte, error) {
	return s.Signature, nil
}

// Encode builds the License object of d without signatures.
func Encode(d *Description) ([]byte, error) {
	obj, err := licenseObject(d)
	if err != nil {
		return nil, err
	}
	return sproto.Encode(sproto.NodeOf(sproto.TagLicense), obj)
}

// Generate encodes d and signs it with every signer, in order.
func Generate(d *Description, signers ...Signer) ([]byte, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}
	if len(signers) == 0 {
		return nil, errors.New("at least one signer is required")
	}
	major, minor, err := parseCoreVersion(d.RequiredCore)
	if err != nil {
		return nil, err
	}

	body, err := Encode(d)
	if err != nil {
		return nil, err
	}

	sigs := make(sproto.Arr, 0, len(signers))
	for _, s := range signers {
		sig, err := s.Sign(d.Header.LMVersion, body)
		if err != nil {
			return nil, fmt.Errorf("failed to sign with %s: %w", s.Algorithm(), err)
		}
		sigs = append(sigs, sproto.Obj{
			0: sproto.Int(s.Algorithm()),
			1: sproto.Str(sig),
		})
	}
	return sproto.Assemble(sproto.Header{Major: major, Minor: minor}, body, sigs)
}

func licenseObject(d *Description) (sproto.Obj, error) {
	h := d.Header
	header := sproto.Obj{1: sproto.Int(h.LMVersion)}
	if h.LicgenVersion != 0 {
		header[0] = sproto.Int(h.LicgenVersion)
	}

	uid, err := h.uid()
	if err != nil {
		return nil, fmt.Errorf("invalid uid: %w", err)
	}
	if uid != nil {
		header[2] = sproto.Bin(uid)
	}
	if h.Name != "" {
		header[3] = sproto.Str(h.Name)
	}
	if h.UpdateCounter != nil {
		header[4] = sproto.Int(*h.UpdateCounter)
	}
	if h.Requirements != nil {
		caps, err := license.ParseCapabilities(h.Requirements)
		if err != nil {
			return nil, err
		}
		req, err := license.EncodeRequirements(h.LMVersion, caps)
		if err != nil {
			return nil, err
		}
		header[5] = sproto.Bin(req)
	}
	fp, err := h.fingerprint()
	if err != nil {
		return nil, fmt.Errorf("invalid fingerprint: %w", err)
	}
	if fp != nil {
		header[6] = sproto.Bin(fp)
	}

	vendors := make(sproto.Arr, 0, len(d.Vendors))
	for _, v := range d.Vendors {
		products := make(sproto.Arr, 0, len(v.Products))
		for _, p := range v.Products {
			prop, err := propertyObject(p.Property)
			if err != nil {
				return nil, fmt.Errorf("product %d: %w", p.ID, err)
			}
			product := sproto.Obj{0: sproto.Int(p.ID), 3: prop}
			if p.VersionRegex != "" {
				product[1] = sproto.Str(p.VersionRegex)
			}
			if p.Name != "" {
				product[2] = sproto.Str(p.Name)
			}
			products = append(products, product)
		}
		vendor := sproto.Obj{0: sproto.Int(v.ID), 2: products}
		if v.Name != "" {
			vendor[1] = sproto.Str(v.Name)
		}
		vendors = append(vendors, vendor)
	}

	return sproto.Obj{0: header, 1: vendors}, nil
}

func propertyObject(p Property) (sproto.Obj, error) {
	features := make(sproto.Arr, 0, len(p.Features))
	for _, f := range p.Features {
		feature := sproto.Obj{0: sproto.Int(f.ID)}
		if f.Name != "" {
			feature[1] = sproto.Str(f.Name)
		}
		features = append(features, feature)
	}

	obj := sproto.Obj{sproto.PropFeatures: features}
	if p.Perpetual != nil {
		obj[sproto.PropPerpetual] = sproto.Bool(*p.Perpetual)
	}
	if p.Start != nil {
		u, err := unixDate(p.Start)
		if err != nil {
			return nil, err
		}
		obj[sproto.PropStartDate] = sproto.Wide(u)
	}
	if p.End != nil {
		u, err := unixDate(p.End)
		if err != nil {
			return nil, err
		}
		obj[sproto.PropEndDate] = sproto.Wide(u)
	}
	if p.Counter != nil {
		obj[sproto.PropCounter] = sproto.Int(*p.Counter)
	}
	if p.DurationFromFirstUse != nil {
		obj[sproto.PropDurationFromFirstUse] = sproto.Int(*p.DurationFromFirstUse)
	}
	if p.CustomAttributes != "" {
		obj[sproto.PropCustomAttributes] = sproto.Str(p.CustomAttributes)
	}
	if c := p.Concurrency; c != nil {
		conc := sproto.Obj{}
		if c.Limit != nil {
			conc[0] = sproto.Int(*c.Limit)
		}
		if c.SoftLimit != nil {
			conc[1] = sproto.Int(*c.SoftLimit)
		}
		obj[sproto.PropConcurrency] = conc
	}
	return obj, nil
}

// FingerprintBlob returns the base64 fingerprint blob for raw device id
// bytes, as GetFingerprint reports it on the device.
func FingerprintBlob(deviceID []byte) (string, error) {
	fp, err := security.ComputeFingerprint(deviceID)
	if err != nil {
		return "", err
	}
	blob, err := fp.MarshalBinary()
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(blob), nil
}

// GenerateAESKey returns a fresh random OMAC key.
func GenerateAESKey() ([]byte, error) {
	key := make([]byte, security.OMACKeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}
	return key, nil
}
