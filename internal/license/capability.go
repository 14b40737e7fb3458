package license

import (
	"encoding/binary"
	"fmt"
	"math/bits"
	"strings"

	fiterrors "fitcore/internal/errors"
)

// Capability is a bitmask of optional core features. A license lists the
// capabilities it requires; the core refuses licenses that need more than
// it provides.
type Capability uint64

const (
	CapRSA Capability = 1 << iota
	CapPEM
	CapAES
	CapClock
	CapNodeLock
	CapPersistence

	// AllCapabilities is every capability this build knows about.
	AllCapabilities = CapRSA | CapPEM | CapAES | CapClock | CapNodeLock | CapPersistence
)

var capabilityNames = []struct {
	cap  Capability
	name string
}{
	{CapRSA, "rsa"},
	{CapPEM, "pem"},
	{CapAES, "aes"},
	{CapClock, "clock"},
	{CapNodeLock, "nodelock"},
	{CapPersistence, "persistence"},
}

// Has reports whether every bit of want is set in c.
func (c Capability) Has(want Capability) bool {
	return c&want == want
}

func (c Capability) String() string {
	if c == 0 {
		return "none"
	}
	var names []string
	for _, n := range capabilityNames {
		if c&n.cap != 0 {
			names = append(names, n.name)
			c &^= n.cap
		}
	}
	if c != 0 {
		names = append(names, fmt.Sprintf("0x%x", uint64(c)))
	}
	return strings.Join(names, "|")
}

// ParseCapabilities converts names such as "aes" or "clock" to a mask.
func ParseCapabilities(names []string) (Capability, error) {
	var c Capability
	for _, raw := range names {
		name := strings.ToLower(strings.TrimSpace(raw))
		if name == "" {
			continue
		}
		found := false
		for _, n := range capabilityNames {
			if n.name == name {
				c |= n.cap
				found = true
				break
			}
		}
		if !found {
			return 0, fmt.Errorf("unknown capability %q", raw)
		}
	}
	return c, nil
}

// License manager versions that change how the requirements field and RSA
// signatures are encoded. Versions are major<<8 | minor.
const (
	// LMVersionRawRSA is the first version whose RSA signatures cover the
	// raw Abreast-DM digest instead of its SHA-256.
	LMVersionRawRSA = 1<<8 | 40
	// LMVersionRequirements is the first version that must carry a
	// requirements field.
	LMVersionRequirements = 1<<8 | 41
	// LMVersionBitfield is the first version with bitfield requirements.
	LMVersionBitfield = 1<<8 | 45
)

// maxRequirementBytes bounds the bitfield encoding.
const maxRequirementBytes = 8

const base64Alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789+/"

// legacyRequirements maps the 6-bit value of each legacy character to the
// capabilities it stands for.
var legacyRequirements = [8]Capability{
	0,
	CapRSA,
	CapAES,
	CapRSA | CapAES,
	CapClock,
	CapRSA | CapClock,
	CapAES | CapClock,
	CapRSA | CapAES | CapClock,
}

// DecodeRequirements decodes a requirements field written by license
// manager version lm.
func DecodeRequirements(lm uint32, b []byte) (Capability, error) {
	const op = "license.requirements"
	if lm < LMVersionBitfield {
		var req Capability
		for _, ch := range b {
			v := strings.IndexByte(base64Alphabet, ch)
			if v < 0 || v >= len(legacyRequirements) {
				return 0, fiterrors.Wrap(fiterrors.CodeInvalidFormat, op,
					fmt.Errorf("legacy requirement character %q", ch))
			}
			req |= legacyRequirements[v]
		}
		return req, nil
	}

	if len(b) > maxRequirementBytes {
		return 0, fiterrors.Wrap(fiterrors.CodeInvalidFormat, op,
			fmt.Errorf("requirements bitfield of %d bytes", len(b)))
	}
	var buf [maxRequirementBytes]byte
	copy(buf[:], b)
	return Capability(binary.LittleEndian.Uint64(buf[:])), nil
}

// EncodeRequirements is the inverse of DecodeRequirements. Legacy
// versions can only express RSA, AES and Clock.
func EncodeRequirements(lm uint32, req Capability) ([]byte, error) {
	if lm < LMVersionBitfield {
		for i, pattern := range legacyRequirements {
			if pattern == req {
				return []byte{base64Alphabet[i]}, nil
			}
		}
		return nil, fmt.Errorf("requirements %s cannot be expressed before version %d", req, LMVersionBitfield)
	}
	n := (bits.Len64(uint64(req)) + 7) / 8
	if n == 0 {
		n = 1
	}
	out := binary.LittleEndian.AppendUint64(nil, uint64(req))
	return out[:n], nil
}
