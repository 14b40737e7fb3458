package sproto

import (
	fiterrors "fitcore/internal/errors"
)

// The unchecked readers decode little-endian integers one byte at a time.
// Use them only for addresses already validated with Probe.

func ReadU8[S ByteSource](src S, addr uint32) uint8 {
	return src.ByteAt(addr)
}

func ReadU16[S ByteSource](src S, addr uint32) uint16 {
	return uint16(src.ByteAt(addr)) | uint16(src.ByteAt(addr+1))<<8
}

func ReadU32[S ByteSource](src S, addr uint32) uint32 {
	var v uint32
	for i := uint32(0); i < 4; i++ {
		v |= uint32(src.ByteAt(addr+i)) << (8 * i)
	}
	return v
}

func ReadU64[S ByteSource](src S, addr uint32) uint64 {
	var v uint64
	for i := uint32(0); i < 8; i++ {
		v |= uint64(src.ByteAt(addr+i)) << (8 * i)
	}
	return v
}

// Probe fails with InvalidFormat unless size bytes at addr lie within rng.
func Probe(addr, size uint32, rng Range) error {
	if !rng.Contains(addr, size) {
		return fiterrors.New(fiterrors.CodeInvalidFormat, "sproto.probe")
	}
	return nil
}

func ReadU8Safe[S ByteSource](src S, addr uint32, rng Range) (uint8, error) {
	if err := Probe(addr, 1, rng); err != nil {
		return 0, err
	}
	return ReadU8(src, addr), nil
}

func ReadU16Safe[S ByteSource](src S, addr uint32, rng Range) (uint16, error) {
	if err := Probe(addr, 2, rng); err != nil {
		return 0, err
	}
	return ReadU16(src, addr), nil
}

func ReadU32Safe[S ByteSource](src S, addr uint32, rng Range) (uint32, error) {
	if err := Probe(addr, 4, rng); err != nil {
		return 0, err
	}
	return ReadU32(src, addr), nil
}

func ReadU64Safe[S ByteSource](src S, addr uint32, rng Range) (uint64, error) {
	if err := Probe(addr, 8, rng); err != nil {
		return 0, err
	}
	return ReadU64(src, addr), nil
}

// CopyOut copies n bytes starting at addr into a new slice after checking
// the span. Sources implementing Slicer are copied without per-byte calls.
func CopyOut(src ByteSource, addr, n uint32, rng Range) ([]byte, error) {
	if err := Probe(addr, n, rng); err != nil {
		return nil, err
	}
	out := make([]byte, n)
	if s, ok := src.(Slicer); ok {
		if b, ok := s.Slice(addr, n); ok {
			copy(out, b)
			return out, nil
		}
	}
	for i := uint32(0); i < n; i++ {
		out[i] = src.ByteAt(addr + i)
	}
	return out, nil
}

// Equal compares n bytes at addr with want. It does not short-circuit,
// so the time taken does not depend on where the first difference is.
func Equal(src ByteSource, addr uint32, want []byte, rng Range) (bool, error) {
	if err := Probe(addr, uint32(len(want)), rng); err != nil {
		return false, err
	}
	var diff byte
	for i := range want {
		diff |= src.ByteAt(addr+uint32(i)) ^ want[i]
	}
	return diff == 0, nil
}
