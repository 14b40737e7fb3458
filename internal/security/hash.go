package security

import (
	"crypto/aes"
	"encoding/binary"
)

const (
	// DMSize is the Davies-Meyer digest length (one AES block).
	DMSize = aes.BlockSize
	// AbreastDMSize is the Abreast-DM digest length (two AES blocks).
	AbreastDMSize = 2 * aes.BlockSize
)

// pad applies Merkle-Damgard strengthening: 0x80, zero fill, then the
// message length in bits as a big-endian uint64, up to a block multiple.
func pad(msg []byte) []byte {
	n := len(msg) + 1 + 8
	if r := n % aes.BlockSize; r != 0 {
		n += aes.BlockSize - r
	}
	out := make([]byte, n)
	copy(out, msg)
	out[len(msg)] = 0x80
	binary.BigEndian.PutUint64(out[n-8:], uint64(len(msg))*8)
	return out
}

// DaviesMeyer hashes msg with the single block length Davies-Meyer
// construction over AES-128: every message block keys the cipher and
// H = E_m(H) xor H, starting from an all-zero H.
func DaviesMeyer(msg []byte) [DMSize]byte {
	var h, t [DMSize]byte
	data := pad(msg)
	for off := 0; off < len(data); off += aes.BlockSize {
		c, _ := aes.NewCipher(data[off : off+aes.BlockSize])
		c.Encrypt(t[:], h[:])
		for i := range h {
			h[i] ^= t[i]
		}
	}
	return h
}

// AbreastDM hashes msg with the double block length Abreast-DM
// construction over AES-256. With G starting all zero and H all 0xFF:
//
//	G' = G xor E_{H||M}(G)
//	H' = H xor E_{M||G}(not H)
//
// The digest is G||H.
func AbreastDM(msg []byte) [AbreastDMSize]byte {
	var key [AbreastDMSize]byte
	var gv, hv, tg, th, nh [DMSize]byte
	for i := range hv {
		hv[i] = 0xFF
	}

	data := pad(msg)
	for off := 0; off < len(data); off += aes.BlockSize {
		m := data[off : off+aes.BlockSize]

		copy(key[:DMSize], hv[:])
		copy(key[DMSize:], m)
		c, _ := aes.NewCipher(key[:])
		c.Encrypt(tg[:], gv[:])

		copy(key[:DMSize], m)
		copy(key[DMSize:], gv[:])
		for i := range nh {
			nh[i] = ^hv[i]
		}
		c, _ = aes.NewCipher(key[:])
		c.Encrypt(th[:], nh[:])

		for i := 0; i < DMSize; i++ {
			gv[i] ^= tg[i]
			hv[i] ^= th[i]
		}
	}

	var out [AbreastDMSize]byte
	copy(out[:DMSize], gv[:])
	copy(out[DMSize:], hv[:])
	return out
}
