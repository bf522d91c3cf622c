// Package idcodec derives the short, stable tokens MeowDiff uses for
// project_id and record_id from a BLAKE3 digest over some canonical
// input: record_id re-encodes the digest in base62 and truncates it
// (ShortID), project_id truncates the hex digest (HashHex). Both are
// filesystem- and URL-friendly without escaping.
package idcodec

import (
	"math/big"

	"github.com/zeebo/blake3"
)

const alphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

// Hash returns the BLAKE3 digest of data.
func Hash(data []byte) []byte {
	h := blake3.New()
	_, _ = h.Write(data)
	return h.Sum(nil)
}

// HashHex returns the hex-encoded BLAKE3 digest of data.
func HashHex(data []byte) string {
	sum := Hash(data)
	const hexDigits = "0123456789abcdef"
	out := make([]byte, len(sum)*2)
	for i, b := range sum {
		out[i*2] = hexDigits[b>>4]
		out[i*2+1] = hexDigits[b&0x0f]
	}
	return string(out)
}

// Base62 encodes data as a base62 string using 0-9A-Za-z. The encoding is
// big-endian: leading zero bytes are preserved as leading '0' characters
// so that truncating the output keeps it prefix-stable for the same
// leading bytes.
func Base62(data []byte) string {
	if len(data) == 0 {
		return ""
	}

	leadingZeros := 0
	for _, b := range data {
		if b != 0 {
			break
		}
		leadingZeros++
	}

	n := new(big.Int).SetBytes(data)
	base := big.NewInt(62)
	zero := big.NewInt(0)
	mod := new(big.Int)

	var digits []byte
	if n.Cmp(zero) == 0 {
		digits = []byte{alphabet[0]}
	}
	for n.Cmp(zero) > 0 {
		n.DivMod(n, base, mod)
		digits = append(digits, alphabet[mod.Int64()])
	}
	// digits were appended least-significant-first; reverse.
	for i, j := 0, len(digits)-1; i < j; i, j = i+1, j-1 {
		digits[i], digits[j] = digits[j], digits[i]
	}

	prefix := make([]byte, leadingZeros)
	for i := range prefix {
		prefix[i] = alphabet[0]
	}
	return string(prefix) + string(digits)
}

// ShortID returns the first n characters of the base62 encoding of
// BLAKE3(data). Used for record_id; project_id is a truncated HashHex
// instead.
func ShortID(data []byte, n int) string {
	encoded := Base62(Hash(data))
	// Base62 of a 32-byte digest is comfortably longer than any n we use,
	// but pad defensively in case of an unlucky digest with many leading
	// zero bits under rare alphabets.
	for len(encoded) < n {
		encoded += alphabet[0:1]
	}
	return encoded[:n]
}
