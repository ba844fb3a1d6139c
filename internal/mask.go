package internal

import (
	"crypto/rand"
)

func Mask(bytes []byte, key [4]byte) {
	MaskOffset(bytes, key, 0)
}

// MaskOffset masks bytes as if they started at position offset of a payload.
func MaskOffset(bytes []byte, key [4]byte, offset int) {
	for i, b := range bytes {
		bytes[i] = b ^ key[(i+offset)%4]
	}
}

// NewMaskingKey draws a masking key from crypto/rand. Safe for concurrent use.
func NewMaskingKey() [4]byte {
	var key [4]byte
	rand.Read(key[:])
	return key
}
