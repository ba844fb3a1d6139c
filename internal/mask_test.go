package internal

import (
	"bytes"
	"reflect"
	"testing"
)

func TestMask(t *testing.T) {
	maskingKey := [4]byte{0x12, 0x34, 0x56, 0x78}
	initial := []byte("Hello")
	toProcess := bytes.Clone(initial)

	Mask(toProcess, maskingKey)

	expected := []byte{
		0x5A, 0x51, 0x3A, 0x14, 0x7D,
	}
	if !reflect.DeepEqual(toProcess, expected) {
		t.Errorf("Mask(%v, %X) => %v, ERROR expected %v", initial, maskingKey, toProcess, expected)
	} else {
		t.Logf("Mask(%v, %X) => %v, OK", initial, maskingKey, toProcess)
	}

	Mask(toProcess, maskingKey)

	if !reflect.DeepEqual(toProcess, initial) {
		t.Errorf("Mask(Mask(%v, %X), %X) => %v, ERROR expected %v", initial, maskingKey, maskingKey, toProcess, initial)
	} else {
		t.Logf("Mask(Mask(%v, %X), %X) => %v, OK", initial, maskingKey, maskingKey, toProcess)
	}
}

func TestMaskDifferentKeys(t *testing.T) {
	k1 := [4]byte{0x12, 0x34, 0x56, 0x78}
	k2 := [4]byte{0x87, 0x65, 0x43, 0x21}
	initial := []byte("Hello, masking")
	toProcess := bytes.Clone(initial)

	Mask(toProcess, k1)
	Mask(toProcess, k2)

	if bytes.Equal(toProcess, initial) {
		t.Errorf("Mask(Mask(p, %X), %X) == p, ERROR expected different bytes", k1, k2)
	}
}

func TestMaskOffset(t *testing.T) {
	key := [4]byte{0x12, 0x34, 0x56, 0x78}
	whole := []byte("Hello, World")
	split := bytes.Clone(whole)

	Mask(whole, key)
	MaskOffset(split[:5], key, 0)
	MaskOffset(split[5:], key, 5)

	if !bytes.Equal(whole, split) {
		t.Errorf("MaskOffset over two chunks = %v, ERROR expected %v", split, whole)
	}
}

func TestNewMaskingKey(t *testing.T) {
	seen := map[[4]byte]bool{}
	for range 8 {
		seen[NewMaskingKey()] = true
	}
	if len(seen) < 2 {
		t.Errorf("NewMaskingKey() returned %d distinct keys out of 8", len(seen))
	}
}
