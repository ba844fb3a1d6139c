package frame

import (
	"crypto/rand"
	"crypto/sha1"
	"encoding/base64"
)

const wsGuid = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"

// NewKey returns a fresh Sec-WebSocket-Key: 16 random bytes, base64 encoded.
func NewKey() string {
	nonce := [16]byte{}

	rand.Read(nonce[:])

	return base64.StdEncoding.EncodeToString(nonce[:])
}

// ComputeAcceptKey returns the Sec-WebSocket-Accept value a server must answer
// with for the given Sec-WebSocket-Key.
func ComputeAcceptKey(key string) string {
	hasher := sha1.New()
	hasher.Write([]byte(key + wsGuid))

	return base64.StdEncoding.EncodeToString(hasher.Sum(nil))
}
