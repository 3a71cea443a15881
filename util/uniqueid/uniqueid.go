package uniqueid

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/binary"
	"strings"
	"time"
)

// MaxClientIDLength is the longest client identifier every MQTT 3.1.1 broker
// must accept.
const MaxClientIDLength = 23

// UniqueId returns a 22 character URL-safe identifier made of a microsecond
// timestamp followed by 8 random bytes, so identifiers sort by creation time.
func UniqueId() string {
	b := make([]byte, 16)

	ts := time.Now().UnixMicro()
	binary.BigEndian.PutUint64(b[:8], uint64(ts))

	if _, err := rand.Read(b[8:]); err != nil {
		panic(err)
	}

	return base64.RawURLEncoding.EncodeToString(b)
}

// ClientID returns an MQTT client identifier "<prefix>-<random>" that never
// exceeds MaxClientIDLength. The prefix is shortened when needed so that at
// least 8 random characters remain.
func ClientID(prefix string) string {
	b := make([]byte, 9)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	suffix := strings.NewReplacer("-", "x", "_", "y").Replace(base64.RawURLEncoding.EncodeToString(b))

	if prefix == "" {
		return suffix
	}
	maxPrefix := MaxClientIDLength - 1 - 8
	if len(prefix) > maxPrefix {
		prefix = prefix[:maxPrefix]
	}
	id := prefix + "-" + suffix
	if len(id) > MaxClientIDLength {
		id = id[:MaxClientIDLength]
	}
	return id
}
