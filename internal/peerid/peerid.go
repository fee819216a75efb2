// Package peerid generates the client's per-run peer_id.
package peerid

import (
	"github.com/google/uuid"
)

// clientPrefix identifies this client in the Azureus-style peer_id
// convention, mirrored from the teacher's "-GT0001-" idiom.
const clientPrefix = "-GT0001-"

/*
Generate produces a fresh 20-byte peer_id: the fixed client prefix
followed by random alphanumeric characters sourced from a UUID's random
bits, which are already cryptographically random and cheaper to obtain
than rolling a crypto/rand loop by hand.

Returns:
  - [20]byte: the peer_id, ready to send in both the handshake and the
    tracker announce.
*/
func Generate() [20]byte {
	const chars = "0123456789abcdefghijklmnopqrstuvwxyz"

	var id [20]byte
	copy(id[:], clientPrefix)

	random := uuid.New()
	randomBytes := random[:]

	for i := len(clientPrefix); i < len(id); i++ {
		id[i] = chars[int(randomBytes[i-len(clientPrefix)])%len(chars)]
	}

	return id
}
