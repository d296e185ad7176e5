package transcript

import (
	"encoding/binary"
	"encoding/hex"
	"time"

	"github.com/google/uuid"
	"github.com/zeebo/blake3"
)

// keyBytes is the digest length used for idempotency keys (32 hex chars).
const keyBytes = 16

// sessionNamespace scopes DeriveUUID so its outputs cannot collide with
// other name-based UUIDs derived from the same strings.
var sessionNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("tracespool:session"))

// DeriveKey returns the idempotency key for one unit of session activity.
// Each field is length-prefixed before hashing, so no choice of field
// contents can make two different triples hash the same input.
func DeriveKey(sessionID, unitID string, at time.Time) string {
	h := blake3.New()
	var prefix [binary.MaxVarintLen64]byte
	for _, field := range []string{sessionID, unitID, at.UTC().Format(time.RFC3339Nano)} {
		n := binary.PutUvarint(prefix[:], uint64(len(field)))
		_, _ = h.Write(prefix[:n])
		_, _ = h.Write([]byte(field))
	}
	sum := h.Sum(nil)
	return hex.EncodeToString(sum[:keyBytes])
}

// DeriveUUID maps any string, including the empty string, to a stable
// RFC 4122 name-based UUID in canonical 8-4-4-4-12 form.
func DeriveUUID(s string) string {
	return uuid.NewSHA1(sessionNamespace, []byte(s)).String()
}
