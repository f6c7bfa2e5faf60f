package security

import (
	"encoding/hex"
	"encoding/json"

	"golang.org/x/crypto/blake2b"
)

// fingerprint computes a stable hex-encoded blake2b-256 digest of a
// JSON-marshaled payload, for the audit entry's fingerprint field. Marshal
// failures fingerprint the error text instead of failing the audit path
// outright — an audit entry must always be emitted.
func fingerprint(payload interface{}) string {
	body, err := json.Marshal(payload)
	if err != nil {
		body = []byte(err.Error())
	}
	sum := blake2b.Sum256(body)
	return hex.EncodeToString(sum[:])
}
