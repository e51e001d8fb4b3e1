package payload

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/gowebpki/jcs"
)

// ErrPayloadTooLarge marks a payload whose serialized size exceeds the
// configured ceiling. This is permanent for the submission: retrying cannot
// shrink a payload, so callers must not requeue it.
var ErrPayloadTooLarge = errors.New("payload: serialized payload exceeds size ceiling")

// Validate serializes the payload and checks it against maxBytes. It returns
// the serialized JSON so callers submit exactly the bytes that were checked.
func Validate(p *CapturePayload, maxBytes int) ([]byte, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("payload: marshal: %w", err)
	}
	if maxBytes > 0 && len(data) > maxBytes {
		return nil, fmt.Errorf("%w: %d > %d bytes", ErrPayloadTooLarge, len(data), maxBytes)
	}
	return data, nil
}

// ValidateRaw checks already-serialized payload JSON against maxBytes.
func ValidateRaw(data []byte, maxBytes int) error {
	if maxBytes > 0 && len(data) > maxBytes {
		return fmt.Errorf("%w: %d > %d bytes", ErrPayloadTooLarge, len(data), maxBytes)
	}
	return nil
}

// CanonicalHash returns the SHA-256 of the RFC 8785 canonical JSON form of
// the payload. Two payloads with the same content hash identically regardless
// of field ordering, which makes the hash usable as a dedup key.
func CanonicalHash(p *CapturePayload) (string, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("payload: marshal: %w", err)
	}
	canon, err := jcs.Transform(data)
	if err != nil {
		return "", fmt.Errorf("payload: canonicalize: %w", err)
	}
	sum := sha256.Sum256(canon)
	return hex.EncodeToString(sum[:]), nil
}
