package pusher

import (
	"encoding/base64"
	"fmt"
	"strings"
)

// Expected decoded lengths of the subscription key material. The web push
// encryption scheme requires an uncompressed P-256 point and a 16-byte auth
// secret; anything else is rejected before it can reach the transport.
const (
	p256dhLength = 65
	authLength   = 16
)

// ValidateKeys checks that both subscription keys are well-formed base64url
// strings decoding to the exact lengths the transport requires.
func ValidateKeys(keys Keys) error {
	if err := validateKey("p256dh", keys.P256dh, p256dhLength); err != nil {
		return err
	}
	return validateKey("auth", keys.Auth, authLength)
}

func validateKey(field, value string, wantLen int) error {
	if value == "" {
		return &ValidationError{Field: field, Reason: "key is required"}
	}
	decoded, err := decodeBase64URL(value)
	if err != nil {
		return &ValidationError{Field: field, Reason: "key must be a valid base64url string"}
	}
	if len(decoded) != wantLen {
		return &ValidationError{
			Field:  field,
			Reason: fmt.Sprintf("key must decode to exactly %d bytes, got %d bytes", wantLen, len(decoded)),
		}
	}
	return nil
}

// decodeBase64URL tolerates both padded and unpadded input, since browsers
// differ in how they serialize subscription keys.
func decodeBase64URL(s string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(strings.TrimRight(s, "="))
}
