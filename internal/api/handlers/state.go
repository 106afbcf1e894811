package handlers

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

// stateNonce returns n random bytes, URL-safe encoded.
func stateNonce(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// GenerateState creates a random state string carrying metadata such as the
// sign-in flow ("login" or "register").
func GenerateState(data map[string]string) (string, error) {
	randomPart, err := stateNonce(16)
	if err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}

	payloadBytes, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("failed to marshal state data: %w", err)
	}
	payloadPart := base64.RawURLEncoding.EncodeToString(payloadBytes)

	return randomPart + "." + payloadPart, nil
}

// DecodeState decodes the metadata back from the state string
func DecodeState(state string) (map[string]string, error) {
	randomPart, payloadPart, ok := strings.Cut(state, ".")
	if !ok || randomPart == "" || strings.Contains(payloadPart, ".") {
		return nil, fmt.Errorf("invalid state format")
	}

	payloadBytes, err := base64.RawURLEncoding.DecodeString(payloadPart)
	if err != nil {
		return nil, fmt.Errorf("failed to decode state payload: %w", err)
	}

	var data map[string]string
	if err := json.Unmarshal(payloadBytes, &data); err != nil {
		return nil, fmt.Errorf("failed to unmarshal state JSON: %w", err)
	}

	return data, nil
}

// stateMatches compares the returned state with the one stored in the
// browser's state cookie.
func stateMatches(returned, stored string) bool {
	if returned == "" || stored == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(returned), []byte(stored)) == 1
}
