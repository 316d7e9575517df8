// pkce.go -- state, code_verifier and S256 code_challenge generation (RFC 7636).
package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
)

const (
	stateAlphabet    = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
	verifierAlphabet = stateAlphabet + "-._~"

	stateLen    = 32
	verifierLen = 64
)

// randReader is the entropy source. Swapped in tests to force failures.
var randReader io.Reader = rand.Reader

// PKCE is one login attempt's binding values.
// State and Verifier go in cookies; State and Challenge go to the provider.
type PKCE struct {
	State     string
	Verifier  string
	Challenge string
}

// NewPKCE generates a fresh state, verifier and S256 challenge.
func NewPKCE() (*PKCE, error) {
	state, err := randomString(stateLen, stateAlphabet)
	if err != nil {
		return nil, fmt.Errorf("generating state: %w", err)
	}
	verifier, err := randomString(verifierLen, verifierAlphabet)
	if err != nil {
		return nil, fmt.Errorf("generating code verifier: %w", err)
	}
	return &PKCE{
		State:     state,
		Verifier:  verifier,
		Challenge: ChallengeS256(verifier),
	}, nil
}

// ChallengeS256 returns base64url(SHA-256(verifier)) without padding.
func ChallengeS256(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// randomString draws n symbols uniformly from alphabet.
// Bytes at or above the largest multiple of len(alphabet) are rejected so no symbol is favored.
func randomString(n int, alphabet string) (string, error) {
	limit := 256 - (256 % len(alphabet))
	out := make([]byte, 0, n)
	buf := make([]byte, n+n/2)
	for len(out) < n {
		if _, err := io.ReadFull(randReader, buf); err != nil {
			return "", fmt.Errorf("reading random bytes: %w", err)
		}
		for _, b := range buf {
			if int(b) >= limit {
				continue
			}
			out = append(out, alphabet[int(b)%len(alphabet)])
			if len(out) == n {
				break
			}
		}
	}
	return string(out), nil
}
