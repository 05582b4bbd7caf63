package webhook

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"net/http"
	"strings"
)

// Verifier is the polymorphic signature-verification capability set
// spec.md §4.1 describes: header_name, extract_signature(headers),
// verify(payload, signature, secret).
type Verifier interface {
	HeaderName() string
	ExtractSignature(headers http.Header) string
	Verify(payloadBytes []byte, signature, secret string) bool
}

// GitHubVerifier checks X-Hub-Signature-256: HMAC-SHA256 over the raw
// payload, hex-encoded with a literal "sha256=" prefix.
type GitHubVerifier struct{}

func (GitHubVerifier) HeaderName() string { return "X-Hub-Signature-256" }

func (GitHubVerifier) ExtractSignature(headers http.Header) string {
	return headers.Get("X-Hub-Signature-256")
}

func (GitHubVerifier) Verify(payloadBytes []byte, signature, secret string) bool {
	const prefix = "sha256="
	if !strings.HasPrefix(signature, prefix) {
		return false
	}
	expected := hmac.New(sha256.New, []byte(secret))
	expected.Write(payloadBytes)
	expectedHex := hex.EncodeToString(expected.Sum(nil))
	return hmac.Equal([]byte(expectedHex), []byte(strings.TrimPrefix(signature, prefix)))
}

// TrelloVerifier checks X-Trello-Webhook: HMAC-SHA1 over payload bytes
// concatenated with the webhook's own callback URL, base64-encoded.
type TrelloVerifier struct {
	CallbackURL string
}

func (TrelloVerifier) HeaderName() string { return "X-Trello-Webhook" }

func (TrelloVerifier) ExtractSignature(headers http.Header) string {
	return headers.Get("X-Trello-Webhook")
}

func (v TrelloVerifier) Verify(payloadBytes []byte, signature, secret string) bool {
	mac := hmac.New(sha1.New, []byte(secret))
	mac.Write(payloadBytes)
	mac.Write([]byte(v.CallbackURL))
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}
