package marketplace

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"net/http"
	"strings"

	"github.com/crosslist/backend/internal/domain/integration"
)

// SignatureVerifier checks HMAC-SHA256 signatures over raw webhook bodies
type SignatureVerifier struct {
	secret   []byte
	header   string
	encoding string
}

// NewSignatureVerifier creates a verifier. An empty header uses DefaultSignatureHeader
// and an empty encoding means hex.
func NewSignatureVerifier(secret, header, encoding string) *SignatureVerifier {
	if header == "" {
		header = DefaultSignatureHeader
	}
	if encoding == "" {
		encoding = EncodingHex
	}
	return &SignatureVerifier{
		secret:   []byte(secret),
		header:   header,
		encoding: encoding,
	}
}

// Header returns the name of the signature header
func (v *SignatureVerifier) Header() string {
	return v.header
}

// Sign returns the encoded signature of body
func (v *SignatureVerifier) Sign(body []byte) string {
	mac := hmac.New(sha256.New, v.secret)
	mac.Write(body)
	sum := mac.Sum(nil)
	if v.encoding == EncodingBase64 {
		return base64.StdEncoding.EncodeToString(sum)
	}
	return hex.EncodeToString(sum)
}

// Verify checks the signature header against body.
// A "sha256=" prefix on the header value is accepted.
func (v *SignatureVerifier) Verify(body []byte, header http.Header) error {
	raw := strings.TrimSpace(header.Get(v.header))
	if raw == "" {
		return integration.ErrMissingSignature
	}
	if len(v.secret) == 0 {
		return integration.ErrInvalidSignature
	}
	raw = strings.TrimPrefix(raw, "sha256=")

	got, err := v.decode(raw)
	if err != nil {
		return integration.ErrInvalidSignature
	}

	mac := hmac.New(sha256.New, v.secret)
	mac.Write(body)
	if !hmac.Equal(got, mac.Sum(nil)) {
		return integration.ErrInvalidSignature
	}
	return nil
}

func (v *SignatureVerifier) decode(raw string) ([]byte, error) {
	if v.encoding == EncodingBase64 {
		return base64.StdEncoding.DecodeString(raw)
	}
	return hex.DecodeString(strings.ToLower(raw))
}
