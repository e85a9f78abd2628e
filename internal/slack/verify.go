package slack

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"strconv"
	"time"
)

// Request signing headers.
const (
	HeaderSignature = "X-Slack-Signature"
	HeaderTimestamp = "X-Slack-Request-Timestamp"
)

var (
	// ErrInvalidSignature is returned when a request is not signed with the signing secret.
	ErrInvalidSignature = errors.New("invalid slack signature")

	// ErrStaleRequest is returned when the request timestamp is outside the allowed skew.
	ErrStaleRequest = errors.New("stale slack request")
)

// Verifier checks v0 request signatures.
type Verifier struct {
	secret  []byte
	maxSkew time.Duration
	now     func() time.Time
}

// NewVerifier creates a verifier for signingSecret.
func NewVerifier(signingSecret string) *Verifier {
	return &Verifier{secret: []byte(signingSecret), maxSkew: 5 * time.Minute, now: time.Now}
}

// Verify checks the signature headers against body.
func (v *Verifier) Verify(h http.Header, body []byte) error {
	ts := h.Get(HeaderTimestamp)
	sec, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return ErrInvalidSignature
	}
	if d := v.now().Sub(time.Unix(sec, 0)); d > v.maxSkew || d < -v.maxSkew {
		return ErrStaleRequest
	}

	want := Sign(v.secret, ts, body)
	if !hmac.Equal([]byte(want), []byte(h.Get(HeaderSignature))) {
		return ErrInvalidSignature
	}
	return nil
}

// Sign computes the v0 signature for a request body.
func Sign(secret []byte, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte("v0:" + timestamp + ":"))
	mac.Write(body)
	return "v0=" + hex.EncodeToString(mac.Sum(nil))
}
