package quake

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Checker-Finance/quake/internal/metrics"
)

const (
	HeaderTimestamp        = "X-Webhook-Timestamp"
	HeaderSignatureVersion = "X-Webhook-Signature-Version"
	HeaderSignature        = "X-Webhook-Signature"

	SignatureVersion   = "v1"
	TimestampTolerance = 60 * time.Second

	challengePrefix = "sha256="
)

// ChallengeResponse answers the provider's CRC handshake.
type ChallengeResponse struct {
	ResponseToken string `json:"response_token"`
}

// Verifier authenticates inbound webhook deliveries. It holds no mutable state.
type Verifier struct {
	secret string
	now    func() time.Time
	logger *zap.Logger
}

type VerifierOption func(*Verifier)

func WithVerifierClock(now func() time.Time) VerifierOption {
	return func(v *Verifier) {
		if now != nil {
			v.now = now
		}
	}
}

func WithVerifierLogger(l *zap.Logger) VerifierOption {
	return func(v *Verifier) {
		if l != nil {
			v.logger = l
		}
	}
}

// NewVerifier returns a Verifier using secret as the default signing key.
// secret may be empty when every call passes one explicitly.
func NewVerifier(secret string, opts ...VerifierOption) *Verifier {
	v := &Verifier{secret: secret, now: time.Now, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// ValidateRequest reports whether headers and the unparsed body form an authentic,
// fresh delivery. Malformed, stale or forged requests return false with a nil
// error; only a missing secret is an error.
func (v *Verifier) ValidateRequest(headers http.Header, body []byte, secret ...string) (bool, error) {
	key, err := v.resolveSecret(secret)
	if err != nil {
		metrics.IncWebhookVerification("no_secret")
		return false, err
	}

	ts := strings.TrimSpace(headers.Get(HeaderTimestamp))
	if ts == "" {
		return v.reject("missing_timestamp")
	}
	unix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return v.reject("bad_timestamp")
	}
	// Only stale deliveries are refused; timestamps ahead of our clock pass.
	if time.Unix(unix, 0).Before(v.now().Add(-TimestampTolerance)) {
		return v.reject("stale")
	}

	if headers.Get(HeaderSignatureVersion) != SignatureVersion {
		return v.reject("bad_version")
	}

	provided := headers.Get(HeaderSignature)
	if provided == "" {
		return v.reject("missing_signature")
	}

	expected := Sign(key, ts, body)
	if !hmac.Equal([]byte(provided), []byte(expected)) {
		return v.reject("mismatch")
	}

	metrics.IncWebhookVerification("valid")
	return true, nil
}

// ResolveChallenge computes the response token for a CRC challenge.
func (v *Verifier) ResolveChallenge(crcToken string, secret ...string) (ChallengeResponse, error) {
	key, err := v.resolveSecret(secret)
	if err != nil {
		return ChallengeResponse{}, err
	}
	return ChallengeResponse{ResponseToken: challengePrefix + mac(key, []byte(crcToken))}, nil
}

// Sign returns base64(HMAC-SHA256(secret, timestamp + "." + body)).
func Sign(secret, timestamp string, body []byte) string {
	msg := make([]byte, 0, len(timestamp)+1+len(body))
	msg = append(msg, timestamp...)
	msg = append(msg, '.')
	msg = append(msg, body...)
	return mac(secret, msg)
}

func mac(secret string, msg []byte) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(msg)
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// resolveSecret prefers the first non-empty explicit secret, then the configured one.
func (v *Verifier) resolveSecret(explicit []string) (string, error) {
	for _, s := range explicit {
		if s != "" {
			return s, nil
		}
	}
	if v.secret != "" {
		return v.secret, nil
	}
	return "", ErrMissingWebhookSecret
}

func (v *Verifier) reject(outcome string) (bool, error) {
	metrics.IncWebhookVerification(outcome)
	v.logger.Debug("quake.webhook.rejected", zap.String("reason", outcome))
	return false, nil
}
