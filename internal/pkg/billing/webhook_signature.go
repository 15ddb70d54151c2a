package billing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	WebhookIDHeader        = "webhook-id"
	WebhookTimestampHeader = "webhook-timestamp"
	WebhookSignatureHeader = "webhook-signature"

	WebhookTolerance = 5 * time.Minute

	webhookSecretPrefix = "whsec_"
)

var (
	ErrWebhookSecretMissing    = errors.New("webhook secret is not configured")
	ErrInvalidWebhookSignature = errors.New("invalid webhook signature")
)

// WebhookHeaders carries the Standard Webhooks headers sent by Polar.
type WebhookHeaders struct {
	ID        string
	Timestamp string
	Signature string
}

// VerifyPolarWebhookSignature checks a Standard Webhooks signature: an
// HMAC-SHA256 over "id.timestamp.body", base64 encoded and listed as
// space separated "v1,<sig>" entries. The timestamp must lie within
// WebhookTolerance of now.
func VerifyPolarWebhookSignature(payload []byte, headers WebhookHeaders, webhookSecret string, now time.Time) error {
	key, err := webhookKey(webhookSecret)
	if err != nil {
		return err
	}

	id := strings.TrimSpace(headers.ID)
	ts := strings.TrimSpace(headers.Timestamp)
	if id == "" || ts == "" || strings.TrimSpace(headers.Signature) == "" {
		return fmt.Errorf("%w: missing headers", ErrInvalidWebhookSignature)
	}

	unix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: bad timestamp", ErrInvalidWebhookSignature)
	}
	sent := time.Unix(unix, 0)
	if now.Sub(sent) > WebhookTolerance || sent.Sub(now) > WebhookTolerance {
		return fmt.Errorf("%w: timestamp outside tolerance", ErrInvalidWebhookSignature)
	}

	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(id))
	mac.Write([]byte{'.'})
	mac.Write([]byte(ts))
	mac.Write([]byte{'.'})
	mac.Write(payload)
	expected := mac.Sum(nil)

	for _, entry := range strings.Fields(headers.Signature) {
		version, sig, ok := strings.Cut(entry, ",")
		if !ok || version != "v1" {
			continue
		}
		decoded, err := base64.StdEncoding.DecodeString(sig)
		if err != nil {
			continue
		}
		if hmac.Equal(decoded, expected) {
			return nil
		}
	}
	return ErrInvalidWebhookSignature
}

// SignPolarWebhook produces the webhook-signature header value for a payload.
func SignPolarWebhook(payload []byte, id string, timestamp time.Time, webhookSecret string) (string, error) {
	key, err := webhookKey(webhookSecret)
	if err != nil {
		return "", err
	}
	mac := hmac.New(sha256.New, key)
	fmt.Fprintf(mac, "%s.%d.", id, timestamp.Unix())
	mac.Write(payload)
	return "v1," + base64.StdEncoding.EncodeToString(mac.Sum(nil)), nil
}

func webhookKey(secret string) ([]byte, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, ErrWebhookSecretMissing
	}
	if encoded, ok := strings.CutPrefix(secret, webhookSecretPrefix); ok {
		key, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, fmt.Errorf("decode webhook secret: %w", err)
		}
		return key, nil
	}
	return []byte(secret), nil
}
