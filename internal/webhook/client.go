// Package webhook delivers signed job notifications to caller-supplied URLs.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	HeaderSignature = "X-Pixelpipe-Signature"
	HeaderTimestamp = "X-Pixelpipe-Timestamp"
	HeaderEvent     = "X-Pixelpipe-Event"
	HeaderDelivery  = "X-Pixelpipe-Delivery"
)

type Config struct {
	SigningSecret  string
	Timeout        time.Duration
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

type Client struct {
	httpClient *http.Client
	secret     string
	attempts   int
	backoff    time.Duration
	maxBackoff time.Duration
}

func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = time.Second
	}
	return &Client{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		secret:     cfg.SigningSecret,
		attempts:   max(cfg.MaxAttempts, 1),
		backoff:    cfg.InitialBackoff,
		maxBackoff: max(cfg.MaxBackoff, cfg.InitialBackoff),
	}
}

// deliveryError is the outcome of one failed attempt.
type deliveryError struct {
	status     int
	retryAfter time.Duration
	err        error
}

func (e *deliveryError) Error() string {
	if e.err != nil {
		return e.err.Error()
	}
	return fmt.Sprintf("webhook returned status=%d", e.status)
}

func (e *deliveryError) Unwrap() error { return e.err }

// permanent reports whether the receiver rejected the delivery in a way
// that another attempt will not change.
func (e *deliveryError) permanent() bool {
	if e.err != nil || e.status < 400 || e.status >= 500 {
		return false
	}
	return e.status != http.StatusRequestTimeout && e.status != http.StatusTooManyRequests
}

// Send posts payload as JSON to endpoint. Every attempt of one delivery
// carries the same delivery id, timestamp and signature so receivers can
// deduplicate. Server errors and throttling are retried with exponential
// backoff; other 4xx responses end the delivery.
func (c *Client) Send(ctx context.Context, endpoint, event string, payload any) error {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}
	header := http.Header{}
	header.Set("Content-Type", "application/json")
	header.Set(HeaderEvent, event)
	header.Set(HeaderDelivery, uuid.NewString())
	timestamp := strconv.FormatInt(time.Now().UTC().Unix(), 10)
	header.Set(HeaderTimestamp, timestamp)
	header.Set(HeaderSignature, Sign(c.secret, timestamp, body))

	wait := c.backoff
	attempt := 0
	for {
		attempt++
		failure := c.post(ctx, endpoint, header, body)
		if failure == nil {
			return nil
		}
		if failure.permanent() || attempt == c.attempts {
			return fmt.Errorf("webhook delivery failed after %d attempts: %w", attempt, failure)
		}

		delay := min(max(wait, failure.retryAfter), c.maxBackoff)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		wait = min(wait*2, c.maxBackoff)
	}
}

func (c *Client) post(ctx context.Context, endpoint string, header http.Header, body []byte) *deliveryError {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return &deliveryError{err: fmt.Errorf("build webhook request: %w", err)}
	}
	req.Header = header.Clone()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &deliveryError{err: err}
	}
	resp.Body.Close()
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	return &deliveryError{status: resp.StatusCode, retryAfter: retryAfter(resp.Header.Get("Retry-After"))}
}

func retryAfter(value string) time.Duration {
	seconds, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || seconds <= 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}

// StatusCode returns the HTTP status of a failed delivery, or zero when no
// response was received.
func StatusCode(err error) int {
	var de *deliveryError
	if errors.As(err, &de) {
		return de.status
	}
	return 0
}

// Sign computes the signature header value over "timestamp.body".
func Sign(secret, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// Verify checks a delivery on the receiving side.
func Verify(secret, timestamp string, body []byte, signature string) bool {
	return hmac.Equal([]byte(Sign(secret, timestamp, body)), []byte(signature))
}
