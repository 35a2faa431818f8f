package stripe

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Webhook event types this service reconciles.
const (
	EventCheckoutCompleted = "checkout.session.completed"
	EventPaymentFailed     = "payment_intent.payment_failed"
)

// DefaultTolerance bounds how stale a signed webhook timestamp may be.
const DefaultTolerance = 5 * time.Minute

// Event is the envelope the processor posts to the webhook endpoint.
type Event struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

// CheckoutObject is the session object inside a checkout.session.completed event.
type CheckoutObject struct {
	ID            string            `json:"id"`
	PaymentIntent string            `json:"payment_intent"`
	Metadata      map[string]string `json:"metadata"`
}

// PaymentIntentObject is the object inside a payment_intent event.
type PaymentIntentObject struct {
	ID string `json:"id"`
}

// ConstructEvent verifies the signature header against the raw payload and
// parses the event. Verification fails closed: any malformed header, stale
// timestamp, or digest mismatch rejects the event.
func ConstructEvent(payload []byte, sigHeader, secret string, tolerance time.Duration) (*Event, error) {
	ts, signatures, err := parseSignatureHeader(sigHeader)
	if err != nil {
		return nil, err
	}

	if tolerance > 0 {
		age := time.Since(time.Unix(ts, 0))
		if age > tolerance || age < -tolerance {
			return nil, fmt.Errorf("signature timestamp outside tolerance")
		}
	}

	expected := computeSignature(ts, payload, secret)
	valid := false
	for _, sig := range signatures {
		decoded, err := hex.DecodeString(sig)
		if err != nil {
			continue
		}
		if hmac.Equal(decoded, expected) {
			valid = true
			break
		}
	}
	if !valid {
		return nil, fmt.Errorf("no matching signature")
	}

	var event Event
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, fmt.Errorf("parse event: %w", err)
	}
	return &event, nil
}

// Checkout decodes the event payload as a checkout session object.
func (e *Event) Checkout() (*CheckoutObject, error) {
	var obj CheckoutObject
	if err := json.Unmarshal(e.Data.Object, &obj); err != nil {
		return nil, fmt.Errorf("parse checkout object: %w", err)
	}
	return &obj, nil
}

// PaymentIntent decodes the event payload as a payment intent object.
func (e *Event) PaymentIntent() (*PaymentIntentObject, error) {
	var obj PaymentIntentObject
	if err := json.Unmarshal(e.Data.Object, &obj); err != nil {
		return nil, fmt.Errorf("parse payment intent object: %w", err)
	}
	return &obj, nil
}

// SignPayload produces a valid signature header for the payload. Exists for
// tests and local tooling that need to replay webhooks.
func SignPayload(payload []byte, secret string, at time.Time) string {
	ts := at.Unix()
	sig := computeSignature(ts, payload, secret)
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(sig))
}

// parseSignatureHeader splits the "t=<unix>,v1=<hex>[,v1=<hex>...]" header shape.
func parseSignatureHeader(header string) (int64, []string, error) {
	if header == "" {
		return 0, nil, fmt.Errorf("missing signature header")
	}

	var ts int64
	var tsSeen bool
	var signatures []string
	for _, part := range strings.Split(header, ",") {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch kv[0] {
		case "t":
			parsed, err := strconv.ParseInt(kv[1], 10, 64)
			if err != nil {
				return 0, nil, fmt.Errorf("invalid signature timestamp")
			}
			ts = parsed
			tsSeen = true
		case "v1":
			signatures = append(signatures, kv[1])
		}
	}
	if !tsSeen || len(signatures) == 0 {
		return 0, nil, fmt.Errorf("malformed signature header")
	}
	return ts, signatures, nil
}

func computeSignature(ts int64, payload []byte, secret string) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.", ts)
	mac.Write(payload)
	return mac.Sum(nil)
}
