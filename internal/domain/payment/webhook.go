package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	"github.com/go-faster/jx"
)

// DefaultTolerance is the accepted distance between the signature timestamp
// and the local clock.
const DefaultTolerance = 5 * time.Minute

// EventKind tags the variant of a webhook Event.
type EventKind uint8

const (
	EventUnknown EventKind = iota
	EventTransactionUpdated
)

// TransactionData is the transaction snapshot carried by an event.
type TransactionData struct {
	ID                string
	Status            string
	Reference         string
	AmountInCents     int64
	Currency          string
	PaymentMethodType string
}

// Event is a verified processor notification.
type Event struct {
	Kind        EventKind
	Name        string
	Transaction TransactionData
	SentAt      time.Time
	// Raw is the exact signed body, kept for the order's audit log.
	Raw []byte
}

// Verifier authenticates webhook deliveries signed as
// "t=<unix>,v1=<hex hmac-sha256 of t.body>".
type Verifier struct {
	secret    []byte
	tolerance time.Duration
	now       func() time.Time
}

// NewVerifier creates a Verifier. A zero tolerance disables the freshness
// check; an empty secret makes every Verify fail with ErrSecretMissing.
func NewVerifier(secret string, tolerance time.Duration) *Verifier {
	return &Verifier{
		secret:    []byte(secret),
		tolerance: tolerance,
		now:       time.Now,
	}
}

// Verify checks the signature header against body and parses the event.
func (v *Verifier) Verify(body []byte, header string) (*Event, error) {
	if len(v.secret) == 0 {
		return nil, ErrSecretMissing
	}

	ts, signatures, err := parseSignatureHeader(header)
	if err != nil {
		return nil, err
	}

	expected := v.sign(ts, body)
	matched := false
	for _, sig := range signatures {
		got, err := hex.DecodeString(sig)
		if err != nil {
			continue
		}
		if hmac.Equal(got, expected) {
			matched = true
		}
	}
	if !matched {
		return nil, ErrInvalidSignature
	}

	if v.tolerance > 0 {
		sent, err := strconv.ParseInt(ts, 10, 64)
		if err != nil {
			return nil, ErrInvalidSignature
		}
		age := v.now().Sub(time.Unix(sent, 0))
		if age < 0 {
			age = -age
		}
		if age > v.tolerance {
			return nil, ErrSignatureExpired
		}
	}

	return ParseEvent(body)
}

// Sign returns the header value for body at ts. It is used by tests and
// local tooling that replays deliveries.
func (v *Verifier) Sign(ts time.Time, body []byte) string {
	t := strconv.FormatInt(ts.Unix(), 10)
	return "t=" + t + ",v1=" + hex.EncodeToString(v.sign(t, body))
}

func (v *Verifier) sign(ts string, body []byte) []byte {
	mac := hmac.New(sha256.New, v.secret)
	mac.Write([]byte(ts))
	mac.Write([]byte{'.'})
	mac.Write(body)
	return mac.Sum(nil)
}

func parseSignatureHeader(header string) (ts string, signatures []string, err error) {
	for _, part := range strings.Split(header, ",") {
		k, val, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			ts = val
		case "v1":
			if val != "" {
				signatures = append(signatures, val)
			}
		}
	}
	if ts == "" || len(signatures) == 0 {
		return "", nil, ErrMissingSignature
	}
	return ts, signatures, nil
}

// ParseEvent decodes a webhook body. Unknown fields are skipped and fields
// of an unexpected type are ignored; only a missing transaction id is fatal.
func ParseEvent(body []byte) (*Event, error) {
	d := jx.DecodeBytes(body)
	if d.Next() != jx.Object {
		return nil, ErrMalformedEvent
	}

	ev := &Event{Raw: body}
	if err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		switch string(key) {
		case "event":
			name, err := optString(d)
			ev.Name = name
			return err
		case "sent_at":
			s, err := optString(d)
			if err != nil {
				return err
			}
			if t, perr := time.Parse(time.RFC3339, s); perr == nil {
				ev.SentAt = t
			}
			return nil
		case "data":
			if d.Next() != jx.Object {
				return d.Skip()
			}
			return d.ObjBytes(func(d *jx.Decoder, key []byte) error {
				if string(key) != "transaction" || d.Next() != jx.Object {
					return d.Skip()
				}
				return decodeTransaction(d, &ev.Transaction)
			})
		default:
			return d.Skip()
		}
	}); err != nil {
		return nil, ErrMalformedEvent
	}

	if ev.Transaction.ID == "" {
		return nil, ErrMalformedEvent
	}
	if ev.Name == "transaction.updated" {
		ev.Kind = EventTransactionUpdated
	}
	return ev, nil
}

func decodeTransaction(d *jx.Decoder, tx *TransactionData) error {
	return d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		var err error
		switch string(key) {
		case "id":
			// Some processors send numeric ids.
			if d.Next() == jx.Number {
				var n jx.Num
				n, err = d.Num()
				tx.ID = n.String()
				return err
			}
			tx.ID, err = optString(d)
		case "status":
			tx.Status, err = optString(d)
		case "reference":
			tx.Reference, err = optString(d)
		case "currency":
			tx.Currency, err = optString(d)
		case "payment_method_type":
			tx.PaymentMethodType, err = optString(d)
		case "amount_in_cents":
			if d.Next() != jx.Number {
				return d.Skip()
			}
			tx.AmountInCents, err = d.Int64()
		default:
			return d.Skip()
		}
		return err
	})
}

func optString(d *jx.Decoder) (string, error) {
	if d.Next() != jx.String {
		return "", d.Skip()
	}
	return d.Str()
}
