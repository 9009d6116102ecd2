// Package payments correlates asynchronous payment-provider notifications
// with gigs and applies the escrow transitions they imply. Providers
// redeliver webhooks on timeout, so every apply path is idempotent.
package payments

import (
	"context"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/url"
	"strings"
	"time"
)

var (
	ErrIntentNotFound  = errors.New("payment intent not found")
	ErrDuplicateIntent = errors.New("payment intent already exists for transaction")
	ErrMalformed       = errors.New("malformed payment notification")
	ErrBadSignature    = errors.New("webhook signature verification failed")
	// ErrZeroAmount means no positive escrow amount could be resolved for a
	// gig from the agreed rate, proposed rate or budget.
	ErrZeroAmount = errors.New("no positive amount resolvable")
	// ErrRetryable marks transient store failures; the webhook endpoint
	// answers non-2xx so the provider redelivers.
	ErrRetryable = errors.New("transient failure, retry")
)

// IntentStatus tracks a payment intent through its provider lifecycle.
type IntentStatus string

const (
	IntentPending   IntentStatus = "pending"
	IntentFunded    IntentStatus = "funded"
	IntentCompleted IntentStatus = "completed"
	IntentCancelled IntentStatus = "cancelled"
)

// Intent records a checkout initialization: the authoritative join between
// a provider transaction and a gig. Created before the user is handed to
// the provider, so every later webhook can be correlated without trusting
// the provider's echo of our reference.
type Intent struct {
	ID            string       `json:"id"`
	GigID         string       `json:"gigId"`
	Provider      string       `json:"provider"`
	TransactionID string       `json:"transactionId"`
	Status        IntentStatus `json:"status"`
	CreatedAt     time.Time    `json:"createdAt"`
	UpdatedAt     time.Time    `json:"updatedAt"`
}

// IntentStore persists payment intents. (provider, transactionId) is
// unique.
type IntentStore interface {
	Create(ctx context.Context, intent *Intent) error
	Get(ctx context.Context, id string) (*Intent, error)
	GetByProviderTx(ctx context.Context, provider, transactionID string) (*Intent, error)
	GetByGig(ctx context.Context, gigID string) (*Intent, error)
	Update(ctx context.Context, intent *Intent) error
}

// EventKind is the internal event a provider state maps to.
type EventKind string

const (
	EventFunding      EventKind = "funding"
	EventSettlement   EventKind = "settlement"
	EventCancellation EventKind = "cancellation"
	EventUnknown      EventKind = "unknown"
)

// providerStates maps the gateway's state vocabulary to internal events.
// Unlisted states are acknowledged but ignored so new provider states
// never trigger retry storms.
var providerStates = map[string]EventKind{
	"FUNDS_DEPOSITED": EventFunding,
	"FUNDS_RECEIVED":  EventFunding,
	"INITIATED":       EventFunding,
	"COMPLETED":       EventSettlement,
	"CANCELLED":       EventCancellation,
}

// Classify maps a provider state to its internal event kind.
func Classify(state string) EventKind {
	if kind, ok := providerStates[strings.ToUpper(strings.TrimSpace(state))]; ok {
		return kind
	}
	return EventUnknown
}

// Notification is the provider's server-to-server callback payload.
// Balance is informational only; the resolved application rate is
// authoritative for ledger arithmetic.
type Notification struct {
	Type      string `json:"type" form:"type"`
	State     string `json:"state" form:"state"`
	Signature string `json:"signature" form:"signature"`
	ID        string `json:"id" form:"id"`
	Reference string `json:"reference" form:"reference"`
	Balance   string `json:"balance" form:"balance"`
}

// IsWebhook distinguishes a signed server-to-server notification from a
// user browser redirect hitting the same provider integration: only the
// webhook carries the full type/state/signature triple.
func (n *Notification) IsWebhook() bool {
	return n.Type != "" && n.State != "" && n.Signature != ""
}

// ParseNotification decodes a JSON or form-encoded provider callback body.
func ParseNotification(contentType string, body []byte) (*Notification, error) {
	n := &Notification{}
	if strings.Contains(contentType, "application/json") {
		if err := json.Unmarshal(body, n); err != nil {
			return nil, ErrMalformed
		}
		return n, nil
	}

	values, err := url.ParseQuery(string(body))
	if err != nil {
		return nil, ErrMalformed
	}
	n.Type = values.Get("type")
	n.State = values.Get("state")
	n.Signature = values.Get("signature")
	n.ID = values.Get("id")
	n.Reference = values.Get("reference")
	n.Balance = values.Get("balance")
	return n, nil
}

// VerifySignature checks the provider's SHA-512 check value: the hex
// digest of the lowercased concatenation of transaction id, reference,
// state and the shared secret. An empty secret disables verification
// (local development only; production config rejects it).
func (n *Notification) VerifySignature(secret string) error {
	if secret == "" {
		return nil
	}
	payload := strings.ToLower(n.ID + n.Reference + n.State + secret)
	sum := sha512.Sum512([]byte(payload))
	expected := hex.EncodeToString(sum[:])
	got := strings.ToLower(strings.TrimSpace(n.Signature))
	if subtle.ConstantTimeCompare([]byte(expected), []byte(got)) != 1 {
		return ErrBadSignature
	}
	return nil
}

// Sign computes the check value for an outgoing or test payload.
func (n *Notification) Sign(secret string) string {
	payload := strings.ToLower(n.ID + n.Reference + n.State + secret)
	sum := sha512.Sum512([]byte(payload))
	return hex.EncodeToString(sum[:])
}
