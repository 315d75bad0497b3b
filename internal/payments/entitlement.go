package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/textswithmyex/backend/internal/ledger"
	"github.com/textswithmyex/backend/internal/metrics"
	"github.com/textswithmyex/backend/internal/token"
)

const (
	// PremiumTTL is how long a minted premium token stays valid.
	PremiumTTL = 48 * time.Hour

	TierPremium = "premium"

	eventTransactionCompleted = "transaction.completed"
)

var (
	ErrPaymentsDisabled = errors.New("payments: processor client not configured")
	ErrWebhookDisabled  = errors.New("payments: webhook secret not configured")
	ErrMalformedEvent   = errors.New("payments: malformed webhook event")
	ErrMissingTokens    = errors.New("payments: token issuer is required")
	ErrMissingLedger    = errors.New("payments: ledger is required")
)

// NotCompletedError reports a transaction that exists but is not yet payable
// into a grant, carrying the status the processor reported.
type NotCompletedError struct {
	Status string
}

func (e *NotCompletedError) Error() string {
	return fmt.Sprintf("payments: transaction not completed (status %s)", e.Status)
}

// Grant is the entitlement handed to the end user.
type Grant struct {
	Token     string `json:"token"`
	ExpiresIn int64  `json:"expiresIn"`
	Tier      string `json:"tier"`
}

// WebhookResult reports how a verified webhook delivery was handled.
// TransactionID is the payload's transaction when the event carried one.
type WebhookResult struct {
	EventType     string
	TransactionID string
	Granted       bool
	Grant         Grant
}

// EntitlementConfig wires the entitlement flow. Client may be nil and
// WebhookSecret empty: the corresponding entry point is then disabled rather
// than the whole service failing.
type EntitlementConfig struct {
	Client        *Client
	WebhookSecret []byte
	Tokens        *token.Issuer
	Ledger        *ledger.Ledger
	Clock         func() time.Time
	Logger        *zap.Logger
}

// Entitlement turns verified payment events into premium tokens and ledger
// records. Token issuance is the critical path; the ledger write is
// best-effort auditing handled inside the ledger itself.
type Entitlement struct {
	client        *Client
	webhookSecret []byte
	tokens        *token.Issuer
	ledger        *ledger.Ledger
	clock         func() time.Time
	logger        *zap.Logger
}

// NewEntitlement validates dependencies and returns the flow.
func NewEntitlement(cfg EntitlementConfig) (*Entitlement, error) {
	if cfg.Tokens == nil {
		return nil, ErrMissingTokens
	}
	if cfg.Ledger == nil {
		return nil, ErrMissingLedger
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Entitlement{
		client:        cfg.Client,
		webhookSecret: append([]byte(nil), cfg.WebhookSecret...),
		tokens:        cfg.Tokens,
		ledger:        cfg.Ledger,
		clock:         clock,
		logger:        logger,
	}, nil
}

// ConfirmEnabled reports whether the synchronous confirm path is configured.
func (e *Entitlement) ConfirmEnabled() bool {
	return e.client != nil
}

// WebhookEnabled reports whether the webhook path is configured.
func (e *Entitlement) WebhookEnabled() bool {
	return len(e.webhookSecret) > 0
}

// Confirm verifies the transaction's status with the processor and, when it
// is completed, issues a premium token and records the purchase. Replaying a
// completed transaction re-issues a fresh token and overwrites the same
// ledger record, which is safe.
func (e *Entitlement) Confirm(ctx context.Context, transactionID string) (Grant, error) {
	if e.client == nil {
		return Grant{}, ErrPaymentsDisabled
	}
	trimmed := strings.TrimSpace(transactionID)
	if trimmed == "" {
		metrics.ConfirmOutcome("invalid")
		return Grant{}, ErrTransactionNotFound
	}

	transaction, err := e.client.GetTransaction(ctx, trimmed)
	if err != nil {
		if errors.Is(err, ErrTransactionNotFound) {
			metrics.ConfirmOutcome("not_found")
			return Grant{}, &NotCompletedError{Status: "not_found"}
		}
		metrics.ConfirmOutcome("upstream_error")
		return Grant{}, err
	}

	if !statusGrantsAccess(transaction.Status) {
		e.logger.Info("confirm rejected",
			zap.String("transaction_id", trimmed),
			zap.String("status", transaction.Status))
		metrics.ConfirmOutcome("not_completed")
		return Grant{}, &NotCompletedError{Status: transaction.Status}
	}

	grant, err := e.grant(ctx, transaction.ID, firstItem(transaction.Items))
	if err != nil {
		metrics.ConfirmOutcome("issue_failed")
		return Grant{}, err
	}
	metrics.ConfirmOutcome("granted")
	return grant, nil
}

// HandleWebhook authenticates a pushed event and grants from its payload.
// Only transaction.completed issues a token; every other event type is
// acknowledged and logged.
func (e *Entitlement) HandleWebhook(ctx context.Context, rawBody []byte, signatureHeader string) (WebhookResult, error) {
	if len(e.webhookSecret) == 0 {
		return WebhookResult{}, ErrWebhookDisabled
	}
	if err := VerifyWebhookSignature(e.webhookSecret, signatureHeader, rawBody); err != nil {
		metrics.WebhookEvent("unknown", "bad_signature")
		return WebhookResult{}, ErrBadSignature
	}

	var event WebhookEvent
	if err := json.Unmarshal(rawBody, &event); err != nil || event.EventType == "" {
		metrics.WebhookEvent("unknown", "malformed")
		return WebhookResult{}, ErrMalformedEvent
	}

	if event.EventType != eventTransactionCompleted {
		e.logger.Info("ignoring webhook event", zap.String("event_type", event.EventType))
		metrics.WebhookEvent(event.EventType, "ignored")
		return WebhookResult{EventType: event.EventType, TransactionID: strings.TrimSpace(event.Data.ID)}, nil
	}
	if strings.TrimSpace(event.Data.ID) == "" {
		metrics.WebhookEvent(event.EventType, "malformed")
		return WebhookResult{}, ErrMalformedEvent
	}

	grant, err := e.grant(ctx, event.Data.ID, firstItem(event.Data.Items))
	if err != nil {
		metrics.WebhookEvent(event.EventType, "issue_failed")
		return WebhookResult{}, err
	}
	metrics.WebhookEvent(event.EventType, "granted")
	return WebhookResult{EventType: event.EventType, TransactionID: event.Data.ID, Granted: true, Grant: grant}, nil
}

func (e *Entitlement) grant(ctx context.Context, transactionID string, item *TransactionItem) (Grant, error) {
	signed, expiresIn, err := e.tokens.Issue(token.KindPremium, transactionID, PremiumTTL)
	if err != nil {
		return Grant{}, err
	}
	metrics.PremiumTokenIssued()

	issuedAt := e.clock().UTC().UnixMilli()
	record := ledger.PurchaseRecord{
		TransactionID: transactionID,
		TokenIssuedAt: issuedAt,
		ExpiresAt:     issuedAt + PremiumTTL.Milliseconds(),
	}
	if item != nil {
		record.PriceID = item.PriceID
		record.Amount = item.Price.UnitAmount
		record.Currency = item.Price.CurrencyCode
	}
	e.ledger.RecordPurchase(ctx, record)

	e.logger.Info("premium token issued",
		zap.String("transaction_id", transactionID),
		zap.Int64("expires_in", expiresIn))
	return Grant{Token: signed, ExpiresIn: expiresIn, Tier: TierPremium}, nil
}

func statusGrantsAccess(status string) bool {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "completed", "paid":
		return true
	default:
		return false
	}
}

func firstItem(items []TransactionItem) *TransactionItem {
	if len(items) == 0 {
		return nil
	}
	return &items[0]
}
