// Package model defines domain entities shared by services, repositories and the scheduler.
package model

import (
	"time"

	"github.com/gofrs/uuid/v5"
)

// SubmissionKind discriminates the two ledger shapes stored in one table.
type SubmissionKind string

const (
	KindPositionSnapshot SubmissionKind = "position_snapshot"
	KindInventoryEvent   SubmissionKind = "inventory_event"
)

// EventType is the regulator's fixed inventory-event enumeration.
type EventType string

const (
	EventPurchase    EventType = "PURCHASE"
	EventReceiving   EventType = "RECEIVING"
	EventAdjustment  EventType = "ADJUSTMENT"
	EventTransferOut EventType = "TRANSFER_OUT"
	EventReturn      EventType = "RETURN"
	EventDestruction EventType = "DESTRUCTION"
)

// Valid reports whether t is one of the regulator's event types.
func (t EventType) Valid() bool {
	switch t {
	case EventPurchase, EventReceiving, EventAdjustment, EventTransferOut, EventReturn, EventDestruction:
		return true
	}
	return false
}

// Credential is the per-store regulator OAuth material. One row per store;
// sealed fields hold AEAD blobs produced by internal/crypto and are opaque
// outside the credential service.
type Credential struct {
	StoreID         uuid.UUID // owner key, unique
	ClientIDEnc     []byte    // sealed client id
	ClientSecretEnc []byte    // sealed client secret
	AccessTokenEnc  []byte    // sealed access token; nil until first refresh
	TokenType       string    // usually "Bearer"
	ExpiresAt       time.Time // access token expiry; zero until first refresh
	RefreshTokenEnc []byte    // sealed refresh token; nil for client-credentials-only providers
	Scope           string    // granted scope
	Revoked         bool      // set when the identity provider rejects the credential
	RefreshCount    int       // successful refreshes to date
	LastRefreshedAt time.Time // zero until first refresh
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Token is a decrypted access token handed to the API client.
type Token struct {
	AccessToken string
	TokenType   string
	ExpiresAt   time.Time
}

// FreshFor reports whether the token is usable for at least margin past now.
func (t Token) FreshFor(now time.Time, margin time.Duration) bool {
	return t.AccessToken != "" && t.ExpiresAt.After(now.Add(margin))
}

// Submission is one ledger row awaiting (or finished with) delivery to the
// regulator. Kind selects which shape-specific fields are set.
type Submission struct {
	ID      uuid.UUID
	StoreID uuid.UUID
	Kind    SubmissionKind

	// position snapshot (Kind == KindPositionSnapshot)
	SnapshotDate *time.Time // date of the inventory position, unique per store
	ItemCount    int        // distinct SKUs in the snapshot
	PayloadBytes int        // size of the upstream position payload

	// inventory event (Kind == KindInventoryEvent)
	TransactionRef string     // upstream transaction reference, unique per store
	EventType      EventType  // mapped regulator event type
	SKU            string     // regulator SKU
	Quantity       float64    // signed; negative for outbound movements
	OccurredAt     *time.Time // transaction timestamp

	// delivery bookkeeping, mutated only through the transition authority
	Status       SubmissionStatus
	RetryCount   int
	MaxRetries   int
	NextRetryAt  *time.Time // nil unless status is retrying
	ExternalRef  string     // assigned by the regulator on acceptance
	ErrorCode    string
	ErrorMessage string
	DurationMS   int64 // duration of the last attempt
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Due reports whether the scheduler should pick the record up at now.
func (s *Submission) Due(now time.Time) bool {
	switch s.Status {
	case StatusPending:
		return true
	case StatusRetrying:
		return s.NextRetryAt != nil && !s.NextRetryAt.After(now)
	}
	return false
}

// NoticeStatus is the lifecycle of an inbound shipment notice.
type NoticeStatus string

const (
	NoticePending           NoticeStatus = "pending"
	NoticePartiallyReceived NoticeStatus = "partially_received"
	NoticeReceived          NoticeStatus = "received"
	NoticeCancelled         NoticeStatus = "cancelled"
)

// Valid reports whether s is a known notice status.
func (s NoticeStatus) Valid() bool {
	switch s {
	case NoticePending, NoticePartiallyReceived, NoticeReceived, NoticeCancelled:
		return true
	}
	return false
}

// ShipmentNotice is an inbound ASN fetched from the regulator. The external
// ASN number is the dedupe key: fetching the same number twice is a no-op.
type ShipmentNotice struct {
	ID             uuid.UUID
	StoreID        uuid.UUID
	ASNNumber      string // regulator-assigned id, unique per store
	PONumber       string // purchase order reference, if the regulator provided one
	ExpectedAt     *time.Time
	Carrier        string
	TrackingNumber string
	Status         NoticeStatus
	FetchedAt      time.Time // when the reconciler first saw the notice; immutable
	Lines          []ShipmentLine
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// ShipmentLine is one SKU/lot expected on a shipment notice.
type ShipmentLine struct {
	ID          uuid.UUID
	NoticeID    uuid.UUID
	SKU         string
	LotNumber   string
	Quantity    float64
	ReceivedQty float64 // maintained by downstream receiving
}

// LineReceipt is one received quantity reported by the receiving desk.
type LineReceipt struct {
	LineID   uuid.UUID
	Quantity float64
}

// AuditOutcome classifies an audited exchange.
type AuditOutcome string

const (
	AuditSuccess AuditOutcome = "success"
	AuditError   AuditOutcome = "error"
	AuditTimeout AuditOutcome = "timeout"
	AuditRetry   AuditOutcome = "retry"
)

// AuditEntry is one immutable, append-only record of a regulator interaction
// or an operator override. CorrelationID links it to the submission,
// credential or notice that produced it.
type AuditEntry struct {
	ID              uuid.UUID
	CorrelationID   uuid.UUID
	StoreID         uuid.UUID
	Endpoint        string
	Method          string
	RequestSummary  string // summary only, never payload bodies
	ResponseSummary string
	StatusCode      int
	Outcome         AuditOutcome
	DurationMS      int64
	Initiator       string // "scheduler", "asn-poller", "credentials", "ops:<actor>"
	CreatedAt       time.Time
}
