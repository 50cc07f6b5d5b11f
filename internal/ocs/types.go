package ocs

import (
	"fmt"
	"time"

	"github.com/leafline-pos/ocs-relay/internal/model"
)

// Outcome classifies a data-plane exchange. This classification is the single
// source of truth the scheduler uses to decide whether a record is retried.
type Outcome string

const (
	// OutcomeAccepted: 2xx, the regulator recorded the payload and returned a
	// reference id.
	OutcomeAccepted Outcome = "accepted"
	// OutcomeAuth: 401/403, the bearer token was rejected. A store-level
	// condition, not evidence about the payload.
	OutcomeAuth Outcome = "auth"
	// OutcomeRejected: other 4xx, the payload is wrong and resubmission without
	// correction will not help.
	OutcomeRejected Outcome = "rejected"
	// OutcomeTransient: 429, 5xx, timeouts and connection failures.
	OutcomeTransient Outcome = "transient"
)

// Result is the typed outcome of one submission exchange. It is populated even
// when the method also returns an error, so callers classify from the Result
// alone.
type Result struct {
	HTTPStatus   int // 0 when the exchange never completed
	ExternalRef  string
	ErrorCode    string
	ErrorMessage string
	RawBody      []byte
	Outcome      Outcome
	TimedOut     bool
}

// TokenRequest carries the material for a token-endpoint exchange.
// RefreshToken selects the refresh-token grant; otherwise client credentials.
type TokenRequest struct {
	ClientID     string
	ClientSecret string
	RefreshToken string
	Scope        string
}

// TokenResponse is the token endpoint's success body.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	RefreshToken string `json:"refresh_token,omitempty"`
	Scope        string `json:"scope,omitempty"`
}

// TokenError is a non-2xx response from the token endpoint.
type TokenError struct {
	HTTPStatus  int
	Code        string // OAuth error code: invalid_client, invalid_grant, ...
	Description string
}

func (e *TokenError) Error() string {
	return fmt.Sprintf("token endpoint: %d %s: %s", e.HTTPStatus, e.Code, e.Description)
}

// Permanent reports whether the provider rejected the credential itself, as
// opposed to a transient outage. Permanent rejections revoke the credential.
func (e *TokenError) Permanent() bool {
	switch e.HTTPStatus {
	case 400, 401, 403:
		return true
	}
	return false
}

// SnapshotPayload is the daily position report body.
type SnapshotPayload struct {
	StoreID    string `json:"storeId"`
	ReportDate string `json:"reportDate"` // YYYY-MM-DD
	TotalSKUs  int    `json:"totalSkus"`
}

// EventPayload is one inventory transaction mapped to the regulator's
// event-type enumeration.
type EventPayload struct {
	StoreID       string    `json:"storeId"`
	TransactionID string    `json:"transactionId"`
	EventType     string    `json:"eventType"`
	SKU           string    `json:"sku"`
	Quantity      float64   `json:"quantity"`
	OccurredAt    time.Time `json:"occurredAt"`
}

// SnapshotPayloadFrom maps a ledger row to the wire shape.
func SnapshotPayloadFrom(sub *model.Submission) (SnapshotPayload, error) {
	if sub.Kind != model.KindPositionSnapshot {
		return SnapshotPayload{}, fmt.Errorf("submission %s is %s, not a position snapshot", sub.ID, sub.Kind)
	}
	if sub.SnapshotDate == nil {
		return SnapshotPayload{}, fmt.Errorf("submission %s has no snapshot date", sub.ID)
	}
	return SnapshotPayload{
		StoreID:    sub.StoreID.String(),
		ReportDate: sub.SnapshotDate.Format("2006-01-02"),
		TotalSKUs:  sub.ItemCount,
	}, nil
}

// EventPayloadFrom maps a ledger row to the wire shape.
func EventPayloadFrom(sub *model.Submission) (EventPayload, error) {
	if sub.Kind != model.KindInventoryEvent {
		return EventPayload{}, fmt.Errorf("submission %s is %s, not an inventory event", sub.ID, sub.Kind)
	}
	if !sub.EventType.Valid() {
		return EventPayload{}, fmt.Errorf("submission %s has unmapped event type %q", sub.ID, sub.EventType)
	}
	if sub.OccurredAt == nil {
		return EventPayload{}, fmt.Errorf("submission %s has no event timestamp", sub.ID)
	}
	return EventPayload{
		StoreID:       sub.StoreID.String(),
		TransactionID: sub.TransactionRef,
		EventType:     string(sub.EventType),
		SKU:           sub.SKU,
		Quantity:      sub.Quantity,
		OccurredAt:    sub.OccurredAt.UTC(),
	}, nil
}

// NoticeQuery selects shipment notices for one store since a watermark.
type NoticeQuery struct {
	StoreID string
	Since   time.Time // zero means everything the regulator still serves
}

// NoticeList is the ASN endpoint's response body.
type NoticeList struct {
	Notices []Notice `json:"shipmentNotices"`
}

// Notice is one inbound shipment notice on the wire.
type Notice struct {
	ASNNumber      string       `json:"asnNumber"`
	PONumber       string       `json:"poNumber"`
	ExpectedDate   string       `json:"expectedDeliveryDate"` // YYYY-MM-DD, may be empty
	Carrier        string       `json:"carrier"`
	TrackingNumber string       `json:"trackingNumber"`
	Lines          []NoticeLine `json:"lines"`
}

// NoticeLine is one SKU/lot expected on a notice.
type NoticeLine struct {
	SKU       string  `json:"sku"`
	Quantity  float64 `json:"quantity"`
	LotNumber string  `json:"lotNumber"`
}

// APIError is a non-2xx response from a data endpoint surfaced as an error
// (used by the ASN fetch, where there is no per-record Result to carry it).
type APIError struct {
	HTTPStatus int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("regulator api: %d %s: %s", e.HTTPStatus, e.Code, e.Message)
}

// Transient reports whether the fetch should be reattempted on the next poll.
func (e *APIError) Transient() bool {
	return Classify(e.HTTPStatus) == OutcomeTransient
}

// Classify maps an HTTP status to an Outcome. Exhaustive over the status
// space; anything unrecognized is treated as transient so it stays retryable.
func Classify(status int) Outcome {
	switch {
	case status >= 200 && status < 300:
		return OutcomeAccepted
	case status == 401 || status == 403:
		return OutcomeAuth
	case status == 429:
		return OutcomeTransient
	case status >= 400 && status < 500:
		return OutcomeRejected
	default:
		return OutcomeTransient
	}
}
