// Package convert maps domain entities to the ops API's JSON wire shapes.
// The server and relayctl both import it so the two sides cannot drift.
package convert

import (
	"time"

	"github.com/leafline-pos/ocs-relay/internal/model"
)

// dateLayout renders snapshot dates without a time component.
const dateLayout = "2006-01-02"

// --- helpers ---

func tp(t *time.Time) *time.Time {
	if t == nil || t.IsZero() {
		return nil
	}
	return t
}

// --- Submission (server -> operator) ---

// SubmissionJSON is one ledger row on the wire. Kind selects which of the
// shape-specific fields are present.
type SubmissionJSON struct {
	ID      string `json:"id"`
	StoreID string `json:"store_id"`
	Kind    string `json:"kind"`

	SnapshotDate string `json:"snapshot_date,omitempty"`
	ItemCount    int    `json:"item_count,omitempty"`
	PayloadBytes int    `json:"payload_bytes,omitempty"`

	TransactionRef string     `json:"transaction_ref,omitempty"`
	EventType      string     `json:"event_type,omitempty"`
	SKU            string     `json:"sku,omitempty"`
	Quantity       float64    `json:"quantity,omitempty"`
	OccurredAt     *time.Time `json:"occurred_at,omitempty"`

	Status       string     `json:"status"`
	RetryCount   int        `json:"retry_count"`
	MaxRetries   int        `json:"max_retries"`
	NextRetryAt  *time.Time `json:"next_retry_at,omitempty"`
	ExternalRef  string     `json:"external_ref,omitempty"`
	ErrorCode    string     `json:"error_code,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
	DurationMS   int64      `json:"duration_ms,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// ToJSONSubmission converts a domain submission to its wire shape.
func ToJSONSubmission(s *model.Submission) SubmissionJSON {
	out := SubmissionJSON{
		ID:             s.ID.String(),
		StoreID:        s.StoreID.String(),
		Kind:           string(s.Kind),
		ItemCount:      s.ItemCount,
		PayloadBytes:   s.PayloadBytes,
		TransactionRef: s.TransactionRef,
		EventType:      string(s.EventType),
		SKU:            s.SKU,
		Quantity:       s.Quantity,
		OccurredAt:     tp(s.OccurredAt),
		Status:         string(s.Status),
		RetryCount:     s.RetryCount,
		MaxRetries:     s.MaxRetries,
		NextRetryAt:    tp(s.NextRetryAt),
		ExternalRef:    s.ExternalRef,
		ErrorCode:      s.ErrorCode,
		ErrorMessage:   s.ErrorMessage,
		DurationMS:     s.DurationMS,
		CreatedAt:      s.CreatedAt,
		UpdatedAt:      s.UpdatedAt,
	}
	if s.SnapshotDate != nil && !s.SnapshotDate.IsZero() {
		out.SnapshotDate = s.SnapshotDate.Format(dateLayout)
	}
	return out
}

// ToJSONSubmissions converts a slice of submissions.
func ToJSONSubmissions(ss []model.Submission) []SubmissionJSON {
	out := make([]SubmissionJSON, 0, len(ss))
	for i := range ss {
		out = append(out, ToJSONSubmission(&ss[i]))
	}
	return out
}

// --- Shipment notice (server -> operator) ---

// LineJSON is one expected SKU/lot on a notice.
type LineJSON struct {
	ID          string  `json:"id"`
	SKU         string  `json:"sku"`
	LotNumber   string  `json:"lot_number,omitempty"`
	Quantity    float64 `json:"quantity"`
	ReceivedQty float64 `json:"received_qty"`
}

// NoticeJSON is one inbound shipment notice on the wire.
type NoticeJSON struct {
	ID             string     `json:"id"`
	StoreID        string     `json:"store_id"`
	ASNNumber      string     `json:"asn_number"`
	PONumber       string     `json:"po_number,omitempty"`
	ExpectedAt     *time.Time `json:"expected_at,omitempty"`
	Carrier        string     `json:"carrier,omitempty"`
	TrackingNumber string     `json:"tracking_number,omitempty"`
	Status         string     `json:"status"`
	FetchedAt      time.Time  `json:"fetched_at"`
	Lines          []LineJSON `json:"lines,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// ToJSONNotice converts a domain notice, including its lines when loaded.
func ToJSONNotice(n *model.ShipmentNotice) NoticeJSON {
	out := NoticeJSON{
		ID:             n.ID.String(),
		StoreID:        n.StoreID.String(),
		ASNNumber:      n.ASNNumber,
		PONumber:       n.PONumber,
		ExpectedAt:     tp(n.ExpectedAt),
		Carrier:        n.Carrier,
		TrackingNumber: n.TrackingNumber,
		Status:         string(n.Status),
		FetchedAt:      n.FetchedAt,
		CreatedAt:      n.CreatedAt,
		UpdatedAt:      n.UpdatedAt,
	}
	for _, l := range n.Lines {
		out.Lines = append(out.Lines, LineJSON{
			ID:          l.ID.String(),
			SKU:         l.SKU,
			LotNumber:   l.LotNumber,
			Quantity:    l.Quantity,
			ReceivedQty: l.ReceivedQty,
		})
	}
	return out
}

// ToJSONNotices converts a slice of notices.
func ToJSONNotices(ns []model.ShipmentNotice) []NoticeJSON {
	out := make([]NoticeJSON, 0, len(ns))
	for i := range ns {
		out = append(out, ToJSONNotice(&ns[i]))
	}
	return out
}

// --- Audit trail (server -> operator) ---

// AuditEntryJSON is one audit record on the wire.
type AuditEntryJSON struct {
	ID              string    `json:"id"`
	CorrelationID   string    `json:"correlation_id"`
	StoreID         string    `json:"store_id"`
	Endpoint        string    `json:"endpoint"`
	Method          string    `json:"method"`
	RequestSummary  string    `json:"request_summary,omitempty"`
	ResponseSummary string    `json:"response_summary,omitempty"`
	StatusCode      int       `json:"status_code,omitempty"`
	Outcome         string    `json:"outcome"`
	DurationMS      int64     `json:"duration_ms,omitempty"`
	Initiator       string    `json:"initiator"`
	CreatedAt       time.Time `json:"created_at"`
}

// ToJSONAuditEntry converts a domain audit entry.
func ToJSONAuditEntry(e *model.AuditEntry) AuditEntryJSON {
	return AuditEntryJSON{
		ID:              e.ID.String(),
		CorrelationID:   e.CorrelationID.String(),
		StoreID:         e.StoreID.String(),
		Endpoint:        e.Endpoint,
		Method:          e.Method,
		RequestSummary:  e.RequestSummary,
		ResponseSummary: e.ResponseSummary,
		StatusCode:      e.StatusCode,
		Outcome:         string(e.Outcome),
		DurationMS:      e.DurationMS,
		Initiator:       e.Initiator,
		CreatedAt:       e.CreatedAt,
	}
}

// ToJSONAuditEntries converts a slice of audit entries.
func ToJSONAuditEntries(es []model.AuditEntry) []AuditEntryJSON {
	out := make([]AuditEntryJSON, 0, len(es))
	for i := range es {
		out = append(out, ToJSONAuditEntry(&es[i]))
	}
	return out
}

// --- Ledger status (server -> operator) ---

// EnqueueResultJSON acknowledges an enqueue. Created is false when the call
// deduplicated against an existing row.
type EnqueueResultJSON struct {
	ID      string `json:"id"`
	Status  string `json:"status"`
	Created bool   `json:"created"`
}

// StatusJSON is the ledger depth per status plus service identity.
type StatusJSON struct {
	Service string           `json:"service"`
	Counts  map[string]int64 `json:"counts"`
}

// SyncResultJSON reports one on-demand ASN reconciliation pass.
type SyncResultJSON struct {
	StoreID  string `json:"store_id"`
	Inserted int    `json:"inserted"`
	Skipped  int    `json:"skipped"`
}
