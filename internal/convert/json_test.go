package convert

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	u "github.com/gofrs/uuid/v5"

	"github.com/leafline-pos/ocs-relay/internal/model"
)

func mustUUID(t *testing.T, s string) u.UUID {
	t.Helper()
	id, err := u.FromString(s)
	if err != nil {
		t.Fatalf("bad uuid %q: %v", s, err)
	}
	return id
}

func TestToJSONSubmission_SnapshotShape(t *testing.T) {
	t.Parallel()

	date := time.Date(2026, 8, 24, 0, 0, 0, 0, time.UTC)
	sub := &model.Submission{
		ID:           mustUUID(t, "6f1cbe8e-b2e7-4a3b-9f6e-2a2c0f2f9c11"),
		StoreID:      mustUUID(t, "0d9c1a44-31b0-4f1c-a5d4-52f0a8a3b001"),
		Kind:         model.KindPositionSnapshot,
		SnapshotDate: &date,
		ItemCount:    412,
		Status:       model.StatusPending,
		MaxRetries:   3,
	}

	got := ToJSONSubmission(sub)
	if got.SnapshotDate != "2026-08-24" {
		t.Fatalf("snapshot_date = %q, want date-only", got.SnapshotDate)
	}
	if got.Kind != "position_snapshot" || got.Status != "pending" {
		t.Fatalf("kind/status = %q/%q", got.Kind, got.Status)
	}

	// event-only fields must vanish from the encoded form
	raw, err := json.Marshal(got)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	for _, absent := range []string{"transaction_ref", "event_type", "sku", "occurred_at", "next_retry_at"} {
		if strings.Contains(string(raw), absent) {
			t.Fatalf("snapshot row leaked field %q: %s", absent, raw)
		}
	}
}

func TestToJSONSubmission_EventShape(t *testing.T) {
	t.Parallel()

	at := time.Date(2026, 8, 25, 3, 15, 0, 0, time.UTC)
	next := at.Add(90 * time.Second)
	sub := &model.Submission{
		ID:             mustUUID(t, "6f1cbe8e-b2e7-4a3b-9f6e-2a2c0f2f9c11"),
		StoreID:        mustUUID(t, "0d9c1a44-31b0-4f1c-a5d4-52f0a8a3b001"),
		Kind:           model.KindInventoryEvent,
		TransactionRef: "pos-tx-881",
		EventType:      model.EventPurchase,
		SKU:            "THC-GUM-10",
		Quantity:       -2,
		OccurredAt:     &at,
		Status:         model.StatusRetrying,
		RetryCount:     1,
		MaxRetries:     3,
		NextRetryAt:    &next,
		ErrorCode:      "UPSTREAM_TIMEOUT",
	}

	got := ToJSONSubmission(sub)
	if got.TransactionRef != "pos-tx-881" || got.EventType != "PURCHASE" {
		t.Fatalf("event fields = %q/%q", got.TransactionRef, got.EventType)
	}
	if got.Quantity != -2 {
		t.Fatalf("quantity = %v, want -2", got.Quantity)
	}
	if got.NextRetryAt == nil || !got.NextRetryAt.Equal(next) {
		t.Fatalf("next_retry_at = %v, want %v", got.NextRetryAt, next)
	}
	if got.SnapshotDate != "" {
		t.Fatalf("event row carries snapshot_date %q", got.SnapshotDate)
	}
}

func TestToJSONNotice_IncludesLines(t *testing.T) {
	t.Parallel()

	n := &model.ShipmentNotice{
		ID:        mustUUID(t, "6f1cbe8e-b2e7-4a3b-9f6e-2a2c0f2f9c11"),
		StoreID:   mustUUID(t, "0d9c1a44-31b0-4f1c-a5d4-52f0a8a3b001"),
		ASNNumber: "ASN-2026-4411",
		Status:    model.NoticePartiallyReceived,
		Lines: []model.ShipmentLine{
			{ID: mustUUID(t, "9a1f2b3c-4d5e-6f70-8192-a3b4c5d6e7f8"), SKU: "PRE-ROLL-1G", Quantity: 25, ReceivedQty: 20},
		},
	}

	got := ToJSONNotice(n)
	if got.ASNNumber != "ASN-2026-4411" || got.Status != "partially_received" {
		t.Fatalf("notice = %q/%q", got.ASNNumber, got.Status)
	}
	if len(got.Lines) != 1 || got.Lines[0].ReceivedQty != 20 {
		t.Fatalf("lines = %+v", got.Lines)
	}
}

func TestToJSONAuditEntries_PreservesOrder(t *testing.T) {
	t.Parallel()

	es := []model.AuditEntry{
		{Initiator: "scheduler", Outcome: model.AuditRetry},
		{Initiator: "ops:jmoretti", Outcome: model.AuditSuccess},
	}
	got := ToJSONAuditEntries(es)
	if len(got) != 2 || got[0].Initiator != "scheduler" || got[1].Outcome != "success" {
		t.Fatalf("entries = %+v", got)
	}
}
