package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/leafline-pos/ocs-relay/internal/convert"
	"github.com/leafline-pos/ocs-relay/internal/errs"
	"github.com/leafline-pos/ocs-relay/internal/model"
	"github.com/leafline-pos/ocs-relay/internal/service"
)

const healthTimeout = 2 * time.Second

// dateLayout parses snapshot dates from enqueue requests.
const dateLayout = "2006-01-02"

func respond(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func errBody(msg string) map[string]string { return map[string]string{"error": msg} }

// writeError maps service sentinels onto statuses. Anything unmapped is a
// logged 500 with an opaque body.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, errs.ErrValidation):
		respond(w, http.StatusBadRequest, errBody(err.Error()))
	case errors.Is(err, errs.ErrNotFound), errors.Is(err, errs.ErrNoCredential):
		respond(w, http.StatusNotFound, errBody(err.Error()))
	case errors.Is(err, errs.ErrTerminalState),
		errors.Is(err, errs.ErrAlreadyClaimed),
		errors.Is(err, errs.ErrAuthRevoked),
		errors.Is(err, errs.ErrDuplicate):
		respond(w, http.StatusConflict, errBody(err.Error()))
	default:
		s.log.Error("handler",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err))
		respond(w, http.StatusInternalServerError, errBody("internal"))
	}
}

func pathUUID(r *http.Request, name string) (uuid.UUID, error) {
	return uuid.FromString(chi.URLParam(r, name))
}

func limitParam(r *http.Request) int {
	n, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	return n
}

// --- health and status ---

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	if s.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
		defer cancel()
		if err := s.db.Ping(ctx); err != nil {
			respond(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "error": err.Error()})
			return
		}
	}
	respond(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	counts, err := s.ledger.Counts(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := convert.StatusJSON{Service: "ocs-relay", Counts: make(map[string]int64, len(counts))}
	for st, n := range counts {
		out.Counts[string(st)] = n
	}
	respond(w, http.StatusOK, out)
}

// --- enqueue ---

func (s *Server) enqueueSnapshot(w http.ResponseWriter, r *http.Request) {
	storeID, err := pathUUID(r, "storeID")
	if err != nil {
		respond(w, http.StatusBadRequest, errBody("bad store id"))
		return
	}
	var body struct {
		Date         string `json:"date"`
		ItemCount    int    `json:"item_count"`
		PayloadBytes int    `json:"payload_bytes"`
		MaxRetries   int    `json:"max_retries"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respond(w, http.StatusBadRequest, errBody(err.Error()))
		return
	}
	date, err := time.Parse(dateLayout, body.Date)
	if err != nil {
		respond(w, http.StatusBadRequest, errBody("bad date, want YYYY-MM-DD"))
		return
	}

	sub, created, err := s.ledger.EnqueueSnapshot(r.Context(), service.SnapshotInput{
		StoreID:      storeID,
		Date:         date,
		ItemCount:    body.ItemCount,
		PayloadBytes: body.PayloadBytes,
		MaxRetries:   body.MaxRetries,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.respondEnqueue(w, sub, created)
}

func (s *Server) enqueueEvent(w http.ResponseWriter, r *http.Request) {
	storeID, err := pathUUID(r, "storeID")
	if err != nil {
		respond(w, http.StatusBadRequest, errBody("bad store id"))
		return
	}
	var body struct {
		TransactionRef string    `json:"transaction_ref"`
		Type           string    `json:"type"`
		SKU            string    `json:"sku"`
		Quantity       float64   `json:"quantity"`
		OccurredAt     time.Time `json:"occurred_at"`
		MaxRetries     int       `json:"max_retries"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respond(w, http.StatusBadRequest, errBody(err.Error()))
		return
	}

	sub, created, err := s.ledger.EnqueueEvent(r.Context(), service.EventInput{
		StoreID:        storeID,
		TransactionRef: body.TransactionRef,
		Type:           model.EventType(body.Type),
		SKU:            body.SKU,
		Quantity:       body.Quantity,
		OccurredAt:     body.OccurredAt,
		MaxRetries:     body.MaxRetries,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.respondEnqueue(w, sub, created)
}

// respondEnqueue acknowledges an enqueue: 201 for a fresh row, 200 with the
// existing id for a dedupe hit. Fresh work wakes the scheduler.
func (s *Server) respondEnqueue(w http.ResponseWriter, sub *model.Submission, created bool) {
	code := http.StatusOK
	if created {
		code = http.StatusCreated
		s.wake()
	}
	respond(w, code, convert.EnqueueResultJSON{
		ID:      sub.ID.String(),
		Status:  string(sub.Status),
		Created: created,
	})
}

// --- ledger queries ---

func (s *Server) listSubmissions(w http.ResponseWriter, r *http.Request) {
	storeID, err := pathUUID(r, "storeID")
	if err != nil {
		respond(w, http.StatusBadRequest, errBody("bad store id"))
		return
	}
	status := model.SubmissionStatus(r.URL.Query().Get("status"))
	subs, err := s.ledger.ListByStore(r.Context(), storeID, status, limitParam(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	respond(w, http.StatusOK, convert.ToJSONSubmissions(subs))
}

func (s *Server) getSubmission(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		respond(w, http.StatusBadRequest, errBody("bad submission id"))
		return
	}
	sub, err := s.ledger.Get(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	respond(w, http.StatusOK, convert.ToJSONSubmission(sub))
}

func (s *Server) deadLetters(w http.ResponseWriter, r *http.Request) {
	subs, err := s.ledger.DeadLetters(r.Context(), limitParam(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	respond(w, http.StatusOK, convert.ToJSONSubmissions(subs))
}

// --- operator overrides ---

func (s *Server) requeue(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		respond(w, http.StatusBadRequest, errBody("bad submission id"))
		return
	}
	var body struct {
		Actor string `json:"actor"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respond(w, http.StatusBadRequest, errBody(err.Error()))
		return
	}
	if body.Actor == "" {
		respond(w, http.StatusBadRequest, errBody("actor is required"))
		return
	}
	if err := s.ledger.Requeue(r.Context(), id, body.Actor); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.wake()
	respond(w, http.StatusOK, map[string]string{"id": id.String(), "status": string(model.StatusPending)})
}

func (s *Server) abandon(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		respond(w, http.StatusBadRequest, errBody("bad submission id"))
		return
	}
	var body struct {
		Actor  string `json:"actor"`
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respond(w, http.StatusBadRequest, errBody(err.Error()))
		return
	}
	if body.Actor == "" {
		respond(w, http.StatusBadRequest, errBody("actor is required"))
		return
	}
	if err := s.ledger.Abandon(r.Context(), id, body.Actor, body.Reason); err != nil {
		s.writeError(w, r, err)
		return
	}
	respond(w, http.StatusOK, map[string]string{"id": id.String(), "status": string(model.StatusFailed)})
}

// --- credentials ---

func (s *Server) putCredential(w http.ResponseWriter, r *http.Request) {
	storeID, err := pathUUID(r, "storeID")
	if err != nil {
		respond(w, http.StatusBadRequest, errBody("bad store id"))
		return
	}
	var body struct {
		ClientID     string `json:"client_id"`
		ClientSecret string `json:"client_secret"`
		RefreshToken string `json:"refresh_token"`
		Scope        string `json:"scope"`
		Actor        string `json:"actor"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respond(w, http.StatusBadRequest, errBody(err.Error()))
		return
	}
	if body.Actor == "" {
		respond(w, http.StatusBadRequest, errBody("actor is required"))
		return
	}

	err = s.creds.Provision(r.Context(), service.ProvisionInput{
		StoreID:      storeID,
		ClientID:     body.ClientID,
		ClientSecret: body.ClientSecret,
		RefreshToken: body.RefreshToken,
		Scope:        body.Scope,
		Actor:        body.Actor,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- shipment notices ---

func (s *Server) listNotices(w http.ResponseWriter, r *http.Request) {
	storeID, err := pathUUID(r, "storeID")
	if err != nil {
		respond(w, http.StatusBadRequest, errBody("bad store id"))
		return
	}
	status := model.NoticeStatus(r.URL.Query().Get("status"))
	notices, err := s.receiving.ListNotices(r.Context(), storeID, status, limitParam(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	respond(w, http.StatusOK, convert.ToJSONNotices(notices))
}

func (s *Server) getNotice(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		respond(w, http.StatusBadRequest, errBody("bad notice id"))
		return
	}
	n, err := s.receiving.GetNotice(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	respond(w, http.StatusOK, convert.ToJSONNotice(n))
}

func (s *Server) recordReceipt(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		respond(w, http.StatusBadRequest, errBody("bad notice id"))
		return
	}
	var body struct {
		Receipts []struct {
			LineID   string  `json:"line_id"`
			Quantity float64 `json:"quantity"`
		} `json:"receipts"`
		Actor string `json:"actor"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respond(w, http.StatusBadRequest, errBody(err.Error()))
		return
	}
	if body.Actor == "" {
		respond(w, http.StatusBadRequest, errBody("actor is required"))
		return
	}

	receipts := make([]model.LineReceipt, 0, len(body.Receipts))
	for i, rec := range body.Receipts {
		lineID, err := uuid.FromString(rec.LineID)
		if err != nil {
			respond(w, http.StatusBadRequest, errBody("receipt["+strconv.Itoa(i)+"] bad line id"))
			return
		}
		receipts = append(receipts, model.LineReceipt{LineID: lineID, Quantity: rec.Quantity})
	}

	n, err := s.receiving.RecordReceipt(r.Context(), id, receipts, body.Actor)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	respond(w, http.StatusOK, convert.ToJSONNotice(n))
}

func (s *Server) cancelNotice(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		respond(w, http.StatusBadRequest, errBody("bad notice id"))
		return
	}
	var body struct {
		Actor string `json:"actor"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respond(w, http.StatusBadRequest, errBody(err.Error()))
		return
	}
	if body.Actor == "" {
		respond(w, http.StatusBadRequest, errBody("actor is required"))
		return
	}
	if err := s.receiving.Cancel(r.Context(), id, body.Actor); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- ASN sync ---

func (s *Server) syncASN(w http.ResponseWriter, r *http.Request) {
	if s.sync == nil {
		respond(w, http.StatusServiceUnavailable, errBody("asn sync is not enabled"))
		return
	}
	storeID, err := pathUUID(r, "storeID")
	if err != nil {
		respond(w, http.StatusBadRequest, errBody("bad store id"))
		return
	}
	inserted, skipped, err := s.sync.FetchAndReconcile(r.Context(), storeID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	respond(w, http.StatusOK, convert.SyncResultJSON{
		StoreID:  storeID.String(),
		Inserted: inserted,
		Skipped:  skipped,
	})
}

// --- audit trail ---

func (s *Server) submissionAudit(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		respond(w, http.StatusBadRequest, errBody("bad submission id"))
		return
	}
	entries, err := s.audits.Trail(r.Context(), id, limitParam(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	respond(w, http.StatusOK, convert.ToJSONAuditEntries(entries))
}

func (s *Server) storeAudit(w http.ResponseWriter, r *http.Request) {
	storeID, err := pathUUID(r, "storeID")
	if err != nil {
		respond(w, http.StatusBadRequest, errBody("bad store id"))
		return
	}
	entries, err := s.audits.StoreTrail(r.Context(), storeID, limitParam(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	respond(w, http.StatusOK, convert.ToJSONAuditEntries(entries))
}
