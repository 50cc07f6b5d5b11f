// Package httpserver exposes the relay's operator API: enqueue, ledger
// queries, credential onboarding, receiving and the audit trail. Error
// sentinels from the service layer are mapped to HTTP statuses here and
// nowhere else.
package httpserver

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/gofrs/uuid/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/leafline-pos/ocs-relay/internal/service"
)

// Waker pokes the scheduler after an enqueue or requeue so new work starts
// without waiting out the sweep tick.
type Waker interface {
	Wake()
}

// Syncer runs an immediate ASN fetch-and-reconcile pass for one store.
type Syncer interface {
	FetchAndReconcile(ctx context.Context, storeID uuid.UUID) (inserted, skipped int, err error)
}

// Pinger reports storage liveness for /healthz.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Config carries the server's collaborators. Log is required; a nil Waker or
// Syncer disables the corresponding endpoint behavior gracefully.
type Config struct {
	Ledger      service.LedgerService
	Credentials service.CredentialService
	Receiving   service.ReceivingService
	Audits      service.AuditQueryService
	Sync        Syncer
	Waker       Waker
	DB          Pinger
	Log         *zap.Logger
}

// Server wires services into HTTP handlers.
type Server struct {
	ledger    service.LedgerService
	creds     service.CredentialService
	receiving service.ReceivingService
	audits    service.AuditQueryService
	sync      Syncer
	waker     Waker
	db        Pinger
	log       *zap.Logger
}

// New constructs a Server with injected services.
func New(cfg Config) *Server {
	return &Server{
		ledger:    cfg.Ledger,
		creds:     cfg.Credentials,
		receiving: cfg.Receiving,
		audits:    cfg.Audits,
		sync:      cfg.Sync,
		waker:     cfg.Waker,
		db:        cfg.DB,
		log:       cfg.Log,
	}
}

// Router assembles the route tree with request-id, logging and recovery
// middleware applied to everything.
func (s *Server) Router() *chi.Mux {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(RequestLogger(s.log))
	r.Use(Recoverer(s.log))

	r.Get("/healthz", s.healthz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/status", s.status)

		r.Route("/stores/{storeID}", func(r chi.Router) {
			r.Post("/snapshots", s.enqueueSnapshot)
			r.Post("/events", s.enqueueEvent)
			r.Get("/submissions", s.listSubmissions)
			r.Put("/credential", s.putCredential)
			r.Get("/shipment-notices", s.listNotices)
			r.Post("/asn/sync", s.syncASN)
			r.Get("/audit", s.storeAudit)
		})

		r.Route("/submissions", func(r chi.Router) {
			r.Get("/dead-letters", s.deadLetters)
			r.Get("/{id}", s.getSubmission)
			r.Post("/{id}/requeue", s.requeue)
			r.Post("/{id}/abandon", s.abandon)
			r.Get("/{id}/audit", s.submissionAudit)
		})

		r.Route("/shipment-notices/{id}", func(r chi.Router) {
			r.Get("/", s.getNotice)
			r.Post("/receipt", s.recordReceipt)
			r.Post("/cancel", s.cancelNotice)
		})
	})

	return r
}

// wake is a nil-safe poke at the scheduler.
func (s *Server) wake() {
	if s.waker != nil {
		s.waker.Wake()
	}
}
