// Package service contains application services for credentials, the
// submission ledger and shipment receiving.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	pkgcrypto "github.com/leafline-pos/ocs-relay/internal/crypto"
	"github.com/leafline-pos/ocs-relay/internal/errs"
	"github.com/leafline-pos/ocs-relay/internal/metrics"
	"github.com/leafline-pos/ocs-relay/internal/model"
	"github.com/leafline-pos/ocs-relay/internal/ocs"
	"github.com/leafline-pos/ocs-relay/internal/repository"
)

// TokenClient is the regulator's token endpoint.
type TokenClient interface {
	Token(ctx context.Context, req ocs.TokenRequest) (*ocs.TokenResponse, error)
}

// Auditor records one audit entry without blocking.
type Auditor interface {
	Record(e model.AuditEntry)
}

// CredentialService hands out valid access tokens and manages provisioning.
type CredentialService interface {
	// GetValidToken returns a token usable for at least the freshness margin,
	// refreshing through the token endpoint when needed. Concurrent callers
	// for one store share a single refresh.
	GetValidToken(ctx context.Context, storeID uuid.UUID) (model.Token, error)

	// Provision stores (or replaces) a store's client credential, sealed at
	// rest. Replacing clears a revoked flag and voids any cached token.
	Provision(ctx context.Context, in ProvisionInput) error

	// ActiveStoreIDs lists stores whose credential is usable.
	ActiveStoreIDs(ctx context.Context) ([]uuid.UUID, error)
}

// ProvisionInput is the operator-supplied credential material.
type ProvisionInput struct {
	StoreID      uuid.UUID
	ClientID     string
	ClientSecret string
	RefreshToken string // optional; providers without one use client credentials only
	Scope        string
	Actor        string // operator identity for the audit trail
}

type CredentialServiceImpl struct {
	creds      repository.CredentialRepository
	client     TokenClient
	sealer     *pkgcrypto.Sealer
	auditor    Auditor
	log        *zap.Logger
	margin     time.Duration
	defaultTTL time.Duration
	group      singleflight.Group
	now        func() time.Time
}

// NewCredentialService constructs CredentialService. Non-positive margin or
// defaultTTL select 5m and 10m.
func NewCredentialService(creds repository.CredentialRepository, client TokenClient, sealer *pkgcrypto.Sealer, auditor Auditor, log *zap.Logger, margin, defaultTTL time.Duration) *CredentialServiceImpl {
	if margin <= 0 {
		margin = 5 * time.Minute
	}
	if defaultTTL <= 0 {
		defaultTTL = 10 * time.Minute
	}
	return &CredentialServiceImpl{
		creds:      creds,
		client:     client,
		sealer:     sealer,
		auditor:    auditor,
		log:        log,
		margin:     margin,
		defaultTTL: defaultTTL,
		now:        time.Now,
	}
}

// GetValidToken returns the cached token while it stays fresh past the margin,
// otherwise refreshes. Exactly one refresh per store runs at a time; waiters
// share its outcome.
func (s *CredentialServiceImpl) GetValidToken(ctx context.Context, storeID uuid.UUID) (model.Token, error) {
	if storeID == uuid.Nil {
		return model.Token{}, fmt.Errorf("%w: empty storeID", errs.ErrValidation)
	}

	c, err := s.creds.Get(ctx, storeID)
	if err != nil {
		return model.Token{}, err
	}
	if c.Revoked {
		return model.Token{}, errs.ErrAuthRevoked
	}
	if tok, ok := s.cachedToken(c); ok {
		return tok, nil
	}

	v, err, _ := s.group.Do(storeID.String(), func() (any, error) {
		return s.refresh(ctx, storeID)
	})
	if err != nil {
		return model.Token{}, err
	}
	return v.(model.Token), nil
}

// cachedToken opens the stored access token if it is still fresh past the
// margin. Expiry is checked before decrypting; an unreadable blob counts as
// stale.
func (s *CredentialServiceImpl) cachedToken(c *model.Credential) (model.Token, bool) {
	if len(c.AccessTokenEnc) == 0 {
		return model.Token{}, false
	}
	if !c.ExpiresAt.After(s.now().Add(s.margin)) {
		return model.Token{}, false
	}
	plain, err := s.sealer.OpenString(c.StoreID, c.AccessTokenEnc)
	if err != nil {
		s.log.Warn("stored access token unreadable, refreshing",
			zap.String("store_id", c.StoreID.String()), zap.Error(err))
		return model.Token{}, false
	}
	return model.Token{AccessToken: plain, TokenType: c.TokenType, ExpiresAt: c.ExpiresAt}, true
}

// refresh performs one token-endpoint exchange and persists the result. It
// re-reads the credential first: a waiter that queued behind another refresh
// finds a fresh token and does no HTTP at all.
func (s *CredentialServiceImpl) refresh(ctx context.Context, storeID uuid.UUID) (model.Token, error) {
	c, err := s.creds.Get(ctx, storeID)
	if err != nil {
		return model.Token{}, err
	}
	if c.Revoked {
		return model.Token{}, errs.ErrAuthRevoked
	}
	if tok, ok := s.cachedToken(c); ok {
		return tok, nil
	}

	req, err := s.tokenRequest(c)
	if err != nil {
		return model.Token{}, err
	}

	started := s.now()
	resp, err := s.client.Token(ctx, req)
	durationMS := s.now().Sub(started).Milliseconds()
	if err != nil {
		return model.Token{}, s.refreshFailed(ctx, c, err, durationMS)
	}

	expiresAt := s.expiry(resp)
	accessEnc, err := s.sealer.SealString(storeID, resp.AccessToken)
	if err != nil {
		return model.Token{}, fmt.Errorf("seal access token: %w", err)
	}
	var refreshEnc []byte
	if resp.RefreshToken != "" {
		if refreshEnc, err = s.sealer.SealString(storeID, resp.RefreshToken); err != nil {
			return model.Token{}, fmt.Errorf("seal refresh token: %w", err)
		}
	}
	tokenType := resp.TokenType
	if tokenType == "" {
		tokenType = "Bearer"
	}
	scope := resp.Scope
	if scope == "" {
		scope = c.Scope
	}
	if err := s.creds.UpdateToken(ctx, storeID, accessEnc, refreshEnc, tokenType, expiresAt, scope, s.now()); err != nil {
		return model.Token{}, err
	}

	metrics.TokenRefreshesTotal.WithLabelValues("success").Inc()
	s.auditor.Record(model.AuditEntry{
		CorrelationID:   storeID,
		StoreID:         storeID,
		Endpoint:        "/oauth/token",
		Method:          "POST",
		RequestSummary:  fmt.Sprintf("refresh grant=%s", grantName(req)),
		ResponseSummary: fmt.Sprintf("token refreshed, expires %s", expiresAt.UTC().Format(time.RFC3339)),
		StatusCode:      200,
		Outcome:         model.AuditSuccess,
		DurationMS:      durationMS,
		Initiator:       "credentials",
	})
	s.log.Info("token refreshed",
		zap.String("store_id", storeID.String()),
		zap.Time("expires_at", expiresAt))

	return model.Token{AccessToken: resp.AccessToken, TokenType: tokenType, ExpiresAt: expiresAt}, nil
}

// refreshFailed audits the failed exchange and maps provider rejection to a
// revoked credential. Outages stay transient and untouched.
func (s *CredentialServiceImpl) refreshFailed(ctx context.Context, c *model.Credential, cause error, durationMS int64) error {
	metrics.TokenRefreshesTotal.WithLabelValues("failure").Inc()

	entry := model.AuditEntry{
		CorrelationID:   c.StoreID,
		StoreID:         c.StoreID,
		Endpoint:        "/oauth/token",
		Method:          "POST",
		RequestSummary:  "refresh",
		ResponseSummary: cause.Error(),
		Outcome:         model.AuditError,
		DurationMS:      durationMS,
		Initiator:       "credentials",
	}

	var te *ocs.TokenError
	if errors.As(cause, &te) {
		entry.StatusCode = te.HTTPStatus
		s.auditor.Record(entry)
		if te.Permanent() {
			if err := s.creds.MarkRevoked(ctx, c.StoreID, s.now()); err != nil {
				s.log.Error("mark revoked failed", zap.String("store_id", c.StoreID.String()), zap.Error(err))
			}
			s.log.Warn("credential revoked by identity provider",
				zap.String("store_id", c.StoreID.String()),
				zap.String("code", te.Code))
			return fmt.Errorf("%w: %s", errs.ErrAuthRevoked, te.Code)
		}
		return fmt.Errorf("token endpoint: %w", te)
	}

	if ocs.IsTimeout(cause) {
		entry.Outcome = model.AuditTimeout
	}
	s.auditor.Record(entry)
	return fmt.Errorf("token exchange: %w", cause)
}

// tokenRequest opens the sealed client material for one exchange.
func (s *CredentialServiceImpl) tokenRequest(c *model.Credential) (ocs.TokenRequest, error) {
	clientID, err := s.sealer.OpenString(c.StoreID, c.ClientIDEnc)
	if err != nil {
		return ocs.TokenRequest{}, fmt.Errorf("open client id: %w", err)
	}
	clientSecret, err := s.sealer.OpenString(c.StoreID, c.ClientSecretEnc)
	if err != nil {
		return ocs.TokenRequest{}, fmt.Errorf("open client secret: %w", err)
	}
	req := ocs.TokenRequest{ClientID: clientID, ClientSecret: clientSecret, Scope: c.Scope}
	if len(c.RefreshTokenEnc) > 0 {
		if req.RefreshToken, err = s.sealer.OpenString(c.StoreID, c.RefreshTokenEnc); err != nil {
			return ocs.TokenRequest{}, fmt.Errorf("open refresh token: %w", err)
		}
	}
	return req, nil
}

// expiry derives the token deadline: expires_in when present, else the exp
// claim of a JWT-shaped access token, else a conservative default.
func (s *CredentialServiceImpl) expiry(resp *ocs.TokenResponse) time.Time {
	now := s.now()
	if resp.ExpiresIn > 0 {
		return now.Add(time.Duration(resp.ExpiresIn) * time.Second)
	}
	if exp, ok := jwtExpiry(resp.AccessToken); ok && exp.After(now) {
		return exp
	}
	return now.Add(s.defaultTTL)
}

// jwtExpiry reads the exp claim without verifying the signature; we only need
// the provider's own expiry hint, not authenticity.
func jwtExpiry(accessToken string) (time.Time, bool) {
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(accessToken, &claims); err != nil {
		return time.Time{}, false
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return claims.ExpiresAt.Time, true
}

func grantName(req ocs.TokenRequest) string {
	if req.RefreshToken != "" {
		return "refresh_token"
	}
	return "client_credentials"
}

// Provision seals and stores the operator-supplied credential.
func (s *CredentialServiceImpl) Provision(ctx context.Context, in ProvisionInput) error {
	if in.StoreID == uuid.Nil {
		return fmt.Errorf("%w: empty storeID", errs.ErrValidation)
	}
	if in.ClientID == "" || in.ClientSecret == "" {
		return fmt.Errorf("%w: empty client id/secret", errs.ErrValidation)
	}

	clientIDEnc, err := s.sealer.SealString(in.StoreID, in.ClientID)
	if err != nil {
		return fmt.Errorf("seal client id: %w", err)
	}
	clientSecretEnc, err := s.sealer.SealString(in.StoreID, in.ClientSecret)
	if err != nil {
		return fmt.Errorf("seal client secret: %w", err)
	}
	var refreshEnc []byte
	if in.RefreshToken != "" {
		if refreshEnc, err = s.sealer.SealString(in.StoreID, in.RefreshToken); err != nil {
			return fmt.Errorf("seal refresh token: %w", err)
		}
	}

	now := s.now()
	c := &model.Credential{
		StoreID:         in.StoreID,
		ClientIDEnc:     clientIDEnc,
		ClientSecretEnc: clientSecretEnc,
		RefreshTokenEnc: refreshEnc,
		Scope:           in.Scope,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.creds.Upsert(ctx, c); err != nil {
		return err
	}

	s.auditor.Record(model.AuditEntry{
		CorrelationID:  in.StoreID,
		StoreID:        in.StoreID,
		Endpoint:       "credential",
		Method:         "PUT",
		RequestSummary: "credential provisioned",
		Outcome:        model.AuditSuccess,
		Initiator:      "ops:" + in.Actor,
	})
	s.log.Info("credential provisioned", zap.String("store_id", in.StoreID.String()))
	return nil
}

// ActiveStoreIDs lists stores whose credential is usable.
func (s *CredentialServiceImpl) ActiveStoreIDs(ctx context.Context) ([]uuid.UUID, error) {
	return s.creds.ListActiveStoreIDs(ctx)
}
