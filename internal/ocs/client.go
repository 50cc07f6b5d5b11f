// Package ocs implements the HTTP client for the regulator's data platform.
// Every method performs exactly one bounded exchange; retry policy lives in
// the scheduler, never here.
package ocs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	defaultTimeout = 15 * time.Second
	maxBodyBytes   = 64 * 1024
)

// Data-plane endpoint paths, also used to label audit entries.
const (
	PathPositions = "/v1/positions"
	PathEvents    = "/v1/inventory-events"
	PathNotices   = "/v1/shipment-notices"
)

// Config configures the client. BaseURL and TokenURL are required.
type Config struct {
	BaseURL   string
	TokenURL  string
	Timeout   time.Duration
	UserAgent string
}

// Client talks to the regulator's token and data endpoints.
type Client struct {
	baseURL   string
	tokenURL  string
	hc        *http.Client
	userAgent string
}

// New validates the endpoint URLs and constructs a client with a bounded
// per-call timeout.
func New(cfg Config) (*Client, error) {
	if _, err := url.ParseRequestURI(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("base url: %w", err)
	}
	if _, err := url.ParseRequestURI(cfg.TokenURL); err != nil {
		return nil, fmt.Errorf("token url: %w", err)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	ua := cfg.UserAgent
	if ua == "" {
		ua = "ocs-relay"
	}
	return &Client{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		tokenURL:  cfg.TokenURL,
		hc:        &http.Client{Timeout: timeout},
		userAgent: ua,
	}, nil
}

// Token performs one token-endpoint exchange. Non-2xx responses come back as
// *TokenError so the credential service can distinguish provider rejection
// from outage; transport failures are returned as plain wrapped errors.
func (c *Client) Token(ctx context.Context, req TokenRequest) (*TokenResponse, error) {
	form := url.Values{
		"client_id":     {req.ClientID},
		"client_secret": {req.ClientSecret},
	}
	if req.RefreshToken != "" {
		form.Set("grant_type", "refresh_token")
		form.Set("refresh_token", req.RefreshToken)
	} else {
		form.Set("grant_type", "client_credentials")
	}
	if req.Scope != "" {
		form.Set("scope", req.Scope)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("token request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	httpReq.Header.Set("User-Agent", c.userAgent)

	resp, err := c.hc.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("token exchange: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("token response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var oe struct {
			Error       string `json:"error"`
			Description string `json:"error_description"`
		}
		_ = json.Unmarshal(body, &oe)
		return nil, &TokenError{HTTPStatus: resp.StatusCode, Code: oe.Error, Description: oe.Description}
	}

	var tok TokenResponse
	if err := json.Unmarshal(body, &tok); err != nil {
		return nil, fmt.Errorf("decode token response: %w", err)
	}
	if tok.AccessToken == "" {
		return nil, errors.New("token response missing access_token")
	}
	return &tok, nil
}

// SubmitPositionSnapshot delivers a daily position report.
func (c *Client) SubmitPositionSnapshot(ctx context.Context, token string, p SnapshotPayload) (Result, error) {
	return c.submit(ctx, PathPositions, token, p)
}

// SubmitInventoryEvent delivers one inventory transaction.
func (c *Client) SubmitInventoryEvent(ctx context.Context, token string, p EventPayload) (Result, error) {
	return c.submit(ctx, PathEvents, token, p)
}

// submit performs one POST exchange and maps the response to a Result. The
// Result is valid even when an error is returned: transport failures yield
// Outcome == OutcomeTransient with TimedOut set when applicable.
func (c *Client) submit(ctx context.Context, path, token string, payload any) (Result, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return Result{Outcome: OutcomeRejected, ErrorMessage: err.Error()}, fmt.Errorf("marshal payload: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return Result{Outcome: OutcomeTransient, ErrorMessage: err.Error()}, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+token)
	httpReq.Header.Set("User-Agent", c.userAgent)

	resp, err := c.hc.Do(httpReq)
	if err != nil {
		return Result{
			Outcome:      OutcomeTransient,
			TimedOut:     IsTimeout(err),
			ErrorMessage: err.Error(),
		}, fmt.Errorf("post %s: %w", path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return Result{
			HTTPStatus:   resp.StatusCode,
			Outcome:      OutcomeTransient,
			TimedOut:     IsTimeout(err),
			ErrorMessage: err.Error(),
		}, fmt.Errorf("read %s response: %w", path, err)
	}

	res := Result{
		HTTPStatus: resp.StatusCode,
		RawBody:    raw,
		Outcome:    Classify(resp.StatusCode),
	}

	switch res.Outcome {
	case OutcomeAccepted:
		var ok struct {
			ReferenceID string `json:"referenceId"`
		}
		if err := json.Unmarshal(raw, &ok); err != nil || ok.ReferenceID == "" {
			// 2xx without a reference id is not an acceptance we can prove;
			// keep it retryable and let the regulator dedupe.
			res.Outcome = OutcomeTransient
			res.ErrorMessage = "accepted response missing referenceId"
			return res, nil
		}
		res.ExternalRef = ok.ReferenceID
	default:
		code, msg := decodeError(raw)
		res.ErrorCode = code
		res.ErrorMessage = msg
	}
	return res, nil
}

// FetchShipmentNotices returns inbound ASNs for a store since the watermark.
func (c *Client) FetchShipmentNotices(ctx context.Context, token string, q NoticeQuery) (*NoticeList, error) {
	u, err := url.Parse(c.baseURL + PathNotices)
	if err != nil {
		return nil, fmt.Errorf("notices url: %w", err)
	}
	params := url.Values{"storeId": {q.StoreID}}
	if !q.Since.IsZero() {
		params.Set("since", q.Since.UTC().Format(time.RFC3339))
	}
	u.RawQuery = params.Encode()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+token)
	httpReq.Header.Set("User-Agent", c.userAgent)

	resp, err := c.hc.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", PathNotices, err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read notices response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		code, msg := decodeError(raw)
		return nil, &APIError{HTTPStatus: resp.StatusCode, Code: code, Message: msg}
	}

	var list NoticeList
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, fmt.Errorf("decode notices response: %w", err)
	}
	return &list, nil
}

// decodeError extracts {code, message} from the regulator's error envelope,
// falling back to the raw body as the message.
func decodeError(raw []byte) (string, string) {
	var eb struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(raw, &eb); err == nil && (eb.Error.Code != "" || eb.Error.Message != "") {
		return eb.Error.Code, eb.Error.Message
	}
	msg := strings.TrimSpace(string(raw))
	if len(msg) > 256 {
		msg = msg[:256]
	}
	return "", msg
}

// IsTimeout reports whether err is a deadline or network timeout. Client
// methods wrap transport errors, so the check survives the wrapping.
func IsTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
