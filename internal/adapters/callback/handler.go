// Package callback authenticates proxy callback URLs by requesting them.
package callback

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	domainauth "github.com/target/sso-ticket-core/internal/domain/auth"
	apperrors "github.com/target/sso-ticket-core/internal/errors"
	"github.com/target/sso-ticket-core/internal/ports"
)

// DefaultName is the handler name recorded in authentications.
const DefaultName = "http-callback"

// Config controls the callback handler.
type Config struct {
	Name       string
	HTTPClient *http.Client // Optional, defaults to a client with a 10s timeout that does not follow redirects
	// AllowInsecure accepts plain http callback URLs. Intended for tests only.
	AllowInsecure bool
}

var _ ports.AuthenticationHandler = (*Handler)(nil)

// Handler accepts an HTTP service credential when its callback URL answers a GET
// with a 2xx status. The callback URL becomes the principal id.
type Handler struct {
	name          string
	client        *http.Client
	allowInsecure bool
}

// NewHandler constructs a Handler.
func NewHandler(cfg Config) *Handler {
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{
			Timeout: 10 * time.Second,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		}
	}
	name := cfg.Name
	if name == "" {
		name = DefaultName
	}
	return &Handler{name: name, client: client, allowInsecure: cfg.AllowInsecure}
}

func (h *Handler) Name() string { return h.name }

func (h *Handler) Supports(c domainauth.Credential) bool {
	_, ok := c.(domainauth.HTTPBasedServiceCredential)
	return ok
}

func (h *Handler) Authenticate(ctx context.Context, c domainauth.Credential) (domainauth.HandlerResult, error) {
	cred, ok := c.(domainauth.HTTPBasedServiceCredential)
	if !ok {
		return domainauth.HandlerResult{}, &apperrors.AppError{Code: apperrors.ErrCodeInvalidCredentials, Message: "unsupported credential"}
	}
	u, err := url.Parse(cred.CallbackURL)
	if err != nil || u.Host == "" {
		return domainauth.HandlerResult{}, &apperrors.AppError{
			Code:    apperrors.ErrCodeInvalidCredentials,
			Message: fmt.Sprintf("invalid callback url %q", cred.CallbackURL),
			Cause:   err,
		}
	}
	if u.Scheme != "https" && !(h.allowInsecure && u.Scheme == "http") {
		return domainauth.HandlerResult{}, &apperrors.AppError{
			Code:    apperrors.ErrCodeSecurity,
			Message: "callback url must use https",
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return domainauth.HandlerResult{}, fmt.Errorf("build callback request: %w", err)
	}
	resp, err := h.client.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return domainauth.HandlerResult{}, apperrors.MapStoreError(err)
		}
		return domainauth.HandlerResult{}, fmt.Errorf("call %s: %w", u.Host, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return domainauth.HandlerResult{}, &apperrors.AppError{
			Code:    apperrors.ErrCodeInvalidCredentials,
			Message: fmt.Sprintf("callback returned status %d", resp.StatusCode),
		}
	}
	return domainauth.HandlerResult{
		HandlerName: h.name,
		Credential:  domainauth.NewCredentialMetaData(cred),
		Principal:   domainauth.Principal{ID: cred.CallbackURL},
	}, nil
}
