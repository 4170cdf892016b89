// Package oidc authenticates OIDC authorization-code credentials against an identity provider.
package oidc

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	gooidc "github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	domainauth "github.com/target/sso-ticket-core/internal/domain/auth"
	apperrors "github.com/target/sso-ticket-core/internal/errors"
	"github.com/target/sso-ticket-core/internal/ports"
)

// DefaultName is the handler name recorded in authentications.
const DefaultName = "oidc"

// Principal attribute names resolved from claims.
const (
	AttributeEmail      = "email"
	AttributeGivenName  = "given_name"
	AttributeFamilyName = "family_name"
	AttributeGroups     = "groups"
)

var _ ports.AuthenticationHandler = (*Handler)(nil)

// Handler exchanges authorization codes and resolves the principal from the ID
// token, falling back to the userinfo endpoint for missing claims.
type Handler struct {
	name       string
	config     *oauth2.Config
	httpClient *http.Client

	oidcProvider *gooidc.Provider
	verifier     *gooidc.IDTokenVerifier
}

// HandlerConfig holds configuration for the OIDC handler.
type HandlerConfig struct {
	Name         string
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scope        string
	DiscoveryURL string
	HTTPClient   *http.Client // Optional, defaults to a client with a 30s timeout
}

// DiscoveryDocument represents the OIDC discovery document.
type DiscoveryDocument struct {
	Issuer                string `json:"issuer"`
	AuthorizationEndpoint string `json:"authorization_endpoint"`
	TokenEndpoint         string `json:"token_endpoint"`
	UserinfoEndpoint      string `json:"userinfo_endpoint"`
	JwksURI               string `json:"jwks_uri"`
}

// NewHandler fetches the discovery document and creates a Handler.
func NewHandler(ctx context.Context, config HandlerConfig) (*Handler, error) {
	if config.ClientID == "" {
		return nil, errors.New("client ID is required")
	}
	if config.ClientSecret == "" {
		return nil, errors.New("client secret is required")
	}
	if config.RedirectURL == "" {
		return nil, errors.New("redirect URL is required")
	}
	if config.DiscoveryURL == "" {
		return nil, errors.New("discovery URL is required")
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	name := config.Name
	if name == "" {
		name = DefaultName
	}

	h := &Handler{name: name, httpClient: httpClient}

	// Initialize go-oidc provider and verifier (single discovery fetch)
	ctx = context.WithValue(ctx, oauth2.HTTPClient, httpClient)
	issuer := strings.TrimSuffix(config.DiscoveryURL, "/")
	issuer = strings.TrimSuffix(issuer, "/.well-known/openid-configuration")
	op, err := gooidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, fmt.Errorf("oidc new provider: %w", err)
	}
	h.oidcProvider = op
	h.verifier = op.Verifier(&gooidc.Config{ClientID: config.ClientID})

	h.config = &oauth2.Config{
		ClientID:     config.ClientID,
		ClientSecret: config.ClientSecret,
		RedirectURL:  config.RedirectURL,
		Scopes:       strings.Fields(config.Scope),
		Endpoint:     op.Endpoint(),
	}
	return h, nil
}

// Name implements ports.AuthenticationHandler.
func (h *Handler) Name() string { return h.name }

// Supports accepts OIDC authorization-code credentials.
func (h *Handler) Supports(c domainauth.Credential) bool {
	_, ok := c.(domainauth.OIDCCodeCredential)
	return ok
}

// Begin returns the authorization URL and the state to expect back. The state also
// serves as the ID token nonce.
func (h *Handler) Begin() (authURL, state string, err error) {
	state, err = generateRandomString(32)
	if err != nil {
		return "", "", fmt.Errorf("generate state: %w", err)
	}
	authURL = h.config.AuthCodeURL(state,
		oauth2.SetAuthURLParam("nonce", state),
		oauth2.SetAuthURLParam("response_type", "code"),
	)
	return authURL, state, nil
}

// Authenticate exchanges the code and resolves the principal.
func (h *Handler) Authenticate(ctx context.Context, c domainauth.Credential) (domainauth.HandlerResult, error) {
	cred, ok := c.(domainauth.OIDCCodeCredential)
	if !ok {
		return domainauth.HandlerResult{}, invalidCredentials("unsupported credential")
	}
	if cred.Code == "" {
		return domainauth.HandlerResult{}, invalidCredentials("authorization code is required")
	}
	if cred.State == "" {
		return domainauth.HandlerResult{}, invalidCredentials("state is required")
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, h.httpClient)
	token, err := h.config.Exchange(ctx, cred.Code)
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) && re.Response != nil && re.Response.StatusCode < http.StatusInternalServerError {
			return domainauth.HandlerResult{}, apperrors.Wrap(err, apperrors.ErrCodeInvalidCredentials, "exchange code for token")
		}
		return domainauth.HandlerResult{}, fmt.Errorf("exchange code for token: %w", err)
	}

	fields, err := h.extractFromIDToken(ctx, token, cred.State)
	if err != nil {
		return domainauth.HandlerResult{}, apperrors.Wrap(err, apperrors.ErrCodeSecurity, "extract id_token")
	}

	// Fill missing fields from UserInfo
	if fields.email == "" || fields.userID == "" {
		if fillErr := h.fillFromUserInfo(ctx, token.AccessToken, &fields); fillErr != nil {
			return domainauth.HandlerResult{}, fmt.Errorf("get user info: %w", fillErr)
		}
	}
	if fields.userID == "" {
		return domainauth.HandlerResult{}, apperrors.Wrap(errors.New("no subject claim"), apperrors.ErrCodeSecurity, "resolve principal")
	}

	return domainauth.HandlerResult{
		HandlerName: h.name,
		Credential:  domainauth.NewCredentialMetaData(cred),
		Principal:   domainauth.Principal{ID: fields.userID, Attributes: fields.attributes()},
	}, nil
}

func invalidCredentials(msg string) error {
	return &apperrors.AppError{Code: apperrors.ErrCodeInvalidCredentials, Message: msg}
}

// UserInfo represents the user information from the OIDC userinfo endpoint.
type UserInfo struct {
	Subject        string   `json:"sub"`
	SamAccountName string   `json:"samaccountname"`
	FirstName      string   `json:"firstname"`
	LastName       string   `json:"lastname"`
	Mail           string   `json:"mail"`
	MemberOf       []string `json:"memberof"`
}

func (h *Handler) getUserInfo(ctx context.Context, accessToken string) (*UserInfo, error) {
	ui, err := h.oidcProvider.UserInfo(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken}))
	if err != nil {
		return nil, fmt.Errorf("fetch user info: %w", err)
	}
	var userInfo UserInfo
	if claimsErr := ui.Claims(&userInfo); claimsErr != nil {
		return nil, fmt.Errorf("decode user info: %w", claimsErr)
	}
	return &userInfo, nil
}

type idFields struct {
	userID     string
	email      string
	givenName  string
	familyName string
	groups     []string
}

func (f idFields) attributes() map[string][]string {
	out := map[string][]string{}
	set := func(name, v string) {
		if v != "" {
			out[name] = []string{v}
		}
	}
	set(AttributeEmail, f.email)
	set(AttributeGivenName, f.givenName)
	set(AttributeFamilyName, f.familyName)
	if len(f.groups) > 0 {
		out[AttributeGroups] = slices.Clone(f.groups)
	}
	return out
}

func (h *Handler) extractFromIDToken(ctx context.Context, tok *oauth2.Token, expectedNonce string) (idFields, error) {
	var f idFields
	if !h.hasOpenIDScope() {
		return f, nil
	}
	rawID, err := getIDTokenFromToken(tok)
	if err != nil {
		return f, err
	}
	idTok, err := h.verifier.Verify(ctx, rawID)
	if err != nil {
		return f, fmt.Errorf("verify id_token: %w", err)
	}
	var claims idTokenADClaims
	if claimsErr := idTok.Claims(&claims); claimsErr != nil {
		return f, fmt.Errorf("parse id_token claims: %w", claimsErr)
	}
	if claims.Nonce != expectedNonce {
		return f, errors.New("invalid nonce")
	}
	return mapIDTokenClaims(claims), nil
}

func (h *Handler) fillFromUserInfo(ctx context.Context, accessToken string, f *idFields) error {
	ui, err := h.getUserInfo(ctx, accessToken)
	if err != nil {
		return err
	}
	fillFromUserInfoClaims(f, *ui)
	return nil
}

// idTokenADClaims represents a superset of OIDC and AD/ADFS claim shapes.
type idTokenADClaims struct {
	Sub            string   `json:"sub"`
	SamAccountName string   `json:"samaccountname"`
	FirstName      string   `json:"firstname"`
	LastName       string   `json:"lastname"`
	Mail           string   `json:"mail"`
	MemberOf       []string `json:"memberof"`
	Nonce          string   `json:"nonce"`
}

func mapIDTokenClaims(c idTokenADClaims) idFields {
	return idFields{
		userID:     firstNonEmpty(c.SamAccountName, c.Sub),
		email:      c.Mail,
		givenName:  c.FirstName,
		familyName: c.LastName,
		groups:     c.MemberOf,
	}
}

// fillFromUserInfoClaims fills missing fields only.
func fillFromUserInfoClaims(f *idFields, ui UserInfo) {
	if f.userID == "" {
		f.userID = firstNonEmpty(ui.SamAccountName, ui.Subject)
	}
	if f.email == "" {
		f.email = ui.Mail
	}
	if f.givenName == "" {
		f.givenName = ui.FirstName
	}
	if f.familyName == "" {
		f.familyName = ui.LastName
	}
	if len(f.groups) == 0 {
		f.groups = ui.MemberOf
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// generateRandomString generates a cryptographically secure URL-safe random string of exact length.
func generateRandomString(length int) (string, error) {
	if length <= 0 {
		return "", nil
	}
	b := make([]byte, (length*3+3)/4+1)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b)[:length], nil
}

func (h *Handler) hasOpenIDScope() bool {
	return slices.Contains(h.config.Scopes, "openid")
}

func getIDTokenFromToken(tok *oauth2.Token) (string, error) {
	if tok == nil {
		return "", errors.New("nil token")
	}
	s, ok := tok.Extra("id_token").(string)
	if !ok || s == "" {
		return "", errors.New("missing id_token in token response")
	}
	return s, nil
}
