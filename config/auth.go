package config

import (
	"fmt"
	"strings"
)

// AuthPolicy controls how many authentication handlers are attempted.
type AuthPolicy string

const (
	// AuthPolicyAny stops at the first handler that succeeds.
	AuthPolicyAny AuthPolicy = "any"
	// AuthPolicyAll attempts every handler that supports the credential.
	AuthPolicyAll AuthPolicy = "all"
)

// UnmarshalText implements encoding.TextUnmarshaler for AuthPolicy.
func (a *AuthPolicy) UnmarshalText(text []byte) error {
	v := strings.ToLower(strings.TrimSpace(string(text)))
	switch v {
	case "any", "all":
		*a = AuthPolicy(v)
		return nil
	default:
		return fmt.Errorf("invalid AuthPolicy: %q (valid options: any, all)", v)
	}
}

// OIDCConfig contains the OIDC authorization-code handler configuration.
type OIDCConfig struct {
	Enabled      bool   `env:"ENABLED"       envDefault:"false"`
	ClientID     string `env:"CLIENT_ID"`
	ClientSecret string `env:"CLIENT_SECRET"`
	RedirectURL  string `env:"REDIRECT_URL"  envDefault:"http://localhost:8080/login/callback"`
	Scope        string `env:"SCOPE"         envDefault:"openid profile email groups"`
	DiscoveryURL string `env:"DISCOVERY_URL"`
}

// AcceptUsersConfig controls the static username/password handler.
// Intended for development and testing.
type AcceptUsersConfig struct {
	Enabled bool `env:"ENABLED" envDefault:"false"`
	// Users is a comma separated list of user::password pairs.
	Users []string `env:"USERS" envSeparator:","`
	// Attributes are attached to every principal, as name=value pairs separated by ';'.
	Attributes []string `env:"ATTRIBUTES" envSeparator:";"`
}

// AuthConfig groups all authentication-related configuration.
type AuthConfig struct {
	Policy      AuthPolicy        `env:"AUTH_POLICY" envDefault:"any"`
	OIDC        OIDCConfig        `envPrefix:"AUTH_OIDC_"`
	AcceptUsers AcceptUsersConfig `envPrefix:"AUTH_ACCEPT_USERS_"`
}

// Sanitize trims values and disables handlers that cannot work.
func (a *AuthConfig) Sanitize() {
	if a.Policy == "" {
		a.Policy = AuthPolicyAny
	}
	a.OIDC.DiscoveryURL = strings.TrimSpace(a.OIDC.DiscoveryURL)
	if a.OIDC.Enabled && (a.OIDC.DiscoveryURL == "" || a.OIDC.ClientID == "") {
		a.OIDC.Enabled = false
	}
	users := a.AcceptUsers.Users[:0]
	for _, u := range a.AcceptUsers.Users {
		if u = strings.TrimSpace(u); u != "" {
			users = append(users, u)
		}
	}
	a.AcceptUsers.Users = users
	if len(users) == 0 {
		a.AcceptUsers.Enabled = false
	}
}

// HasHandlers reports whether at least one authentication handler is enabled.
func (a *AuthConfig) HasHandlers() bool {
	return a.OIDC.Enabled || a.AcceptUsers.Enabled
}
