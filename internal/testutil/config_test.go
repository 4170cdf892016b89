package testutil

import (
	"net/url"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultTestDBConfig(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want TestDBConfig
	}{
		{
			name: "local defaults",
			want: TestDBConfig{Host: "localhost", Port: "55432", User: "sso", Password: "sso", DBName: "sso"},
		},
		{
			name: "ci overrides",
			env: map[string]string{
				"TEST_DB_HOST": "postgres",
				"TEST_DB_PORT": "5432",
				"TEST_DB_NAME": "tickets",
			},
			want: TestDBConfig{Host: "postgres", Port: "5432", User: "sso", Password: "sso", DBName: "tickets"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, key := range []string{"TEST_DB_HOST", "TEST_DB_PORT", "TEST_DB_USER", "TEST_DB_PASSWORD", "TEST_DB_NAME"} {
				t.Setenv(key, tt.env[key])
			}
			assert.Equal(t, tt.want, DefaultTestDBConfig())
		})
	}
}

func TestBuildBaseDSN(t *testing.T) {
	t.Setenv("DB_SSL_MODE", "")
	cfg := TestDBConfig{Host: "::1", Port: "5432", User: "sso", Password: "sso", DBName: "tickets"}

	u, err := url.Parse(buildBaseDSN(cfg))
	require.NoError(t, err)
	assert.Equal(t, "[::1]:5432", u.Host)
	assert.Equal(t, "/tickets", u.Path)
	assert.Equal(t, "disable", u.Query().Get("sslmode"))

	t.Setenv("DB_SSL_MODE", "require")
	u, err = url.Parse(buildBaseDSN(cfg))
	require.NoError(t, err)
	assert.Equal(t, "require", u.Query().Get("sslmode"))
}

func TestGenerateSchemaName(t *testing.T) {
	a, b := generateSchemaName(), generateSchemaName()
	assert.Regexp(t, regexp.MustCompile(`^t_[0-9a-f]{8}$`), a)
	assert.NotEqual(t, a, b)
}
