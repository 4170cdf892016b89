package ports_test

import (
	"testing"

	"github.com/target/sso-ticket-core/internal/mocks"
	authmocks "github.com/target/sso-ticket-core/internal/mocks/auth"
	"github.com/target/sso-ticket-core/internal/ports"
)

// This test only verifies that our mocks conform to the ports at compile time.
func TestMocksImplementPorts(t *testing.T) {
	t.Helper()

	var _ ports.TicketRegistry = (*mocks.MockTicketRegistry)(nil)
	var _ ports.AuthenticationHandler = (*mocks.MockAuthenticationHandler)(nil)
	var _ ports.Authenticator = (*mocks.MockAuthenticator)(nil)
	var _ ports.ServiceRegistry = (*mocks.MockServiceRegistry)(nil)
	var _ ports.AuthenticationHandler = (*authmocks.StubHandler)(nil)
	var _ ports.ServiceRegistry = (*authmocks.StaticServiceRegistry)(nil)
}
