// Package mocks provides gomock mocks of the ticket core ports.
//
// The mocks are generated with go.uber.org/mock (gomock) and checked in.
// To regenerate mocks after interface changes, run:
//
//	go generate ./internal/mocks
//
// Usage in tests:
//
//	ctrl := gomock.NewController(t)
//	registry := mocks.NewMockTicketRegistry(ctrl)
//	registry.EXPECT().Get(gomock.Any(), "TGT-1").Return(tgt, nil)
package mocks

// Generate mock for TicketRegistry interface from internal/ports package.
// This creates MockTicketRegistry with methods for all TicketRegistry interface methods:
// Add, Get, Update, Delete, GetAll
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=ticket_registry_mock.go github.com/target/sso-ticket-core/internal/ports TicketRegistry

// Generate mocks for the authentication ports.
// AuthenticationHandler: Name, Supports, Authenticate
// Authenticator: Authenticate
// ServiceRegistry: FindService
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=auth_mock.go github.com/target/sso-ticket-core/internal/ports AuthenticationHandler,Authenticator,ServiceRegistry
