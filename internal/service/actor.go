// Package service holds the dashboard operations behind the HTTP handlers.
//
// Every operation asks the authorization gate first and only then calls the
// CRM with the acting session's credentials. CRM failures are translated to
// AppErrors so the dashboard can tell "not authorized" apart from "try again".
package service

import (
	"context"

	"estatedesk.io/dashboard/internal/authz"
	"estatedesk.io/dashboard/internal/crmapi"
	"estatedesk.io/dashboard/internal/domain"
)

// Actor is the signed-in user an operation runs for. *session.Session
// implements it.
type Actor interface {
	SessionID() string
	ActingRole() domain.Role
	CRM(ctx context.Context) (*crmapi.Client, error)
}

// Capabilities returns the gate's capability snapshot for actor.
func Capabilities(actor Actor) authz.Capabilities {
	return authz.CapabilitiesFor(actor.ActingRole())
}
