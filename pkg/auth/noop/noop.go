// Package noop provides an authenticator that accepts all requests.
// Used for development and single-user deployments.
package noop

import (
	"context"
	"net/http"

	"github.com/chihyuyeh/coda/pkg/auth"
)

// Authenticator always returns Yes with an anonymous identity.
type Authenticator struct{}

func (a *Authenticator) Authenticate(_ context.Context, _ *http.Request) auth.Result {
	return auth.Result{
		Decision: auth.Yes,
		Identity: &auth.Identity{
			Subject:     "anonymous",
			ServiceTier: "default",
		},
	}
}
