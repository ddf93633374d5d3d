package middleware

import "github.com/aretw0/pitch/pkg/ports"

// Middleware allows wrapping a VisitStore to add behavior.
type Middleware func(ports.VisitStore) ports.VisitStore

// Chain wraps store so that the first middleware is the outermost.
func Chain(store ports.VisitStore, mws ...Middleware) ports.VisitStore {
	for i := len(mws) - 1; i >= 0; i-- {
		store = mws[i](store)
	}
	return store
}
