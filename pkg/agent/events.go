package agent

import "github.com/chihyuyeh/coda/pkg/api"

// TurnObserver receives each turn at the moment it is appended to the
// session history, in append order. Implementations back live streaming
// transports; observation must be cheap, a slow observer stalls the
// loop.
type TurnObserver interface {
	ObserveTurn(sessionID string, turn api.Turn)
}

// TurnObserverFunc adapts a function to the TurnObserver interface.
type TurnObserverFunc func(sessionID string, turn api.Turn)

// ObserveTurn calls f.
func (f TurnObserverFunc) ObserveTurn(sessionID string, turn api.Turn) {
	f(sessionID, turn)
}
