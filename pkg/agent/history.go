package agent

import "github.com/chihyuyeh/coda/pkg/api"

// History is the append-only turn sequence of one session. Turns are
// never mutated or removed once appended; truncation for model context
// happens at read time via Window and never alters the stored history.
//
// History itself is not synchronized. Session guards all access.
type History struct {
	turns []api.Turn
}

// Append adds a turn to the end of the history.
func (h *History) Append(t api.Turn) {
	h.turns = append(h.turns, t)
}

// Len returns the number of turns.
func (h *History) Len() int {
	return len(h.turns)
}

// All returns a copy of the full history in append order.
func (h *History) All() []api.Turn {
	out := make([]api.Turn, len(h.turns))
	copy(out, h.turns)
	return out
}

// Window returns a copy of the most recent turns, at most max when
// max > 0. The window always extends back at least to the most recent
// user turn, so the model never loses the question it is currently
// answering even when the window is smaller than the current round.
func (h *History) Window(max int) []api.Turn {
	if max <= 0 || len(h.turns) <= max {
		return h.All()
	}
	start := len(h.turns) - max
	for i := len(h.turns) - 1; i >= 0; i-- {
		if h.turns[i].Role == api.RoleUser {
			if i < start {
				start = i
			}
			break
		}
	}
	out := make([]api.Turn, len(h.turns)-start)
	copy(out, h.turns[start:])
	return out
}
