package lifecycle

import "sync/atomic"

// State carries the process drain flag shared by main and the health handler.
type State struct {
	shuttingDown atomic.Bool
}

// SetShuttingDown sets the shutdown flag. Call when SIGTERM/SIGINT received.
// Health handler returns 503 with status shutting-down while true.
func (s *State) SetShuttingDown(v bool) {
	s.shuttingDown.Store(v)
}

// IsShuttingDown returns true if the process is draining and should not receive new traffic.
// A nil State is never shutting down.
func (s *State) IsShuttingDown() bool {
	if s == nil {
		return false
	}
	return s.shuttingDown.Load()
}
