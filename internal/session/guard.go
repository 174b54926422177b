package session

// MoveGuard is the submission lock: set immediately before a move intent is
// emitted and cleared by the next authoritative board-affecting event or by
// disconnect. It guarantees at most one in-flight move per turn; validity of
// the move itself stays the server's responsibility.
//
// The guard lives inside the session model and is only touched on the
// machine's goroutine, so it needs no synchronization of its own.
type MoveGuard struct {
	held bool
}

// TryAcquire takes the lock, reporting false if it is already held.
func (g *MoveGuard) TryAcquire() bool {
	if g.held {
		return false
	}
	g.held = true
	return true
}

// Release clears the lock. Releasing an idle guard is a no-op.
func (g *MoveGuard) Release() {
	g.held = false
}

// Held reports whether a move intent is outstanding.
func (g MoveGuard) Held() bool {
	return g.held
}
