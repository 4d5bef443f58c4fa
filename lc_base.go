package jobqueue

import "sync/atomic"

// engine lifecycle states. Unlike a strict start-once/stop-once worker,
// JobQueue's Start and Pause are idempotent: calling either while
// already in that state is a no-op, matching the "Start(): idempotent"
// requirement. Stop is terminal; a stopped JobQueue is not restarted,
// but Stop itself works from any prior state, including an engine that
// was never started (it still has storage to disconnect).
const (
	lcIdle int32 = iota
	lcStarted
	lcPaused
	lcStopped
)

type lcBase struct {
	state atomic.Int32
}

// tryStart transitions idle or paused into started. It reports whether
// the loop actually needs (re)starting: false means the engine was
// already started, or has been stopped for good, and the call is a
// no-op.
func (lb *lcBase) tryStart() (shouldRun bool) {
	for {
		cur := lb.state.Load()
		if cur == lcStarted || cur == lcStopped {
			return false
		}
		if lb.state.CompareAndSwap(cur, lcStarted) {
			return true
		}
	}
}

// tryPause transitions started into paused. It reports whether the
// transition happened; false means the engine was already paused or
// was never started.
func (lb *lcBase) tryPause() bool {
	return lb.state.CompareAndSwap(lcStarted, lcPaused)
}

// tryStop transitions any prior state into stopped. It reports whether
// the transition happened; false means the engine was already stopped.
func (lb *lcBase) tryStop() bool {
	for {
		cur := lb.state.Load()
		if cur == lcStopped {
			return false
		}
		if lb.state.CompareAndSwap(cur, lcStopped) {
			return true
		}
	}
}
