// Package control holds the shared, mutable "control context" that the
// command-ingress path, the emergency-shutoff monitor, and the engine
// controller all touch: the ground-commanded latches and the heartbeat
// timer (spec.md §3). Per Design Notes §9, this is a value passed by
// handle to each task at creation rather than file-scope globals.
package control

import (
	"sync"
	"time"
)

// Flags holds the boolean/counter command latches. Each flag is set by
// the command-ingress path and cleared by the consumer that acts on it
// (spec.md §3).
type Flags struct {
	mu sync.Mutex

	launchCmdCount           int
	abortCmdReceived         bool
	resetAvionicsCmdReceived bool
}

// NewFlags creates a zeroed flag set.
func NewFlags() *Flags {
	return &Flags{}
}

// IncrementLaunch increments the launch counter. Guarded at the call
// site by "phase == ARM" per spec.md §4.2.
func (f *Flags) IncrementLaunch() {
	f.mu.Lock()
	f.launchCmdCount++
	f.mu.Unlock()
}

// LaunchCmdCount returns the current launch-byte count without
// clearing it.
func (f *Flags) LaunchCmdCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.launchCmdCount
}

// ResetLaunchCmdCount clears the launch counter (engine controller, on
// consuming the handshake, or the reset path).
func (f *Flags) ResetLaunchCmdCount() {
	f.mu.Lock()
	f.launchCmdCount = 0
	f.mu.Unlock()
}

// SetAbort latches the ground-commanded abort flag.
func (f *Flags) SetAbort() {
	f.mu.Lock()
	f.abortCmdReceived = true
	f.mu.Unlock()
}

// ConsumeAbort reports whether abort was latched and clears it.
func (f *Flags) ConsumeAbort() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	v := f.abortCmdReceived
	f.abortCmdReceived = false
	return v
}

// SetReset latches the ground-commanded avionics-reset flag.
func (f *Flags) SetReset() {
	f.mu.Lock()
	f.resetAvionicsCmdReceived = true
	f.mu.Unlock()
}

// ConsumeReset reports whether reset was latched and clears it.
func (f *Flags) ConsumeReset() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	v := f.resetAvionicsCmdReceived
	f.resetAvionicsCmdReceived = false
	return v
}

// HeartbeatTimer is the signed time.Duration ground-link liveness timer
// (spec.md §3): reset to its configured timeout on every heartbeat byte,
// decremented by the emergency-shutoff monitor at its tick rate.
// Invariant (spec.md §8): every heartbeat byte strictly increases the
// remaining timeout; no byte decreases it.
type HeartbeatTimer struct {
	mu        sync.Mutex
	timeout   time.Duration
	remaining time.Duration
}

// NewHeartbeatTimer creates a timer already loaded with timeout.
func NewHeartbeatTimer(timeout time.Duration) *HeartbeatTimer {
	return &HeartbeatTimer{timeout: timeout, remaining: timeout}
}

// Reload reloads the timer to its full timeout. Called on every
// heartbeat byte.
func (h *HeartbeatTimer) Reload() {
	h.mu.Lock()
	h.remaining = h.timeout
	h.mu.Unlock()
}

// Tick decrements the remaining time by d and reports whether the timer
// has reached or passed zero.
func (h *HeartbeatTimer) Tick(d time.Duration) (expired bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.remaining -= d
	return h.remaining <= 0
}

// Remaining returns the time left before expiry.
func (h *HeartbeatTimer) Remaining() time.Duration {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.remaining
}
