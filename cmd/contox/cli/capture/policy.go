package capture

import (
	"time"
)

// Trigger names why a flush was requested.
type Trigger string

const (
	TriggerIdle          Trigger = "idle"
	TriggerInterval      Trigger = "interval"
	TriggerVolume        Trigger = "volume"
	TriggerCommit        Trigger = "commit"
	TriggerPush          Trigger = "push"
	TriggerManual        Trigger = "manual"
	TriggerSessionClosed Trigger = "session_closed"
	TriggerShutdown      Trigger = "shutdown"
)

// Timed reports whether the trigger comes from a timer. Timed flushes are
// skipped rather than queued while a send is in flight.
func (t Trigger) Timed() bool {
	return t == TriggerIdle || t == TriggerInterval
}

// Background reports whether nobody is waiting on the outcome, so failures
// are only logged.
func (t Trigger) Background() bool {
	switch t {
	case TriggerManual, TriggerSessionClosed:
		return false
	default:
		return true
	}
}

// Policy holds the flush thresholds.
type Policy struct {
	IdleTimeout     time.Duration
	MaxEvents       int
	MaxPayloadBytes int
}

// shouldFlush decides whether b must be flushed for trigger at now.
// Callers hold the Watcher mutex.
func (p Policy) shouldFlush(b *Buffer, trigger Trigger, now time.Time) bool {
	switch trigger {
	case TriggerIdle:
		return b.eventCount > 0 && now.Sub(b.lastActivity) > p.IdleTimeout
	case TriggerInterval:
		return b.eventCount > 0
	case TriggerVolume:
		return p.overVolume(b)
	default:
		return !b.empty()
	}
}

// overVolume reports whether b has grown past a cap. A buffer sitting exactly
// at a cap is not over it.
func (p Policy) overVolume(b *Buffer) bool {
	if p.MaxEvents > 0 && b.eventCount > p.MaxEvents {
		return true
	}
	return p.MaxPayloadBytes > 0 && b.payloadSize > p.MaxPayloadBytes
}
