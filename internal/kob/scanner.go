package kob

import (
	"time"

	"github.com/morsekob/gokob/internal/morse"
)

// keyScanner turns sampled key states into code sequences. It is pure
// state driven by (closed, now) observations, so the polling loop stays
// trivial and tests can feed it synthetic timelines.
type keyScanner struct {
	debounce     time.Duration
	codeSpace    time.Duration
	circuitClose time.Duration
	noCloser     bool

	lastChange    time.Time
	lastClosed    bool
	circuitClosed bool
	code          morse.CodeSequence
}

func newKeyScanner(cfg Config, start time.Time) *keyScanner {
	return &keyScanner{
		debounce:     cfg.Debounce,
		codeSpace:    cfg.CodeSpace,
		circuitClose: cfg.CircuitClose,
		noCloser:     cfg.NoKeyCloser,
		lastChange:   start,
	}
}

// step ingests one sample. It returns a completed sequence when the key
// has been idle past the code-space gap, when the closer latches or
// unlatches the circuit, or when the element cap is reached.
func (s *keyScanner) step(closed bool, now time.Time) (morse.CodeSequence, bool) {
	if closed != s.lastClosed {
		// Contact chatter inside the debounce window is coalesced
		// into the surrounding element.
		if now.Sub(s.lastChange) < s.debounce {
			return nil, false
		}
		dt := morse.Duration(now.Sub(s.lastChange).Milliseconds())
		s.lastChange = now
		s.lastClosed = closed
		switch {
		case closed:
			s.code = append(s.code, -dt)
		case s.circuitClosed:
			// Closer opened: report the hold time and hand the
			// circuit back to the key.
			s.circuitClosed = false
			s.code = append(s.code, -dt, morse.Unlatch)
			return s.take(), true
		default:
			s.code = append(s.code, dt)
		}
	}

	idle := now.Sub(s.lastChange)
	if !s.lastClosed && len(s.code) > 0 && idle > s.codeSpace {
		return s.take(), true
	}
	if s.lastClosed && !s.circuitClosed && !s.noCloser && idle > s.circuitClose {
		// Key held closed well past any element: the closer has been
		// shut and the circuit is latched for remote traffic.
		s.circuitClosed = true
		s.code = append(s.code, morse.Latch)
		return s.take(), true
	}
	if len(s.code) >= morse.MaxSequenceLen {
		return s.take(), true
	}
	return nil, false
}

func (s *keyScanner) take() morse.CodeSequence {
	code := s.code
	s.code = nil
	if len(code) > morse.MaxSequenceLen {
		code = code[:morse.MaxSequenceLen]
	}
	return code
}
