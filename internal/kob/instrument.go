package kob

import (
	"errors"
	"sync"
)

// ErrInstrumentUnavailable reports a missing or failed key/sounder
// backend. The port degrades and keeps running; it does not retry into
// the error.
var ErrInstrumentUnavailable = errors.New("kob: instrument unavailable")

// Status is the health of one half (key or sounder) of the port.
type Status int

const (
	StatusAvailable Status = iota
	StatusUnavailable
)

func (s Status) String() string {
	if s == StatusUnavailable {
		return "unavailable"
	}
	return "available"
}

// Instrument is the contract a hardware or audio driver satisfies:
// a key state source and a sounder drive sink. Serial, GPIO and audio
// synthesis backends live outside the engine; the engine ships Null and
// Virtual.
type Instrument interface {
	// KeyState reports whether the key circuit is currently closed.
	KeyState() (bool, error)
	// Drive energizes (true) or releases (false) the sounder.
	Drive(closed bool) error
}

// Null is the no-hardware backend: the key is permanently open and the
// sounder accepts writes silently. Used when operating keyboard-only.
type Null struct{}

func (Null) KeyState() (bool, error) { return false, nil }
func (Null) Drive(bool) error        { return nil }

// Virtual is a program-driven instrument: the keyboard sender and tests
// close and open the key in software, and sounder transitions are
// observable. Safe for concurrent use.
type Virtual struct {
	mu        sync.Mutex
	keyClosed bool
	sounder   bool
	keyErr    error
	driveErr  error
	onDrive   func(closed bool)
}

func NewVirtual() *Virtual { return &Virtual{} }

func (v *Virtual) KeyState() (bool, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.keyErr != nil {
		return false, v.keyErr
	}
	return v.keyClosed, nil
}

func (v *Virtual) Drive(closed bool) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.driveErr != nil {
		return v.driveErr
	}
	v.sounder = closed
	if v.onDrive != nil {
		v.onDrive(closed)
	}
	return nil
}

// SetKey closes or opens the virtual key.
func (v *Virtual) SetKey(closed bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.keyClosed = closed
}

// Sounder reports the current sounder state.
func (v *Virtual) Sounder() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.sounder
}

// OnDrive registers an observer for sounder transitions.
func (v *Virtual) OnDrive(fn func(closed bool)) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.onDrive = fn
}

// FailKey makes KeyState return err from now on; tests use it to exercise
// the degraded path.
func (v *Virtual) FailKey(err error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.keyErr = err
}

// FailDrive makes Drive return err from now on.
func (v *Virtual) FailDrive(err error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.driveErr = err
}
