// Package kob drives a telegraph instrument: it reads timed code
// sequences from a key and plays sequences through a sounder with real
// element pacing. Hardware specifics stay behind the Instrument
// interface; this package owns debounce, end-of-sequence detection and
// circuit-closer latching.
package kob

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/morsekob/gokob/internal/clock"
	"github.com/morsekob/gokob/internal/morse"
	"github.com/morsekob/gokob/internal/observability"
)

const (
	// DefaultDebounce coalesces key contact chatter.
	DefaultDebounce = 18 * time.Millisecond
	// DefaultCodeSpace is the idle gap that ends a keyed sequence.
	DefaultCodeSpace = 120 * time.Millisecond
	// DefaultCircuitClose is how long the key must stay closed before
	// the closure is read as the circuit closer, not a mark.
	DefaultCircuitClose = 800 * time.Millisecond
	// DefaultPollInterval is the key sampling period.
	DefaultPollInterval = time.Millisecond

	// longSilence is the pause ceiling when sounding received code; a
	// station that went quiet for minutes should not silence the
	// sounder for minutes on the next sequence.
	longSilence = -3000
)

// Config tunes the port. Zero values take the defaults above.
type Config struct {
	Debounce     time.Duration
	CodeSpace    time.Duration
	CircuitClose time.Duration
	PollInterval time.Duration

	// NoKeyCloser disables circuit-closer detection for keys without
	// a shorting bar.
	NoKeyCloser bool
}

func (c *Config) applyDefaults() {
	if c.Debounce == 0 {
		c.Debounce = DefaultDebounce
	}
	if c.CodeSpace == 0 {
		c.CodeSpace = DefaultCodeSpace
	}
	if c.CircuitClose == 0 {
		c.CircuitClose = DefaultCircuitClose
	}
	if c.PollInterval == 0 {
		c.PollInterval = DefaultPollInterval
	}
}

// KOB couples one Instrument to the code-sequence world. Key reading
// runs on its own goroutine; SoundCode may be called from any one
// goroutine at a time.
type KOB struct {
	inst Instrument
	cfg  Config
	clk  clock.Clock
	log  zerolog.Logger

	// sleep is swapped out by tests driving a manual clock.
	sleep func(ctx context.Context, d time.Duration) error

	mu            sync.Mutex
	keyStatus     Status
	sounderStatus Status
	lastSound     time.Time
	echo          func(morse.CodeSequence)
}

func New(inst Instrument, clk clock.Clock, cfg Config, log zerolog.Logger) *KOB {
	cfg.applyDefaults()
	k := &KOB{
		inst: inst,
		cfg:  cfg,
		clk:  clk,
		log:  log.With().Str("component", "kob").Logger(),
	}
	k.sleep = func(ctx context.Context, d time.Duration) error {
		t := time.NewTimer(d)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			return nil
		}
	}
	k.lastSound = clk.Now()
	return k
}

// KeyStatus reports whether the key half of the instrument is usable.
func (k *KOB) KeyStatus() Status {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.keyStatus
}

// SounderStatus reports whether the sounder half is usable.
func (k *KOB) SounderStatus() Status {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.sounderStatus
}

// Err returns ErrInstrumentUnavailable once either half of the
// instrument has been degraded, nil while both are usable.
func (k *KOB) Err() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.keyStatus == StatusUnavailable || k.sounderStatus == StatusUnavailable {
		return ErrInstrumentUnavailable
	}
	return nil
}

// SetEcho registers a tap that receives every sequence passed to
// SoundCode, so locally sounded code can feed the decode pipeline.
func (k *KOB) SetEcho(fn func(morse.CodeSequence)) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.echo = fn
}

// StartKeyRead polls the key until ctx is cancelled, delivering each
// completed sequence to cb on the polling goroutine. A key backend
// failure degrades the port: the loop stops and KeyStatus turns
// Unavailable, with a single warning logged.
func (k *KOB) StartKeyRead(ctx context.Context, cb func(morse.CodeSequence)) {
	go k.keyRead(ctx, cb)
}

func (k *KOB) keyRead(ctx context.Context, cb func(morse.CodeSequence)) {
	sc := newKeyScanner(k.cfg, k.clk.Now())
	for {
		if err := k.sleep(ctx, k.cfg.PollInterval); err != nil {
			return
		}
		closed, err := k.inst.KeyState()
		if err != nil {
			k.mu.Lock()
			k.keyStatus = StatusUnavailable
			k.mu.Unlock()
			k.log.Warn().Err(err).Msg("key unavailable, stopping key read")
			return
		}
		if seq, ok := sc.step(closed, k.clk.Now()); ok && len(seq) > 0 {
			observability.RecordCodeSequence("key")
			cb(seq)
		}
	}
}

// SoundCode plays seq through the sounder with real pacing: marks close
// the sounder for their duration, spaces leave it open. Pacing is kept
// even when the sounder has failed, so decode taps stay in step with
// wall time. A pause longer than longSilence collapses to nothing.
func (k *KOB) SoundCode(ctx context.Context, seq morse.CodeSequence) error {
	k.mu.Lock()
	echo := k.echo
	last := k.lastSound
	k.mu.Unlock()

	if echo != nil {
		echo(seq)
	}

	for _, c := range seq {
		if c < longSilence {
			c = -1
		}
		if c == morse.Latch || c > morse.Unlatch {
			k.drive(true)
		}
		now := k.clk.Now()
		next := last.Add(time.Duration(c.Abs()) * time.Millisecond)
		if wait := next.Sub(now); wait > 0 {
			last = next
			if err := k.sleep(ctx, wait); err != nil {
				k.storeLastSound(last)
				return err
			}
		} else {
			last = now
		}
		if c > morse.Latch {
			k.drive(false)
		}
	}
	k.storeLastSound(last)
	return nil
}

func (k *KOB) storeLastSound(t time.Time) {
	k.mu.Lock()
	k.lastSound = t
	k.mu.Unlock()
}

// drive writes the sounder, degrading to Unavailable on the first
// failure instead of surfacing an error per element.
func (k *KOB) drive(closed bool) {
	k.mu.Lock()
	if k.sounderStatus == StatusUnavailable {
		k.mu.Unlock()
		return
	}
	k.mu.Unlock()
	if err := k.inst.Drive(closed); err != nil {
		k.mu.Lock()
		k.sounderStatus = StatusUnavailable
		k.mu.Unlock()
		k.log.Warn().Err(err).Msg("sounder unavailable, continuing unsounded")
	}
}
