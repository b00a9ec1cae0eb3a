// Package engine runs one telegraph station: it arbitrates between the
// local key, the keyboard sender and the wire, sounds whichever source
// owns the circuit, and feeds everything through a single decoder.
//
// Arbitration follows landline practice. The circuit idles closed; a
// station opens its circuit (unlatch) to send and closes it (latch) when
// done. Local code is emitted only while the local circuit is open and no
// remote station is sending. While the local circuit is open the local
// operator owns the line, so remote code is dropped rather than
// interleaved into the sounder.
package engine

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/morsekob/gokob/internal/clock"
	"github.com/morsekob/gokob/internal/kob"
	"github.com/morsekob/gokob/internal/morse"
	"github.com/morsekob/gokob/internal/observability"
)

// Source identifies where a code sequence originated.
type Source int

const (
	SourceKey Source = iota
	SourceKeyboard
	SourceWire
)

func (s Source) String() string {
	switch s {
	case SourceKey:
		return "key"
	case SourceKeyboard:
		return "keyboard"
	default:
		return "wire"
	}
}

// Link is the wire connection the engine sends through and receives
// from. Nil means the station operates locally only.
type Link interface {
	SendCode(code morse.CodeSequence, text string) error
	OnCode(fn func(morse.CodeSequence))
	OnSenderChange(fn func(station string))
	CurrentSender() string
}

// Config tunes one station.
type Config struct {
	StationID string
	System    morse.SymbolSystem
	TextWPM   int
	CharWPM   int
	Spacing   morse.Spacing

	// LocalSound plays locally originated code through the sounder as
	// sidetone.
	LocalSound bool

	// EventBuffer bounds the code event queue; zero means 16.
	EventBuffer int
}

type event struct {
	src  Source
	code morse.CodeSequence
	text string
}

// Engine owns the decode pipeline. All Reader access happens on the Run
// goroutine; the cross-goroutine state is limited to the two circuit
// flags and the sender identity.
type Engine struct {
	cfg    Config
	kob    *kob.KOB
	link   Link
	sender *morse.Sender
	reader *morse.Reader
	clk    clock.Clock
	log    zerolog.Logger

	events chan event

	localActive  atomic.Bool
	remoteActive atomic.Bool

	mu          sync.Mutex
	current     string
	decodedSubs []func(time.Time, morse.Decoded)
	codeSubs    []func(time.Time, Source, morse.CodeSequence)
	senderSubs  []func(station string)
}

func New(cfg Config, port *kob.KOB, link Link, clk clock.Clock, log zerolog.Logger) (*Engine, error) {
	if cfg.EventBuffer == 0 {
		cfg.EventBuffer = 16
	}
	sender, err := morse.NewSender(morse.SenderConfig{
		System:  cfg.System,
		TextWPM: cfg.TextWPM,
		CharWPM: cfg.CharWPM,
		Spacing: cfg.Spacing,
	})
	if err != nil {
		return nil, err
	}
	e := &Engine{
		cfg:    cfg,
		kob:    port,
		link:   link,
		sender: sender,
		clk:    clk,
		log:    log.With().Str("component", "engine").Logger(),
		events: make(chan event, cfg.EventBuffer),
	}
	e.reader, err = morse.NewReader(morse.ReaderConfig{
		System:    cfg.System,
		TextWPM:   cfg.TextWPM,
		CharWPM:   cfg.CharWPM,
		OnDecoded: e.dispatchDecoded,
	})
	if err != nil {
		return nil, err
	}
	if link != nil {
		link.OnCode(func(code morse.CodeSequence) { e.offer(SourceWire, code) })
		link.OnSenderChange(e.setSender)
	}
	return e, nil
}

// SubscribeDecoded registers a receiver for decoded characters, each
// stamped with the engine clock's time. Must be called before Run.
func (e *Engine) SubscribeDecoded(fn func(at time.Time, d morse.Decoded)) {
	e.mu.Lock()
	e.decodedSubs = append(e.decodedSubs, fn)
	e.mu.Unlock()
}

// SubscribeCode registers a tap on every sounded code sequence, each
// stamped with the engine clock's time.
func (e *Engine) SubscribeCode(fn func(at time.Time, src Source, code morse.CodeSequence)) {
	e.mu.Lock()
	e.codeSubs = append(e.codeSubs, fn)
	e.mu.Unlock()
}

// SubscribeSender registers a receiver for sender identity changes.
func (e *Engine) SubscribeSender(fn func(station string)) {
	e.mu.Lock()
	e.senderSubs = append(e.senderSubs, fn)
	e.mu.Unlock()
}

// Run processes events until ctx is cancelled. It starts the key read
// loop and owns the decoder and its idle flush.
func (e *Engine) Run(ctx context.Context) error {
	e.kob.StartKeyRead(ctx, func(code morse.CodeSequence) { e.offer(SourceKey, code) })

	idle := time.NewTimer(e.reader.IdleFlushAfter())
	defer idle.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-e.events:
			e.handle(ctx, ev)
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(e.reader.IdleFlushAfter())
		case <-idle.C:
			e.reader.Flush()
			idle.Reset(e.reader.IdleFlushAfter())
		}
	}
}

// SendText encodes text and queues it for transmission, blocking when
// the event queue is full. The PyKOB keyboard conventions apply: '~'
// opens the local circuit and '+' closes it, so a message is typically
// sent as "~ <text> +".
func (e *Engine) SendText(ctx context.Context, text string) error {
	enc := e.sender.Encode(text)
	for enc.Next() {
		select {
		case e.events <- event{src: SourceKeyboard, code: enc.Seq(), text: string(enc.Char())}:
			observability.RecordCodeSequence("keyboard")
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return enc.Err()
}

// WireBusy reports whether a remote station currently holds the circuit.
func (e *Engine) WireBusy() bool { return e.remoteActive.Load() }

// LocalActive reports whether the local circuit is open for sending.
func (e *Engine) LocalActive() bool { return e.localActive.Load() }

// CurrentSender is the station whose code was heard or sent last.
func (e *Engine) CurrentSender() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.current
}

// Status is a point-in-time snapshot for status surfaces.
type Status struct {
	StationID     string     `json:"station_id"`
	CurrentSender string     `json:"current_sender"`
	LocalActive   bool       `json:"local_active"`
	RemoteActive  bool       `json:"remote_active"`
	KeyStatus     kob.Status `json:"-"`
	SounderStatus kob.Status `json:"-"`
}

func (e *Engine) Status() Status {
	return Status{
		StationID:     e.cfg.StationID,
		CurrentSender: e.CurrentSender(),
		LocalActive:   e.localActive.Load(),
		RemoteActive:  e.remoteActive.Load(),
		KeyStatus:     e.kob.KeyStatus(),
		SounderStatus: e.kob.SounderStatus(),
	}
}

// offer enqueues without blocking; key and wire producers must never
// stall on a slow consumer, so overflow drops with a warning.
func (e *Engine) offer(src Source, code morse.CodeSequence) {
	select {
	case e.events <- event{src: src, code: code}:
	default:
		e.log.Warn().Stringer("source", src).Int("elements", len(code)).
			Msg("event queue full, dropping code")
	}
}

func (e *Engine) handle(ctx context.Context, ev event) {
	if ev.src == SourceWire {
		e.handleWire(ctx, ev.code)
		return
	}
	if n := len(ev.code); n > 0 {
		switch ev.code[n-1] {
		case morse.Latch, morse.Unlatch:
			e.closerChanged(ctx, ev.code)
			return
		}
	}
	if e.remoteActive.Load() {
		e.log.Debug().Stringer("source", ev.src).Msg("dropping local code, remote station sending")
		return
	}
	if !e.localActive.Load() {
		e.log.Debug().Stringer("source", ev.src).Msg("dropping local code, circuit closed")
		return
	}
	e.emitLocal(ctx, ev)
}

func (e *Engine) handleWire(ctx context.Context, code morse.CodeSequence) {
	active := !code.EndsLatched()
	if e.localActive.Load() {
		// Break-in: the local operator opened their circuit, so the
		// remote side no longer owns the sounder. The activity flag is
		// still tracked so the wire reads busy until the remote
		// station closes its circuit.
		e.remoteActive.Store(active)
		e.log.Debug().Msg("dropping wire code, local circuit open")
		return
	}
	e.remoteActive.Store(true)
	e.dispatchCode(SourceWire, code)
	if err := e.kob.SoundCode(ctx, code); err != nil {
		return
	}
	e.decode(code)
	if !active {
		// The remote station closed its circuit; the wire is free.
		e.remoteActive.Store(false)
	}
}

// closerChanged handles latch/unlatch from the key or keyboard: the
// circuit state change is always shared with the wire, sounded locally
// only when no remote station is active, and then applied to the local
// flag.
func (e *Engine) closerChanged(ctx context.Context, code morse.CodeSequence) {
	latch := code.EndsLatched()
	if e.remoteActive.Load() {
		if !latch {
			// Break-in: discard the partial remote character and take
			// the line.
			e.reader.Flush()
			e.setSender(e.cfg.StationID)
		}
	} else {
		e.setSender(e.cfg.StationID)
		if e.cfg.LocalSound {
			if err := e.kob.SoundCode(ctx, code); err != nil {
				return
			}
		}
		e.decode(code)
	}
	if e.link != nil {
		if err := e.link.SendCode(code, ""); err != nil {
			e.log.Warn().Err(err).Msg("wire send failed")
		}
	}
	if latch {
		e.localActive.Store(false)
		e.reader.Flush()
		e.log.Debug().Msg("local circuit closed")
	} else {
		e.localActive.Store(true)
		e.log.Debug().Msg("local circuit open")
	}
}

func (e *Engine) emitLocal(ctx context.Context, ev event) {
	e.setSender(e.cfg.StationID)
	e.dispatchCode(ev.src, ev.code)
	e.decode(ev.code)
	if e.cfg.LocalSound {
		if err := e.kob.SoundCode(ctx, ev.code); err != nil {
			return
		}
	}
	if e.link != nil {
		if err := e.link.SendCode(ev.code, ev.text); err != nil {
			e.log.Warn().Err(err).Msg("wire send failed")
		}
	}
}

func (e *Engine) decode(code morse.CodeSequence) {
	if err := e.reader.Decode(code); err != nil {
		e.log.Warn().Err(err).Msg("decode failed")
	}
}

func (e *Engine) dispatchDecoded(d morse.Decoded) {
	result := "ok"
	switch {
	case d.Char == "_":
		result = "garbled"
	case strings.HasPrefix(d.Char, "["):
		result = "unrecognized"
	}
	observability.RecordDecodedCharacter(result)

	at := e.clk.Now()
	e.mu.Lock()
	subs := make([]func(time.Time, morse.Decoded), len(e.decodedSubs))
	copy(subs, e.decodedSubs)
	e.mu.Unlock()
	for _, fn := range subs {
		fn(at, d)
	}
}

func (e *Engine) dispatchCode(src Source, code morse.CodeSequence) {
	at := e.clk.Now()
	e.mu.Lock()
	subs := make([]func(time.Time, Source, morse.CodeSequence), len(e.codeSubs))
	copy(subs, e.codeSubs)
	e.mu.Unlock()
	for _, fn := range subs {
		fn(at, src, code)
	}
}

func (e *Engine) setSender(station string) {
	e.mu.Lock()
	if station == e.current {
		e.mu.Unlock()
		return
	}
	e.current = station
	subs := make([]func(string), len(e.senderSubs))
	copy(subs, e.senderSubs)
	e.mu.Unlock()
	e.log.Info().Str("station", station).Msg("current sender")
	for _, fn := range subs {
		fn(station)
	}
}
