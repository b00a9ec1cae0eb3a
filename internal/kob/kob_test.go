package kob

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/morsekob/gokob/internal/clock"
	"github.com/morsekob/gokob/internal/morse"
	"github.com/morsekob/gokob/internal/testutil/testlog"
)

func defaultTestConfig() Config {
	cfg := Config{}
	cfg.applyDefaults()
	return cfg
}

func TestScannerKeyedCharacter(t *testing.T) {
	testlog.Start(t)
	t0 := time.Unix(0, 0)
	sc := newKeyScanner(defaultTestConfig(), t0)

	at := func(ms int) time.Time { return t0.Add(time.Duration(ms) * time.Millisecond) }

	steps := []struct {
		closed bool
		ms     int
	}{
		{true, 500}, {false, 560}, {true, 620}, {false, 680},
	}
	for _, s := range steps {
		if seq, ok := sc.step(s.closed, at(s.ms)); ok {
			t.Fatalf("premature sequence %v at %dms", seq, s.ms)
		}
	}

	seq, ok := sc.step(false, at(810))
	if !ok {
		t.Fatal("expected sequence after code-space gap")
	}
	want := morse.CodeSequence{-500, 60, -60, 60}
	if len(seq) != len(want) {
		t.Fatalf("sequence = %v, want %v", seq, want)
	}
	for i := range want {
		if seq[i] != want[i] {
			t.Fatalf("sequence = %v, want %v", seq, want)
		}
	}
}

func TestScannerDebounceCoalescesChatter(t *testing.T) {
	testlog.Start(t)
	t0 := time.Unix(0, 0)
	sc := newKeyScanner(defaultTestConfig(), t0)
	at := func(ms int) time.Time { return t0.Add(time.Duration(ms) * time.Millisecond) }

	sc.step(true, at(500))
	// 5ms open blip: inside the debounce window, swallowed.
	if seq, ok := sc.step(false, at(505)); ok {
		t.Fatalf("chatter produced sequence %v", seq)
	}
	sc.step(true, at(508))
	sc.step(false, at(560))

	seq, ok := sc.step(false, at(700))
	if !ok {
		t.Fatal("expected sequence after gap")
	}
	want := morse.CodeSequence{-500, 60}
	if len(seq) != 2 || seq[0] != want[0] || seq[1] != want[1] {
		t.Fatalf("sequence = %v, want %v", seq, want)
	}
}

func TestScannerCircuitCloserLatchAndUnlatch(t *testing.T) {
	testlog.Start(t)
	t0 := time.Unix(0, 0)
	sc := newKeyScanner(defaultTestConfig(), t0)
	at := func(ms int) time.Time { return t0.Add(time.Duration(ms) * time.Millisecond) }

	sc.step(true, at(500))
	seq, ok := sc.step(true, at(1310))
	if !ok {
		t.Fatal("expected latch after long closure")
	}
	if len(seq) != 2 || seq[0] != -500 || seq[1] != morse.Latch {
		t.Fatalf("latch sequence = %v, want [-500 %d]", seq, morse.Latch)
	}
	if !seq.EndsLatched() {
		t.Fatal("sequence should end latched")
	}

	// Holding longer must not re-latch.
	if seq, ok := sc.step(true, at(1900)); ok {
		t.Fatalf("unexpected sequence while latched: %v", seq)
	}

	seq, ok = sc.step(false, at(2000))
	if !ok {
		t.Fatal("expected unlatch when closer opens")
	}
	if len(seq) != 2 || seq[0] != -1500 || seq[1] != morse.Unlatch {
		t.Fatalf("unlatch sequence = %v, want [-1500 %d]", seq, morse.Unlatch)
	}
}

func TestScannerNoKeyCloserNeverLatches(t *testing.T) {
	testlog.Start(t)
	t0 := time.Unix(0, 0)
	cfg := defaultTestConfig()
	cfg.NoKeyCloser = true
	sc := newKeyScanner(cfg, t0)
	at := func(ms int) time.Time { return t0.Add(time.Duration(ms) * time.Millisecond) }

	sc.step(true, at(500))
	if seq, ok := sc.step(true, at(5000)); ok {
		t.Fatalf("latched without a key closer: %v", seq)
	}
}

func TestScannerElementCap(t *testing.T) {
	testlog.Start(t)
	t0 := time.Unix(0, 0)
	sc := newKeyScanner(defaultTestConfig(), t0)

	var seq morse.CodeSequence
	var ok bool
	closed := true
	for ms := 20; ms <= 20*2*morse.MaxSequenceLen; ms += 20 {
		seq, ok = sc.step(closed, t0.Add(time.Duration(ms)*time.Millisecond))
		if ok {
			break
		}
		closed = !closed
	}
	if !ok {
		t.Fatal("expected forced emit at element cap")
	}
	if len(seq) != morse.MaxSequenceLen {
		t.Fatalf("len = %d, want %d", len(seq), morse.MaxSequenceLen)
	}
	if err := seq.Validate(); err != nil {
		t.Fatalf("capped sequence invalid: %v", err)
	}
}

// soundHarness wires a KOB to a manual clock whose sleep just advances
// the clock and records sounder transitions with timestamps.
type soundHarness struct {
	kob  *KOB
	clk  *clock.Manual
	inst *Virtual
	t0   time.Time

	transitions []driveEvent
}

type driveEvent struct {
	closed bool
	at     time.Duration
}

func newSoundHarness(t *testing.T) *soundHarness {
	t.Helper()
	h := &soundHarness{
		clk:  clock.NewManual(time.Unix(0, 0)),
		inst: NewVirtual(),
	}
	h.t0 = h.clk.Now()
	h.kob = New(h.inst, h.clk, Config{}, zerolog.Nop())
	h.kob.sleep = func(_ context.Context, d time.Duration) error {
		h.clk.Advance(d)
		return nil
	}
	h.inst.OnDrive(func(closed bool) {
		h.transitions = append(h.transitions, driveEvent{closed, h.clk.Now().Sub(h.t0)})
	})
	return h
}

func TestSoundCodePacesElements(t *testing.T) {
	testlog.Start(t)
	h := newSoundHarness(t)

	err := h.kob.SoundCode(context.Background(), morse.CodeSequence{-200, 60, -60, 60})
	if err != nil {
		t.Fatalf("SoundCode: %v", err)
	}

	want := []driveEvent{
		{true, 200 * time.Millisecond},
		{false, 260 * time.Millisecond},
		{true, 320 * time.Millisecond},
		{false, 380 * time.Millisecond},
	}
	if len(h.transitions) != len(want) {
		t.Fatalf("transitions = %v, want %v", h.transitions, want)
	}
	for i, tr := range want {
		if h.transitions[i] != tr {
			t.Fatalf("transition %d = %v, want %v", i, h.transitions[i], tr)
		}
	}
}

func TestSoundCodeCollapsesLongSilence(t *testing.T) {
	testlog.Start(t)
	h := newSoundHarness(t)

	if err := h.kob.SoundCode(context.Background(), morse.CodeSequence{-60000, 60}); err != nil {
		t.Fatalf("SoundCode: %v", err)
	}
	if got := h.clk.Now().Sub(h.t0); got != 61*time.Millisecond {
		t.Fatalf("elapsed = %v, want 61ms", got)
	}
}

func TestSoundCodeLatchHoldsSounder(t *testing.T) {
	testlog.Start(t)
	h := newSoundHarness(t)
	ctx := context.Background()

	if err := h.kob.SoundCode(ctx, morse.LatchSequence()); err != nil {
		t.Fatalf("SoundCode latch: %v", err)
	}
	if !h.inst.Sounder() {
		t.Fatal("sounder should stay energized after latch")
	}

	if err := h.kob.SoundCode(ctx, morse.UnlatchSequence()); err != nil {
		t.Fatalf("SoundCode unlatch: %v", err)
	}
	if h.inst.Sounder() {
		t.Fatal("sounder should release on unlatch")
	}
}

func TestSoundCodeEchoTap(t *testing.T) {
	testlog.Start(t)
	h := newSoundHarness(t)

	var echoed []morse.CodeSequence
	h.kob.SetEcho(func(seq morse.CodeSequence) { echoed = append(echoed, seq) })

	seq := morse.CodeSequence{-100, 60}
	if err := h.kob.SoundCode(context.Background(), seq); err != nil {
		t.Fatalf("SoundCode: %v", err)
	}
	if len(echoed) != 1 || len(echoed[0]) != 2 || echoed[0][0] != -100 {
		t.Fatalf("echo = %v, want [%v]", echoed, seq)
	}
}

func TestSounderFailureDegradesOnce(t *testing.T) {
	testlog.Start(t)
	h := newSoundHarness(t)
	h.inst.FailDrive(errors.New("no audio device"))

	if err := h.kob.SoundCode(context.Background(), morse.CodeSequence{-100, 60, -60, 60}); err != nil {
		t.Fatalf("SoundCode should pace despite sounder failure, got %v", err)
	}
	if h.kob.SounderStatus() != StatusUnavailable {
		t.Fatalf("sounder status = %v, want unavailable", h.kob.SounderStatus())
	}
	if !errors.Is(h.kob.Err(), ErrInstrumentUnavailable) {
		t.Fatalf("Err = %v, want ErrInstrumentUnavailable", h.kob.Err())
	}
	// Timing is preserved so downstream taps stay real-time.
	if got := h.clk.Now().Sub(h.t0); got != 280*time.Millisecond {
		t.Fatalf("elapsed = %v, want 280ms", got)
	}
}

func TestKeyFailureStopsReadLoop(t *testing.T) {
	testlog.Start(t)
	clk := clock.NewManual(time.Unix(0, 0))
	inst := NewVirtual()
	inst.FailKey(errors.New("serial port gone"))
	k := New(inst, clk, Config{}, zerolog.Nop())
	k.sleep = func(_ context.Context, d time.Duration) error {
		clk.Advance(d)
		return nil
	}

	k.keyRead(context.Background(), func(morse.CodeSequence) {
		t.Fatal("no sequences expected from a failed key")
	})
	if k.KeyStatus() != StatusUnavailable {
		t.Fatalf("key status = %v, want unavailable", k.KeyStatus())
	}
}

func TestKeyReadEndToEnd(t *testing.T) {
	testlog.Start(t)
	clk := clock.NewManual(time.Unix(0, 0))
	t0 := clk.Now()
	inst := NewVirtual()
	k := New(inst, clk, Config{}, zerolog.Nop())

	// The injected sleep advances the clock and plays a scripted key
	// timeline, cancelling once the script has run out.
	script := []struct {
		at     time.Duration
		closed bool
	}{
		{500 * time.Millisecond, true},
		{560 * time.Millisecond, false},
	}
	k.sleep = func(_ context.Context, d time.Duration) error {
		clk.Advance(d)
		elapsed := clk.Now().Sub(t0)
		for len(script) > 0 && script[0].at <= elapsed {
			inst.SetKey(script[0].closed)
			script = script[1:]
		}
		if elapsed > time.Second {
			return context.Canceled
		}
		return nil
	}

	var got []morse.CodeSequence
	k.keyRead(context.Background(), func(seq morse.CodeSequence) {
		got = append(got, seq)
	})

	if len(got) != 1 {
		t.Fatalf("sequences = %v, want exactly one", got)
	}
	seq := got[0]
	if len(seq) != 2 || seq[1] != 60 {
		t.Fatalf("sequence = %v, want [-<lead> 60]", seq)
	}
	if !seq[0].Space() || seq[0] > -499 {
		t.Fatalf("leading space = %v, want about -500", seq[0])
	}
}
