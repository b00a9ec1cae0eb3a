package morse

import (
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/morsekob/gokob/internal/testutil/testlog"
)

// collector gathers decoder output for assertions.
type collector struct {
	decoded []Decoded
}

func (c *collector) on(d Decoded) { c.decoded = append(c.decoded, d) }

func (c *collector) text() string {
	var b strings.Builder
	for _, d := range c.decoded {
		if d.Word {
			b.WriteByte(' ')
		}
		b.WriteString(d.Char)
	}
	return strings.TrimSpace(b.String())
}

func newTestReader(t *testing.T, system SymbolSystem, wpm int) (*Reader, *collector) {
	t.Helper()
	c := &collector{}
	r, err := NewReader(ReaderConfig{System: system, TextWPM: wpm, OnDecoded: c.on})
	if err != nil {
		t.Fatalf("new reader: %v", err)
	}
	return r, c
}

func decodeAll(t *testing.T, r *Reader, seqs []CodeSequence) {
	t.Helper()
	for _, seq := range seqs {
		if err := r.Decode(seq); err != nil {
			t.Fatalf("decode %v: %v", seq, err)
		}
	}
	r.Flush()
}

func TestRoundTripEveryCharacter(t *testing.T) {
	testlog.Start(t)
	for _, system := range []SymbolSystem{American, International} {
		table := TableFor(system)
		for ch := range tableEntries(system) {
			sender := newTestSender(t, system, 20, 0, SpacingNone)
			seqs, err := sender.EncodeAll(string(ch))
			if err != nil {
				t.Fatalf("%v %q: encode: %v", system, ch, err)
			}
			reader, got := newTestReader(t, system, 20)
			decodeAll(t, reader, seqs)
			if len(got.decoded) != 1 || got.decoded[0].Char != string(ch) {
				t.Fatalf("%v %q: decoded %+v", system, ch, got.decoded)
			}
			if _, ok := table.Lookup(ch); !ok {
				t.Fatalf("%v %q missing from table", system, ch)
			}
		}
	}
}

func tableEntries(system SymbolSystem) map[rune]string {
	if system == American {
		return americanTable
	}
	return internationalTable
}

func TestRoundTripSOSBothSystems(t *testing.T) {
	testlog.Start(t)
	for _, system := range []SymbolSystem{American, International} {
		sender := newTestSender(t, system, 20, 0, SpacingNone)
		seqs, err := sender.EncodeAll("SOS")
		if err != nil {
			t.Fatalf("%v: encode: %v", system, err)
		}
		reader, got := newTestReader(t, system, 20)
		decodeAll(t, reader, seqs)
		if got.text() != "SOS" {
			t.Fatalf("%v: decoded %q, want SOS", system, got.text())
		}
	}
}

func TestRoundTripSentenceWithWordGaps(t *testing.T) {
	testlog.Start(t)
	sender := newTestSender(t, International, 20, 0, SpacingNone)
	seqs, err := sender.EncodeAll("HELLO WORLD")
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	reader, got := newTestReader(t, International, 20)
	decodeAll(t, reader, seqs)
	if got.text() != "HELLO WORLD" {
		t.Fatalf("decoded %q", got.text())
	}
}

func TestSpeedConvergence(t *testing.T) {
	testlog.Start(t)
	reader, _ := newTestReader(t, International, 20) // estimate starts at 60ms
	const targetDot = 40                             // a 30 wpm sender
	for i := 0; i < 12; i++ {
		if err := reader.Decode(CodeSequence{-3 * targetDot, targetDot}); err != nil {
			t.Fatalf("decode: %v", err)
		}
	}
	if got := reader.DotEstimate(); math.Abs(got-targetDot) > 2 {
		t.Fatalf("estimate did not converge: %v, want ~%d", got, targetDot)
	}
	if got := reader.DetectedWPM(); got < 29 || got > 31 {
		t.Fatalf("detected wpm %d, want ~30", got)
	}
	// steady input keeps it stable
	before := reader.DotEstimate()
	for i := 0; i < 10; i++ {
		if err := reader.Decode(CodeSequence{-3 * targetDot, targetDot}); err != nil {
			t.Fatalf("decode: %v", err)
		}
	}
	if math.Abs(reader.DotEstimate()-before) > 1 {
		t.Fatalf("estimate drifted on steady input: %v -> %v", before, reader.DotEstimate())
	}
}

func TestJitterTolerance(t *testing.T) {
	testlog.Start(t)
	reader, got := newTestReader(t, International, 20)
	// one dot 20% long still classifies as a dot and moves the estimate
	// no more than the per-step bound
	before := reader.DotEstimate()
	if err := reader.Decode(CodeSequence{-420, 72, -180}); err != nil {
		t.Fatalf("decode: %v", err)
	}
	reader.Flush()
	if len(got.decoded) != 1 || got.decoded[0].Char != "E" {
		t.Fatalf("perturbed dot misclassified: %+v", got.decoded)
	}
	after := reader.DotEstimate()
	if after > before*defaultMaxStep || after < before/defaultMaxStep {
		t.Fatalf("estimate moved past per-step bound: %v -> %v", before, after)
	}
}

func TestOutlierClampedPerStep(t *testing.T) {
	testlog.Start(t)
	reader, _ := newTestReader(t, International, 20)
	before := reader.DotEstimate()
	// a wildly long "dash" implies a dot of 160ms; the clamp holds the
	// step to the bounded ratio
	if err := reader.Decode(CodeSequence{-420, 280, -180}); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got, max := reader.DotEstimate(), before*defaultMaxStep; got > max+0.001 {
		t.Fatalf("outlier moved estimate to %v, bound %v", got, max)
	}
}

func TestIdleFlushEmitsPartialCharacterOnce(t *testing.T) {
	testlog.Start(t)
	reader, got := newTestReader(t, International, 20)
	// two dots of an S, then the sender stops
	if err := reader.Decode(CodeSequence{-420, 60, -60, 60}); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got.decoded) != 0 {
		t.Fatalf("nothing should be emitted before the flush: %+v", got.decoded)
	}
	reader.Flush()
	if len(got.decoded) != 1 || got.decoded[0].Char != "I" {
		t.Fatalf("idle flush: %+v", got.decoded)
	}
	reader.Flush()
	if len(got.decoded) != 1 {
		t.Fatalf("second flush must not re-emit: %+v", got.decoded)
	}
}

func TestIdleFlushDeadlineTracksEstimate(t *testing.T) {
	testlog.Start(t)
	reader, _ := newTestReader(t, International, 20)
	if got := reader.IdleFlushAfter().Milliseconds(); got != 1200 {
		t.Fatalf("idle deadline at 20 wpm: %dms, want 1200", got)
	}
}

func TestUnrecognizedPatternBecomesPlaceholder(t *testing.T) {
	testlog.Start(t)
	reader, got := newTestReader(t, International, 20)
	// seven dots decode to no table entry
	seq := CodeSequence{-420}
	for i := 0; i < 7; i++ {
		seq = append(seq, 60, -60)
	}
	if err := reader.Decode(seq); err != nil {
		t.Fatalf("decode: %v", err)
	}
	reader.Flush()
	if len(got.decoded) != 1 || got.decoded[0].Char != "[.......]" {
		t.Fatalf("placeholder: %+v", got.decoded)
	}
}

func TestKeyDownGarbleFlagged(t *testing.T) {
	testlog.Start(t)
	reader, got := newTestReader(t, International, 20)
	if err := reader.Decode(CodeSequence{-420, 700, -420}); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got.decoded) != 1 || got.decoded[0].Char != garbleGlyph {
		t.Fatalf("garble: %+v", got.decoded)
	}
}

func TestLatchClosesOutPendingCharacter(t *testing.T) {
	testlog.Start(t)
	reader, got := newTestReader(t, International, 20)
	if err := reader.Decode(CodeSequence{-420, 60, -60, 60, -60, 60}); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if err := reader.Decode(LatchSequence()); err != nil {
		t.Fatalf("latch: %v", err)
	}
	if len(got.decoded) != 1 || got.decoded[0].Char != "S" {
		t.Fatalf("latch flush: %+v", got.decoded)
	}
}

func TestZeroDurationRejected(t *testing.T) {
	testlog.Start(t)
	reader, _ := newTestReader(t, International, 20)
	if err := reader.Decode(CodeSequence{-420, 0}); !errors.Is(err, ErrInvalidDuration) {
		t.Fatalf("expected ErrInvalidDuration, got %v", err)
	}
}

func TestResetRestoresInitialState(t *testing.T) {
	testlog.Start(t)
	reader, got := newTestReader(t, International, 20)
	for i := 0; i < 8; i++ {
		if err := reader.Decode(CodeSequence{-120, 40}); err != nil {
			t.Fatalf("decode: %v", err)
		}
	}
	if reader.DotEstimate() == 60 {
		t.Fatalf("estimate should have adapted")
	}
	reader.Reset()
	if reader.DotEstimate() != 60 {
		t.Fatalf("reset estimate: %v", reader.DotEstimate())
	}
	reader.Flush()
	if len(got.decoded) != 0 {
		t.Fatalf("reset must discard accumulation silently: %+v", got.decoded)
	}
}

func TestSequenceBreakReadsAsWordGap(t *testing.T) {
	testlog.Start(t)
	reader, got := newTestReader(t, International, 20)
	if err := reader.Decode(CodeSequence{-420, 60, -60, 60, -60, 60}); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if err := reader.Decode(CodeSequence{SeqBreak, 60, -60, 60, -60, 60}); err != nil {
		t.Fatalf("decode after break: %v", err)
	}
	reader.Flush()
	if got.text() != "S S" {
		t.Fatalf("sequence break: %q", got.text())
	}
}
