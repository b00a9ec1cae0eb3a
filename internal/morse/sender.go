package morse

import "fmt"

// Sender converts text into code sequences at a fixed speed. One sequence
// is produced per character; the space preceding a character is carried as
// the sequence's leading negative element, so gaps accumulate correctly
// across skipped characters and word boundaries.
//
// Sender itself is stateful for incremental keyboard sending (EncodeChar).
// Encode returns a fresh Encoding over a whole text, so the same text and
// speed always produce the same durations regardless of what was sent
// before.
type Sender struct {
	table *Table
	speed Speed
	// strict makes unmapped characters an error instead of silent extra
	// space.
	strict bool
	// space is the pending gap (ms) before the next element.
	space int
}

// SenderConfig configures a Sender.
type SenderConfig struct {
	System  SymbolSystem
	TextWPM int
	CharWPM int // 0 means TextWPM
	Spacing Spacing
	Strict  bool
}

func NewSender(cfg SenderConfig) (*Sender, error) {
	speed, err := NewSpeed(cfg.System, cfg.TextWPM, cfg.CharWPM, cfg.Spacing)
	if err != nil {
		return nil, err
	}
	return NewSenderWithSpeed(speed, cfg.Strict), nil
}

func NewSenderWithSpeed(speed Speed, strict bool) *Sender {
	return &Sender{
		table:  TableFor(speed.System()),
		speed:  speed,
		strict: strict,
		space:  speed.WordSpace(),
	}
}

func (s *Sender) Speed() Speed { return s.speed }

// EncodeChar converts one character into its code sequence. Characters
// with no table entry widen the pending space by a word gap and yield an
// empty sequence (ErrUnsupportedCharacter in strict mode). The control
// characters '+' and '~' encode circuit latch and unlatch.
func (s *Sender) EncodeChar(ch rune) (CodeSequence, error) {
	c := upper(ch)
	code, ok := s.table.Lookup(c)
	if !ok {
		switch c {
		case '\r', '\n':
			return nil, nil
		case '-', '\'':
			// unmapped half-space punctuation
			s.space += (s.speed.WordSpace() - s.speed.CharSpace()) / 2
			return nil, nil
		case '+':
			seq := CodeSequence{Duration(-s.space), Latch}
			s.space = s.speed.CharSpace()
			return seq, nil
		case '~':
			seq := CodeSequence{Duration(-s.space), Unlatch}
			s.space = s.speed.CharSpace()
			return seq, nil
		default:
			s.space += s.speed.WordSpace() - s.speed.CharSpace()
			if s.strict && c != ' ' {
				return nil, fmt.Errorf("%w: %q", ErrUnsupportedCharacter, ch)
			}
			return nil, nil
		}
	}

	var seq CodeSequence
	for i := 0; i < len(code); i++ {
		e := code[i]
		if e == ' ' {
			// internal space in a spaced American character
			s.space = 3 * s.speed.Dot()
			continue
		}
		seq = append(seq, Duration(-s.space), Duration(s.speed.elementLen(e)))
		s.space = s.speed.Dot()
	}
	s.space = s.speed.CharSpace()
	return seq, nil
}

// Encode returns a lazy, restartable iteration over text. The iteration
// carries its own spacing state, so calling Encode twice with the same
// text yields identical durations.
func (s *Sender) Encode(text string) *Encoding {
	return &Encoding{
		sender: NewSenderWithSpeed(s.speed, s.strict),
		text:   []rune(text),
	}
}

// Encoding walks a text one character at a time, scanner-style:
//
//	enc := sender.Encode("SOS")
//	for enc.Next() {
//		transmit(enc.Seq())
//	}
//	if err := enc.Err(); err != nil { ... }
type Encoding struct {
	sender *Sender
	text   []rune
	pos    int
	char   rune
	seq    CodeSequence
	err    error
}

// Next advances to the next character that produces code. Characters that
// encode to nothing (spaces, unmapped characters) are consumed silently.
// In strict mode an unmapped character stops the iteration with Err set.
func (e *Encoding) Next() bool {
	if e.err != nil {
		return false
	}
	for e.pos < len(e.text) {
		ch := e.text[e.pos]
		e.pos++
		seq, err := e.sender.EncodeChar(ch)
		if err != nil {
			e.err = fmt.Errorf("position %d: %w", e.pos-1, err)
			return false
		}
		if len(seq) > 0 {
			e.char = ch
			e.seq = seq
			return true
		}
	}
	return false
}

// Seq returns the sequence produced by the last successful Next.
func (e *Encoding) Seq() CodeSequence { return e.seq }

// Char returns the character behind the last successful Next.
func (e *Encoding) Char() rune { return e.char }

// Err returns the first error encountered, if any.
func (e *Encoding) Err() error { return e.err }

// EncodeAll materializes every sequence of an encoding. Convenience for
// tests and short messages; long transmissions should pull from Encoding
// directly.
func (s *Sender) EncodeAll(text string) ([]CodeSequence, error) {
	enc := s.Encode(text)
	var out []CodeSequence
	for enc.Next() {
		out = append(out, enc.Seq())
	}
	return out, enc.Err()
}
