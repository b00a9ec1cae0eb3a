// Package wire speaks the KOB server datagram protocol: UDP packets
// carrying connect/disconnect control, station identification, and
// timed code sequences, multiplexed onto numbered wires by the server.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/morsekob/gokob/internal/morse"
)

// Wire commands.
const (
	CmdDisconnect int16 = 2
	CmdData       int16 = 3 // code or station ID
	CmdConnect    int16 = 4
	CmdAck        int16 = 5
)

// Packet geometry. Every data packet is exactly FullPacketLen bytes with
// a declared payload of PayloadLen; the short control form is
// ControlPacketLen. All integers are little-endian.
const (
	ControlPacketLen = 4
	FullPacketLen    = 496
	PayloadLen       = 492

	stationIDLen = 128
	textLen      = 128
	versionLen   = 128
	codeSlots    = 51 // element slots; the count rides in its own field
)

var (
	ErrBadPacketLen = errors.New("wire: bad packet length")
	ErrBadCommand   = errors.New("wire: unexpected command")
	ErrCodeTooLong  = errors.New("wire: code sequence exceeds slot count")
	ErrEmptyCode    = errors.New("wire: empty code sequence")
)

// Packet is one decoded datagram: a ControlPacket, CodePacket or
// IDPacket.
type Packet interface{ packet() }

// ControlPacket is the short connect/disconnect/ack form.
type ControlPacket struct {
	Cmd  int16
	Wire int16
}

// CodePacket carries one code sequence from a station.
type CodePacket struct {
	StationID string
	Seq       int32
	Code      morse.CodeSequence
	Text      string
}

// IDPacket announces a station's presence on the wire.
type IDPacket struct {
	StationID string
	Seq       int32
	Version   string
}

func (ControlPacket) packet() {}
func (CodePacket) packet()    {}
func (IDPacket) packet()      {}

// EncodeControl builds the short packet for cmd on the given wire.
func EncodeControl(cmd int16, wire int16) []byte {
	buf := make([]byte, ControlPacketLen)
	binary.LittleEndian.PutUint16(buf[0:2], uint16(cmd))
	binary.LittleEndian.PutUint16(buf[2:4], uint16(wire))
	return buf
}

// Encode lays the code packet out on the shared 496-byte footprint:
// command, payload length, station ID, sequence number, the element
// slots with the element count after them, then the optional text the
// elements were encoded from.
func (p CodePacket) Encode() ([]byte, error) {
	n := len(p.Code)
	if n == 0 {
		return nil, ErrEmptyCode
	}
	if n > codeSlots-1 {
		return nil, fmt.Errorf("%w: %d elements", ErrCodeTooLong, n)
	}
	buf := make([]byte, FullPacketLen)
	binary.LittleEndian.PutUint16(buf[0:2], uint16(CmdData))
	binary.LittleEndian.PutUint16(buf[2:4], uint16(PayloadLen))
	packLatin1(buf[4:4+stationIDLen], p.StationID)
	binary.LittleEndian.PutUint32(buf[136:140], uint32(p.Seq))
	for i, d := range p.Code {
		binary.LittleEndian.PutUint32(buf[152+4*i:156+4*i], uint32(int32(d)))
	}
	binary.LittleEndian.PutUint32(buf[356:360], uint32(int32(n)))
	packLatin1(buf[360:360+textLen], p.Text)
	return buf, nil
}

// Encode lays out the ID packet: same footprint as a code packet with
// zero elements, an ID flag where the code padding sits, and the
// software version in the text field.
func (p IDPacket) Encode() []byte {
	buf := make([]byte, FullPacketLen)
	binary.LittleEndian.PutUint16(buf[0:2], uint16(CmdData))
	binary.LittleEndian.PutUint16(buf[2:4], uint16(PayloadLen))
	packLatin1(buf[4:4+stationIDLen], p.StationID)
	binary.LittleEndian.PutUint32(buf[136:140], uint32(p.Seq))
	binary.LittleEndian.PutUint32(buf[140:144], 1)
	packLatin1(buf[360:360+versionLen], p.Version)
	return buf
}

// DecodePacket classifies and decodes one datagram. Full data packets
// with an element count of zero are station announcements; nonzero
// counts are code. Datagrams of any other length are rejected.
func DecodePacket(buf []byte) (Packet, error) {
	switch len(buf) {
	case ControlPacketLen:
		return ControlPacket{
			Cmd:  int16(binary.LittleEndian.Uint16(buf[0:2])),
			Wire: int16(binary.LittleEndian.Uint16(buf[2:4])),
		}, nil
	case FullPacketLen:
	default:
		return nil, fmt.Errorf("%w: %d bytes", ErrBadPacketLen, len(buf))
	}

	cmd := int16(binary.LittleEndian.Uint16(buf[0:2]))
	if cmd != CmdData {
		return nil, fmt.Errorf("%w: %d", ErrBadCommand, cmd)
	}
	station := unpackLatin1(buf[4 : 4+stationIDLen])
	seq := int32(binary.LittleEndian.Uint32(buf[136:140]))
	n := int(int32(binary.LittleEndian.Uint32(buf[356:360])))

	if n <= 0 {
		return IDPacket{
			StationID: station,
			Seq:       seq,
			Version:   unpackLatin1(buf[360 : 360+versionLen]),
		}, nil
	}
	if n > codeSlots-1 {
		return nil, fmt.Errorf("%w: %d elements", ErrCodeTooLong, n)
	}
	code := make(morse.CodeSequence, n)
	for i := range code {
		code[i] = morse.Duration(int32(binary.LittleEndian.Uint32(buf[152+4*i : 156+4*i])))
	}
	return CodePacket{
		StationID: station,
		Seq:       seq,
		Code:      code,
		Text:      unpackLatin1(buf[360 : 360+textLen]),
	}, nil
}

// packLatin1 writes s into dst as NUL-padded Latin-1, truncating to fit
// and substituting '?' for characters outside Latin-1.
func packLatin1(dst []byte, s string) {
	i := 0
	for _, r := range s {
		if i >= len(dst) {
			break
		}
		if r > 0xFF {
			r = '?'
		}
		dst[i] = byte(r)
		i++
	}
}

// unpackLatin1 reads a NUL-terminated Latin-1 field.
func unpackLatin1(b []byte) string {
	end := len(b)
	for i, c := range b {
		if c == 0 {
			end = i
			break
		}
	}
	runes := make([]rune, 0, end)
	for _, c := range b[:end] {
		runes = append(runes, rune(c))
	}
	return string(runes)
}
