package wire

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/morsekob/gokob/internal/clock"
	"github.com/morsekob/gokob/internal/morse"
	"github.com/morsekob/gokob/internal/observability"
)

// DefaultServer is the public MorseKOB hub.
const DefaultServer = "mtc-kob.dyndns.org:7890"

// DefaultKeepAlive is how often the station re-announces itself while
// connected; the hub drops stations it has not heard from.
const DefaultKeepAlive = 10 * time.Second

var (
	ErrNotConnected = errors.New("wire: not connected")
	ErrInvalidWire  = errors.New("wire: wire number must be positive")
	ErrClosed       = errors.New("wire: client closed")
)

// State is the client connection state. Wire number zero means the
// station operates locally only and the client stays Disconnected.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Config carries the client's identity and transport tuning.
type Config struct {
	Server    string
	StationID string
	Version   string
	KeepAlive time.Duration
	Backoff   BackoffConfig
}

func (c *Config) applyDefaults() {
	if c.Server == "" {
		c.Server = DefaultServer
	}
	if c.KeepAlive == 0 {
		c.KeepAlive = DefaultKeepAlive
	}
	if c.Backoff == (BackoffConfig{}) {
		c.Backoff = DefaultBackoff()
	}
}

// Client maintains one station's presence on a KOB wire: connect and
// keepalive announcements outbound, code and station traffic inbound.
// Incoming callbacks run on the client's read goroutine.
type Client struct {
	cfg Config
	clk clock.Clock
	log zerolog.Logger
	rng *rand.Rand

	conn net.PacketConn

	onCode    func(morse.CodeSequence)
	onSender  func(station string)
	onStation func(station string)

	mu        sync.Mutex
	addr      net.Addr
	state     State
	wire      int16
	stationID string
	sentSeq   int32
	rcvdSeq   int32
	sender    string
	lastHeard time.Time
	closed    bool

	done chan struct{}
	wg   sync.WaitGroup
}

func NewClient(cfg Config, clk clock.Clock, log zerolog.Logger) *Client {
	cfg.applyDefaults()
	return &Client{
		cfg:       cfg,
		clk:       clk,
		log:       log.With().Str("component", "wire").Logger(),
		rng:       rand.New(rand.NewSource(clk.Now().UnixNano())),
		stationID: cfg.StationID,
		rcvdSeq:   -1,
		done:      make(chan struct{}),
	}
}

// OnCode registers the receiver for incoming code sequences. Must be
// set before Open.
func (c *Client) OnCode(fn func(morse.CodeSequence)) { c.onCode = fn }

// OnSenderChange registers a callback fired when the sending station
// changes.
func (c *Client) OnSenderChange(fn func(station string)) { c.onSender = fn }

// OnStationHeard registers a callback fired for every station
// announcement seen on the wire.
func (c *Client) OnStationHeard(fn func(station string)) { c.onStation = fn }

// Open binds the UDP socket, pings the hub so the NAT path exists, and
// starts the read and keepalive loops. It does not join a wire.
func (c *Client) Open(ctx context.Context) error {
	addr, err := net.ResolveUDPAddr("udp4", c.cfg.Server)
	if err != nil {
		return fmt.Errorf("wire: resolve %s: %w", c.cfg.Server, err)
	}
	conn, err := net.ListenPacket("udp4", ":0")
	if err != nil {
		return fmt.Errorf("wire: bind: %w", err)
	}
	c.mu.Lock()
	c.conn = conn
	c.addr = addr
	c.mu.Unlock()

	if _, err := conn.WriteTo(EncodeControl(CmdDisconnect, 0), addr); err != nil {
		c.log.Warn().Err(err).Msg("initial hub ping failed")
	}

	c.wg.Add(2)
	go c.readLoop()
	go c.keepAliveLoop(ctx)
	return nil
}

// Connect joins the numbered wire and announces the station. Wire zero
// means local-only operation: the call is a no-op and the client stays
// Disconnected. Negative wires are rejected.
func (c *Client) Connect(wire int) error {
	if wire == 0 {
		c.log.Debug().Msg("wire 0, staying disconnected")
		return nil
	}
	if wire < 0 {
		return ErrInvalidWire
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.conn == nil {
		// Connect before Open.
		c.mu.Unlock()
		return ErrNotConnected
	}
	c.wire = int16(wire)
	c.state = StateConnecting
	c.mu.Unlock()
	c.log.Info().Int("wire", wire).Str("station", c.StationID()).Msg("connecting")
	return c.sendID()
}

// Disconnect leaves the wire but keeps the socket open.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	c.wire = 0
	c.state = StateDisconnected
	addr := c.addr
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return nil
	}
	_, err := conn.WriteTo(EncodeControl(CmdDisconnect, 0), addr)
	observability.RecordWirePacket("tx", "disconnect")
	c.log.Info().Msg("disconnected")
	return err
}

// Close disconnects and tears the client down.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()
	err := c.Disconnect()
	close(c.done)
	if conn := c.packetConn(); conn != nil {
		conn.Close()
	}
	c.wg.Wait()
	return err
}

func (c *Client) packetConn() net.PacketConn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn
}

func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// StationID returns the identity announced on the wire.
func (c *Client) StationID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stationID
}

// SetStationID changes the announced identity; the next keepalive
// carries it.
func (c *Client) SetStationID(id string) {
	c.mu.Lock()
	c.stationID = id
	c.mu.Unlock()
}

// CurrentSender is the station most recently heard sending code.
func (c *Client) CurrentSender() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sender
}

// LastHeard is when traffic last arrived from the wire; the zero time
// if nothing has been heard.
func (c *Client) LastHeard() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastHeard
}

// SendCode transmits one code sequence, tagged with the text it
// renders. Packets are sent twice; the hub and peers drop the duplicate
// by sequence number.
func (c *Client) SendCode(code morse.CodeSequence, text string) error {
	if err := code.Validate(); err != nil {
		return err
	}
	if len(code) == 0 {
		return ErrEmptyCode
	}
	c.mu.Lock()
	if c.state != StateConnected && c.state != StateConnecting {
		c.mu.Unlock()
		return ErrNotConnected
	}
	c.sentSeq++
	pkt := CodePacket{StationID: c.stationID, Seq: c.sentSeq, Code: code, Text: text}
	addr := c.addr
	conn := c.conn
	c.mu.Unlock()

	buf, err := pkt.Encode()
	if err != nil {
		return err
	}
	for i := 0; i < 2; i++ {
		if _, err := conn.WriteTo(buf, addr); err != nil {
			return fmt.Errorf("wire: send code: %w", err)
		}
	}
	observability.RecordWirePacket("tx", "code")
	return nil
}

// sendID announces presence: the connect control packet followed by the
// station ID packet. The hub reads the pair as "this station is on this
// wire".
func (c *Client) sendID() error {
	c.mu.Lock()
	if c.wire == 0 {
		c.mu.Unlock()
		return nil
	}
	if c.conn == nil {
		// Connect before Open.
		c.mu.Unlock()
		return ErrNotConnected
	}
	wire := c.wire
	c.sentSeq += 2
	pkt := IDPacket{StationID: c.stationID, Seq: c.sentSeq, Version: c.cfg.Version}
	addr := c.addr
	conn := c.conn
	c.mu.Unlock()

	if _, err := conn.WriteTo(EncodeControl(CmdConnect, wire), addr); err != nil {
		return fmt.Errorf("wire: send connect: %w", err)
	}
	if _, err := conn.WriteTo(pkt.Encode(), addr); err != nil {
		return fmt.Errorf("wire: send id: %w", err)
	}
	observability.RecordWirePacket("tx", "id")

	c.mu.Lock()
	if c.state == StateConnecting {
		c.state = StateConnected
	}
	c.mu.Unlock()
	return nil
}

// keepAliveLoop re-announces the station every KeepAlive period and
// re-resolves the hub with backoff when sends fail.
func (c *Client) keepAliveLoop(ctx context.Context) {
	defer c.wg.Done()
	ticker := time.NewTicker(c.cfg.KeepAlive)
	defer ticker.Stop()
	attempt := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case <-ticker.C:
		}
		if err := c.sendID(); err != nil {
			attempt++
			delay := NextBackoffDelay(c.cfg.Backoff, attempt, c.rng)
			c.log.Warn().Err(err).Int("attempt", attempt).
				Dur("retry_in", delay).Msg("keepalive failed")
			select {
			case <-time.After(delay):
			case <-c.done:
				return
			case <-ctx.Done():
				return
			}
			c.reresolve()
			continue
		}
		if attempt > 0 {
			attempt = 0
			observability.RecordWireReconnect()
			c.log.Info().Msg("wire send path recovered")
		}
	}
}

// reresolve refreshes the hub address, surviving DNS flaps the way a
// long-lived station must.
func (c *Client) reresolve() {
	addr, err := net.ResolveUDPAddr("udp4", c.cfg.Server)
	if err != nil {
		c.log.Warn().Err(err).Msg("hub re-resolve failed")
		return
	}
	c.mu.Lock()
	c.addr = addr
	c.mu.Unlock()
}

// readLoop receives datagrams until shutdown. A read error drops the
// client to Disconnected, then the socket is rebound and the station
// re-announced with backoff until traffic flows again.
func (c *Client) readLoop() {
	defer c.wg.Done()
	buf := make([]byte, 512)
	attempt := 0
	for {
		n, _, err := c.packetConn().ReadFrom(buf)
		if err != nil {
			select {
			case <-c.done:
				return
			default:
			}
			attempt++
			c.mu.Lock()
			c.state = StateDisconnected
			c.mu.Unlock()
			delay := NextBackoffDelay(c.cfg.Backoff, attempt, c.rng)
			c.log.Warn().Err(err).Int("attempt", attempt).
				Dur("retry_in", delay).Msg("wire read failed")
			select {
			case <-time.After(delay):
			case <-c.done:
				return
			}
			c.rebind()
			continue
		}
		if attempt > 0 {
			attempt = 0
			observability.RecordWireReconnect()
			c.log.Info().Msg("wire receive path recovered")
		}
		c.handleDatagram(buf[:n])
	}
}

// rebind replaces a dead socket and re-announces the station if a wire
// was joined.
func (c *Client) rebind() {
	c.reresolve()
	conn, err := net.ListenPacket("udp4", ":0")
	if err != nil {
		c.log.Warn().Err(err).Msg("rebind failed")
		return
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		conn.Close()
		return
	}
	old := c.conn
	c.conn = conn
	joined := c.wire != 0
	if joined {
		c.state = StateConnecting
	}
	c.mu.Unlock()
	if old != nil {
		old.Close()
	}
	if joined {
		if err := c.sendID(); err != nil {
			c.log.Warn().Err(err).Msg("re-announce failed")
		}
	}
}

func (c *Client) handleDatagram(buf []byte) {
	pkt, err := DecodePacket(buf)
	if err != nil {
		c.log.Debug().Err(err).Int("len", len(buf)).Msg("dropping datagram")
		return
	}
	switch p := pkt.(type) {
	case ControlPacket:
		// Hub acks and relayed controls carry no station traffic.
		observability.RecordWirePacket("rx", "control")
	case IDPacket:
		observability.RecordWirePacket("rx", "id")
		c.mu.Lock()
		c.lastHeard = c.clk.Now()
		// An announcement advances the sender's own sequence by two;
		// anything else is another station's counter and is ignored.
		if p.Seq == c.rcvdSeq+2 {
			c.rcvdSeq = p.Seq
		}
		onStation := c.onStation
		c.mu.Unlock()
		if onStation != nil {
			onStation(p.StationID)
		}
	case CodePacket:
		observability.RecordWirePacket("rx", "code")
		c.handleCode(p)
	}
}

func (c *Client) handleCode(p CodePacket) {
	c.mu.Lock()
	c.lastHeard = c.clk.Now()
	if p.Seq == c.rcvdSeq {
		// Duplicate of the doubled send.
		c.mu.Unlock()
		return
	}
	var senderChanged bool
	if p.StationID != c.sender {
		c.sender = p.StationID
		senderChanged = true
	}
	code := p.Code
	if p.Seq != c.rcvdSeq+1 {
		// Lost packet or fresh sender: the leading space is
		// meaningless, flag the break so the decoder treats it as a
		// pause instead of trusting it.
		code[0] = morse.SeqBreak
	}
	c.rcvdSeq = p.Seq
	onSender := c.onSender
	onCode := c.onCode
	c.mu.Unlock()

	if senderChanged {
		c.log.Info().Str("station", p.StationID).Msg("sender changed")
		if onSender != nil {
			onSender(p.StationID)
		}
	}
	if onCode != nil {
		onCode(code)
	}
}
