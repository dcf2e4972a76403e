// Package channel implements the wire-protocol channel: a single, long-lived
// full-duplex conversation with one server, owned by a dedicated I/O worker.
package channel

import (
	"io"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mysqlwire/client/internal/command"
	"github.com/mysqlwire/client/internal/handshake"
	"github.com/mysqlwire/client/internal/metrics"
	"github.com/mysqlwire/client/internal/mysqlerr"
	"github.com/mysqlwire/client/internal/wire"
)

// State is one of the three monotonic channel states.
type State int32

const (
	StateUninitialized State = iota
	StateNormal
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateNormal:
		return "normal"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Params configures a Channel's dial, handshake, and heartbeat behavior.
type Params struct {
	Host             string
	Port             int
	Username         string
	Password         string
	Database         string
	CharacterSet     uint8
	CapabilityFlags  uint32
	ConnectTimeout   time.Duration
	ReadTimeout      time.Duration
	WriteTimeout     time.Duration
	HeartbeatInterval time.Duration // <=0 disables
	CorrelationIDPrefix string
	Debug            bool
	Logger           *slog.Logger
	Metrics          *metrics.Collector
}

// submission is one enqueued command. Its request is always written
// starting at sequence id 0.
type submission struct {
	cmd command.Feeder
}

// Channel mediates one TCP connection: one socket, one I/O worker, one
// submission queue, one worker-exclusive waiting queue.
type Channel struct {
	params Params
	logger *slog.Logger
	id     string

	conn   net.Conn
	reader io.Reader
	writer io.Writer
	info   *handshake.ConnectionInfo
	metrics *metrics.Collector

	stateMu sync.Mutex
	state   State

	submissions chan submission
	stopCh      chan struct{}
	closeOnce   sync.Once
	closeErr    error

	// waiting is touched only by the I/O worker goroutine.
	waiting []command.Feeder

	onUnusable func(*Channel)

	seq byte
}

// Dial opens a fresh TCP connection to params.Host:Port, performs the
// handshake, and starts the I/O worker. onUnusable, if non-nil, is invoked
// exactly once if the channel later closes itself due to a fault (not an
// explicit Close call) — the pool uses this to trigger removal and rescue.
func Dial(params Params, onUnusable func(*Channel)) (*Channel, error) {
	if params.Host == "" {
		return nil, mysqlerr.InvalidArgument("channel requires a non-empty host")
	}
	if params.Username == "" {
		return nil, mysqlerr.InvalidArgument("channel requires a non-empty username")
	}
	logger := params.Logger
	if logger == nil {
		logger = slog.Default()
	}

	addr := net.JoinHostPort(params.Host, strconv.Itoa(params.Port))
	dialer := net.Dialer{Timeout: params.ConnectTimeout}
	conn, err := dialer.Dial("tcp", addr)
	if err != nil {
		return nil, mysqlerr.SocketBuild("dialing "+addr, err)
	}
	return newChannelOverConn(conn, params, logger, onUnusable)
}

// DialOverConn runs the handshake and starts the I/O worker over a conn the
// caller has already established — a TLS-wrapped socket, a Unix domain
// socket, or (in tests) an in-memory net.Pipe. Dial is a thin wrapper
// around this for the common plain-TCP case.
func DialOverConn(conn net.Conn, params Params, onUnusable func(*Channel)) (*Channel, error) {
	logger := params.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return newChannelOverConn(conn, params, logger, onUnusable)
}

// newChannelOverConn runs the handshake over an already-established conn
// and starts the I/O worker. Split out from DialOverConn so tests can also
// inject a custom logger.
func newChannelOverConn(conn net.Conn, params Params, logger *slog.Logger, onUnusable func(*Channel)) (*Channel, error) {
	info, err := handshake.Perform(conn, handshake.Params{
		Username:        params.Username,
		Password:        params.Password,
		Database:        params.Database,
		CharacterSet:    params.CharacterSet,
		CapabilityFlags: params.CapabilityFlags,
		MaxPacketSize:   wire.MaxPayloadLength,
	})
	if err != nil {
		conn.Close()
		return nil, err
	}

	var r io.Reader = conn
	var w io.Writer = conn
	if info.Capabilities&wire.ClientCompress != 0 {
		r = wire.NewCompressedReader(conn)
		w = wire.NewCompressedWriter(conn)
	}

	id := params.CorrelationIDPrefix + uuid.NewString()
	ch := &Channel{
		params:      params,
		logger:      logger,
		id:          id,
		conn:        conn,
		reader:      r,
		writer:      w,
		info:        info,
		metrics:     params.Metrics,
		state:       StateNormal,
		submissions: make(chan submission, 64),
		stopCh:      make(chan struct{}),
		onUnusable:  onUnusable,
	}
	go ch.runWorker()
	return ch, nil
}

// ID returns the channel's correlation id, used in logs and metrics.
func (c *Channel) ID() string { return c.id }

// Info returns the post-handshake session info.
func (c *Channel) Info() *handshake.ConnectionInfo { return c.info }

// State returns the current channel state.
func (c *Channel) State() State {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.state
}

// Send enqueues cmd and blocks until it completes or timeout elapses. A nil
// command is a programmer error (InvalidArgument); submitting to a
// non-NORMAL channel is a ClosedState error.
func (c *Channel) Send(cmd command.Feeder, timeout time.Duration) error {
	if cmd == nil {
		return mysqlerr.InvalidArgument("command must not be nil")
	}
	if c.State() != StateNormal {
		return mysqlerr.ClosedState("channel is not accepting commands")
	}
	c.submissions <- submission{cmd: cmd}

	awaiter, ok := cmd.(interface{ Await(time.Duration) error })
	if !ok {
		return mysqlerr.Unexpected("command does not implement Await", nil)
	}
	start := time.Now()
	err := awaiter.Await(timeout)
	if c.metrics != nil {
		category := ""
		if err != nil {
			category = mysqlerr.CategoryOf(err)
		}
		c.metrics.CommandCompleted(cmd.Name(), time.Since(start), category)
	}
	if mysqlerr.IsTimeout(err) {
		c.closeOnFault(err)
		spawnKillTask(c.params, c.info, c.logger)
	}
	return err
}

// Close transitions the channel to CLOSED, closes the socket, and fails
// every queued command. Idempotent; does not invoke onUnusable (that
// callback is reserved for fault-triggered closes).
func (c *Channel) Close() {
	c.closeOnce.Do(func() {
		c.transitionClosed()
		c.conn.Close()
	})
}

// closeOnFault is the internal path used by the I/O worker and Send's
// timeout handler: it closes the channel and, unlike Close, reports the
// fault to onUnusable so the owning pool can remove and rescue the slot.
func (c *Channel) closeOnFault(err error) {
	first := false
	c.closeOnce.Do(func() {
		first = true
		c.closeErr = err
		c.transitionClosed()
		c.conn.Close()
	})
	if first && c.onUnusable != nil {
		c.onUnusable(c)
	}
}

func (c *Channel) transitionClosed() {
	c.stateMu.Lock()
	c.state = StateClosed
	c.stateMu.Unlock()
	close(c.stopCh)
}

