// Package upstream manages the proxy's connections to pools. Grounded on
// ShaeOJ-GoVault's internal/upstream/client.go (pending-map request/response
// correlation, single reader goroutine, reconnect loop with backoff) adapted
// to eth-style Stratum framing (internal/protocol) and to spec.md §4.2's
// multiplexer semantics. A Conn is either a role's shared connection, owned
// by the Multiplexer and fanning job notifications out to its subscribers, or
// a per-session dedicated real connection (see Dedicated).
package upstream

import (
	"crypto/tls"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/etpool/mining-proxy/internal/logging"
	"github.com/etpool/mining-proxy/internal/protocol"
)

// Role identifies which of the multiplexer's upstream connections a Conn is.
// There is no separate "unified" role: per spec.md §4.2, unified_wallet mode
// reuses the real connection (shared across every session instead of dialed
// per miner) authenticated with the configured unified wallet.
type Role string

const (
	RoleReal Role = "real"
	RoleDev  Role = "dev"
)

// JobHandler is invoked on the Conn's reader goroutine for every job
// notification the pool pushes. It must not block.
type JobHandler func(job *protocol.Outbound)

// AfterDial runs once a socket is established and the reader goroutine is
// live, before the Conn is handed to its caller. Used to authenticate the
// connection (eth_submitLogin) immediately after every (re)dial, since a
// reconnect needs the same login replayed as the original dial.
type AfterDial func(*Conn) error

// Conn is a single upstream TCP connection with request/response correlation.
// Call writes each request line with a single Write on the socket, after
// releasing c.mu; a separate reader goroutine owns the read path and
// demultiplexes pool responses back to their callers via the pending map.
type Conn struct {
	role    Role
	addr    string
	useTLS  bool
	dialTO  time.Duration
	log     *logging.Logger
	onJob   JobHandler
	onReset func(error)

	mu      sync.Mutex
	conn    net.Conn
	reader  *protocol.Reader
	nextID  uint64
	pending map[uint64]chan *protocol.Outbound
	sentAt  map[uint64]time.Time
	closed  bool
}

// Config bundles a Conn's dial parameters.
type Config struct {
	Addr       string
	TLS        bool
	DialTO     time.Duration
	Log        *logging.Logger
	OnJob      JobHandler
	OnResetErr func(error) // called once per connection loss, for the multiplexer to trigger reconnect
}

func NewConn(role Role, cfg Config) *Conn {
	return &Conn{
		role:    role,
		addr:    cfg.Addr,
		useTLS:  cfg.TLS,
		dialTO:  cfg.DialTO,
		log:     cfg.Log,
		onJob:   cfg.OnJob,
		onReset: cfg.OnResetErr,
		pending: make(map[uint64]chan *protocol.Outbound),
		sentAt:  make(map[uint64]time.Time),
	}
}

// Dial establishes the socket and starts the reader goroutine. It does not
// retry; reconnection with backoff is the Multiplexer's job (§4.2).
func (c *Conn) Dial() error {
	dialer := &net.Dialer{Timeout: c.dialTO}
	var conn net.Conn
	var err error
	if c.useTLS {
		conn, err = tls.DialWithDialer(dialer, "tcp", c.addr, &tls.Config{})
	} else {
		conn, err = dialer.Dial("tcp", c.addr)
	}
	if err != nil {
		return fmt.Errorf("upstream %s dial %s: %w", c.role, c.addr, err)
	}

	c.mu.Lock()
	c.conn = conn
	c.reader = protocol.NewReader(conn)
	c.closed = false
	c.mu.Unlock()

	go c.readLoop()
	return nil
}

func (c *Conn) readLoop() {
	for {
		line, err := c.reader.ReadLine()
		if err != nil {
			c.mu.Lock()
			shutdown := c.closed
			c.mu.Unlock()
			if shutdown {
				// Close was called: a deliberate teardown, not a connection loss.
				return
			}
			c.log.Warnf("upstream", "%s connection lost: %v", c.role, err)
			c.failAllPending(err)
			if c.onReset != nil {
				c.onReset(err)
			}
			return
		}

		out, err := protocol.ParseOutbound(line)
		if err != nil {
			c.log.Warnf("upstream", "%s unparsable message: %v", c.role, err)
			continue
		}

		switch out.Kind {
		case protocol.OutboundJob:
			if c.onJob != nil {
				c.onJob(out)
			}
		default:
			c.deliver(out)
		}
	}
}

func (c *Conn) deliver(out *protocol.Outbound) {
	c.mu.Lock()
	ch, ok := c.pending[out.ID]
	if ok {
		delete(c.pending, out.ID)
		delete(c.sentAt, out.ID)
	}
	c.mu.Unlock()

	if ok {
		ch <- out
		close(ch)
	}
}

func (c *Conn) failAllPending(cause error) {
	c.mu.Lock()
	pending := c.pending
	c.pending = make(map[uint64]chan *protocol.Outbound)
	c.sentAt = make(map[uint64]time.Time)
	c.closed = true
	c.mu.Unlock()

	// Synthetic marks this as a connection-loss artifact, not a real pool
	// response, so callers (internal/session) know to surface spec.md §7's
	// stale-share error rather than a pool-originated rejection.
	errOut := &protocol.Outbound{Kind: protocol.OutboundErrString, ErrMessage: cause.Error(), Synthetic: true}
	for _, ch := range pending {
		ch <- errOut
		close(ch)
	}
}

// Call sends method/params and blocks until the pool replies or timeout
// elapses (a plain channel-with-timeout, mirroring ShaeOJ's client.go call()).
func (c *Conn) Call(method string, params interface{}, timeout time.Duration) (*protocol.Outbound, error) {
	c.mu.Lock()
	if c.closed || c.conn == nil {
		c.mu.Unlock()
		return nil, fmt.Errorf("upstream %s: not connected", c.role)
	}
	c.nextID++
	id := c.nextID
	ch := make(chan *protocol.Outbound, 1)
	c.pending[id] = ch
	c.sentAt[id] = time.Now()
	conn := c.conn
	c.mu.Unlock()

	line, err := protocol.EncodeRequest(id, method, params)
	if err != nil {
		return nil, err
	}
	if _, err := conn.Write(line); err != nil {
		c.mu.Lock()
		delete(c.pending, id)
		delete(c.sentAt, id)
		c.mu.Unlock()
		return nil, fmt.Errorf("upstream %s write: %w", c.role, err)
	}

	select {
	case resp := <-ch:
		return resp, nil
	case <-time.After(timeout):
		c.mu.Lock()
		delete(c.pending, id)
		delete(c.sentAt, id)
		c.mu.Unlock()
		return nil, fmt.Errorf("upstream %s: submit timeout", c.role)
	}
}

// Login authenticates the connection with the upstream pool via
// eth_submitLogin, per spec.md §4.3 step 2: the real connection (or the
// shared dev/unified connection) must be logged in with the wallet that owns
// the shares it will carry before any submitWork/getWork call is made on it.
func (c *Conn) Login(wallet, password string, timeout time.Duration) error {
	out, err := c.Call("eth_submitLogin", []string{wallet, password}, timeout)
	if err != nil {
		return fmt.Errorf("upstream %s: login: %w", c.role, err)
	}
	if out.Kind == protocol.OutboundAck && !out.AckResult {
		return fmt.Errorf("upstream %s: login rejected for wallet %s", c.role, wallet)
	}
	return nil
}

// SweepStale drops pending calls older than timeout, returning how many were
// dropped. Invoked on the Multiplexer's cron schedule (§4.2, SubmitTimeout).
func (c *Conn) SweepStale(timeout time.Duration) int {
	cutoff := time.Now().Add(-timeout)

	c.mu.Lock()
	var stale []uint64
	for id, t := range c.sentAt {
		if t.Before(cutoff) {
			stale = append(stale, id)
		}
	}
	chans := make([]chan *protocol.Outbound, 0, len(stale))
	for _, id := range stale {
		chans = append(chans, c.pending[id])
		delete(c.pending, id)
		delete(c.sentAt, id)
	}
	c.mu.Unlock()

	timeoutOut := &protocol.Outbound{Kind: protocol.OutboundErrString, ErrMessage: "submit timeout", Synthetic: true}
	for _, ch := range chans {
		ch <- timeoutOut
		close(ch)
	}
	return len(stale)
}

// Closed reports whether the connection has been torn down.
func (c *Conn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Close tears down the socket without failing pending calls (used on clean
// shutdown, as opposed to failAllPending on unexpected loss).
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}
