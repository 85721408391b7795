package upstream

import (
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/etpool/mining-proxy/internal/logging"
	"github.com/etpool/mining-proxy/internal/protocol"
)

// backoffSteps is the exact reconnect sequence from spec.md §4.2: 5s doubling
// to a 120s cap.
var backoffSteps = []time.Duration{
	5 * time.Second, 10 * time.Second, 20 * time.Second,
	40 * time.Second, 80 * time.Second, 120 * time.Second,
}

// SubmitTimeout bounds how long a share submission may sit in a Conn's
// pending map before the sweep reaps it (spec.md §7, UpstreamConn table).
const SubmitTimeout = 60 * time.Second

// Subscriber receives every job broadcast from a role's upstream connection.
// Implemented by Session (one per connected miner routed to that role).
type Subscriber interface {
	DeliverJob(job *protocol.Outbound)
}

// Multiplexer owns the upstream connections shared across every session of a
// listener, keeps each alive under reconnect backoff, fans out job
// notifications to subscribed Sessions, and periodically sweeps stale
// pending submits. Per spec.md §9 design notes, these connections are not
// touched through a global singleton: each Multiplexer instance belongs to
// exactly one listener.
//
// Per spec.md §4.3/§4.4, a "real" pool connection can only be credited to the
// one wallet it logged in with. In pure_proxy/skim mode every miner brings
// its own wallet, so the real connection cannot be shared — each Session
// dials its own via NewDedicated, authenticated with that miner's login. Only
// in unified_wallet mode (where every miner is credited to the same
// operator-chosen wallet anyway) is "real" itself a shared, role-keyed
// connection like "dev".
type Multiplexer struct {
	log    *logging.Logger
	dialTO time.Duration

	mu        sync.Mutex
	conns     map[Role]*Conn
	subs      map[Role]map[Subscriber]struct{}
	dedicated map[*Dedicated]struct{}

	cronRunner *cron.Cron
}

func NewMultiplexer(log *logging.Logger, dialTimeout time.Duration) *Multiplexer {
	return &Multiplexer{
		log:       log,
		dialTO:    dialTimeout,
		conns:     make(map[Role]*Conn),
		subs:      make(map[Role]map[Subscriber]struct{}),
		dedicated: make(map[*Dedicated]struct{}),
	}
}

// AddUpstream dials and registers role's shared connection, wiring its job
// fan-out and reconnect-on-loss behavior. afterDial runs once per (re)dial,
// before the connection is considered live — used to authenticate it via
// Conn.Login with the dev or unified wallet (DESIGN.md, maintainer review
// pass); pass nil for a
// connection that needs no login.
func (m *Multiplexer) AddUpstream(role Role, addr string, useTLS bool, afterDial AfterDial) error {
	conn := m.dialWithHooks(role, addr, useTLS, afterDial, func(job *protocol.Outbound) {
		m.broadcast(role, job)
	}, func(err error) {
		m.log.Warnf("multiplexer", "%s upstream reset, reconnecting: %v", role, err)
		go m.reconnectLoop(role, addr, useTLS, afterDial)
	})
	if conn == nil {
		return fmt.Errorf("upstream %s: initial dial failed, see log", role)
	}

	m.mu.Lock()
	m.conns[role] = conn
	if m.subs[role] == nil {
		m.subs[role] = make(map[Subscriber]struct{})
	}
	m.mu.Unlock()

	m.log.Infof("multiplexer", "%s upstream connected: %s", role, addr)
	return nil
}

// dialWithHooks dials once, wires onJob/onReset, and runs afterDial before
// returning. It returns nil (not an error) on failure so both AddUpstream's
// initial dial and reconnectLoop's retries share one code path; AddUpstream
// treats a nil return as a boot-time error, reconnectLoop as "try again".
func (m *Multiplexer) dialWithHooks(role Role, addr string, useTLS bool, afterDial AfterDial, onJob JobHandler, onReset func(error)) *Conn {
	conn := NewConn(role, Config{
		Addr:       addr,
		TLS:        useTLS,
		DialTO:     m.dialTO,
		Log:        m.log,
		OnJob:      onJob,
		OnResetErr: onReset,
	})
	if err := conn.Dial(); err != nil {
		m.log.Warnf("multiplexer", "%s dial %s failed: %v", role, addr, err)
		return nil
	}
	if afterDial != nil {
		if err := afterDial(conn); err != nil {
			m.log.Warnf("multiplexer", "%s post-dial setup failed: %v", role, err)
			conn.Close()
			return nil
		}
	}
	return conn
}

func (m *Multiplexer) reconnectLoop(role Role, addr string, useTLS bool, afterDial AfterDial) {
	for attempt := 0; ; attempt++ {
		idx := attempt
		if idx >= len(backoffSteps) {
			idx = len(backoffSteps) - 1
		}
		time.Sleep(backoffSteps[idx])

		conn := m.dialWithHooks(role, addr, useTLS, afterDial, func(job *protocol.Outbound) {
			m.broadcast(role, job)
		}, func(err error) {
			m.log.Warnf("multiplexer", "%s upstream reset, reconnecting: %v", role, err)
			go m.reconnectLoop(role, addr, useTLS, afterDial)
		})
		if conn == nil {
			continue
		}

		m.mu.Lock()
		m.conns[role] = conn
		m.mu.Unlock()
		m.log.Infof("multiplexer", "%s upstream reconnected after %d attempt(s)", role, attempt+1)
		return
	}
}

// broadcast fans a job out to every Session currently subscribed under role.
func (m *Multiplexer) broadcast(role Role, job *protocol.Outbound) {
	m.mu.Lock()
	subs := make([]Subscriber, 0, len(m.subs[role]))
	for s := range m.subs[role] {
		subs = append(subs, s)
	}
	m.mu.Unlock()

	for _, s := range subs {
		s.DeliverJob(job)
	}
}

// Subscribe registers s to receive every job broadcast on role. Per spec.md
// §4.4 ("jobs are not rerouted"), only RoleReal is ever subscribed to by a
// Session — RoleDev exists purely as a submit destination.
func (m *Multiplexer) Subscribe(role Role, s Subscriber) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.subs[role] == nil {
		m.subs[role] = make(map[Subscriber]struct{})
	}
	m.subs[role][s] = struct{}{}
}

// Unsubscribe removes s, called from Session.Close. A no-op if s was never
// subscribed under role (e.g. a pure_proxy/skim session, which never
// subscribes to the shared RoleReal connection at all).
func (m *Multiplexer) Unsubscribe(role Role, s Subscriber) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.subs[role], s)
}

// Conn returns role's live shared connection, or an error if it isn't
// established.
func (m *Multiplexer) Conn(role Role) (*Conn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conns[role]
	if !ok || c.Closed() {
		return nil, fmt.Errorf("upstream %s: not connected", role)
	}
	return c, nil
}

// NewDedicated dials a per-session upstream connection that is not shared
// and not subscribed to any role's broadcast — used for the real connection
// in pure_proxy/skim mode, where each miner's own wallet must own the login
// (spec.md §4.3 step 2). onJob is wired directly to the owning Session's
// DeliverJob instead of going through the multiplexer's Subscribe map.
func (m *Multiplexer) NewDedicated(addr string, useTLS bool, onJob JobHandler, afterDial AfterDial) (*Dedicated, error) {
	d := &Dedicated{mux: m, addr: addr, useTLS: useTLS, onJob: onJob, afterDial: afterDial}
	if err := d.dial(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.dedicated[d] = struct{}{}
	m.mu.Unlock()
	return d, nil
}

func (m *Multiplexer) untrackDedicated(d *Dedicated) {
	m.mu.Lock()
	delete(m.dedicated, d)
	m.mu.Unlock()
}

// StartSweep schedules the stale-pending sweep via robfig/cron, matching the
// teacher's go.mod dependency on robfig/cron and spec.md §4.2's periodic
// reaper. The "@every 1m" spec runs SweepStale(SubmitTimeout) on every
// registered connection, shared or dedicated.
func (m *Multiplexer) StartSweep() {
	m.cronRunner = cron.New()
	m.cronRunner.AddFunc("@every 1m", func() {
		m.mu.Lock()
		conns := make([]*Conn, 0, len(m.conns)+len(m.dedicated))
		for _, c := range m.conns {
			conns = append(conns, c)
		}
		for d := range m.dedicated {
			if c, err := d.Conn(); err == nil {
				conns = append(conns, c)
			}
		}
		m.mu.Unlock()

		for _, c := range conns {
			if n := c.SweepStale(SubmitTimeout); n > 0 {
				m.log.Warnf("multiplexer", "swept %d stale pending submit(s)", n)
			}
		}
	})
	m.cronRunner.Start()
}

// StopSweep halts the cron scheduler. Used on graceful shutdown.
func (m *Multiplexer) StopSweep() {
	if m.cronRunner != nil {
		m.cronRunner.Stop()
	}
}

// Close tears down every registered shared connection. Dedicated connections
// are owned and closed by their Session.
func (m *Multiplexer) Close() {
	m.mu.Lock()
	conns := make([]*Conn, 0, len(m.conns))
	for _, c := range m.conns {
		conns = append(conns, c)
	}
	m.mu.Unlock()

	for _, c := range conns {
		c.Close()
	}
}

// Dedicated is a per-session upstream connection with its own reconnect
// loop. It is not registered under any Role and does not participate in
// Subscribe/broadcast; its owning Session wires onJob directly and calls
// submits against it explicitly.
type Dedicated struct {
	mux       *Multiplexer
	addr      string
	useTLS    bool
	onJob     JobHandler
	afterDial AfterDial

	mu      sync.Mutex
	conn    *Conn
	stopped bool
}

func (d *Dedicated) dial() error {
	conn := NewConn(RoleReal, Config{
		Addr:       d.addr,
		TLS:        d.useTLS,
		DialTO:     d.mux.dialTO,
		Log:        d.mux.log,
		OnJob:      d.onJob,
		OnResetErr: d.onReset,
	})
	if err := conn.Dial(); err != nil {
		return err
	}
	if d.afterDial != nil {
		if err := d.afterDial(conn); err != nil {
			conn.Close()
			return err
		}
	}

	d.mu.Lock()
	d.conn = conn
	d.mu.Unlock()
	return nil
}

func (d *Dedicated) onReset(err error) {
	d.mu.Lock()
	stopped := d.stopped
	d.mu.Unlock()
	if stopped {
		return
	}
	d.mux.log.Warnf("upstream", "dedicated real upstream reset, reconnecting: %v", err)
	go d.reconnectLoop()
}

func (d *Dedicated) reconnectLoop() {
	for attempt := 0; ; attempt++ {
		d.mu.Lock()
		stopped := d.stopped
		d.mu.Unlock()
		if stopped {
			return
		}

		idx := attempt
		if idx >= len(backoffSteps) {
			idx = len(backoffSteps) - 1
		}
		time.Sleep(backoffSteps[idx])

		if err := d.dial(); err != nil {
			d.mux.log.Warnf("upstream", "dedicated reconnect attempt %d failed: %v", attempt+1, err)
			continue
		}
		d.mux.log.Infof("upstream", "dedicated real upstream reconnected after %d attempt(s)", attempt+1)
		return
	}
}

// Conn returns the current live connection, or an error if it isn't
// established (mid-reconnect).
func (d *Dedicated) Conn() (*Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.conn == nil || d.conn.Closed() {
		return nil, fmt.Errorf("dedicated upstream: not connected")
	}
	return d.conn, nil
}

// Close tears down the connection and halts any in-flight reconnect loop.
// Called from Session.close.
func (d *Dedicated) Close() {
	d.mu.Lock()
	d.stopped = true
	conn := d.conn
	d.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	d.mux.untrackDedicated(d)
}
