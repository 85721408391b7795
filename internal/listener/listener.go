// Package listener runs the frontend-facing accept loops from spec.md §4.5:
// plain TCP, TLS, and the XOR-obfuscated "encrypted" variant, each optional
// per Settings. Grounded on the teacher's ListenTCP (admission policy, one
// goroutine per accepted client) and ShaeOJ-GoVault's server.go (acceptLoop
// structure, graceful Stop).
package listener

import (
	"crypto/tls"
	"net"
	"strconv"
	"sync"

	"github.com/etpool/mining-proxy/internal/config"
	"github.com/etpool/mining-proxy/internal/logging"
	"github.com/etpool/mining-proxy/internal/ratelimit"
	"github.com/etpool/mining-proxy/internal/session"
	"github.com/etpool/mining-proxy/internal/upstream"
	"github.com/etpool/mining-proxy/internal/worker"
	"github.com/etpool/mining-proxy/internal/xorstream"
)

// Listener owns the accept loops for one configured proxy instance.
type Listener struct {
	cfg     *config.Settings
	log     *logging.Logger
	mux     *upstream.Multiplexer
	limiter *ratelimit.Limiter

	listeners []net.Listener

	mu       sync.Mutex
	sessions map[*session.Session]struct{}
}

func New(cfg *config.Settings, log *logging.Logger, mux *upstream.Multiplexer) *Listener {
	return &Listener{
		cfg:      cfg,
		log:      log,
		mux:      mux,
		limiter:  ratelimit.New(cfg.RateLimitPerSec, cfg.RateLimitBurst),
		sessions: make(map[*session.Session]struct{}),
	}
}

// ActiveWorkers snapshots every currently logged-in miner's Worker state, for
// the telemetry sender to enqueue.
func (l *Listener) ActiveWorkers() []worker.Snapshot {
	l.mu.Lock()
	sessions := make([]*session.Session, 0, len(l.sessions))
	for s := range l.sessions {
		sessions = append(sessions, s)
	}
	l.mu.Unlock()

	out := make([]worker.Snapshot, 0, len(sessions))
	for _, s := range sessions {
		if snap, ok := s.WorkerSnapshot(); ok {
			out = append(out, snap)
		}
	}
	return out
}

// Start launches every accept loop named by a nonzero port in Settings. It
// returns once all requested listeners are bound; each loop then runs on its
// own goroutine until Stop is called.
func (l *Listener) Start() error {
	if l.cfg.TCPPort != 0 {
		ln, err := net.Listen("tcp", portAddr(l.cfg.TCPPort))
		if err != nil {
			return err
		}
		l.listeners = append(l.listeners, ln)
		go l.acceptLoop(ln, plainUpgrade)
		l.log.Infof("listener", "plain TCP listening on %s", ln.Addr())
	}

	if l.cfg.SSLPort != 0 {
		tlsCfg, err := LoadIdentity(l.cfg.P12Path, l.cfg.P12Pass, l.cfg.Strict, l.log)
		if err != nil {
			return err
		}
		ln, err := net.Listen("tcp", portAddr(l.cfg.SSLPort))
		if err != nil {
			return err
		}
		tlsLn := tls.NewListener(ln, tlsCfg)
		l.listeners = append(l.listeners, tlsLn)
		go l.acceptLoop(tlsLn, plainUpgrade)
		l.log.Infof("listener", "TLS listening on %s", ln.Addr())
	}

	if l.cfg.EncryptPort != 0 {
		ln, err := net.Listen("tcp", portAddr(l.cfg.EncryptPort))
		if err != nil {
			return err
		}
		l.listeners = append(l.listeners, ln)
		go l.acceptLoop(ln, encryptedUpgrade)
		l.log.Infof("listener", "encrypted listening on %s", ln.Addr())
	}

	return nil
}

type upgradeFn func(net.Conn) (net.Conn, error)

func plainUpgrade(c net.Conn) (net.Conn, error) { return c, nil }

func encryptedUpgrade(c net.Conn) (net.Conn, error) {
	return xorstream.ServerHandshake(c)
}

func (l *Listener) acceptLoop(ln net.Listener, upgrade upgradeFn) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return
		}

		if !l.limiter.Allow(conn.RemoteAddr()) {
			l.log.Warnf("listener", "rejected %s: rate limited", conn.RemoteAddr())
			conn.Close()
			continue
		}

		go l.handleConn(conn, upgrade)
	}
}

func (l *Listener) handleConn(conn net.Conn, upgrade upgradeFn) {
	upgraded, err := upgrade(conn)
	if err != nil {
		l.log.Warnf("listener", "%s: upgrade failed: %v", conn.RemoteAddr(), err)
		l.limiter.PenalizeMalformed(conn.RemoteAddr())
		conn.Close()
		return
	}

	sess := session.New(upgraded, l.log, l.mux, l.cfg)

	l.mu.Lock()
	l.sessions[sess] = struct{}{}
	l.mu.Unlock()

	sess.Run()

	l.mu.Lock()
	delete(l.sessions, sess)
	l.mu.Unlock()
}

// Stop closes every bound listener; in-flight Sessions finish on their own.
func (l *Listener) Stop() {
	for _, ln := range l.listeners {
		ln.Close()
	}
}

func portAddr(port int) string {
	return ":" + strconv.Itoa(port)
}
