// Package telemetry implements the supervisor egress path from spec.md §4.6
// and original_source's send_to_parent: a bounded queue drained onto a
// newline-delimited JSON connection to a local supervisor socket. Grounded
// directly on send_to_parent's retry-on-disconnect loop, reworked from a
// blocking per-message connect into a persistent sender goroutine draining a
// channel, per spec.md §9's note that the hot path must never block on
// egress.
package telemetry

import (
	"bufio"
	"encoding/json"
	"net"
	"time"

	"github.com/etpool/mining-proxy/internal/logging"
	"github.com/etpool/mining-proxy/internal/worker"
)

// QueueCapacity bounds the egress channel. A full queue drops the oldest
// pending record rather than blocking the caller (spec.md §5).
const QueueCapacity = 4096

// RetryInterval is how long the sender waits before re-dialing the supervisor
// after a failed connection attempt, matching send_to_parent's 120s retry.
const RetryInterval = 120 * time.Second

// Record is one NDJSON line sent to the supervisor, mirroring
// SendToParentStruct{name, worker} from original_source main.rs.
type Record struct {
	Name   string          `json:"name"`
	Worker worker.Snapshot `json:"worker"`
}

// Sender owns the bounded queue and the persistent connection to the
// supervisor at addr (spec.md §6: 127.0.0.1:65500).
type Sender struct {
	addr  string
	log   *logging.Logger
	queue chan Record
	done  chan struct{}
}

func NewSender(addr string, log *logging.Logger) *Sender {
	return &Sender{
		addr:  addr,
		log:   log,
		queue: make(chan Record, QueueCapacity),
		done:  make(chan struct{}),
	}
}

// Enqueue submits a record for delivery. Never blocks: if the queue is full,
// the oldest queued record is dropped and a warning logged, matching the
// drop-oldest-on-overflow policy in spec.md §5.
func (s *Sender) Enqueue(rec Record) {
	select {
	case s.queue <- rec:
	default:
		select {
		case <-s.queue:
			s.log.Warnf("telemetry", "egress queue full, dropped oldest record")
		default:
		}
		select {
		case s.queue <- rec:
		default:
		}
	}
}

// Run drains the queue to the supervisor until Stop is called. Intended to
// run on its own goroutine for the process lifetime.
func (s *Sender) Run() {
	for {
		conn, err := s.dial()
		if err != nil {
			s.log.Warnf("telemetry", "supervisor connect failed, retrying in %s: %v", RetryInterval, err)
			if !s.sleepOrDone(RetryInterval) {
				return
			}
			continue
		}

		if !s.drainInto(conn) {
			conn.Close()
			return
		}
		conn.Close()
	}
}

func (s *Sender) dial() (net.Conn, error) {
	return net.DialTimeout("tcp", s.addr, 10*time.Second)
}

// drainInto writes queued records to conn until it errors or Stop fires.
// Returns false if Stop fired (caller should exit Run), true if the
// connection merely dropped (caller should redial).
func (s *Sender) drainInto(conn net.Conn) bool {
	w := bufio.NewWriter(conn)
	for {
		select {
		case <-s.done:
			return false
		case rec := <-s.queue:
			line, err := json.Marshal(rec)
			if err != nil {
				continue
			}
			line = append(line, '\n')
			if _, err := w.Write(line); err != nil {
				return true
			}
			if err := w.Flush(); err != nil {
				return true
			}
		}
	}
}

func (s *Sender) sleepOrDone(d time.Duration) bool {
	select {
	case <-s.done:
		return false
	case <-time.After(d):
		return true
	}
}

// Stop halts the sender goroutine.
func (s *Sender) Stop() {
	close(s.done)
}

// DefaultAddr is the supervisor socket address named in spec.md §6.
const DefaultAddr = "127.0.0.1:65500"
