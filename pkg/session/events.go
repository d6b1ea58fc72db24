package session

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"distmaster/pkg/registry"
)

// EnableRequest is the structured enable payload, schema-validated by the
// transport adapter before it gets here.
type EnableRequest struct {
	Host    string `json:"host,omitempty"`
	Port    int    `json:"port"`
	Version string `json:"version"`
	Flavor  struct {
		Runtime string `json:"runtime"`
		Storage string `json:"storage,omitempty"`
	} `json:"flavor"`
}

// Ack carries the node-protocol reply for enable/disable: a structured
// message on failure, ok on success.
type Ack struct {
	Message string
	OK      bool
}

// Session is the per-connection lifecycle state machine instance. Events for
// one session arrive from a single transport read loop, so they are already
// serialized; the mutex protects against the probe goroutine re-entering.
type Session struct {
	m          *Manager
	ConnID     string
	ClusterID  string
	secret     string
	remoteHost string
	notify     Notifier

	mu          sync.Mutex
	state       State
	probeCancel context.CancelFunc
	probeSeq    int
}

// State reports the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Enable processes an enable event. Guards run synchronously; the bandwidth
// probe runs on its own goroutine and delivers exactly one of accept,
// soft-reject or hard-error through ack. A disconnect before the probe
// finishes invalidates the outcome entirely.
func (s *Session) Enable(ctx context.Context, req EnableRequest, ack func(Ack)) {
	c, ok, err := s.m.Store.GetCluster(ctx, s.ClusterID)
	if err != nil {
		ack(Ack{Message: fmt.Sprintf("error: directory unavailable: %v", err)})
		return
	}
	if !ok {
		ack(Ack{Message: "error: cluster does not exist, check your configuration"})
		return
	}
	// A ban issued after this session authenticated must still keep the
	// cluster out of the online set.
	if c.Banned {
		ack(Ack{Message: fmt.Sprintf("error: cluster is banned: %s", c.BanReason)})
		return
	}
	if s.m.Registry.Contains(s.ClusterID) {
		ack(Ack{Message: "error: cluster is already online, check your configuration"})
		return
	}

	host := req.Host
	if host == "" {
		host = s.remoteHost
	}
	c.Host = host
	c.Port = req.Port
	c.Version = req.Version
	c.Runtime = req.Flavor.Runtime
	if err := s.m.Store.PutCluster(ctx, c); err != nil {
		ack(Ack{Message: fmt.Sprintf("error: directory unavailable: %v", err)})
		return
	}

	if req.Version != s.m.LatestVersion && s.notify != nil {
		s.notify(fmt.Sprintf("your client version is outdated, please upgrade to v%s or newer", s.m.LatestVersion))
	}

	s.mu.Lock()
	if s.state == Closed {
		s.mu.Unlock()
		return
	}
	if s.probeCancel != nil {
		s.probeCancel()
	}
	probeCtx, cancel := context.WithCancel(context.Background())
	s.probeCancel = cancel
	s.probeSeq++
	seq := s.probeSeq
	s.mu.Unlock()

	trust := c.Trust
	go s.runProbe(probeCtx, seq, host, req.Port, trust, ack)
}

func (s *Session) runProbe(ctx context.Context, seq int, host string, port int, trust int, ack func(Ack)) {
	mbps, err := s.m.Prober.Measure(ctx, host, port, s.secret, s.m.ProbeDuration)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Closed || seq != s.probeSeq {
		// Session disconnected (or re-enabled) while the probe was running;
		// the outcome must not insert an online entry.
		return
	}
	if err != nil {
		log.Printf("probe failed cluster=%s: %v", s.ClusterID, err)
		ack(Ack{Message: fmt.Sprintf("error: %v", err)})
		return
	}
	if mbps < s.m.MinMbps {
		log.Printf("probe below threshold cluster=%s mbps=%.2f", s.ClusterID, mbps)
		ack(Ack{Message: fmt.Sprintf("error: measured bandwidth %.2f Mbps is below 10 Mbps, please retry enable", mbps)})
		return
	}
	entry := registry.Entry{ID: s.ClusterID, Host: host, Port: port, Secret: s.secret}
	if err := s.m.Registry.Add(entry); err != nil {
		ack(Ack{Message: "error: cluster is already online, check your configuration"})
		return
	}
	s.state = Online
	log.Printf("cluster online id=%s mbps=%.2f", s.ClusterID, mbps)
	if trust < 0 && s.notify != nil {
		s.notify("your node's trust score is low, please keep it stable and online")
	}
	ack(Ack{OK: true})
}

// KeepAlive records reported traffic and returns the acknowledgement
// timestamp. A cluster no longer in the online registry gets a negative
// acknowledgement and nothing is recorded.
func (s *Session) KeepAlive(hits, bytes int64) (string, bool) {
	if !s.m.Registry.Contains(s.ClusterID) {
		return "", false
	}
	s.m.Accountant.Record(s.ClusterID, hits, bytes)
	log.Printf("keep-alive cluster=%s hits=%d bytes=%d", s.ClusterID, hits, bytes)
	return time.Now().UTC().Format(time.RFC3339), true
}

// Disable takes the cluster offline but keeps the session authenticated so
// it can enable again without reconnecting.
func (s *Session) Disable(ctx context.Context) {
	if _, ok, err := s.m.Store.GetCluster(ctx, s.ClusterID); err != nil || !ok {
		log.Printf("disable for unknown cluster conn=%s id=%s", s.ConnID, s.ClusterID)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Closed {
		return
	}
	if s.m.Registry.Remove(s.ClusterID) {
		log.Printf("cluster disabled id=%s", s.ClusterID)
	} else {
		log.Printf("disable while not online id=%s", s.ClusterID)
	}
	s.state = Authenticated
}

// Disconnect tears the session down on transport close. Any in-flight probe
// is cancelled and its result discarded.
func (s *Session) Disconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Closed {
		return
	}
	if s.probeCancel != nil {
		s.probeCancel()
		s.probeCancel = nil
	}
	s.probeSeq++
	if s.m.Registry.Remove(s.ClusterID) {
		log.Printf("cluster removed from online list on disconnect id=%s", s.ClusterID)
	}
	s.state = Closed
	log.Printf("session closed conn=%s cluster=%s", s.ConnID, s.ClusterID)
}
