// Package session drives the per-connection lifecycle of a cluster node:
// connect, enable, keep-alive, disable, disconnect. One Session exists per
// live transport connection; transport adapters feed events in arrival order
// and stay free of protocol logic.
package session

import (
	"context"
	"fmt"
	"log"
	"time"

	"distmaster/pkg/auth"
	"distmaster/pkg/ledger"
	"distmaster/pkg/probe"
	"distmaster/pkg/registry"
	"distmaster/pkg/store"
)

// State of a session. Connect failures terminate the transport before a
// Session is created, so Unauthenticated never escapes Connect.
type State int

const (
	Unauthenticated State = iota
	Authenticated
	Online
	Closed
)

func (s State) String() string {
	switch s {
	case Unauthenticated:
		return "unauthenticated"
	case Authenticated:
		return "authenticated"
	case Online:
		return "online"
	case Closed:
		return "closed"
	}
	return "unknown"
}

const welcomeNotice = "welcome to the distribution network; your node is authenticated"

// Notifier delivers an advisory notice to the node. Best-effort.
type Notifier func(message string)

// Manager owns the shared collaborators and creates sessions for
// authenticated connections. Both transport bindings consume the same
// Manager, so protocol behavior lives in exactly one place.
type Manager struct {
	Store         store.Store
	Auth          *auth.Service
	Registry      *registry.Registry
	Prober        probe.Runner
	Accountant    *ledger.Accountant
	ProbeDuration time.Duration
	MinMbps       float64
	LatestVersion string
}

// NewManager applies the protocol defaults: a 10 second probe gated at an
// inclusive 10 Mbps.
func NewManager(st store.Store, a *auth.Service, reg *registry.Registry, pr probe.Runner, acct *ledger.Accountant, latestVersion string) *Manager {
	return &Manager{
		Store:         st,
		Auth:          a,
		Registry:      reg,
		Prober:        pr,
		Accountant:    acct,
		ProbeDuration: 10 * time.Second,
		MinMbps:       10,
		LatestVersion: latestVersion,
	}
}

// Connect authenticates a transport connection from its session token. The
// token must decode, the embedded secret must equal the directory record's
// current secret, and the record must not be banned; any failure closes the
// transport with ErrUnauthorized (or the ban reason).
func (m *Manager) Connect(ctx context.Context, connID, token string, remoteHost string, notify Notifier) (*Session, error) {
	id, err := m.Auth.VerifySessionToken(token)
	if err != nil {
		return nil, err
	}
	c, ok, err := m.Store.GetCluster(ctx, id.ClusterID)
	if err != nil {
		return nil, fmt.Errorf("directory lookup: %w", err)
	}
	if !ok || c.Secret != id.Secret {
		return nil, auth.ErrUnauthorized
	}
	if c.Banned {
		return nil, &auth.BannedError{Reason: c.BanReason}
	}
	s := &Session{
		m:          m,
		ConnID:     connID,
		ClusterID:  c.ID,
		secret:     c.Secret,
		remoteHost: remoteHost,
		notify:     notify,
		state:      Authenticated,
	}
	log.Printf("session connected conn=%s cluster=%s", connID, c.ID)
	if notify != nil {
		notify(welcomeNotice)
	}
	return s, nil
}
