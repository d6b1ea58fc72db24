package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"distmaster/pkg/auth"
	"distmaster/pkg/ledger"
	"distmaster/pkg/model"
	"distmaster/pkg/registry"
	"distmaster/pkg/store"
)

// fakeProber returns a scripted measurement; if block is set it waits for a
// release signal (or context cancellation) first, to simulate a slow probe.
type fakeProber struct {
	mbps    float64
	err     error
	block   chan struct{}
	started chan struct{}
}

func (f *fakeProber) Measure(ctx context.Context, host string, port int, secret string, duration time.Duration) (float64, error) {
	if f.started != nil {
		f.started <- struct{}{}
	}
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
	return f.mbps, f.err
}

func newTestManager(t *testing.T, pr *fakeProber) (*Manager, *store.MemoryStore) {
	t.Helper()
	st := store.NewMemoryStore()
	require.NoError(t, st.PutCluster(context.Background(), model.Cluster{
		ID:     "c1",
		Name:   "node one",
		Secret: "s1",
	}))
	a := auth.NewService(st, []byte("test-key"))
	m := NewManager(st, a, registry.New(), pr, ledger.New(st, nil), "1.11.0")
	m.ProbeDuration = 50 * time.Millisecond
	return m, st
}

func newTestSession(m *Manager) *Session {
	return &Session{
		m:          m,
		ConnID:     "conn-test",
		ClusterID:  "c1",
		secret:     "s1",
		remoteHost: "192.0.2.10",
		state:      Authenticated,
	}
}

func waitAck(t *testing.T, acks chan Ack) Ack {
	t.Helper()
	select {
	case a := <-acks:
		return a
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for enable ack")
		return Ack{}
	}
}

func enableReq(port int) EnableRequest {
	req := EnableRequest{Port: port, Version: "1.11.0"}
	req.Flavor.Runtime = "test"
	return req
}

func TestConnectWithValidToken(t *testing.T) {
	m, st := newTestManager(t, &fakeProber{})
	ctx := context.Background()

	challenge, err := m.Auth.IssueChallenge(ctx, "c1")
	require.NoError(t, err)
	token, _, err := m.Auth.VerifyChallengeResponse(ctx, "c1", challenge, auth.SignHex(challenge, "s1"))
	require.NoError(t, err)

	var notices []string
	s, err := m.Connect(ctx, "conn-1", token, "192.0.2.10", func(msg string) { notices = append(notices, msg) })
	require.NoError(t, err)
	assert.Equal(t, "c1", s.ClusterID)
	assert.Equal(t, Authenticated, s.State())
	require.Len(t, notices, 1, "connect must emit a welcome notice")

	// Secret rotation in the directory invalidates the old token.
	c, _, _ := st.GetCluster(ctx, "c1")
	c.Secret = "rotated"
	require.NoError(t, st.PutCluster(ctx, c))
	_, err = m.Connect(ctx, "conn-2", token, "192.0.2.10", nil)
	require.ErrorIs(t, err, auth.ErrUnauthorized)
}

func TestConnectRejectsGarbageToken(t *testing.T) {
	m, _ := newTestManager(t, &fakeProber{})
	_, err := m.Connect(context.Background(), "conn-1", "garbage", "192.0.2.10", nil)
	require.ErrorIs(t, err, auth.ErrUnauthorized)
}

func TestConnectRejectsBannedCluster(t *testing.T) {
	m, st := newTestManager(t, &fakeProber{})
	ctx := context.Background()

	challenge, _ := m.Auth.IssueChallenge(ctx, "c1")
	token, _, err := m.Auth.VerifyChallengeResponse(ctx, "c1", challenge, auth.SignHex(challenge, "s1"))
	require.NoError(t, err)

	c, _, _ := st.GetCluster(ctx, "c1")
	c.Banned = true
	c.BanReason = "abuse"
	require.NoError(t, st.PutCluster(ctx, c))

	_, err = m.Connect(ctx, "conn-1", token, "192.0.2.10", nil)
	var banned *auth.BannedError
	require.ErrorAs(t, err, &banned)
	assert.Equal(t, "abuse", banned.Reason)
}

func TestEnableAdmitsAtThreshold(t *testing.T) {
	m, st := newTestManager(t, &fakeProber{mbps: 10.0})
	s := newTestSession(m)
	acks := make(chan Ack, 1)

	s.Enable(context.Background(), enableReq(8001), func(a Ack) { acks <- a })
	ack := waitAck(t, acks)
	require.True(t, ack.OK, "10.0 Mbps is inclusive at the boundary: %s", ack.Message)
	assert.True(t, m.Registry.Contains("c1"))
	assert.Equal(t, Online, s.State())

	// enable persists the announced address.
	c, _, _ := st.GetCluster(context.Background(), "c1")
	assert.Equal(t, "192.0.2.10", c.Host) // fell back to the connection address
	assert.Equal(t, 8001, c.Port)
	assert.Equal(t, "test", c.Runtime)
}

func TestEnableSoftRejectBelowThreshold(t *testing.T) {
	m, _ := newTestManager(t, &fakeProber{mbps: 9.99})
	s := newTestSession(m)
	acks := make(chan Ack, 1)

	s.Enable(context.Background(), enableReq(8001), func(a Ack) { acks <- a })
	ack := waitAck(t, acks)
	require.False(t, ack.OK)
	assert.Contains(t, ack.Message, "9.99")
	assert.False(t, m.Registry.Contains("c1"))
	// Soft failure keeps the session authenticated so enable can be retried.
	assert.Equal(t, Authenticated, s.State())
}

func TestEnableHardErrorReported(t *testing.T) {
	m, _ := newTestManager(t, &fakeProber{err: context.DeadlineExceeded})
	s := newTestSession(m)
	acks := make(chan Ack, 1)

	s.Enable(context.Background(), enableReq(8001), func(a Ack) { acks <- a })
	ack := waitAck(t, acks)
	require.False(t, ack.OK)
	assert.NotEmpty(t, ack.Message)
	assert.False(t, m.Registry.Contains("c1"))
	assert.Equal(t, Authenticated, s.State())
}

func TestEnableRejectedAfterBan(t *testing.T) {
	m, st := newTestManager(t, &fakeProber{mbps: 50})
	ctx := context.Background()

	// Ban lands after the session authenticated.
	c, _, _ := st.GetCluster(ctx, "c1")
	c.Banned = true
	c.BanReason = "abuse"
	require.NoError(t, st.PutCluster(ctx, c))

	s := newTestSession(m)
	acks := make(chan Ack, 1)
	s.Enable(ctx, enableReq(8001), func(a Ack) { acks <- a })
	ack := waitAck(t, acks)
	require.False(t, ack.OK, "a banned cluster must never come online")
	assert.Contains(t, ack.Message, "abuse")
	assert.False(t, m.Registry.Contains("c1"))
	assert.Equal(t, Authenticated, s.State())
}

func TestEnableWhileAlreadyOnlineConflicts(t *testing.T) {
	m, _ := newTestManager(t, &fakeProber{mbps: 50})
	require.NoError(t, m.Registry.Add(registry.Entry{ID: "c1", Host: "other", Port: 9}))
	s := newTestSession(m)
	acks := make(chan Ack, 1)

	s.Enable(context.Background(), enableReq(8001), func(a Ack) { acks <- a })
	ack := waitAck(t, acks)
	require.False(t, ack.OK)
	assert.Contains(t, ack.Message, "already online")

	// The existing slot must never be overwritten.
	all := m.Registry.SnapshotAll()
	require.Len(t, all, 1)
	assert.Equal(t, "other", all[0].Host)
}

func TestEnableUnknownCluster(t *testing.T) {
	m, st := newTestManager(t, &fakeProber{mbps: 50})
	require.NoError(t, st.DeleteCluster(context.Background(), "c1"))
	s := newTestSession(m)
	acks := make(chan Ack, 1)

	s.Enable(context.Background(), enableReq(8001), func(a Ack) { acks <- a })
	ack := waitAck(t, acks)
	require.False(t, ack.OK)
	assert.False(t, m.Registry.Contains("c1"))
}

func TestLowTrustNoticeOnAdmission(t *testing.T) {
	m, st := newTestManager(t, &fakeProber{mbps: 50})
	ctx := context.Background()
	c, _, _ := st.GetCluster(ctx, "c1")
	c.Trust = -5
	require.NoError(t, st.PutCluster(ctx, c))

	notices := make(chan string, 4)
	s := newTestSession(m)
	s.notify = func(msg string) { notices <- msg }
	acks := make(chan Ack, 1)

	s.Enable(ctx, enableReq(8001), func(a Ack) { acks <- a })
	require.True(t, waitAck(t, acks).OK)
	select {
	case msg := <-notices:
		assert.Contains(t, msg, "trust")
	case <-time.After(time.Second):
		t.Fatal("expected a low-trust notice")
	}
}

// TestDisconnectMidProbe is the straggler race: a disconnect while the probe
// is still running must prevent any later online insertion.
func TestDisconnectMidProbe(t *testing.T) {
	pr := &fakeProber{mbps: 50, block: make(chan struct{}), started: make(chan struct{}, 1)}
	m, _ := newTestManager(t, pr)
	s := newTestSession(m)
	acks := make(chan Ack, 1)

	s.Enable(context.Background(), enableReq(8001), func(a Ack) { acks <- a })
	<-pr.started

	s.Disconnect()
	close(pr.block)

	select {
	case a := <-acks:
		t.Fatalf("expected no ack after disconnect, got %+v", a)
	case <-time.After(200 * time.Millisecond):
	}
	assert.False(t, m.Registry.Contains("c1"))
	assert.Equal(t, Closed, s.State())
}

func TestKeepAliveOnlineAndOffline(t *testing.T) {
	m, _ := newTestManager(t, &fakeProber{mbps: 50})
	s := newTestSession(m)

	ts, ok := s.KeepAlive(5, 1000)
	assert.False(t, ok, "keep-alive while offline gets a negative ack")
	assert.Empty(t, ts)

	require.NoError(t, m.Registry.Add(registry.Entry{ID: "c1"}))
	ts, ok = s.KeepAlive(5, 1000)
	require.True(t, ok)
	parsed, err := time.Parse(time.RFC3339, ts)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().UTC(), parsed, time.Minute)

	l := m.Accountant.Snapshot()
	assert.Equal(t, int64(5), l.Nodes["c1"].Hits)
	assert.Equal(t, int64(1000), l.Nodes["c1"].Bytes)
}

func TestDisableRemovesOnlineEntry(t *testing.T) {
	m, _ := newTestManager(t, &fakeProber{mbps: 50})
	s := newTestSession(m)
	acks := make(chan Ack, 1)

	s.Enable(context.Background(), enableReq(8001), func(a Ack) { acks <- a })
	require.True(t, waitAck(t, acks).OK)
	require.True(t, m.Registry.Contains("c1"))

	s.Disable(context.Background())
	assert.False(t, m.Registry.Contains("c1"))
	assert.Equal(t, Authenticated, s.State())

	// Re-enable after disable works without reconnecting.
	s.Enable(context.Background(), enableReq(8002), func(a Ack) { acks <- a })
	require.True(t, waitAck(t, acks).OK)
	assert.True(t, m.Registry.Contains("c1"))
}

func TestDisconnectRemovesOnlineEntry(t *testing.T) {
	m, _ := newTestManager(t, &fakeProber{mbps: 50})
	s := newTestSession(m)
	acks := make(chan Ack, 1)

	s.Enable(context.Background(), enableReq(8001), func(a Ack) { acks <- a })
	require.True(t, waitAck(t, acks).OK)

	s.Disconnect()
	assert.False(t, m.Registry.Contains("c1"))
	assert.Equal(t, Closed, s.State())

	// Disconnect is idempotent.
	s.Disconnect()
	assert.Equal(t, Closed, s.State())
}
