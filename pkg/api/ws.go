package api

import (
	"context"
	"encoding/json"
	"log"
	"net"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"

	"distmaster/pkg/session"
)

// Frame is the envelope for cluster<->master messages. Payloads are
// schema-validated before they reach the lifecycle state machine; frames
// that don't conform are rejected at this boundary.
type Frame struct {
	Type string          `json:"type"` // handshake, enable, keep-alive, disable
	ID   int64           `json:"id,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

type outFrame struct {
	Type string        `json:"type"` // ack, message, error
	ID   int64         `json:"id,omitempty"`
	Data []interface{} `json:"data,omitempty"`
}

type handshakePayload struct {
	Token string `json:"token"`
}

type keepAlivePayload struct {
	Hits  int64 `json:"hits"`
	Bytes int64 `json:"bytes"`
}

// Hub owns the cluster WebSocket connections. It is a thin transport
// adapter: every protocol decision is delegated to the session manager.
type Hub struct {
	upgrader websocket.Upgrader
	manager  *session.Manager
	nextConn atomic.Int64

	mu    sync.Mutex
	conns map[string]*clusterConn
}

type clusterConn struct {
	id      string
	conn    *websocket.Conn
	writeMu sync.Mutex
	sess    *session.Session
}

func NewHub(mgr *session.Manager) *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		manager: mgr,
		conns:   map[string]*clusterConn{},
	}
}

// RegisterRoutes wires the cluster WebSocket endpoint.
func (h *Hub) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws/cluster", h.handleClusterWS)
}

// handleClusterWS upgrades the connection and runs its read loop. The first
// frame must be a handshake carrying a session token.
func (h *Hub) handleClusterWS(w http.ResponseWriter, r *http.Request) {
	c, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws upgrade failed err=%v", err)
		return
	}
	connID := "conn-" + strconv.FormatInt(h.nextConn.Add(1), 10)
	cc := &clusterConn{id: connID, conn: c}

	var hs Frame
	if err := c.ReadJSON(&hs); err != nil || hs.Type != "handshake" {
		cc.writeError("handshake frame required")
		_ = c.Close()
		return
	}
	var payload handshakePayload
	if err := json.Unmarshal(hs.Data, &payload); err != nil || payload.Token == "" {
		cc.writeError("malformed handshake payload")
		_ = c.Close()
		return
	}

	remoteHost := remoteHostOf(r)
	sess, err := h.manager.Connect(r.Context(), connID, payload.Token, remoteHost, cc.notify)
	if err != nil {
		log.Printf("ws auth failed conn=%s err=%v", connID, err)
		cc.writeError(err.Error())
		_ = c.Close()
		return
	}
	cc.sess = sess
	cc.writeAck(hs.ID, nil, true)

	h.mu.Lock()
	h.conns[connID] = cc
	h.mu.Unlock()
	h.readLoop(cc)
}

func (h *Hub) readLoop(cc *clusterConn) {
	defer func() {
		cc.sess.Disconnect()
		_ = cc.conn.Close()
		h.mu.Lock()
		delete(h.conns, cc.id)
		h.mu.Unlock()
	}()
	for {
		var f Frame
		if err := cc.conn.ReadJSON(&f); err != nil {
			return
		}
		h.dispatch(cc, f)
	}
}

func (h *Hub) dispatch(cc *clusterConn, f Frame) {
	switch f.Type {
	case "enable":
		var req session.EnableRequest
		if err := json.Unmarshal(f.Data, &req); err != nil || req.Port == 0 {
			cc.writeAck(f.ID, map[string]string{"message": "malformed enable payload"}, nil)
			return
		}
		id := f.ID
		cc.sess.Enable(context.Background(), req, func(ack session.Ack) {
			if ack.OK {
				cc.writeAck(id, nil, true)
			} else {
				cc.writeAck(id, map[string]string{"message": ack.Message}, nil)
			}
		})
	case "keep-alive":
		var ka keepAlivePayload
		if err := json.Unmarshal(f.Data, &ka); err != nil {
			cc.writeAck(f.ID, map[string]string{"message": "malformed keep-alive payload"}, nil)
			return
		}
		ts, ok := cc.sess.KeepAlive(ka.Hits, ka.Bytes)
		if !ok {
			cc.writeAck(f.ID, nil, false)
			return
		}
		cc.writeAck(f.ID, nil, ts)
	case "disable":
		cc.sess.Disable(context.Background())
		cc.writeAck(f.ID, nil, true)
	default:
		cc.writeAck(f.ID, map[string]string{"message": "unknown event: " + f.Type}, nil)
	}
}

// OnlineCount reports currently held connections, for the info endpoint.
func (h *Hub) OnlineCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

func (cc *clusterConn) write(f outFrame) {
	cc.writeMu.Lock()
	defer cc.writeMu.Unlock()
	if err := cc.conn.WriteJSON(f); err != nil {
		log.Printf("ws send failed conn=%s err=%v", cc.id, err)
	}
}

// writeAck replies in [err, payload] pairs, the node protocol's ack shape.
func (cc *clusterConn) writeAck(id int64, ackErr interface{}, payload interface{}) {
	cc.write(outFrame{Type: "ack", ID: id, Data: []interface{}{ackErr, payload}})
}

func (cc *clusterConn) writeError(msg string) {
	cc.write(outFrame{Type: "error", Data: []interface{}{map[string]string{"message": msg}}})
}

func (cc *clusterConn) notify(msg string) {
	cc.write(outFrame{Type: "message", Data: []interface{}{msg}})
}

func remoteHostOf(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
