// nodesim is a minimal simulated storage node for exercising the master
// locally: it authenticates, keeps a WebSocket session, answers bandwidth
// probes and sends keep-alives.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"distmaster/pkg/auth"
)

type frame struct {
	Type string          `json:"type"`
	ID   int64           `json:"id,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

var (
	hits        atomic.Int64
	bytesServed atomic.Int64
)

func main() {
	master := flag.String("master", "http://127.0.0.1:8080", "master base URL")
	clusterID := flag.String("cluster-id", "", "cluster id")
	secret := flag.String("secret", "", "cluster secret")
	port := flag.Int("port", 9090, "local serving port")
	keepAlive := flag.Duration("keep-alive", 60*time.Second, "keep-alive interval")
	flag.Parse()
	if *clusterID == "" || *secret == "" {
		log.Fatal("cluster-id and secret are required")
	}

	go serveFiles(*port)

	token, err := obtainToken(*master, *clusterID, *secret)
	if err != nil {
		log.Fatalf("token handshake failed: %v", err)
	}
	log.Printf("session token obtained for cluster %s", *clusterID)

	for {
		if err := runSession(*master, token, *port, *keepAlive); err != nil {
			log.Printf("session ended: %v", err)
		}
		time.Sleep(5 * time.Second)
	}
}

// obtainToken runs the challenge flow: fetch a challenge, sign it with the
// shared secret, exchange it for a session token.
func obtainToken(master, clusterID, secret string) (string, error) {
	resp, err := http.Get(fmt.Sprintf("%s/challenge?clusterId=%s", master, url.QueryEscape(clusterID)))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("challenge status %d", resp.StatusCode)
	}
	var ch struct {
		Challenge string `json:"challenge"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&ch); err != nil {
		return "", err
	}

	body, _ := json.Marshal(map[string]string{
		"clusterId": clusterID,
		"challenge": ch.Challenge,
		"signature": auth.SignHex(ch.Challenge, secret),
	})
	tresp, err := http.Post(master+"/token", "application/json", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	defer tresp.Body.Close()
	if tresp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("token status %d", tresp.StatusCode)
	}
	var tok struct {
		Token string `json:"token"`
		TTL   int64  `json:"ttl"`
	}
	if err := json.NewDecoder(tresp.Body).Decode(&tok); err != nil {
		return "", err
	}
	return tok.Token, nil
}

func runSession(master, token string, port int, keepAlive time.Duration) error {
	u, err := url.Parse(master)
	if err != nil {
		return err
	}
	scheme := "ws"
	if u.Scheme == "https" {
		scheme = "wss"
	}
	u.Scheme = scheme
	u.Path = "/ws/cluster"

	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		return fmt.Errorf("ws dial: %w", err)
	}
	defer conn.Close()

	send := func(f frame) error { return conn.WriteJSON(f) }

	hs, _ := json.Marshal(map[string]string{"token": token})
	if err := send(frame{Type: "handshake", ID: 1, Data: hs}); err != nil {
		return err
	}
	var ack frame
	if err := conn.ReadJSON(&ack); err != nil {
		return err
	}
	if ack.Type == "error" {
		return fmt.Errorf("handshake rejected: %s", string(ack.Data))
	}
	log.Printf("ws connected to master url=%s", u.String())

	enable, _ := json.Marshal(map[string]interface{}{
		"port":    port,
		"version": "1.11.0",
		"flavor":  map[string]string{"runtime": "nodesim"},
	})
	if err := send(frame{Type: "enable", ID: 2, Data: enable}); err != nil {
		return err
	}

	go func() {
		ticker := time.NewTicker(keepAlive)
		defer ticker.Stop()
		var id int64 = 100
		for range ticker.C {
			id++
			ka, _ := json.Marshal(map[string]int64{
				"hits":  hits.Swap(0),
				"bytes": bytesServed.Swap(0),
			})
			if err := send(frame{Type: "keep-alive", ID: id, Data: ka}); err != nil {
				return
			}
		}
	}()

	for {
		var f frame
		if err := conn.ReadJSON(&f); err != nil {
			return err
		}
		switch f.Type {
		case "message":
			log.Printf("master notice: %s", string(f.Data))
		case "ack":
			log.Printf("master ack id=%d data=%s", f.ID, string(f.Data))
		case "error":
			log.Printf("master error: %s", string(f.Data))
		}
	}
}

// serveFiles exposes the endpoints the master probes and redirects to.
func serveFiles(port int) {
	mux := http.NewServeMux()
	mux.HandleFunc("/measure/", func(w http.ResponseWriter, r *http.Request) {
		sizeMB, err := strconv.Atoi(strings.TrimPrefix(r.URL.Path, "/measure/"))
		if err != nil || sizeMB <= 0 || sizeMB > 200 {
			http.Error(w, "bad size", http.StatusBadRequest)
			return
		}
		chunk := make([]byte, 1024*1024)
		for i := 0; i < sizeMB; i++ {
			if _, err := w.Write(chunk); err != nil {
				return
			}
		}
	})
	mux.HandleFunc("/download/", func(w http.ResponseWriter, r *http.Request) {
		hash := strings.TrimPrefix(r.URL.Path, "/download/")
		hits.Add(1)
		n, _ := w.Write([]byte("simulated content for " + hash))
		bytesServed.Add(int64(n))
	})
	addr := fmt.Sprintf(":%d", port)
	log.Printf("nodesim serving on %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Fatalf("serve error: %v", err)
	}
}
