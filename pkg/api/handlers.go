package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strings"

	"distmaster/pkg/auth"
	"distmaster/pkg/files"
	"distmaster/pkg/router"
)

// Pinger reports backend reachability for the health endpoint.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler serves the public node-protocol and end-user HTTP surface.
type Handler struct {
	Auth    *auth.Service
	Router  *router.Router
	Library *files.Library
	Health  Pinger     // optional store readiness check
	Online  func() int // optional online-cluster gauge
}

// RegisterRoutes wires the public HTTP handlers on the provided mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("distmaster file distribution control plane"))
	})
	mux.HandleFunc("/healthz", h.handleHealthz)
	mux.HandleFunc("/challenge", withCORS(h.handleChallenge))
	mux.HandleFunc("/token", withCORS(h.handleToken))
	mux.HandleFunc("/files", withCORS(h.handleFileList))
	mux.HandleFunc("/files/", withCORS(h.handleFile))
	mux.HandleFunc("/download/", withCORS(h.handleDownload))
	mux.HandleFunc("/report", withCORS(h.handleReport))
}

func (h *Handler) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if h.Health != nil {
		if err := h.Health.Ping(r.Context()); err != nil {
			http.Error(w, "store unavailable", http.StatusServiceUnavailable)
			return
		}
	}
	status := map[string]interface{}{"status": "ok"}
	if h.Online != nil {
		status["online"] = h.Online()
	}
	writeJSON(w, http.StatusOK, status)
}

func (h *Handler) handleChallenge(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	clusterID := r.URL.Query().Get("clusterId")
	if clusterID == "" {
		http.Error(w, "clusterId is required", http.StatusBadRequest)
		return
	}
	challenge, err := h.Auth.IssueChallenge(r.Context(), clusterID)
	if err != nil {
		var banned *auth.BannedError
		switch {
		case errors.As(err, &banned):
			http.Error(w, "cluster banned: "+banned.Reason, http.StatusForbidden)
		case errors.Is(err, auth.ErrNotFound):
			http.Error(w, "cluster not found", http.StatusNotFound)
		default:
			http.Error(w, "directory unavailable", http.StatusServiceUnavailable)
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"challenge": challenge})
}

type tokenRequest struct {
	ClusterID string `json:"clusterId"`
	Challenge string `json:"challenge"`
	Signature string `json:"signature"`
}

func (h *Handler) handleToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req tokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ClusterID == "" {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	token, ttl, err := h.Auth.VerifyChallengeResponse(r.Context(), req.ClusterID, req.Challenge, req.Signature)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"token": token, "ttl": ttl})
}

func (h *Handler) handleFileList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	_, _ = w.Write(h.Library.Blob())
}

func (h *Handler) handleFile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	path := strings.TrimPrefix(r.URL.Path, "/files")
	decision, err := h.Router.Route(path)
	if err != nil {
		http.Error(w, "file not found", http.StatusNotFound)
		return
	}
	if decision.RedirectURL != "" {
		http.Redirect(w, r, decision.RedirectURL, http.StatusFound)
		return
	}
	http.ServeFile(w, r, decision.LocalPath)
}

func (h *Handler) handleDownload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	hash := strings.TrimPrefix(r.URL.Path, "/download/")
	decision, err := h.Router.RouteHash(hash)
	if err != nil {
		http.Error(w, "file not found", http.StatusNotFound)
		return
	}
	http.ServeFile(w, r, decision.LocalPath)
}

// handleReport accepts best-effort abuse reports; fire-and-forget.
func (h *Handler) handleReport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	body, _ := io.ReadAll(io.LimitReader(r.Body, 64<<10))
	log.Printf("abuse report received bytes=%d remote=%s", len(body), r.RemoteAddr)
	w.WriteHeader(http.StatusOK)
}
