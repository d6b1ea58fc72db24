package api

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"distmaster/pkg/auth"
	"distmaster/pkg/ledger"
	"distmaster/pkg/model"
	"distmaster/pkg/registry"
	"distmaster/pkg/store"
)

// AdminHandler serves the management API: operator accounts plus cluster
// record administration.
type AdminHandler struct {
	DB         *gorm.DB
	Store      store.Store
	Registry   *registry.Registry
	Accountant *ledger.Accountant
	Archive    *ledger.Archive // optional
}

type authRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (a *AdminHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/auth/register", a.handleRegister)
	mux.HandleFunc("/api/auth/login", a.handleLogin)
	mux.HandleFunc("/api/clusters", a.requireAdmin(a.handleClusters))
	mux.HandleFunc("/api/clusters/", a.requireAdmin(a.handleCluster))
	mux.HandleFunc("/api/online", a.requireAdmin(a.handleOnline))
	mux.HandleFunc("/api/ledger", a.requireAdmin(a.handleLedger))
	mux.HandleFunc("/api/ledger/archive", a.requireAdmin(a.handleLedgerArchive))
}

// handleRegister only allows the first user to be created (admin).
func (a *AdminHandler) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req authRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Username == "" || req.Password == "" {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	var count int64
	a.DB.Model(&model.User{}).Count(&count)
	if count > 0 {
		http.Error(w, "registration closed", http.StatusForbidden)
		return
	}
	hash, _ := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	user := model.User{Username: req.Username, PasswordHash: string(hash), IsAdmin: true}
	if err := a.DB.Create(&user).Error; err != nil {
		http.Error(w, "failed to create user", http.StatusInternalServerError)
		return
	}
	token, _ := auth.GenerateAdmin(user.ID, user.Username, 24*time.Hour)
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

func (a *AdminHandler) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req authRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Username == "" || req.Password == "" {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	var user model.User
	if err := a.DB.Where("username = ?", req.Username).First(&user).Error; err != nil {
		http.Error(w, "invalid credentials", http.StatusUnauthorized)
		return
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)) != nil {
		http.Error(w, "invalid credentials", http.StatusUnauthorized)
		return
	}
	token, _ := auth.GenerateAdmin(user.ID, user.Username, 24*time.Hour)
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

func (a *AdminHandler) requireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h := r.Header.Get("Authorization")
		if !strings.HasPrefix(h, "Bearer ") {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		token := strings.TrimPrefix(h, "Bearer ")
		if _, err := auth.ParseAdmin(token); err != nil {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

type createClusterRequest struct {
	Name      string `json:"name"`
	Bandwidth int    `json:"bandwidth"`
}

func (a *AdminHandler) handleClusters(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		ids, err := a.Store.ListClusterIDs(r.Context())
		if err != nil {
			http.Error(w, "failed to list clusters", http.StatusInternalServerError)
			return
		}
		out := make([]model.ClusterView, 0, len(ids))
		for _, id := range ids {
			if c, ok, _ := a.Store.GetCluster(r.Context(), id); ok {
				out = append(out, c.View())
			}
		}
		writeJSON(w, http.StatusOK, out)
	case http.MethodPost:
		var req createClusterRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
			http.Error(w, "invalid payload", http.StatusBadRequest)
			return
		}
		c := model.Cluster{
			ID:        randomHex(12),
			Name:      req.Name,
			Secret:    randomHex(32),
			Bandwidth: req.Bandwidth,
		}
		if err := a.Store.PutCluster(r.Context(), c); err != nil {
			http.Error(w, "failed to persist cluster", http.StatusInternalServerError)
			return
		}
		// The secret is returned exactly once, at creation; every later
		// read serves the redacted view.
		writeJSON(w, http.StatusOK, map[string]string{"id": c.ID, "secret": c.Secret})
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

type editClusterRequest struct {
	Name      *string `json:"name,omitempty"`
	Bandwidth *int    `json:"bandwidth,omitempty"`
	Trust     *int    `json:"trust,omitempty"`
	Banned    *bool   `json:"banned,omitempty"`
	BanReason *string `json:"banReason,omitempty"`
}

func (a *AdminHandler) handleCluster(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/api/clusters/")
	if id == "" || strings.Contains(id, "/") {
		http.Error(w, "invalid cluster id", http.StatusBadRequest)
		return
	}
	c, ok, err := a.Store.GetCluster(r.Context(), id)
	if err != nil {
		http.Error(w, "directory unavailable", http.StatusServiceUnavailable)
		return
	}
	if !ok {
		http.Error(w, "cluster not found", http.StatusNotFound)
		return
	}
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, c.View())
	case http.MethodPatch:
		var req editClusterRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid payload", http.StatusBadRequest)
			return
		}
		if req.Name != nil {
			c.Name = *req.Name
		}
		if req.Bandwidth != nil {
			c.Bandwidth = *req.Bandwidth
		}
		if req.Trust != nil {
			c.Trust = *req.Trust
		}
		if req.Banned != nil {
			c.Banned = *req.Banned
			if c.Banned {
				// A banned cluster loses its online slot immediately.
				a.Registry.Remove(c.ID)
			} else {
				c.BanReason = ""
			}
		}
		if req.BanReason != nil {
			c.BanReason = *req.BanReason
		}
		if err := a.Store.PutCluster(r.Context(), c); err != nil {
			http.Error(w, "failed to persist cluster", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, c.View())
	case http.MethodDelete:
		a.Registry.Remove(c.ID)
		if err := a.Store.DeleteCluster(r.Context(), id); err != nil {
			http.Error(w, "failed to delete cluster", http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (a *AdminHandler) handleOnline(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	entries := a.Registry.SnapshotAll()
	type onlineView struct {
		ID   string `json:"id"`
		Host string `json:"host"`
		Port int    `json:"port"`
	}
	out := make([]onlineView, 0, len(entries))
	for _, e := range entries {
		out = append(out, onlineView{ID: e.ID, Host: e.Host, Port: e.Port})
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *AdminHandler) handleLedger(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, a.Accountant.Snapshot())
}

// handleLedgerArchive reports archived totals for a completed day.
func (a *AdminHandler) handleLedgerArchive(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if a.Archive == nil {
		http.Error(w, "ledger archive not configured", http.StatusServiceUnavailable)
		return
	}
	day := r.URL.Query().Get("day")
	if _, err := time.Parse("2006-01-02", day); err != nil {
		http.Error(w, "day must be YYYY-MM-DD", http.StatusBadRequest)
		return
	}
	hits, bytes, err := a.Archive.DayTotals(r.Context(), day)
	if err != nil {
		http.Error(w, "archive query failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"day": day, "hits": hits, "bytes": bytes})
}

func randomHex(n int) string {
	b := make([]byte, n)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
