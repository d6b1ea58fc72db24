package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"path/filepath"
	"time"

	"distmaster/pkg/api"
	"distmaster/pkg/auth"
	"distmaster/pkg/config"
	"distmaster/pkg/db"
	"distmaster/pkg/files"
	"distmaster/pkg/ledger"
	"distmaster/pkg/probe"
	"distmaster/pkg/registry"
	"distmaster/pkg/router"
	"distmaster/pkg/session"
	"distmaster/pkg/store"
	"distmaster/pkg/version"
)

func main() {
	addr := flag.String("addr", ":8080", "listen address")
	storeType := flag.String("store", "memory", "store backend: memory|redis|consul (consul requires build tag consul)")
	redisAddr := flag.String("redis-addr", "127.0.0.1:6379", "redis address (when store=redis)")
	consulAddr := flag.String("consul-addr", "127.0.0.1:8500", "consul address (when store=consul)")
	tlsCert := flag.String("tls-cert", "", "TLS cert path (enables HTTPS if set with --tls-key)")
	tlsKey := flag.String("tls-key", "", "TLS key path (enables HTTPS if set with --tls-cert)")
	noAdmin := flag.Bool("no-admin", false, "disable the MySQL-backed management API")
	flag.Parse()

	cfg := config.Load()

	var docStore store.Store
	switch *storeType {
	case "redis":
		docStore = store.NewRedisStore(*redisAddr)
	case "consul":
		docStore = store.NewConsulStore(*consulAddr)
	case "memory":
		docStore = store.NewMemoryStore()
	default:
		log.Fatalf("unsupported store type: %s", *storeType)
	}

	archive, err := ledger.OpenArchive(filepath.Join(cfg.DataDir, "ledger.db"))
	if err != nil {
		log.Printf("ledger archive unavailable: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	accountant := ledger.New(docStore, archive)
	if err := accountant.Load(ctx); err != nil {
		log.Printf("ledger restore failed: %v", err)
	}

	library := files.NewLibrary(cfg.FilesDir)
	if err := library.Rescan(); err != nil {
		log.Printf("initial file scan failed: %v", err)
	}

	reg := registry.New()
	tokenSvc := auth.NewService(docStore, []byte(cfg.SigningKey))
	prober := probe.NewHTTPProber()
	manager := session.NewManager(docStore, tokenSvc, reg, prober, accountant, version.LatestClientVersion)
	manager.ProbeDuration = cfg.ProbeDuration
	manager.MinMbps = cfg.MinMbps

	mux := http.NewServeMux()
	handler := &api.Handler{Auth: tokenSvc, Router: router.New(library, reg), Library: library}
	handler.RegisterRoutes(mux)
	hub := api.NewHub(manager)
	hub.RegisterRoutes(mux)
	if p, ok := docStore.(api.Pinger); ok {
		handler.Health = p
	}
	handler.Online = hub.OnlineCount

	if !*noAdmin {
		gdb, err := db.Init()
		if err != nil {
			log.Printf("management API disabled, mysql init failed: %v", err)
		} else {
			admin := &api.AdminHandler{DB: gdb, Store: docStore, Registry: reg, Accountant: accountant, Archive: archive}
			admin.RegisterRoutes(mux)
		}
	}

	go rescanLoop(ctx, library, cfg.RescanEvery)
	go flushLoop(ctx, accountant, cfg.FlushEvery)
	go dailyResetLoop(ctx, accountant)

	srv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	log.Printf("master listening on %s store=%s build=%s", *addr, *storeType, version.Build)
	if *tlsCert != "" && *tlsKey != "" {
		err = srv.ListenAndServeTLS(*tlsCert, *tlsKey)
	} else {
		err = srv.ListenAndServe()
	}
	if err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func rescanLoop(ctx context.Context, library *files.Library, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := library.Rescan(); err != nil {
				log.Printf("file rescan failed: %v", err)
			}
		}
	}
}

func flushLoop(ctx context.Context, accountant *ledger.Accountant, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := accountant.Flush(ctx); err != nil {
				log.Printf("ledger flush failed: %v", err)
			}
		}
	}
}

// dailyResetLoop fires the accountant reset at each UTC midnight.
func dailyResetLoop(ctx context.Context, accountant *ledger.Accountant) {
	for {
		now := time.Now().UTC()
		next := now.Truncate(24 * time.Hour).Add(24 * time.Hour)
		timer := time.NewTimer(next.Sub(now))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			if err := accountant.ResetDaily(ctx); err != nil {
				log.Printf("daily ledger reset failed: %v", err)
			} else {
				log.Printf("daily ledger reset complete")
			}
		}
	}
}
