package router

import (
	"crypto/hmac"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"testing"

	"distmaster/pkg/auth"
	"distmaster/pkg/files"
	"distmaster/pkg/registry"
)

func newTestRouter(t *testing.T) (*Router, *registry.Registry, string) {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "test.bin"), []byte("file content"), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	lib := files.NewLibrary(dir)
	if err := lib.Rescan(); err != nil {
		t.Fatalf("scan: %v", err)
	}
	reg := registry.New()
	return New(lib, reg), reg, dir
}

func TestRouteMissingFile(t *testing.T) {
	r, _, _ := newTestRouter(t)
	if _, err := r.Route("/missing.bin"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRouteLocalFallbackWhenRegistryEmpty(t *testing.T) {
	r, _, dir := newTestRouter(t)
	d, err := r.Route("/test.bin")
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if d.RedirectURL != "" {
		t.Fatalf("expected local serving, got redirect %s", d.RedirectURL)
	}
	if d.LocalPath != filepath.Join(dir, "test.bin") {
		t.Fatalf("unexpected local path %s", d.LocalPath)
	}
}

func TestRouteRedirectSignatureVerifies(t *testing.T) {
	r, reg, _ := newTestRouter(t)
	entry := registry.Entry{ID: "c1", Host: "node.example", Port: 8001, Secret: "s1"}
	if err := reg.Add(entry); err != nil {
		t.Fatalf("add entry: %v", err)
	}

	d, err := r.Route("/test.bin")
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if d.LocalPath != "" {
		t.Fatal("expected a redirect with one cluster online")
	}
	u, err := url.Parse(d.RedirectURL)
	if err != nil {
		t.Fatalf("parse redirect: %v", err)
	}
	if u.Host != "node.example:8001" {
		t.Fatalf("redirect points at %s", u.Host)
	}
	wantPath := fmt.Sprintf("/download/%s", d.File.Hash)
	if u.Path != wantPath {
		t.Fatalf("redirect path %s, want %s", u.Path, wantPath)
	}
	// The signature must re-verify against the serving entry's secret.
	sign := u.Query().Get("sign")
	if !hmac.Equal([]byte(sign), []byte(auth.SignHex(d.File.Hash, entry.Secret))) {
		t.Fatal("redirect signature does not verify against the entry secret")
	}
}

func TestRouteHash(t *testing.T) {
	r, _, _ := newTestRouter(t)
	d, err := r.Route("/test.bin")
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	byHash, err := r.RouteHash(d.File.Hash)
	if err != nil {
		t.Fatalf("route by hash: %v", err)
	}
	if byHash.File.Path != "/test.bin" {
		t.Fatalf("unexpected file %+v", byHash.File)
	}
	if _, err := r.RouteHash("deadbeef"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown hash, got %v", err)
	}
}
