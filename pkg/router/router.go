// Package router decides how an end-user download request is served: a
// signed redirect to an online cluster, or an origin stream when none is
// available.
package router

import (
	"errors"
	"fmt"

	"distmaster/pkg/auth"
	"distmaster/pkg/files"
	"distmaster/pkg/model"
	"distmaster/pkg/registry"
)

// ErrNotFound means the requested path resolves to no known file.
var ErrNotFound = errors.New("file not found")

// Decision is the routing outcome. Exactly one of LocalPath or RedirectURL
// is set.
type Decision struct {
	File        model.FileObject
	LocalPath   string
	RedirectURL string
}

// Router reads the online registry; it never mutates it and does no
// accounting, since nodes report their own hit counts via keep-alive.
type Router struct {
	library  *files.Library
	registry *registry.Registry
}

func New(lib *files.Library, reg *registry.Registry) *Router {
	return &Router{library: lib, registry: reg}
}

// Route resolves filePath and picks a serving cluster. With no cluster
// online the file is served from local storage.
func (r *Router) Route(filePath string) (Decision, error) {
	fo, ok := r.library.Lookup(filePath)
	if !ok {
		return Decision{}, ErrNotFound
	}
	entry, err := r.registry.PickOne()
	if err != nil {
		if errors.Is(err, registry.ErrEmpty) {
			return Decision{File: fo, LocalPath: r.library.AbsPath(fo)}, nil
		}
		return Decision{}, err
	}
	return Decision{File: fo, RedirectURL: RedirectURL(entry, fo.Hash)}, nil
}

// RouteHash serves /download/{hash} origin fallback lookups.
func (r *Router) RouteHash(hash string) (Decision, error) {
	fo, ok := r.library.LookupHash(hash)
	if !ok {
		return Decision{}, ErrNotFound
	}
	return Decision{File: fo, LocalPath: r.library.AbsPath(fo)}, nil
}

// RedirectURL builds the signed download URL for a cluster. The signature is
// the hex HMAC-SHA256 of the content hash keyed by the cluster's secret, so
// the node can verify the master authorized the request.
func RedirectURL(e registry.Entry, contentHash string) string {
	sign := auth.SignHex(contentHash, e.Secret)
	return fmt.Sprintf("http://%s:%d/download/%s?sign=%s", e.Host, e.Port, contentHash, sign)
}
