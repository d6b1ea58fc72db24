// Package files scans the served file tree and resolves request paths to
// file objects. It is the local collaborator behind the download router;
// upstream mirroring happens outside this process.
package files

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"log"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"distmaster/pkg/model"
)

// Library is the in-memory index of the served directory, rebuilt by Rescan.
type Library struct {
	root string

	mu     sync.RWMutex
	byPath map[string]model.FileObject
	byHash map[string]model.FileObject
	blob   []byte
}

func NewLibrary(root string) *Library {
	return &Library{
		root:   root,
		byPath: make(map[string]model.FileObject),
		byHash: make(map[string]model.FileObject),
	}
}

// Rescan walks the root, hashing every regular file. Hidden directories are
// skipped. The filelist blob served to nodes is rebuilt atomically with the
// index.
func (l *Library) Rescan() error {
	byPath := make(map[string]model.FileObject)
	byHash := make(map[string]model.FileObject)
	var list []model.FileObject

	err := filepath.WalkDir(l.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if strings.HasPrefix(d.Name(), ".") && p != l.root {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(l.root, p)
		if err != nil {
			return err
		}
		hash, size, err := hashFile(p)
		if err != nil {
			return fmt.Errorf("hash %s: %w", rel, err)
		}
		fo := model.FileObject{
			Path: "/" + filepath.ToSlash(rel),
			Hash: hash,
			Size: size,
		}
		byPath[fo.Path] = fo
		byHash[fo.Hash] = fo
		list = append(list, fo)
		return nil
	})
	if err != nil {
		return fmt.Errorf("scan %s: %w", l.root, err)
	}

	blob, err := json.Marshal(list)
	if err != nil {
		return err
	}

	l.mu.Lock()
	l.byPath = byPath
	l.byHash = byHash
	l.blob = blob
	l.mu.Unlock()
	log.Printf("file library scanned root=%s files=%d", l.root, len(list))
	return nil
}

// Lookup resolves a request path to a file object. The path is cleaned
// first so traversal segments cannot escape the root.
func (l *Library) Lookup(reqPath string) (model.FileObject, bool) {
	p := path.Clean("/" + reqPath)
	l.mu.RLock()
	defer l.mu.RUnlock()
	fo, ok := l.byPath[p]
	return fo, ok
}

// LookupHash resolves a content hash, as used by /download/{hash}.
func (l *Library) LookupHash(hash string) (model.FileObject, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	fo, ok := l.byHash[hash]
	return fo, ok
}

// Blob returns the cached filelist blob; opaque to callers.
func (l *Library) Blob() []byte {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.blob
}

// AbsPath maps a file object back to its on-disk location for origin serving.
func (l *Library) AbsPath(fo model.FileObject) string {
	return filepath.Join(l.root, filepath.FromSlash(strings.TrimPrefix(fo.Path, "/")))
}

func hashFile(p string) (string, int64, error) {
	f, err := os.Open(p)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()
	h := sha256.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return "", 0, err
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}
