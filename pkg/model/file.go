package model

// FileObject is an opaque reference to a distributable file. The control
// plane only needs Hash to build signed redirects; content handling lives
// with the serving side.
type FileObject struct {
	Path string `json:"path"` // normalized, always starts with "/"
	Hash string `json:"hash"` // hex content hash
	Size int64  `json:"size"`
}
