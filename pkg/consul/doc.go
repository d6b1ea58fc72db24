// Package consul provides the Consul KV document store backend. It is only
// compiled in with the consul build tag; default builds use the memory or
// Redis stores.
package consul
