package store

import "fmt"

// Backend names accepted by Open.
const (
	BackendSQLite = "sqlite"
	BackendJSON   = "json"
)

// Open constructs the storage backend named by backend.
func Open(backend, sqlitePath, jsonPath string) (Storage, error) {
	switch backend {
	case BackendSQLite:
		return NewSQLiteStore(sqlitePath)
	case BackendJSON:
		return NewJSONStore(jsonPath)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", backend)
	}
}
