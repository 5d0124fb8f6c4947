package server

import (
	"crypto/rand"
	"encoding/base64"

	"github.com/oklog/ulid/v2"
)

// newULID returns a sortable unique id for forms, submissions, and files.
func newULID() string {
	return ulid.Make().String()
}

// newShortID returns the compact, URL-safe public id embedded in share
// links.
func newShortID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return base64.RawURLEncoding.EncodeToString(buf)
}
