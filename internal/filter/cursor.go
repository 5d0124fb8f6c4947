package filter

import (
	"encoding/base64"
	"strings"
	"time"
)

// EncodeCursor packs a page boundary into an opaque token. Paging is keyed
// on (created_at, id) so duplicate timestamps can't skip or repeat rows.
func EncodeCursor(createdAt time.Time, submissionID string) string {
	raw := createdAt.UTC().Format(time.RFC3339Nano) + "|" + submissionID
	return base64.URLEncoding.EncodeToString([]byte(raw))
}

// DecodeCursor unpacks a token produced by EncodeCursor. Malformed tokens
// report ok=false and are treated as no cursor.
func DecodeCursor(cursor string) (createdAt time.Time, submissionID string, ok bool) {
	decoded, err := base64.URLEncoding.DecodeString(cursor)
	if err != nil {
		return time.Time{}, "", false
	}
	raw := string(decoded)
	sep := strings.Index(raw, "|")
	if sep < 0 {
		return time.Time{}, "", false
	}
	t, err := time.Parse(time.RFC3339Nano, raw[:sep])
	if err != nil {
		if t, err = time.Parse(time.RFC3339, raw[:sep]); err != nil {
			return time.Time{}, "", false
		}
	}
	return t.UTC(), raw[sep+1:], true
}
