// Package schema holds the form field model and the compiler between the
// builder's field list and the JSON-Schema document stored with each form.
// The two representations round-trip: SchemaFromFields followed by
// FieldsFromSchema yields the original field list.
package schema

import (
	"crypto/rand"
	"encoding/hex"
	"regexp"
)

// Field types accepted by the builder.
const (
	TypeString   = "string"
	TypeNumber   = "number"
	TypeInteger  = "integer"
	TypeBoolean  = "boolean"
	TypeEnum     = "enum"
	TypeFile     = "file"
	TypeDatetime = "datetime"
	TypeDate     = "date"
	TypeTime     = "time"
	TypeGroup    = "group"
	TypeMaster   = "master"
)

// allowedTypes is the set of types a field or array item may declare.
// "master" is handled separately because it needs a source form.
var allowedTypes = map[string]bool{
	TypeString:   true,
	TypeNumber:   true,
	TypeInteger:  true,
	TypeBoolean:  true,
	TypeEnum:     true,
	TypeFile:     true,
	TypeDatetime: true,
	TypeDate:     true,
	TypeTime:     true,
	TypeGroup:    true,
	TypeMaster:   true,
}

// KeyPattern constrains field keys so they survive dotted-path resolution
// and query-parameter round trips.
var KeyPattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*$`)

// Field is one node of the builder's field tree.
type Field struct {
	Key                 string   `json:"key"`
	Label               string   `json:"label"`
	Type                string   `json:"type"`
	Required            bool     `json:"required"`
	Description         string   `json:"description"`
	Placeholder         string   `json:"placeholder"`
	Enum                []string `json:"enum"`
	Min                 *float64 `json:"min"`
	Max                 *float64 `json:"max"`
	Format              string   `json:"format"`
	AllowedExtensions   []string `json:"allowed_extensions"`
	IsArray             bool     `json:"is_array"`
	ItemsType           string   `json:"items_type"`
	Multiline           bool     `json:"multiline"`
	ExpandRows          bool     `json:"expand_rows"`
	MasterFormID        string   `json:"master_form_id"`
	MasterLabelKey      string   `json:"master_label_key"`
	MasterDisplayFields []string `json:"master_display_fields"`
	Children            []Field  `json:"children"`

	// Filled by the master resolver before rendering; never stored.
	MasterOptions      []MasterOption `json:"master_options,omitempty"`
	MasterDisplayItems []DisplayItem  `json:"master_display_items,omitempty"`
}

// MasterOption is one selectable record of a referenced form.
type MasterOption struct {
	Value       string `json:"value"`
	Label       string `json:"label"`
	DisplayJSON string `json:"display_json"`
}

// DisplayItem is a selected display column of a master reference.
type DisplayItem struct {
	Key   string `json:"key"`
	Label string `json:"label"`
}

// DisplayLabel returns the label, falling back to the key.
func (f Field) DisplayLabel() string {
	if f.Label != "" {
		return f.Label
	}
	return f.Key
}

// GenerateFieldKey produces a fresh key not present in existing.
func GenerateFieldKey(existing map[string]bool) string {
	for {
		buf := make([]byte, 6)
		if _, err := rand.Read(buf); err != nil {
			panic(err) // crypto/rand never fails on supported platforms
		}
		candidate := "f_" + hex.EncodeToString(buf)
		if !existing[candidate] && KeyPattern.MatchString(candidate) {
			return candidate
		}
	}
}
