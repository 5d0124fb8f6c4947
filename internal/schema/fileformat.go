package schema

import (
	"path/filepath"
	"regexp"
	"strings"
)

// File classes selectable in the builder. A class restricts uploads by
// content type; allowed extensions restrict by file name independently.
const (
	FileFormatImage   = "image"
	FileFormatPDF     = "pdf"
	FileFormatAudio   = "audio"
	FileFormatVideo   = "video"
	FileFormatArchive = "archive"
	FileFormatText    = "text"
)

var fileFormatAccept = map[string]string{
	FileFormatImage:   "image/*",
	FileFormatPDF:     "application/pdf,.pdf",
	FileFormatAudio:   "audio/*",
	FileFormatVideo:   "video/*",
	FileFormatArchive: ".zip,.tar,.gz,.7z,.rar",
	FileFormatText:    "text/*",
}

var extensionPattern = regexp.MustCompile(`^[A-Za-z0-9]{1,10}$`)

// NormalizeFileFormat returns the canonical class name, or "" when the
// input is empty or not a known class.
func NormalizeFileFormat(raw string) string {
	name := strings.ToLower(strings.TrimSpace(raw))
	if _, ok := fileFormatAccept[name]; ok {
		return name
	}
	return ""
}

// NormalizeAllowedExtensions lowercases, strips leading dots, and drops
// duplicates and malformed entries.
func NormalizeAllowedExtensions(raw []string) []string {
	var out []string
	seen := map[string]bool{}
	for _, item := range raw {
		ext := strings.ToLower(strings.TrimSpace(item))
		ext = strings.TrimPrefix(ext, ".")
		if ext == "" || seen[ext] || !extensionPattern.MatchString(ext) {
			continue
		}
		seen[ext] = true
		out = append(out, ext)
	}
	return out
}

// ParseAllowedExtensions normalizes a raw list and reports the entries it
// had to reject, so the builder can surface them.
func ParseAllowedExtensions(raw []string) (valid, invalid []string) {
	seen := map[string]bool{}
	for _, item := range raw {
		ext := strings.ToLower(strings.TrimSpace(item))
		ext = strings.TrimPrefix(ext, ".")
		if ext == "" || seen[ext] {
			continue
		}
		if !extensionPattern.MatchString(ext) {
			invalid = append(invalid, item)
			continue
		}
		seen[ext] = true
		valid = append(valid, ext)
	}
	return valid, invalid
}

// UploadMatchesFileConstraints reports whether an upload satisfies the
// field's file class and extension allowlist. Empty constraints accept
// everything.
func UploadMatchesFileConstraints(contentType, filename, fileFormat string, allowedExtensions []string) bool {
	if format := NormalizeFileFormat(fileFormat); format != "" {
		if !contentTypeMatchesFormat(contentType, filename, format) {
			return false
		}
	}
	if len(allowedExtensions) > 0 {
		ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(filename), "."))
		found := false
		for _, allowed := range allowedExtensions {
			if ext == allowed {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func contentTypeMatchesFormat(contentType, filename, format string) bool {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(filename), "."))
	switch format {
	case FileFormatImage:
		return strings.HasPrefix(ct, "image/")
	case FileFormatPDF:
		return ct == "application/pdf" || ext == "pdf"
	case FileFormatAudio:
		return strings.HasPrefix(ct, "audio/")
	case FileFormatVideo:
		return strings.HasPrefix(ct, "video/")
	case FileFormatArchive:
		switch ext {
		case "zip", "tar", "gz", "tgz", "7z", "rar":
			return true
		}
		return ct == "application/zip" || ct == "application/x-tar" || ct == "application/gzip"
	case FileFormatText:
		return strings.HasPrefix(ct, "text/")
	}
	return false
}

// FileAcceptForConstraints builds the HTML accept attribute for a file
// input from the field's class and extension allowlist.
func FileAcceptForConstraints(fileFormat string, allowedExtensions []string) string {
	var parts []string
	if format := NormalizeFileFormat(fileFormat); format != "" {
		parts = append(parts, fileFormatAccept[format])
	}
	for _, ext := range NormalizeAllowedExtensions(allowedExtensions) {
		parts = append(parts, "."+ext)
	}
	return strings.Join(parts, ",")
}
