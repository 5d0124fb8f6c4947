package server

import (
	"embed"
	"fmt"
	"html/template"
	"net/url"

	"formsmith/internal/filter"
	"formsmith/internal/schema"
)

//go:embed templates/*.html
var templateFS embed.FS

func (s *Server) registerTemplates() error {
	tmpl, err := template.New("").Funcs(templateFuncs()).ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return fmt.Errorf("parse templates: %w", err)
	}
	s.router.SetHTMLTemplate(tmpl)
	return nil
}

func templateFuncs() template.FuncMap {
	return template.FuncMap{
		// dict builds the argument map recursive field templates take.
		"dict": func(pairs ...any) (map[string]any, error) {
			if len(pairs)%2 != 0 {
				return nil, fmt.Errorf("dict needs key/value pairs")
			}
			out := make(map[string]any, len(pairs)/2)
			for i := 0; i < len(pairs); i += 2 {
				key, ok := pairs[i].(string)
				if !ok {
					return nil, fmt.Errorf("dict keys must be strings")
				}
				out[key] = pairs[i+1]
			}
			return out, nil
		},
		// raw marks an already-encoded JSON string safe for a script tag.
		"raw": func(v string) template.JS {
			return template.JS(v)
		},
		"get": func(m any, key string) any {
			if mm, ok := m.(map[string]any); ok {
				return mm[key]
			}
			return nil
		},
		// withParam rebuilds the current query string with some
		// parameters replaced, for sort and pagination links.
		"withParam": func(query map[string]string, pairs ...any) template.URL {
			values := url.Values{}
			for key, val := range query {
				values.Set(key, val)
			}
			for i := 0; i+1 < len(pairs); i += 2 {
				values.Set(fmt.Sprint(pairs[i]), fmt.Sprint(pairs[i+1]))
			}
			return template.URL("?" + values.Encode())
		},
		"text": func(v any) string {
			if v == nil {
				return ""
			}
			return fmt.Sprint(v)
		},
		"items": func(v any) []any {
			if list, ok := v.([]any); ok {
				return list
			}
			return nil
		},
		// selected reports whether an option matches the stored value,
		// scalar or list.
		"selected": func(current any, option string) bool {
			if list, ok := current.([]any); ok {
				for _, item := range list {
					if fmt.Sprint(item) == option {
						return true
					}
				}
				return false
			}
			return current != nil && fmt.Sprint(current) == option
		},
		"truthy": func(v any) bool {
			b, _ := v.(bool)
			return b
		},
		"paramKey": filter.ParamKey,
		"accept": func(f schema.Field) string {
			return schema.FileAcceptForConstraints(f.Format, f.AllowedExtensions)
		},
		"pages": func(n int) []int {
			out := make([]int, n)
			for i := range out {
				out[i] = i + 1
			}
			return out
		},
	}
}
