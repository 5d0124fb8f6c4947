package schema

import (
	"fmt"
	"regexp"
	"sort"

	"github.com/xeipuuv/gojsonschema"
)

// The compiled documents carry HTML-oriented format names. gojsonschema
// asserts known formats by default, which is stricter than the original
// Draft-7 behavior (annotation only), so the clashing names get lenient
// checkers: browser time inputs omit seconds, datetime-local is not an
// RFC 3339 timestamp, and binary/url are placeholders, not constraints.
func init() {
	gojsonschema.FormatCheckers.Add("time", looseTimeChecker{})
	gojsonschema.FormatCheckers.Add("datetime-local", acceptAllChecker{})
	gojsonschema.FormatCheckers.Add("binary", acceptAllChecker{})
	gojsonschema.FormatCheckers.Add("url", acceptAllChecker{})
}

type acceptAllChecker struct{}

func (acceptAllChecker) IsFormat(any) bool { return true }

var looseTimePattern = regexp.MustCompile(`^\d{2}:\d{2}(:\d{2})?$`)

type looseTimeChecker struct{}

func (looseTimeChecker) IsFormat(input any) bool {
	text, ok := input.(string)
	if !ok {
		return true
	}
	return looseTimePattern.MatchString(text)
}

// ValidateSubmission checks submission data against a form's compiled
// schema document and returns one message per violation, ordered by
// instance path.
func ValidateSubmission(doc map[string]any, data map[string]any) ([]string, error) {
	result, err := gojsonschema.Validate(
		gojsonschema.NewGoLoader(doc),
		gojsonschema.NewGoLoader(data),
	)
	if err != nil {
		return nil, fmt.Errorf("schema validation: %w", err)
	}
	if result.Valid() {
		return nil, nil
	}
	var messages []string
	for _, violation := range result.Errors() {
		messages = append(messages, fmt.Sprintf("%s: %s", violation.Field(), violation.Description()))
	}
	// gojsonschema reports violations in walk order, which is not stable
	// across maps; each message starts with its instance path.
	sort.Strings(messages)
	return messages, nil
}
