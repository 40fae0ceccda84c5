// Package template implements placeholder substitution for scenario prompts.
//
// A template body carries named placeholders of the form {{FIELD_NAME}}.
// Rendering replaces every placeholder with its field-map value in a single
// pass: missing fields become the empty string and substituted values are
// inserted verbatim, so placeholder-shaped text inside a value is never
// re-expanded.
package template

import (
	"regexp"
	"strings"

	"github.com/BaSui01/personaflow/types"
)

// placeholderPattern matches {{NAME}} tokens. Names are letters, digits, and
// underscores; anything else is left as literal text.
var placeholderPattern = regexp.MustCompile(`\{\{([A-Za-z0-9_]+)\}\}`)

// Placeholders returns the distinct placeholder names in body, in first-use
// order.
func Placeholders(body string) []string {
	seen := make(map[string]struct{})
	var names []string
	for _, m := range placeholderPattern.FindAllStringSubmatch(body, -1) {
		name := m[1]
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		names = append(names, name)
	}
	return names
}

// Render substitutes every placeholder in tmpl.Body from fields. Fields not
// present (or placeholder names not supplied) render as the empty string.
// Rendering is a single pass and therefore idempotent: rendering the output
// again with the same fields yields identical text.
func Render(tmpl types.Template, fields types.FieldMap) string {
	return placeholderPattern.ReplaceAllStringFunc(tmpl.Body, func(token string) string {
		name := token[2 : len(token)-2]
		return fields[name]
	})
}

// Validate returns the names of required fields that fields does not supply.
// A field whose value is blank after trimming counts as missing: the
// original stimulus forms reject whitespace-only input the same way. A nil
// return means the template is ready to render.
func Validate(tmpl types.Template, fields types.FieldMap) []string {
	var missing []string
	for _, name := range tmpl.RequiredFields {
		if strings.TrimSpace(fields[name]) == "" {
			missing = append(missing, name)
		}
	}
	return missing
}

// ValidateErr wraps Validate in the engine error taxonomy: a VALIDATION
// error naming every missing field, or nil.
func ValidateErr(tmpl types.Template, fields types.FieldMap) error {
	missing := Validate(tmpl, fields)
	if len(missing) == 0 {
		return nil
	}
	return types.NewErrorf(types.ErrValidation,
		"missing required template fields: %s", strings.Join(missing, ", "))
}
