// Package prompt fills evaluation templates with runtime values.
package prompt

import (
	"sort"
	"strings"
)

// Placeholder names used by the evaluation templates.
const (
	UserMessage  = "user_message"
	PromptText   = "prompt_text"
	UserResponse = "user_response"
	UserStory    = "user_story"
	UserInput    = "user_input"
)

type Bindings map[string]string

// Token returns the placeholder token for name, e.g. "{user_story}".
func Token(name string) string {
	return "{" + name + "}"
}

// Render replaces every "{key}" in template with bindings[key]. Placeholders
// without a binding are left as they are. Substitution is a single pass, so
// a bound value that itself looks like a placeholder is never expanded.
func Render(template string, bindings Bindings) string {
	if len(bindings) == 0 {
		return template
	}

	// Sorted so that overlapping tokens resolve the same way on every call.
	keys := make([]string, 0, len(bindings))
	for k := range bindings {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, 2*len(keys))
	for _, k := range keys {
		pairs = append(pairs, Token(k), bindings[k])
	}

	return strings.NewReplacer(pairs...).Replace(template)
}

// Placeholders lists the distinct "{name}" tokens found in template, in order
// of first appearance.
func Placeholders(template string) []string {
	var names []string
	seen := map[string]bool{}

	rest := template
	for {
		open := strings.IndexByte(rest, '{')
		if open < 0 {
			break
		}
		end := strings.IndexByte(rest[open+1:], '}')
		if end < 0 {
			break
		}
		name := rest[open+1 : open+1+end]
		if isName(name) && !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
		rest = rest[open+1:]
	}

	return names
}

func isName(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r != '_' && (r < 'a' || r > 'z') && (r < 'A' || r > 'Z') && (r < '0' || r > '9') {
			return false
		}
	}
	return true
}
