package generation

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

var placeholderPattern = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_.-]+)\s*\}\}`)

// RenderPrompt turns a structured configuration into model instructions.
// Extra entries are appended in key order so the output is deterministic.
func RenderPrompt(cfg ModelConfig, variant string) string {
	var parts []string
	if cfg.Subject != "" {
		subject := cfg.Subject
		if variant != "" {
			subject = fmt.Sprintf("%s (%s)", subject, variant)
		}
		parts = append(parts, "Subject: "+subject)
	} else if variant != "" {
		parts = append(parts, "Subject variant: "+variant)
	}
	if cfg.Style != "" {
		parts = append(parts, "Style: "+cfg.Style)
	}
	if cfg.Background != "" {
		parts = append(parts, "Background: "+cfg.Background)
	}
	if cfg.Lighting != "" {
		parts = append(parts, "Lighting: "+cfg.Lighting)
	}

	keys := make([]string, 0, len(cfg.Extra))
	for k := range cfg.Extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %s", k, cfg.Extra[k]))
	}

	if cfg.NegativePrompt != "" {
		parts = append(parts, "Avoid: "+cfg.NegativePrompt)
	}
	return strings.Join(parts, ". ")
}

// ExpandTemplate substitutes {{name}} placeholders with values from vars.
// A placeholder without a value yields ErrUnresolvedPlaceholder.
func ExpandTemplate(template string, vars map[string]string) (string, error) {
	var missing []string
	out := placeholderPattern.ReplaceAllStringFunc(template, func(m string) string {
		name := placeholderPattern.FindStringSubmatch(m)[1]
		v, ok := vars[name]
		if !ok {
			missing = append(missing, name)
			return m
		}
		return v
	})
	if len(missing) > 0 {
		return "", fmt.Errorf("%w: %s", ErrUnresolvedPlaceholder, strings.Join(missing, ", "))
	}
	return out, nil
}
