package format

import "strings"

// SupportedModels lists the upstream model names accepted after
// normalization (spec §6).
var SupportedModels = []string{
	"claude-opus-4-5",
	"claude-sonnet-4-5",
	"claude-sonnet-4",
	"claude-haiku-4-5",
	"claude-3-7-sonnet-20250219",
}

// openaiAliases maps gpt-* names callers may pass to their Claude
// equivalent (spec §6 "gpt-* names that alias to Claude equivalents").
var openaiAliases = map[string]string{
	"gpt-4o":      "claude-sonnet-4-5",
	"gpt-4o-mini": "claude-haiku-4-5",
	"gpt-4":       "claude-sonnet-4-5",
	"gpt-4-turbo": "claude-sonnet-4-5",
	"gpt-3.5-turbo": "claude-haiku-4-5",
	"o1":          "claude-opus-4-5",
	"o3":          "claude-opus-4-5",
}

// NormalizeModel lowercases name, strips an "anthropic/" prefix, maps
// "_"→"." and resolves gpt-* aliases, then strips date suffixes and maps
// "-N-M"→"-N.M" (spec §6 "Supported model names").
func NormalizeModel(name string) string {
	n := strings.ToLower(strings.TrimSpace(name))
	n = strings.TrimPrefix(n, "anthropic/")
	n = strings.ReplaceAll(n, "_", ".")

	if alias, ok := openaiAliases[n]; ok {
		return alias
	}
	if strings.HasPrefix(n, "gpt-") {
		// Unknown gpt-* name: fall back to the general-purpose default
		// rather than rejecting the request outright.
		return "claude-sonnet-4-5"
	}

	n = stripDateSuffix(n)
	n = dashNumberToDot(n)
	return n
}

// stripDateSuffix removes a trailing "-YYYYMMDD" component, e.g.
// "claude-3-7-sonnet-20250219" is left untouched (it's a canonical
// supported name) but speculative date-stamped aliases are trimmed.
func stripDateSuffix(n string) string {
	for _, m := range SupportedModels {
		if n == m {
			return n
		}
	}
	idx := strings.LastIndexByte(n, '-')
	if idx < 0 || idx == len(n)-1 {
		return n
	}
	suffix := n[idx+1:]
	if len(suffix) == 8 && isAllDigits(suffix) {
		return n[:idx]
	}
	return n
}

func isAllDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// dashNumberToDot rewrites the first "-N-M" pair of all-digit components
// into "-N.M" (e.g. a hypothetical "claude-3-7" → "claude-3.7"), leaving
// names already in the supported list untouched.
func dashNumberToDot(n string) string {
	for _, m := range SupportedModels {
		if n == m {
			return n
		}
	}
	parts := strings.Split(n, "-")
	for i := 0; i+1 < len(parts); i++ {
		if isAllDigits(parts[i]) && isAllDigits(parts[i+1]) {
			parts[i] = parts[i] + "." + parts[i+1]
			parts = append(parts[:i+1], parts[i+2:]...)
			break
		}
	}
	return strings.Join(parts, "-")
}
