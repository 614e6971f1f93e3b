package format

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	"github.com/maypok86/otter/v2"

	gateway "github.com/tbuijibing/KiroGate/internal"
)

const (
	toolCacheMaxSize = 8
	toolCacheTTL     = 5 * time.Minute

	maxToolDescriptionLen = 10237
	maxToolNameLen        = 64
	mcpNamePrefix         = "mcp__"
)

// lineLimitAdvisory is appended to the Write/Edit tool descriptions (spec
// §4.2: "mandatory appended line-limit advisories").
const lineLimitAdvisory = "\n\nIMPORTANT: Prefer the smallest edit that accomplishes the change; avoid rewriting whole files."

// TruncateToolName enforces the 64-char cap, preserving an MCP-style
// "mcp__server__" prefix intact and truncating only the tail (spec §4.2).
func TruncateToolName(name string) string {
	if len(name) <= maxToolNameLen {
		return name
	}
	if strings.HasPrefix(name, mcpNamePrefix) {
		rest := name[len(mcpNamePrefix):]
		if idx := strings.Index(rest, "__"); idx >= 0 {
			prefixLen := len(mcpNamePrefix) + idx + 2
			if prefixLen < maxToolNameLen {
				tail := name[prefixLen:]
				keep := maxToolNameLen - prefixLen
				if keep > len(tail) {
					keep = len(tail)
				}
				return name[:prefixLen] + tail[:keep]
			}
		}
	}
	return name[:maxToolNameLen]
}

// TruncateToolDescription enforces the 10,237-char cap and appends the
// Write/Edit line-limit advisory (spec §4.2).
func TruncateToolDescription(name, desc string) string {
	if len(desc) > maxToolDescriptionLen {
		desc = desc[:maxToolDescriptionLen]
	}
	if name == "Write" || name == "Edit" {
		desc += lineLimitAdvisory
	}
	return desc
}

// ToolCache memoizes the truncated tool-definition list for a catalogue,
// keyed by a fingerprint of tool names and description lengths, LRU cap 8
// / TTL 5 min (spec §4.2).
type ToolCache struct {
	cache *otter.Cache[string, []gateway.ToolSpec]
}

// NewToolCache creates a ToolCache.
func NewToolCache() *ToolCache {
	c, err := otter.New[string, []gateway.ToolSpec](&otter.Options[string, []gateway.ToolSpec]{
		MaximumSize:      toolCacheMaxSize,
		ExpiryCalculator: otter.ExpiryWriting[string, []gateway.ToolSpec](toolCacheTTL),
	})
	if err != nil {
		panic(err)
	}
	return &ToolCache{cache: c}
}

func fingerprintTools(tools []gateway.ToolSpec) string {
	var b strings.Builder
	for _, t := range tools {
		b.WriteString(t.Name)
		b.WriteByte(':')
		b.WriteString(strconv.Itoa(len(t.Description)))
		b.WriteByte(',')
	}
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// Process returns the truncated form of tools, computing it once per
// distinct catalogue fingerprint and serving cached results thereafter.
func (c *ToolCache) Process(tools []gateway.ToolSpec) []gateway.ToolSpec {
	if len(tools) == 0 {
		return nil
	}
	key := fingerprintTools(tools)
	if cached, ok := c.cache.GetIfPresent(key); ok {
		return cached
	}

	out := make([]gateway.ToolSpec, len(tools))
	for i, t := range tools {
		out[i] = gateway.ToolSpec{
			Name:        TruncateToolName(t.Name),
			Description: TruncateToolDescription(t.Name, t.Description),
			Schema:      t.Schema,
		}
	}
	c.cache.Set(key, out)
	return out
}
