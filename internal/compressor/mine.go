package compressor

import (
	"fmt"
	"regexp"
	"strings"

	gateway "github.com/tbuijibing/KiroGate/internal"
)

// minedSummary holds the structured artifacts pulled out of a compressed
// prefix, independent of the narrative LLM summary (spec §4.6 Structured
// summary).
type minedSummary struct {
	artifacts   []artifact
	decisions   []string
	breadcrumbs []string
}

type artifact struct {
	path   string
	action string // created | modified | deleted | read
}

// filePathPattern matches file-path-looking tokens: at least one path
// separator and a plausible extension, avoiding URLs.
var filePathPattern = regexp.MustCompile(`(?:^|[\s` + "`" + `'"])((?:[\w.\-]+/)+[\w.\-]+\.[a-zA-Z0-9]{1,10})`)

var actionVerbs = []struct {
	pattern *regexp.Regexp
	action  string
}{
	{regexp.MustCompile(`(?i)\b(created|creating|wrote|writing|added|adding)\b`), "created"},
	{regexp.MustCompile(`(?i)\b(modified|modifying|updated|updating|edited|editing|changed|changing)\b`), "modified"},
	{regexp.MustCompile(`(?i)\b(deleted|deleting|removed|removing)\b`), "deleted"},
	{regexp.MustCompile(`(?i)\b(read|reading|viewed|viewing|opened|opening)\b`), "read"},
}

// decisionPatterns match sentences stating a decision, English and a CJK
// equivalent phrasing (spec §4.6: "decided to X / chose Y / CJK
// equivalents").
var decisionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bdecided to\s+([^.\n]{3,120})`),
	regexp.MustCompile(`(?i)\bchose\s+([^.\n]{3,120})`),
	regexp.MustCompile(`(?i)\bwe will\s+([^.\n]{3,120})`),
	regexp.MustCompile(`决定(?:要)?([^。\n]{2,60})`),
	regexp.MustCompile(`选择了?([^。\n]{2,60})`),
}

const maxDecisions = 20
const maxBreadcrumbMessages = 6
const maxBreadcrumbLen = 150

// mine extracts artifacts, decisions, and breadcrumbs from the compressed
// prefix (spec §4.6 Structured summary).
func mine(messages []gateway.Message) minedSummary {
	var out minedSummary
	seenDecisions := make(map[string]bool)

	for _, m := range messages {
		text := messageText(m)
		out.artifacts = append(out.artifacts, mineArtifacts(text)...)
		for _, d := range mineDecisions(text) {
			key := strings.ToLower(strings.TrimSpace(d))
			if key == "" || seenDecisions[key] || len(seenDecisions) >= maxDecisions {
				continue
			}
			seenDecisions[key] = true
			out.decisions = append(out.decisions, d)
		}
	}

	start := len(messages) - maxBreadcrumbMessages
	if start < 0 {
		start = 0
	}
	for _, m := range messages[start:] {
		text := firstNChars(strings.TrimSpace(messageText(m)), maxBreadcrumbLen)
		if text == "" {
			continue
		}
		out.breadcrumbs = append(out.breadcrumbs, fmt.Sprintf("%s: %s", m.Role, text))
	}

	return out
}

func mineArtifacts(text string) []artifact {
	var out []artifact
	matches := filePathPattern.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return nil
	}
	for _, match := range matches {
		path := match[1]
		action := nearbyAction(text, path)
		out = append(out, artifact{path: path, action: action})
	}
	return out
}

// nearbyAction scans a window around path's first occurrence for the
// closest action verb, defaulting to "modified" when none is found.
func nearbyAction(text, path string) string {
	idx := strings.Index(text, path)
	if idx < 0 {
		return "modified"
	}
	winStart := max(0, idx-80)
	winEnd := min(len(text), idx+len(path)+20)
	window := text[winStart:winEnd]
	pathStart, pathEnd := idx-winStart, idx-winStart+len(path)
	best, bestDist := "modified", -1
	for _, v := range actionVerbs {
		for _, loc := range v.pattern.FindAllStringIndex(window, -1) {
			dist := pathStart - loc[1]
			if loc[0] >= pathEnd {
				dist = loc[0] - pathEnd
			}
			if bestDist < 0 || dist < bestDist {
				best, bestDist = v.action, dist
			}
		}
	}
	return best
}

func mineDecisions(text string) []string {
	var out []string
	for _, p := range decisionPatterns {
		for _, m := range p.FindAllStringSubmatch(text, -1) {
			if len(m) > 1 {
				out = append(out, strings.TrimSpace(m[1]))
			}
		}
	}
	return out
}

// joinSummary concatenates the narrative summary and mined artifacts into
// the Markdown sections spec §4.6 names: Session Intent, Play-by-Play,
// Artifacts, Decisions, Recent Context.
func joinSummary(narrative string, mined minedSummary) string {
	var b strings.Builder

	b.WriteString("## Session Intent\n")
	b.WriteString(firstSentence(narrative))
	b.WriteString("\n\n## Play-by-Play\n")
	b.WriteString(narrative)
	b.WriteString("\n")

	if len(mined.artifacts) > 0 {
		b.WriteString("\n## Artifacts\n")
		seen := make(map[string]bool)
		for _, a := range mined.artifacts {
			key := a.action + ":" + a.path
			if seen[key] {
				continue
			}
			seen[key] = true
			fmt.Fprintf(&b, "- %s (%s)\n", a.path, a.action)
		}
	}

	if len(mined.decisions) > 0 {
		b.WriteString("\n## Decisions\n")
		for _, d := range mined.decisions {
			fmt.Fprintf(&b, "- %s\n", d)
		}
	}

	if len(mined.breadcrumbs) > 0 {
		b.WriteString("\n## Recent Context\n")
		for _, c := range mined.breadcrumbs {
			fmt.Fprintf(&b, "- %s\n", c)
		}
	}

	return b.String()
}

func firstSentence(s string) string {
	s = strings.TrimSpace(s)
	if idx := strings.IndexAny(s, ".\n"); idx > 0 {
		return s[:idx+1]
	}
	return firstNChars(s, 200)
}
