package format

import "testing"

func TestNormalizeModelGPTAliases(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"gpt-4o":        "claude-sonnet-4-5",
		"gpt-4o-mini":   "claude-haiku-4-5",
		"gpt-4":         "claude-sonnet-4-5",
		"o1":            "claude-opus-4-5",
		"o3":            "claude-opus-4-5",
		"gpt-unknownxx": "claude-sonnet-4-5",
	}
	for in, want := range cases {
		if got := NormalizeModel(in); got != want {
			t.Errorf("NormalizeModel(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNormalizeModelAnthropicPrefixAndCase(t *testing.T) {
	t.Parallel()

	if got := NormalizeModel("Anthropic/Claude-Sonnet-4-5"); got != "claude-sonnet-4-5" {
		t.Errorf("NormalizeModel = %q, want prefix stripped and lowercased", got)
	}
}

func TestNormalizeModelStripsDateSuffix(t *testing.T) {
	t.Parallel()

	if got := NormalizeModel("claude-sonnet-4-5-20250101"); got != "claude-sonnet-4-5" {
		t.Errorf("NormalizeModel = %q, want trailing date suffix stripped", got)
	}
}

func TestNormalizeModelLeavesCanonicalNameWithDateSuffixAlone(t *testing.T) {
	t.Parallel()

	if got := NormalizeModel("claude-3-7-sonnet-20250219"); got != "claude-3-7-sonnet-20250219" {
		t.Errorf("NormalizeModel = %q, want the canonical supported name untouched", got)
	}
}

func TestNormalizeModelUnderscoreToDot(t *testing.T) {
	t.Parallel()

	if got := NormalizeModel("claude_sonnet_4_5"); got != "claude.sonnet.4.5" {
		t.Errorf("NormalizeModel = %q, want underscores mapped to dots", got)
	}
}
