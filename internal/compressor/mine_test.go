package compressor

import (
	"strings"
	"testing"

	gateway "github.com/tbuijibing/KiroGate/internal"
)

func TestMine_ArtifactsTaggedByNearbyVerb(t *testing.T) {
	t.Parallel()
	msgs := []gateway.Message{
		textMsg(gateway.RoleAssistant, "I created src/main.go and then modified internal/app/router.go"),
	}
	m := mine(msgs)
	if len(m.artifacts) != 2 {
		t.Fatalf("expected 2 artifacts, got %d: %+v", len(m.artifacts), m.artifacts)
	}
	if m.artifacts[0].action != "created" || m.artifacts[0].path != "src/main.go" {
		t.Errorf("artifact[0] = %+v", m.artifacts[0])
	}
	if m.artifacts[1].action != "modified" || m.artifacts[1].path != "internal/app/router.go" {
		t.Errorf("artifact[1] = %+v", m.artifacts[1])
	}
}

func TestMine_DecisionsDeduped(t *testing.T) {
	t.Parallel()
	msgs := []gateway.Message{
		textMsg(gateway.RoleAssistant, "We decided to use SQLite for storage."),
		textMsg(gateway.RoleAssistant, "We decided to use SQLite for storage."),
		textMsg(gateway.RoleAssistant, "I chose otter for the cache layer."),
	}
	m := mine(msgs)
	if len(m.decisions) != 2 {
		t.Fatalf("expected 2 deduped decisions, got %d: %v", len(m.decisions), m.decisions)
	}
}

func TestMine_BreadcrumbsCappedAtSix(t *testing.T) {
	t.Parallel()
	msgs := longConversation(30)
	m := mine(msgs)
	if len(m.breadcrumbs) > maxBreadcrumbMessages {
		t.Fatalf("expected at most %d breadcrumbs, got %d", maxBreadcrumbMessages, len(m.breadcrumbs))
	}
}

func TestJoinSummary_IncludesAllSections(t *testing.T) {
	t.Parallel()
	mined := minedSummary{
		artifacts:   []artifact{{path: "a.go", action: "created"}},
		decisions:   []string{"use go"},
		breadcrumbs: []string{"user: hi"},
	}
	out := joinSummary("narrative text.", mined)
	for _, section := range []string{"Session Intent", "Play-by-Play", "Artifacts", "Decisions", "Recent Context"} {
		if !strings.Contains(out, section) {
			t.Errorf("expected section %q in output:\n%s", section, out)
		}
	}
}
