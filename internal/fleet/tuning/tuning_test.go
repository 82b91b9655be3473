package tuning

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tuning.yaml")
	doc := `
protocol_version: "1.0"
tick_interval_ms: 250
goal_timeout_ms: 15000
navigation:
  follow_distance: 4.5
progression:
  wood_equivalent_threshold: 12
orchestrator:
  admins: ["ops", "oncall"]
`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	tn, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if tn.TickIntervalMs != 250 {
		t.Fatalf("tick_interval_ms = %d, want 250", tn.TickIntervalMs)
	}
	if tn.GoalTimeoutMs != 15000 {
		t.Fatalf("goal_timeout_ms = %d, want 15000", tn.GoalTimeoutMs)
	}
	if tn.Navigation.FollowDistance != 4.5 {
		t.Fatalf("follow_distance = %v, want 4.5", tn.Navigation.FollowDistance)
	}
	if tn.Progression.WoodEquivalentThreshold != 12 {
		t.Fatalf("wood_equivalent_threshold = %v, want 12", tn.Progression.WoodEquivalentThreshold)
	}
	if len(tn.Orchestrator.Admins) != 2 || tn.Orchestrator.Admins[1] != "oncall" {
		t.Fatalf("admins = %v", tn.Orchestrator.Admins)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestLoadBadYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tuning.yaml")
	if err := os.WriteFile(path, []byte("tick_interval_ms: [not an int"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for malformed yaml")
	}
}

func TestDefaultsSane(t *testing.T) {
	d := Defaults()
	if d.TickIntervalMs <= 0 || d.ProgressIntervalMs <= 0 {
		t.Fatalf("intervals must be positive: %+v", d)
	}
	if d.GoalTimeoutMs < d.ActionTimeoutMs {
		t.Fatalf("goal timeout %d shorter than action timeout %d", d.GoalTimeoutMs, d.ActionTimeoutMs)
	}
	if d.Progression.PlankPerLog <= 0 || d.Progression.MaxPlanIterations <= 0 {
		t.Fatalf("progression defaults: %+v", d.Progression)
	}
	if d.Navigation.FollowDistance <= 0 {
		t.Fatalf("follow distance: %v", d.Navigation.FollowDistance)
	}
	if d.Navigation.ExploreHops <= 0 {
		t.Fatalf("explore hops: %d", d.Navigation.ExploreHops)
	}
}
