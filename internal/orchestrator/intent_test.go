package orchestrator

import (
	"testing"

	"fleetmind.ai/internal/fleet"
	"fleetmind.ai/internal/fleet/fleettest"
)

func intentRoster() *fleettest.FakeRoster {
	r := fleettest.NewFakeRoster()
	r.Put(fleet.Snapshot{ID: "a-alpha", Name: "alpha", Connected: true})
	r.Put(fleet.Snapshot{ID: "a-bravo", Name: "bravo", Connected: true})
	return r
}

func TestExtract(t *testing.T) {
	cats := fleettest.LoadCatalogs(t)
	roster := intentRoster()

	cases := []struct {
		name string
		text string
		want Intent
	}{
		{
			name: "all collect with count and alias",
			text: "ALL: collect 30 wood",
			want: Intent{Category: "gather", All: true, Item: "LOG", Count: 30},
		},
		{
			name: "two word alias",
			text: "make a crafting table",
			want: Intent{Category: "craft", Item: "CRAFTING_BENCH"},
		},
		{
			name: "named agent with location",
			text: "alpha go to the forest",
			want: Intent{Category: "move", Agents: []string{"a-alpha"}, Place: "forest"},
		},
		{
			name: "follow names follower and target",
			text: "bravo follow alpha",
			want: Intent{Category: "follow", Agents: []string{"a-bravo"}, TargetID: "a-alpha"},
		},
		{
			name: "mine with count and place",
			text: "mine 12 stone at the quarry",
			want: Intent{Category: "mine", Item: "STONE", Count: 12, Place: "quarry"},
		},
		{
			name: "attack keyword",
			text: "everyone hunt the zombies down",
			want: Intent{Category: "attack", All: true},
		},
		{
			name: "privileged category",
			text: "shutdown everything",
			want: Intent{Category: "shutdown", Privileged: true},
		},
		{
			name: "all keyword variant",
			text: "everybody rest",
			want: Intent{Category: "sleep", All: true},
		},
		{
			name: "case insensitive",
			text: "CHOP WOOD",
			want: Intent{Category: "gather", Item: "LOG"},
		},
		{
			name: "no keywords at all",
			text: "please dance",
			want: Intent{},
		},
		{
			name: "empty text",
			text: "   ",
			want: Intent{},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Extract(tc.text, cats, roster)
			if got.Category != tc.want.Category {
				t.Fatalf("category = %q, want %q", got.Category, tc.want.Category)
			}
			if got.Privileged != tc.want.Privileged {
				t.Fatalf("privileged = %v, want %v", got.Privileged, tc.want.Privileged)
			}
			if got.All != tc.want.All {
				t.Fatalf("all = %v, want %v", got.All, tc.want.All)
			}
			if got.Item != tc.want.Item {
				t.Fatalf("item = %q, want %q", got.Item, tc.want.Item)
			}
			if got.Count != tc.want.Count {
				t.Fatalf("count = %d, want %d", got.Count, tc.want.Count)
			}
			if got.TargetID != tc.want.TargetID {
				t.Fatalf("target = %q, want %q", got.TargetID, tc.want.TargetID)
			}
			if got.Place != tc.want.Place {
				t.Fatalf("place = %q, want %q", got.Place, tc.want.Place)
			}
			if len(got.Agents) != len(tc.want.Agents) {
				t.Fatalf("agents = %v, want %v", got.Agents, tc.want.Agents)
			}
			for i := range tc.want.Agents {
				if got.Agents[i] != tc.want.Agents[i] {
					t.Fatalf("agents = %v, want %v", got.Agents, tc.want.Agents)
				}
			}
		})
	}
}

func TestExtractLocationCoordinates(t *testing.T) {
	cats := fleettest.LoadCatalogs(t)

	in := Extract("alpha head to the quarry", cats, intentRoster())
	if in.Location == nil {
		t.Fatal("no location resolved for named place")
	}
	if want := (fleet.Vec3i{-30, 60, 10}); *in.Location != want {
		t.Fatalf("location = %v, want %v", *in.Location, want)
	}

	in = Extract("alpha go to 10 64 -5", cats, intentRoster())
	if in.Location == nil {
		t.Fatal("no location resolved for coordinate triple")
	}
	if want := (fleet.Vec3i{10, 64, -5}); *in.Location != want {
		t.Fatalf("location = %v, want %v", *in.Location, want)
	}
	if in.Count != 0 {
		t.Fatalf("count = %d, want 0 with the digits consumed by the triple", in.Count)
	}
	if in.Place != "" {
		t.Fatalf("place = %q, want empty for a literal triple", in.Place)
	}
}

func TestExtractToleratesUnknownAgentNames(t *testing.T) {
	cats := fleettest.LoadCatalogs(t)
	in := Extract("delta collect wood", cats, intentRoster())
	if len(in.Agents) != 0 {
		t.Fatalf("agents = %v, want none for an unknown name", in.Agents)
	}
	if in.Category != "gather" || in.Item != "LOG" {
		t.Fatalf("intent = %+v, want gather LOG", in)
	}
}
