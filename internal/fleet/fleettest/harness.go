package fleettest

import (
	"context"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"fleetmind.ai/internal/fleet"
	"fleetmind.ai/internal/fleet/catalogs"
	"fleetmind.ai/internal/fleet/tuning"
)

// FakeRoster is a hand-fed fleet.Roster for single-agent tests.
type FakeRoster struct {
	mu   sync.Mutex
	byID map[string]fleet.Snapshot
}

func NewFakeRoster() *FakeRoster {
	return &FakeRoster{byID: map[string]fleet.Snapshot{}}
}

func (r *FakeRoster) Put(s fleet.Snapshot) {
	r.mu.Lock()
	r.byID[s.ID] = s
	r.mu.Unlock()
}

func (r *FakeRoster) Remove(id string) {
	r.mu.Lock()
	delete(r.byID, id)
	r.mu.Unlock()
}

func (r *FakeRoster) Lookup(ref string) (fleet.Snapshot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.byID[ref]; ok {
		return s, true
	}
	for _, s := range r.byID {
		if s.Name == ref {
			return s, true
		}
	}
	return fleet.Snapshot{}, false
}

func (r *FakeRoster) List() []fleet.Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]fleet.Snapshot, 0, len(r.byID))
	for _, s := range r.byID {
		out = append(out, s)
	}
	return out
}

// Harness wires one agent to a FakeWorld and a FakeRoster, with the
// repo's real catalogs and default tuning. Tests drive ticks through
// Step so there is no timer involved.
type Harness struct {
	T      *testing.T
	Cats   *catalogs.Catalogs
	Tune   tuning.Tuning
	World  *FakeWorld
	Roster *FakeRoster
	Chat   *fleet.ChatLog
	Agent  *fleet.Agent
}

// LoadCatalogs loads the repo catalogs from the nearest configs
// directory above the calling test's working directory.
func LoadCatalogs(t *testing.T) *catalogs.Catalogs {
	t.Helper()
	dir := "configs"
	for i := 0; i < 6; i++ {
		if _, err := os.Stat(dir); err == nil {
			break
		}
		dir = filepath.Join("..", dir)
	}
	cats, err := catalogs.Load(dir)
	if err != nil {
		t.Fatalf("load catalogs: %v", err)
	}
	return cats
}

func NewHarness(t *testing.T, name string) *Harness {
	return NewHarnessWithTuning(t, name, tuning.Defaults())
}

func NewHarnessWithTuning(t *testing.T, name string, tune tuning.Tuning) *Harness {
	t.Helper()

	cats := LoadCatalogs(t)
	w := NewFakeWorld("a-"+name, name, cats)
	roster := NewFakeRoster()
	chat := fleet.NewChatLog(256, nil)

	agent, err := fleet.NewAgent(fleet.AgentConfig{
		Name:     name,
		World:    w,
		Roster:   roster,
		Tuning:   tune,
		Catalogs: cats,
		Logger:   log.New(io.Discard, "", 0),
		ChatLog:  chat,
		Seed:     1,
	})
	if err != nil {
		t.Fatalf("new agent: %v", err)
	}

	return &Harness{
		T:      t,
		Cats:   cats,
		Tune:   tune,
		World:  w,
		Roster: roster,
		Chat:   chat,
		Agent:  agent,
	}
}

// Step runs exactly one behavior tick.
func (h *Harness) Step() fleet.Snapshot {
	h.T.Helper()
	h.Agent.StepOnce(context.Background())
	return h.Agent.Snapshot()
}

func (h *Harness) StepN(n int) fleet.Snapshot {
	h.T.Helper()
	for i := 0; i < n; i++ {
		h.Agent.StepOnce(context.Background())
	}
	return h.Agent.Snapshot()
}

// Submit queues a directive and fails the test if the inbox is full.
func (h *Harness) Submit(d fleet.Directive) {
	h.T.Helper()
	if err := h.Agent.Submit(d); err != nil {
		h.T.Fatalf("submit: %v", err)
	}
}

// ProvisionKit stocks the full basic kit so the first tick completes
// the bootstrap plan and the agent settles into idle.
func (h *Harness) ProvisionKit() {
	h.T.Helper()
	p := h.Cats.Progression
	h.World.AddInventory(p.RawItem, 20)
	h.World.AddInventory(p.StationItem, 1)
	for _, tool := range p.Tools {
		h.World.AddInventory(tool, 1)
	}
}

// SaidContaining reports whether any chat line contains substr.
func (h *Harness) SaidContaining(substr string) bool {
	for _, s := range h.World.Says {
		if strings.Contains(s, substr) {
			return true
		}
	}
	return false
}
