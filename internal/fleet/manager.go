package fleet

import (
	"log"
	"sort"
	"sync"
)

// Manager is the fleet roster. Registration links the newcomer into
// every existing agent's team set and vice versa; removal unlinks it.
// Multiple agents join concurrently during fleet spin-up, so all roster
// mutation happens under the lock.
type Manager struct {
	logger *log.Logger

	mu     sync.RWMutex
	agents map[string]*Agent
	byName map[string]*Agent
}

func NewManager(logger *log.Logger) *Manager {
	return &Manager{
		logger: logger,
		agents: map[string]*Agent{},
		byName: map[string]*Agent{},
	}
}

func (m *Manager) Register(a *Agent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, peer := range m.agents {
		peer.AddTeammate(a.ID())
		a.AddTeammate(peer.ID())
	}
	m.agents[a.ID()] = a
	m.byName[a.Name()] = a
	if m.logger != nil {
		m.logger.Printf("fleet: %s (%s) joined, %d agents", a.Name(), a.ID(), len(m.agents))
	}
}

func (m *Manager) Unregister(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.agents[id]
	if !ok {
		return
	}
	delete(m.agents, id)
	delete(m.byName, a.Name())
	for _, peer := range m.agents {
		peer.RemoveTeammate(id)
	}
	if m.logger != nil {
		m.logger.Printf("fleet: %s (%s) left, %d agents", a.Name(), id, len(m.agents))
	}
}

// Get returns the live agent for an id or name.
func (m *Manager) Get(ref string) (*Agent, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if a, ok := m.agents[ref]; ok {
		return a, true
	}
	a, ok := m.byName[ref]
	return a, ok
}

// Lookup implements Roster over ids and names.
func (m *Manager) Lookup(ref string) (Snapshot, bool) {
	a, ok := m.Get(ref)
	if !ok {
		return Snapshot{}, false
	}
	return a.Snapshot(), true
}

// List implements Roster, ordered by agent name.
func (m *Manager) List() []Snapshot {
	m.mu.RLock()
	agents := make([]*Agent, 0, len(m.agents))
	for _, a := range m.agents {
		agents = append(agents, a)
	}
	m.mu.RUnlock()

	out := make([]Snapshot, 0, len(agents))
	for _, a := range agents {
		out = append(out, a.Snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (m *Manager) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.agents)
}

// Broadcast submits a directive to every registered agent and reports
// how many inboxes accepted it.
func (m *Manager) Broadcast(d Directive) int {
	m.mu.RLock()
	agents := make([]*Agent, 0, len(m.agents))
	for _, a := range m.agents {
		agents = append(agents, a)
	}
	m.mu.RUnlock()

	n := 0
	for _, a := range agents {
		if err := a.Submit(d); err != nil {
			if m.logger != nil {
				m.logger.Printf("fleet: %v", err)
			}
			continue
		}
		n++
	}
	return n
}
