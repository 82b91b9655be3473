// Package hubapi exposes the hub's operator surface over HTTP: free-text
// commands, task and agent queries, admin-set management, plus health
// and metrics endpoints.
package hubapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"fleetmind.ai/internal/fleet"
	"fleetmind.ai/internal/orchestrator"
	"fleetmind.ai/internal/persistence/indexdb"
	"fleetmind.ai/internal/protocol"
)

type Config struct {
	Orchestrator *orchestrator.Orchestrator
	Fleet        *fleet.Manager
	Logger       *log.Logger
	// Index is optional; when set its queue gauges land on /metrics.
	Index *indexdb.SQLiteIndex
}

type Server struct {
	orc    *orchestrator.Orchestrator
	fleet  *fleet.Manager
	logger *log.Logger
	index  *indexdb.SQLiteIndex
}

func NewServer(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Server{
		orc:    cfg.Orchestrator,
		fleet:  cfg.Fleet,
		logger: logger,
		index:  cfg.Index,
	}
}

// Routes builds the full handler set. The caller owns the http.Server.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/command", s.handleCommand)
	mux.HandleFunc("/api/v1/tasks", s.handleTasks)
	mux.HandleFunc("/api/v1/tasks/", s.handleTask)
	mux.HandleFunc("/api/v1/agents", s.handleAgents)
	mux.HandleFunc("/api/v1/agents/", s.handleAgent)
	mux.HandleFunc("/api/v1/admins", s.handleAdmins)
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", s.handleMetrics)
	return mux
}

type commandRequest struct {
	Principal string `json:"principal"`
	Text      string `json:"text"`
}

type commandResponse struct {
	TaskID   string                     `json:"task_id,omitempty"`
	Report   string                     `json:"report,omitempty"`
	Accepted int                        `json:"accepted,omitempty"`
	Task     *orchestrator.TaskSnapshot `json:"task,omitempty"`
}

func (s *Server) handleCommand(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		rw.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req commandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.logger.Printf("command from %s: bad json: %v", r.RemoteAddr, err)
		writeError(rw, http.StatusBadRequest, protocol.ErrBadRequest, "bad json: "+err.Error())
		return
	}
	if strings.TrimSpace(req.Principal) == "" {
		s.logger.Printf("command from %s: missing principal", r.RemoteAddr)
		writeError(rw, http.StatusBadRequest, protocol.ErrBadRequest, "missing principal")
		return
	}

	res, err := s.orc.Command(r.Context(), req.Principal, req.Text)
	if err != nil {
		switch {
		case errors.Is(err, orchestrator.ErrUnauthorized):
			writeError(rw, http.StatusForbidden, protocol.ErrNoPermission, err.Error())
		case errors.Is(err, orchestrator.ErrEmptyCommand), errors.Is(err, orchestrator.ErrNoCategory):
			writeError(rw, http.StatusBadRequest, protocol.ErrBadRequest, err.Error())
		default:
			writeError(rw, http.StatusInternalServerError, protocol.ErrInternal, err.Error())
		}
		return
	}

	out := commandResponse{TaskID: res.TaskID, Report: res.Report, Accepted: res.Accepted}
	if res.TaskID != "" {
		if snap, ok := s.orc.Task(res.TaskID); ok {
			out.Task = &snap
		}
	}
	writeJSON(rw, http.StatusOK, out)
}

func (s *Server) handleTasks(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		rw.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSON(rw, http.StatusOK, struct {
		Tasks []orchestrator.TaskSnapshot `json:"tasks"`
	}{s.orc.Tasks()})
}

func (s *Server) handleTask(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		rw.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/api/v1/tasks/")
	if id == "" || strings.Contains(id, "/") {
		writeError(rw, http.StatusBadRequest, protocol.ErrBadRequest, "bad task id")
		return
	}
	snap, ok := s.orc.Task(id)
	if !ok {
		writeError(rw, http.StatusNotFound, protocol.ErrInvalidTarget, "no such task")
		return
	}
	writeJSON(rw, http.StatusOK, snap)
}

// agentView is the wire shape of one agent snapshot.
type agentView struct {
	ID            string                 `json:"id"`
	Name          string                 `json:"name"`
	State         fleet.State            `json:"state"`
	Pos           fleet.Vec3i            `json:"pos"`
	HP            int                    `json:"hp"`
	Hunger        int                    `json:"hunger"`
	Inventory     map[string]int         `json:"inventory,omitempty"`
	Equipment     *protocol.EquipmentObs `json:"equipment,omitempty"`
	Goal          *goalView              `json:"goal,omitempty"`
	TaskID        string                 `json:"task_id,omitempty"`
	Team          []string               `json:"team,omitempty"`
	Bootstrapping bool                   `json:"bootstrapping,omitempty"`
	Connected     bool                   `json:"connected"`
	UpdatedAt     time.Time              `json:"updated_at"`
}

type goalView struct {
	Kind     fleet.GoalKind `json:"kind"`
	Dest     fleet.Vec3i    `json:"dest"`
	EntityID string         `json:"entity_id,omitempty"`
}

func viewOf(snap fleet.Snapshot) agentView {
	v := agentView{
		ID:            snap.ID,
		Name:          snap.Name,
		State:         snap.State,
		Pos:           snap.Pos,
		HP:            snap.HP,
		Hunger:        snap.Hunger,
		Inventory:     snap.Inventory,
		TaskID:        snap.TaskID,
		Team:          snap.Team,
		Bootstrapping: snap.Bootstrapping,
		Connected:     snap.Connected,
		UpdatedAt:     snap.UpdatedAt,
	}
	if snap.Equipment != (protocol.EquipmentObs{}) {
		eq := snap.Equipment
		v.Equipment = &eq
	}
	if !snap.Goal.IsZero() {
		v.Goal = &goalView{Kind: snap.Goal.Kind, Dest: snap.Goal.Dest, EntityID: snap.Goal.EntityID}
	}
	return v
}

func (s *Server) handleAgents(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		rw.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	snaps := s.fleet.List()
	views := make([]agentView, 0, len(snaps))
	for _, snap := range snaps {
		views = append(views, viewOf(snap))
	}
	writeJSON(rw, http.StatusOK, struct {
		Agents []agentView `json:"agents"`
	}{views})
}

func (s *Server) handleAgent(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		rw.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	ref := strings.TrimPrefix(r.URL.Path, "/api/v1/agents/")
	if ref == "" || strings.Contains(ref, "/") {
		writeError(rw, http.StatusBadRequest, protocol.ErrBadRequest, "bad agent ref")
		return
	}
	snap, ok := s.fleet.Lookup(ref)
	if !ok {
		writeError(rw, http.StatusNotFound, protocol.ErrInvalidTarget, "no such agent")
		return
	}
	writeJSON(rw, http.StatusOK, viewOf(snap))
}

type adminRequest struct {
	Principal string `json:"principal"`
	Add       string `json:"add,omitempty"`
	Remove    string `json:"remove,omitempty"`
}

func (s *Server) handleAdmins(rw http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(rw, http.StatusOK, struct {
			Admins []string `json:"admins"`
		}{s.orc.Admins()})
	case http.MethodPost:
		var req adminRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(rw, http.StatusBadRequest, protocol.ErrBadRequest, "bad json: "+err.Error())
			return
		}
		if strings.TrimSpace(req.Principal) == "" {
			writeError(rw, http.StatusBadRequest, protocol.ErrBadRequest, "missing principal")
			return
		}
		if (req.Add == "") == (req.Remove == "") {
			writeError(rw, http.StatusBadRequest, protocol.ErrBadRequest, "exactly one of add or remove required")
			return
		}
		var err error
		if req.Add != "" {
			err = s.orc.AddAdmin(req.Principal, req.Add)
		} else {
			err = s.orc.RemoveAdmin(req.Principal, req.Remove)
		}
		if err != nil {
			if errors.Is(err, orchestrator.ErrUnauthorized) {
				writeError(rw, http.StatusForbidden, protocol.ErrNoPermission, err.Error())
				return
			}
			writeError(rw, http.StatusBadRequest, protocol.ErrBadRequest, err.Error())
			return
		}
		writeJSON(rw, http.StatusOK, struct {
			Admins []string `json:"admins"`
		}{s.orc.Admins()})
	default:
		rw.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleMetrics(rw http.ResponseWriter, r *http.Request) {
	rw.Header().Set("Content-Type", "text/plain; version=0.0.4")

	snaps := s.fleet.List()
	connected := 0
	for _, a := range snaps {
		if a.Connected {
			connected++
		}
	}
	st := s.orc.Stats()

	// Minimal Prometheus exposition format.
	fmt.Fprintf(rw, "# HELP fleetmind_fleet_agents Registered agents.\n")
	fmt.Fprintf(rw, "# TYPE fleetmind_fleet_agents gauge\n")
	fmt.Fprintf(rw, "fleetmind_fleet_agents %d\n", len(snaps))

	fmt.Fprintf(rw, "# HELP fleetmind_fleet_agents_connected Agents with a live world session.\n")
	fmt.Fprintf(rw, "# TYPE fleetmind_fleet_agents_connected gauge\n")
	fmt.Fprintf(rw, "fleetmind_fleet_agents_connected %d\n", connected)

	fmt.Fprintf(rw, "# HELP fleetmind_commands_total Operator commands received.\n")
	fmt.Fprintf(rw, "# TYPE fleetmind_commands_total counter\n")
	fmt.Fprintf(rw, "fleetmind_commands_total %d\n", st.CommandsTotal)

	fmt.Fprintf(rw, "# HELP fleetmind_commands_rejected_total Commands rejected before dispatch.\n")
	fmt.Fprintf(rw, "# TYPE fleetmind_commands_rejected_total counter\n")
	fmt.Fprintf(rw, "fleetmind_commands_rejected_total %d\n", st.CommandsRejected)

	fmt.Fprintf(rw, "# HELP fleetmind_tasks Task tallies by phase.\n")
	fmt.Fprintf(rw, "# TYPE fleetmind_tasks gauge\n")
	fmt.Fprintf(rw, "fleetmind_tasks{phase=%q} %d\n", "created", st.TasksCreated)
	fmt.Fprintf(rw, "fleetmind_tasks{phase=%q} %d\n", "running", st.TasksRunning)
	fmt.Fprintf(rw, "fleetmind_tasks{phase=%q} %d\n", "completed", st.TasksCompleted)
	fmt.Fprintf(rw, "fleetmind_tasks{phase=%q} %d\n", "failed", st.TasksFailed)

	writeIndexMetrics(rw, s.index)
}

func writeIndexMetrics(rw http.ResponseWriter, idx *indexdb.SQLiteIndex) {
	if idx == nil {
		return
	}
	st := idx.Stats()

	fmt.Fprintf(rw, "# HELP fleetmind_index_queue_depth Current index writer queue depth.\n")
	fmt.Fprintf(rw, "# TYPE fleetmind_index_queue_depth gauge\n")
	fmt.Fprintf(rw, "fleetmind_index_queue_depth %d\n", st.QueueDepth)

	fmt.Fprintf(rw, "# HELP fleetmind_index_queue_capacity Index writer queue capacity.\n")
	fmt.Fprintf(rw, "# TYPE fleetmind_index_queue_capacity gauge\n")
	fmt.Fprintf(rw, "fleetmind_index_queue_capacity %d\n", st.QueueCapacity)

	fmt.Fprintf(rw, "# HELP fleetmind_index_dropped_total Index writes dropped because the queue was full.\n")
	fmt.Fprintf(rw, "# TYPE fleetmind_index_dropped_total counter\n")
	fmt.Fprintf(rw, "fleetmind_index_dropped_total{stream=%q} %d\n", "tasks", st.DropTaskTotal)
	fmt.Fprintf(rw, "fleetmind_index_dropped_total{stream=%q} %d\n", "audit", st.DropAuditTotal)
	fmt.Fprintf(rw, "fleetmind_index_dropped_total{stream=%q} %d\n", "chat", st.DropChatTotal)
}

func writeJSON(rw http.ResponseWriter, status int, v any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	_ = json.NewEncoder(rw).Encode(v)
}

func writeError(rw http.ResponseWriter, status int, code, msg string) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	_ = json.NewEncoder(rw).Encode(map[string]any{"ok": false, "code": code, "message": msg})
}
