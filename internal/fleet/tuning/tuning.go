package tuning

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Tuning struct {
	ProtocolVersion string `yaml:"protocol_version"`

	TickIntervalMs     int `yaml:"tick_interval_ms"`
	ProgressIntervalMs int `yaml:"progress_interval_ms"`
	ActionTimeoutMs    int `yaml:"action_timeout_ms"`
	GoalTimeoutMs      int `yaml:"goal_timeout_ms"`
	MaxConcurrentJoins int `yaml:"max_concurrent_joins"`

	Navigation  Navigation  `yaml:"navigation"`
	Progression Progression `yaml:"progression"`
	Survival    Survival    `yaml:"survival"`
	Social      Social      `yaml:"social"`

	Orchestrator Orchestrator `yaml:"orchestrator"`
}

type Navigation struct {
	ArriveRadius   int     `yaml:"arrive_radius"`
	ReachRadius    int     `yaml:"reach_radius"`
	SearchRadius   int     `yaml:"search_radius"`
	ExploreStep    int     `yaml:"explore_step"`
	ExploreHops    int     `yaml:"explore_hops"`
	FollowDistance float64 `yaml:"follow_distance"`
}

type Progression struct {
	WoodEquivalentThreshold float64 `yaml:"wood_equivalent_threshold"`
	StationPlankMin         int     `yaml:"station_plank_min"`
	PlankPerLog             int     `yaml:"plank_per_log"`
	MaxPlanIterations       int     `yaml:"max_plan_iterations"`
}

type Survival struct {
	HungerEatBelow  int `yaml:"hunger_eat_below"`
	BedSearchRadius int `yaml:"bed_search_radius"`
}

type Social struct {
	ChatCooldownMs int     `yaml:"chat_cooldown_ms"`
	HelpChatChance float64 `yaml:"help_chat_chance"`
}

type Orchestrator struct {
	Admins        []string `yaml:"admins"`
	TaskDeadlineS int      `yaml:"task_deadline_s"`
}

func Load(path string) (Tuning, error) {
	var t Tuning
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

// Defaults returns the tuning used when no tuning.yaml is provided.
// The values match configs/tuning.yaml in this repo.
func Defaults() Tuning {
	return Tuning{
		ProtocolVersion:    "1.0",
		TickIntervalMs:     500,
		ProgressIntervalMs: 1000,
		ActionTimeoutMs:    3000,
		GoalTimeoutMs:      30000,
		MaxConcurrentJoins: 8,
		Navigation: Navigation{
			ArriveRadius:   1,
			ReachRadius:    2,
			SearchRadius:   32,
			ExploreStep:    12,
			ExploreHops:    5,
			FollowDistance: 3.0,
		},
		Progression: Progression{
			WoodEquivalentThreshold: 20.0,
			StationPlankMin:         4,
			PlankPerLog:             4,
			MaxPlanIterations:       8,
		},
		Survival: Survival{
			HungerEatBelow:  14,
			BedSearchRadius: 16,
		},
		Social: Social{
			ChatCooldownMs: 5000,
			HelpChatChance: 0.05,
		},
		Orchestrator: Orchestrator{
			Admins:        []string{"ops"},
			TaskDeadlineS: 0,
		},
	}
}
