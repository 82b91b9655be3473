package protocol

type ObsMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Tick            uint64 `json:"tick"`
	AgentID         string `json:"agent_id"`

	World     WorldObs     `json:"world"`
	Self      SelfObs      `json:"self"`
	Inventory []ItemStack  `json:"inventory"`
	Equipment EquipmentObs `json:"equipment"`

	Blocks   []BlockObs  `json:"blocks"`
	Entities []EntityObs `json:"entities"`
	Events   []Event     `json:"events"`
	Tasks    []TaskObs   `json:"tasks"`
}

type WorldObs struct {
	TimeOfDay float64 `json:"time_of_day"` // 0..1
	IsNight   bool    `json:"is_night"`
}

type SelfObs struct {
	Pos        [3]int  `json:"pos"`
	HP         int     `json:"hp"`
	Hunger     int     `json:"hunger"`
	Saturation float64 `json:"saturation"`
}

type ItemStack struct {
	Item  string `json:"item"`
	Count int    `json:"count"`
}

// EquipmentObs mirrors the five fixed slots.
type EquipmentObs struct {
	Hand  string `json:"hand"`
	Head  string `json:"head"`
	Torso string `json:"torso"`
	Legs  string `json:"legs"`
	Feet  string `json:"feet"`
}

// BlockObs is one notable (non-air) block within the observation radius.
type BlockObs struct {
	Pos   [3]int `json:"pos"`
	Block string `json:"block"`
}

type EntityObs struct {
	ID   string `json:"id"`
	Type string `json:"type"` // "AGENT", "ITEM", "MOB"
	Name string `json:"name,omitempty"`
	Pos  [3]int `json:"pos"`
}

type Event map[string]interface{}

type TaskObs struct {
	TaskID   string  `json:"task_id"`
	Kind     string  `json:"kind"`
	Progress float64 `json:"progress"`
	Target   [3]int  `json:"target,omitempty"`
}

// ACT (client -> server)
type ActMsg struct {
	Type            string       `json:"type"`
	ProtocolVersion string       `json:"protocol_version"`
	Tick            uint64       `json:"tick"`
	AgentID         string       `json:"agent_id"`
	Instants        []InstantReq `json:"instants,omitempty"`
	Tasks           []TaskReq    `json:"tasks,omitempty"`
	Cancel          []string     `json:"cancel,omitempty"`
}

// InstantReq types: SAY, EQUIP, CONSUME, SLEEP, ATTACK.
type InstantReq struct {
	ID   string `json:"id"`
	Type string `json:"type"`

	Text     string `json:"text,omitempty"`      // SAY
	ItemID   string `json:"item_id,omitempty"`   // EQUIP, CONSUME
	Slot     string `json:"slot,omitempty"`      // EQUIP: "hand","head","torso","legs","feet"
	BlockPos [3]int `json:"block_pos,omitempty"` // SLEEP
	TargetID string `json:"target_id,omitempty"` // ATTACK
}

// TaskReq types: MOVE_TO, FOLLOW, MINE, CRAFT, STOP.
type TaskReq struct {
	ID   string `json:"id"`
	Type string `json:"type"`

	Target    [3]int  `json:"target,omitempty"`    // MOVE_TO
	Tolerance float64 `json:"tolerance,omitempty"` // MOVE_TO

	TargetID string  `json:"target_id,omitempty"` // FOLLOW
	Distance float64 `json:"distance,omitempty"`  // FOLLOW

	BlockPos [3]int `json:"block_pos,omitempty"` // MINE
	RecipeID string `json:"recipe_id,omitempty"` // CRAFT
	Count    int    `json:"count,omitempty"`     // CRAFT
}
