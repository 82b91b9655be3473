package protocol

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

func compileSchema(t *testing.T, name string) *jsonschema.Schema {
	t.Helper()
	sch, err := jsonschema.Compile(filepath.Join("..", "..", "schemas", name))
	if err != nil {
		t.Fatalf("compile %s: %v", name, err)
	}
	return sch
}

func validateJSON(t *testing.T, sch *jsonschema.Schema, doc string) error {
	t.Helper()
	var v interface{}
	if err := json.Unmarshal([]byte(doc), &v); err != nil {
		t.Fatalf("unmarshal sample: %v", err)
	}
	return sch.Validate(v)
}

func TestHelloSchema(t *testing.T) {
	sch := compileSchema(t, "hello.schema.json")

	ok := `{"type":"HELLO","protocol_version":"1.0","agent_name":"miner-1","capabilities":{"max_queue":4}}`
	if err := validateJSON(t, sch, ok); err != nil {
		t.Fatalf("valid HELLO rejected: %v", err)
	}

	missing := `{"type":"HELLO","protocol_version":"1.0"}`
	if err := validateJSON(t, sch, missing); err == nil {
		t.Fatalf("HELLO without agent_name accepted")
	}
}

func TestWelcomeSchema(t *testing.T) {
	sch := compileSchema(t, "welcome.schema.json")

	ok := `{"type":"WELCOME","protocol_version":"1.0","agent_id":"a-1","world_params":{"tick_rate_hz":10,"day_ticks":24000,"obs_radius":16,"seed":42},"catalog_digest":"sha256:abc"}`
	if err := validateJSON(t, sch, ok); err != nil {
		t.Fatalf("valid WELCOME rejected: %v", err)
	}

	bad := `{"type":"WELCOME","protocol_version":"1.0","agent_id":"a-1"}`
	if err := validateJSON(t, sch, bad); err == nil {
		t.Fatalf("WELCOME without world_params accepted")
	}
}

func TestObsSchema(t *testing.T) {
	sch := compileSchema(t, "obs.schema.json")

	ok := `{
		"type":"OBS","protocol_version":"1.0","tick":120,"agent_id":"a-1",
		"world":{"time_of_day":0.5,"is_night":false},
		"self":{"pos":[10,64,-3],"hp":20,"hunger":17,"saturation":1.5},
		"inventory":[{"item":"LOG","count":6},{"item":"PLANK","count":2}],
		"equipment":{"hand":"WOODEN_AXE","head":"","torso":"","legs":"","feet":""},
		"blocks":[{"pos":[11,64,-3],"block":"TREE"}],
		"entities":[{"id":"a-2","type":"AGENT","name":"scout-2","pos":[14,64,0]}],
		"events":[{"type":"CHAT","from":"a-2","text":"hi"}],
		"tasks":[{"task_id":"t-9","kind":"MOVE_TO","progress":0.4,"target":[20,64,5]}]
	}`
	if err := validateJSON(t, sch, ok); err != nil {
		t.Fatalf("valid OBS rejected: %v", err)
	}

	badPos := `{
		"type":"OBS","protocol_version":"1.0","tick":1,"agent_id":"a-1",
		"world":{"time_of_day":0.5,"is_night":false},
		"self":{"pos":[10,64],"hp":20,"hunger":20,"saturation":0},
		"inventory":[],
		"equipment":{"hand":"","head":"","torso":"","legs":"","feet":""}
	}`
	if err := validateJSON(t, sch, badPos); err == nil {
		t.Fatalf("OBS with 2-component pos accepted")
	}
}

func TestActSchema(t *testing.T) {
	sch := compileSchema(t, "act.schema.json")

	ok := `{
		"type":"ACT","protocol_version":"1.0","tick":120,"agent_id":"a-1",
		"instants":[{"id":"i-1","type":"SAY","text":"need food"},{"id":"i-2","type":"EQUIP","item_id":"WOODEN_AXE","slot":"hand"}],
		"tasks":[{"id":"t-1","type":"MOVE_TO","target":[5,64,5],"tolerance":1},{"id":"t-2","type":"FOLLOW","target_id":"a-2","distance":3}],
		"cancel":["t-0"]
	}`
	if err := validateJSON(t, sch, ok); err != nil {
		t.Fatalf("valid ACT rejected: %v", err)
	}

	badType := `{"type":"ACT","protocol_version":"1.0","tasks":[{"id":"t-1","type":"TELEPORT"}]}`
	if err := validateJSON(t, sch, badType); err == nil {
		t.Fatalf("ACT with unknown task type accepted")
	}

	badSlot := `{"type":"ACT","protocol_version":"1.0","instants":[{"id":"i-1","type":"EQUIP","item_id":"BED","slot":"pocket"}]}`
	if err := validateJSON(t, sch, badSlot); err == nil {
		t.Fatalf("ACT with unknown equip slot accepted")
	}
}

func TestCommandSchema(t *testing.T) {
	sch := compileSchema(t, "command.schema.json")

	if err := validateJSON(t, sch, `{"text":"all agents gather wood","principal":"ops"}`); err != nil {
		t.Fatalf("valid command rejected: %v", err)
	}
	if err := validateJSON(t, sch, `{"principal":"ops"}`); err == nil {
		t.Fatalf("command without text accepted")
	}
}
