// fleetctl is the operator CLI for a running hub: send commands, watch
// tasks and agents, manage the admin set.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "command":
			commandCmd(os.Args[2:])
			return
		case "tasks":
			tasksCmd(os.Args[2:])
			return
		case "task":
			taskCmd(os.Args[2:])
			return
		case "agents":
			agentsCmd(os.Args[2:])
			return
		case "agent":
			agentCmd(os.Args[2:])
			return
		case "admins":
			adminsCmd(os.Args[2:])
			return
		case "admin-add":
			adminAddCmd(os.Args[2:])
			return
		case "admin-remove":
			adminRemoveCmd(os.Args[2:])
			return
		}
	}
	fmt.Fprintln(os.Stderr, "usage: fleetctl <command|tasks|task|agents|agent|admins|admin-add|admin-remove> [flags]")
	os.Exit(2)
}

func commandCmd(args []string) {
	fs := newFlagSet("command")
	hub := hubFlag(fs)
	principal := fs.String("principal", "ops", "acting principal")
	text := fs.String("text", "", "command text (or trailing args)")
	_ = fs.Parse(args)

	order := strings.TrimSpace(*text)
	if order == "" {
		order = strings.Join(fs.Args(), " ")
	}
	if strings.TrimSpace(order) == "" {
		fmt.Fprintln(os.Stderr, "missing command text")
		os.Exit(2)
	}

	var res struct {
		TaskID   string    `json:"task_id"`
		Report   string    `json:"report"`
		Accepted int       `json:"accepted"`
		Task     *taskView `json:"task"`
	}
	postJSON(*hub+"/api/v1/command", map[string]string{"principal": *principal, "text": order}, &res)

	if res.Report != "" {
		fmt.Println(res.Report)
		return
	}
	fmt.Printf("task %s accepted by %d agents\n", res.TaskID, res.Accepted)
	if res.Task != nil {
		printTask(*res.Task)
	}
}

type taskView struct {
	ID        string   `json:"id"`
	Text      string   `json:"text"`
	Principal string   `json:"principal"`
	Status    string   `json:"status"`
	Assigned  []string `json:"assigned"`
	Reason    string   `json:"reason"`
	Progress  struct {
		Overall float64 `json:"overall"`
	} `json:"progress"`
	CreatedAt time.Time `json:"created_at"`
}

func printTask(t taskView) {
	line := fmt.Sprintf("%s  %-9s  %5.1f%%  %q", t.ID, t.Status, t.Progress.Overall, t.Text)
	if len(t.Assigned) > 0 {
		line += fmt.Sprintf("  agents=%s", strings.Join(t.Assigned, ","))
	}
	if t.Reason != "" {
		line += fmt.Sprintf("  reason=%q", t.Reason)
	}
	fmt.Println(line)
}

func tasksCmd(args []string) {
	fs := newFlagSet("tasks")
	hub := hubFlag(fs)
	_ = fs.Parse(args)

	var res struct {
		Tasks []taskView `json:"tasks"`
	}
	getJSON(*hub+"/api/v1/tasks", &res)
	if len(res.Tasks) == 0 {
		fmt.Println("no tasks")
		return
	}
	for _, t := range res.Tasks {
		printTask(t)
	}
}

func taskCmd(args []string) {
	fs := newFlagSet("task")
	hub := hubFlag(fs)
	_ = fs.Parse(args)

	id := fs.Arg(0)
	if id == "" {
		fmt.Fprintln(os.Stderr, "usage: fleetctl task [flags] <task-id>")
		os.Exit(2)
	}
	var t taskView
	getJSON(*hub+"/api/v1/tasks/"+id, &t)
	printTask(t)
}

type agentListView struct {
	Agents []agentViewCLI `json:"agents"`
}

type agentViewCLI struct {
	ID        string            `json:"id"`
	Name      string            `json:"name"`
	State     string            `json:"state"`
	Pos       [3]int            `json:"pos"`
	HP        int               `json:"hp"`
	Hunger    int               `json:"hunger"`
	Inventory map[string]int    `json:"inventory"`
	Equipment map[string]string `json:"equipment"`
	TaskID    string            `json:"task_id"`
	Connected bool              `json:"connected"`
}

func printAgent(a agentViewCLI) {
	conn := "up"
	if !a.Connected {
		conn = "down"
	}
	line := fmt.Sprintf("%-12s %-16s hp=%-2d hunger=%-2d pos=(%d,%d,%d) link=%s",
		a.Name, a.State, a.HP, a.Hunger, a.Pos[0], a.Pos[1], a.Pos[2], conn)
	if a.TaskID != "" {
		line += "  task=" + a.TaskID
	}
	fmt.Println(line)
}

func agentsCmd(args []string) {
	fs := newFlagSet("agents")
	hub := hubFlag(fs)
	_ = fs.Parse(args)

	var res agentListView
	getJSON(*hub+"/api/v1/agents", &res)
	if len(res.Agents) == 0 {
		fmt.Println("no agents")
		return
	}
	for _, a := range res.Agents {
		printAgent(a)
	}
}

func agentCmd(args []string) {
	fs := newFlagSet("agent")
	hub := hubFlag(fs)
	_ = fs.Parse(args)

	ref := fs.Arg(0)
	if ref == "" {
		fmt.Fprintln(os.Stderr, "usage: fleetctl agent [flags] <name-or-id>")
		os.Exit(2)
	}
	var a agentViewCLI
	getJSON(*hub+"/api/v1/agents/"+ref, &a)
	printAgent(a)
	if len(a.Inventory) > 0 {
		fmt.Print("inventory:")
		for item, n := range a.Inventory {
			fmt.Printf(" %s=%d", item, n)
		}
		fmt.Println()
	}
	worn := ""
	for _, slot := range []string{"hand", "head", "torso", "legs", "feet"} {
		if item := a.Equipment[slot]; item != "" {
			worn += fmt.Sprintf(" %s=%s", slot, item)
		}
	}
	if worn != "" {
		fmt.Println("equipment:" + worn)
	}
}

func adminsCmd(args []string) {
	fs := newFlagSet("admins")
	hub := hubFlag(fs)
	_ = fs.Parse(args)

	var res struct {
		Admins []string `json:"admins"`
	}
	getJSON(*hub+"/api/v1/admins", &res)
	for _, a := range res.Admins {
		fmt.Println(a)
	}
}

func adminAddCmd(args []string)    { adminMutate(args, "add") }
func adminRemoveCmd(args []string) { adminMutate(args, "remove") }

func adminMutate(args []string, verb string) {
	fs := newFlagSet("admin-" + verb)
	hub := hubFlag(fs)
	principal := fs.String("principal", "ops", "acting principal")
	_ = fs.Parse(args)

	target := fs.Arg(0)
	if target == "" {
		fmt.Fprintf(os.Stderr, "usage: fleetctl admin-%s [flags] <principal>\n", verb)
		os.Exit(2)
	}
	var res struct {
		Admins []string `json:"admins"`
	}
	postJSON(*hub+"/api/v1/admins", map[string]string{"principal": *principal, verb: target}, &res)
	fmt.Println("admins:", strings.Join(res.Admins, ", "))
}

func newFlagSet(name string) *flag.FlagSet {
	return flag.NewFlagSet(name, flag.ExitOnError)
}

func hubFlag(fs *flag.FlagSet) *string {
	return fs.String("hub", "http://127.0.0.1:7070", "hub base url")
}

// Everything below is the thin HTTP plumbing shared by the subcommands.

var httpClient = &http.Client{Timeout: 10 * time.Second}

func getJSON(url string, out any) {
	resp, err := httpClient.Get(url)
	if err != nil {
		fmt.Fprintln(os.Stderr, "request:", err)
		os.Exit(1)
	}
	decodeResponse(resp, out)
}

func postJSON(url string, body any, out any) {
	raw, err := json.Marshal(body)
	if err != nil {
		fmt.Fprintln(os.Stderr, "encode:", err)
		os.Exit(1)
	}
	resp, err := httpClient.Post(url, "application/json", bytes.NewReader(raw))
	if err != nil {
		fmt.Fprintln(os.Stderr, "request:", err)
		os.Exit(1)
	}
	decodeResponse(resp, out)
}

func decodeResponse(resp *http.Response, out any) {
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read:", err)
		os.Exit(1)
	}
	if resp.StatusCode != http.StatusOK {
		var e struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		}
		if json.Unmarshal(raw, &e) == nil && e.Code != "" {
			fmt.Fprintf(os.Stderr, "error: %s (%s)\n", e.Message, e.Code)
		} else {
			fmt.Fprintf(os.Stderr, "error: %s\n", strings.TrimSpace(string(raw)))
		}
		os.Exit(1)
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			fmt.Fprintln(os.Stderr, "decode:", err)
			os.Exit(1)
		}
	}
}
