package orchestrator

import (
	"strconv"
	"strings"

	"fleetmind.ai/internal/fleet"
	"fleetmind.ai/internal/fleet/catalogs"
)

// Intent is what survives keyword extraction over a free-text command.
// Every field is optional: extraction never fails, it just leaves the
// fields it could not resolve empty and lets dispatch cope.
type Intent struct {
	Category   string       `json:"category,omitempty"`
	Privileged bool         `json:"privileged,omitempty"`
	All        bool         `json:"all,omitempty"`
	Agents     []string     `json:"agents,omitempty"`
	TargetID   string       `json:"target_id,omitempty"`
	Item       string       `json:"item,omitempty"`
	Count      int          `json:"count,omitempty"`
	Location   *fleet.Vec3i `json:"location,omitempty"`
	Place      string       `json:"place,omitempty"`
}

// Extract tokenizes text and matches tokens against the intent catalog,
// the item vocabulary and the live roster. Category is the first
// catalog entry with a keyword hit, so catalog order is the tie-break.
func Extract(text string, cats *catalogs.Catalogs, roster fleet.Roster) Intent {
	tokens := tokenize(text)
	in := Intent{}
	if len(tokens) == 0 {
		return in
	}
	tokenSet := make(map[string]bool, len(tokens))
	for _, tok := range tokens {
		tokenSet[tok] = true
	}

	for _, kw := range cats.Intents.AllKeywords {
		if tokenSet[kw] {
			in.All = true
			break
		}
	}

	for _, cat := range cats.Intents.Categories {
		for _, kw := range cat.Keywords {
			if tokenSet[kw] {
				in.Category = cat.ID
				in.Privileged = cat.Privileged
				break
			}
		}
		if in.Category != "" {
			break
		}
	}

	seen := map[string]bool{}
	for _, tok := range tokens {
		if s, ok := roster.Lookup(tok); ok && !seen[s.ID] {
			seen[s.ID] = true
			in.Agents = append(in.Agents, s.ID)
		}
	}
	// A follow order reads "<followers> follow <target>": the last
	// named agent is the one to follow, the rest are the followers.
	if in.Category == "follow" && len(in.Agents) > 0 {
		in.TargetID = in.Agents[len(in.Agents)-1]
		in.Agents = in.Agents[:len(in.Agents)-1]
	}

	// Two-word aliases ("crafting table") beat single tokens at the
	// same position.
	for i := 0; i < len(tokens) && in.Item == ""; i++ {
		if i+1 < len(tokens) {
			if id, ok := cats.Items.ResolveItem(tokens[i] + " " + tokens[i+1]); ok {
				in.Item = id
				break
			}
		}
		if id, ok := cats.Items.ResolveItem(tokens[i]); ok {
			in.Item = id
		}
	}

	// A literal coordinate triple ("go to 10 64 -5") beats named places.
	// Its tokens are spoken for, so the quantity scan skips them.
	coordTok := map[int]bool{}
	for i := 0; i+2 < len(tokens); i++ {
		x, errX := strconv.Atoi(tokens[i])
		y, errY := strconv.Atoi(tokens[i+1])
		z, errZ := strconv.Atoi(tokens[i+2])
		if errX != nil || errY != nil || errZ != nil {
			continue
		}
		pos := fleet.Vec3i{x, y, z}
		in.Location = &pos
		coordTok[i], coordTok[i+1], coordTok[i+2] = true, true, true
		break
	}

	for i, tok := range tokens {
		if coordTok[i] {
			continue
		}
		if n, err := strconv.Atoi(tok); err == nil && n > 0 {
			in.Count = n
			break
		}
	}

	if in.Location == nil {
		for _, loc := range cats.Intents.Locations {
			if tokenSet[strings.ToLower(loc.Name)] {
				pos := fleet.Vec3i(loc.Pos)
				in.Location = &pos
				in.Place = loc.Name
				break
			}
		}
	}
	return in
}

// tokenize lowercases and splits on anything that cannot be part of an
// agent name. Hyphens and underscores stay so "agent-2" survives.
func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		switch {
		case r >= 'a' && r <= 'z':
			return false
		case r >= '0' && r <= '9':
			return false
		case r == '-' || r == '_':
			return false
		}
		return true
	})
}
