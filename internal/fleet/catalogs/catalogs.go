package catalogs

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

type Catalogs struct {
	Blocks  BlockCatalog
	Items   ItemCatalog
	Recipes RecipeCatalog

	Intents     IntentCatalog
	Progression ProgressionCatalog
}

type BlockCatalog struct {
	Defs   map[string]BlockDef
	Digest string
}

type BlockDef struct {
	ID        string `json:"id"`
	Solid     bool   `json:"solid"`
	Breakable bool   `json:"breakable"`
	DropsItem string `json:"drops_item,omitempty"`
}

type ItemCatalog struct {
	Defs   map[string]ItemDef
	Digest string

	// aliases maps lowercase spoken forms ("wood", "bench") to item ids.
	aliases map[string]string
}

type ItemDef struct {
	ID            string   `json:"id"`
	Kind          string   `json:"kind"` // "BLOCK","TOOL","MATERIAL","FOOD"
	PlaceAs       string   `json:"place_as,omitempty"`
	EdibleRestore int      `json:"edible_restore,omitempty"`
	Aliases       []string `json:"aliases,omitempty"`
}

type RecipeCatalog struct {
	ByID   map[string]RecipeDef
	Digest string
}

type RecipeDef struct {
	RecipeID  string      `json:"recipe_id"`
	Station   string      `json:"station"`
	Inputs    []ItemCount `json:"inputs"`
	Outputs   []ItemCount `json:"outputs"`
	TimeTicks int         `json:"time_ticks"`
}

type ItemCount struct {
	Item  string `json:"item"`
	Count int    `json:"count"`
}

type IntentCatalog struct {
	Categories  []IntentCategory `json:"categories"`
	AllKeywords []string         `json:"all_keywords"`
	Locations   []NamedLocation  `json:"locations"`

	ByID   map[string]IntentCategory
	Digest string
}

type IntentCategory struct {
	ID         string   `json:"id"`
	Keywords   []string `json:"keywords"`
	Privileged bool     `json:"privileged,omitempty"`
}

type NamedLocation struct {
	Name string `json:"name"`
	Pos  [3]int `json:"pos"`
}

type ProgressionCatalog struct {
	RawBlock    string   `json:"raw_block"`
	RawItem     string   `json:"raw_item"`
	PlankItem   string   `json:"plank_item"`
	StationItem string   `json:"station_item"`
	BedItem     string   `json:"bed_item"`
	Tools       []string `json:"tools"`
	// Foods are tried in order when eating.
	Foods []string `json:"foods"`

	Digest string
}

func Load(configDir string) (*Catalogs, error) {
	var c Catalogs

	if err := loadBlocks(filepath.Join(configDir, "blocks.json"), &c.Blocks); err != nil {
		return nil, err
	}
	if err := loadItems(filepath.Join(configDir, "items.json"), &c.Items); err != nil {
		return nil, err
	}
	if err := loadRecipes(filepath.Join(configDir, "recipes.json"), &c.Recipes); err != nil {
		return nil, err
	}
	if err := loadIntents(filepath.Join(configDir, "intents.json"), &c.Intents); err != nil {
		return nil, err
	}
	if err := loadProgression(filepath.Join(configDir, "progression.json"), &c.Progression); err != nil {
		return nil, err
	}

	if err := c.check(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Digest is a single hash over all catalog file hashes, in a fixed order.
// It is advertised to agents in WELCOME so mismatched fleets are detectable.
func (c *Catalogs) Digest() string {
	h := sha256.New()
	for _, d := range []string{
		c.Blocks.Digest,
		c.Items.Digest,
		c.Recipes.Digest,
		c.Intents.Digest,
		c.Progression.Digest,
	} {
		h.Write([]byte(d))
		h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// ResolveItem maps a spoken word to a canonical item id.
// Exact ids (any case) and configured aliases both resolve.
func (c *ItemCatalog) ResolveItem(word string) (string, bool) {
	id, ok := c.aliases[strings.ToLower(strings.TrimSpace(word))]
	return id, ok
}

func (c *Catalogs) check() error {
	p := &c.Progression
	for _, id := range []string{p.RawItem, p.PlankItem, p.StationItem, p.BedItem} {
		if _, ok := c.Items.Defs[id]; !ok {
			return fmt.Errorf("progression.json: item %q not in items.json", id)
		}
	}
	if _, ok := c.Blocks.Defs[p.RawBlock]; !ok {
		return fmt.Errorf("progression.json: block %q not in blocks.json", p.RawBlock)
	}
	for _, id := range p.Tools {
		if _, ok := c.Items.Defs[id]; !ok {
			return fmt.Errorf("progression.json: tool %q not in items.json", id)
		}
	}
	for _, id := range p.Foods {
		d, ok := c.Items.Defs[id]
		if !ok {
			return fmt.Errorf("progression.json: food %q not in items.json", id)
		}
		if d.Kind != "FOOD" {
			return fmt.Errorf("progression.json: food %q has kind %q", id, d.Kind)
		}
	}
	return nil
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func loadBlocks(path string, out *BlockCatalog) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	out.Digest = sha256Hex(raw)

	var defs []BlockDef
	if err := json.Unmarshal(raw, &defs); err != nil {
		return fmt.Errorf("blocks.json: %w", err)
	}
	out.Defs = map[string]BlockDef{}
	for _, d := range defs {
		if d.ID == "" {
			return fmt.Errorf("blocks.json: empty id")
		}
		out.Defs[d.ID] = d
	}
	if _, ok := out.Defs["AIR"]; !ok {
		return fmt.Errorf("blocks.json: missing AIR")
	}
	return nil
}

func loadItems(path string, out *ItemCatalog) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	out.Digest = sha256Hex(raw)

	var defs []ItemDef
	if err := json.Unmarshal(raw, &defs); err != nil {
		return fmt.Errorf("items.json: %w", err)
	}
	out.Defs = map[string]ItemDef{}
	out.aliases = map[string]string{}
	for _, d := range defs {
		if d.ID == "" {
			return fmt.Errorf("items.json: empty id")
		}
		out.Defs[d.ID] = d
		out.aliases[strings.ToLower(d.ID)] = d.ID
	}
	// Aliases resolve second so an alias can never shadow a real id.
	for _, d := range defs {
		for _, a := range d.Aliases {
			key := strings.ToLower(strings.TrimSpace(a))
			if key == "" {
				return fmt.Errorf("items.json: %s: empty alias", d.ID)
			}
			if prev, ok := out.aliases[key]; ok && prev != d.ID {
				return fmt.Errorf("items.json: alias %q claimed by %s and %s", key, prev, d.ID)
			}
			out.aliases[key] = d.ID
		}
	}
	return nil
}

func loadRecipes(path string, out *RecipeCatalog) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	out.Digest = sha256Hex(raw)

	var defs []RecipeDef
	if err := json.Unmarshal(raw, &defs); err != nil {
		return fmt.Errorf("recipes.json: %w", err)
	}
	out.ByID = map[string]RecipeDef{}
	for _, r := range defs {
		if r.RecipeID == "" {
			return fmt.Errorf("recipes.json: empty recipe_id")
		}
		out.ByID[r.RecipeID] = r
	}
	return nil
}

func loadIntents(path string, out *IntentCatalog) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	out.Digest = sha256Hex(raw)

	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("intents.json: %w", err)
	}
	out.ByID = map[string]IntentCategory{}
	for _, cat := range out.Categories {
		if cat.ID == "" {
			return fmt.Errorf("intents.json: empty category id")
		}
		if len(cat.Keywords) == 0 {
			return fmt.Errorf("intents.json: category %s has no keywords", cat.ID)
		}
		if _, dup := out.ByID[cat.ID]; dup {
			return fmt.Errorf("intents.json: duplicate category %s", cat.ID)
		}
		out.ByID[cat.ID] = cat
	}
	sort.Slice(out.Locations, func(i, j int) bool { return out.Locations[i].Name < out.Locations[j].Name })
	return nil
}

func loadProgression(path string, out *ProgressionCatalog) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	out.Digest = sha256Hex(raw)

	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("progression.json: %w", err)
	}
	for name, v := range map[string]string{
		"raw_block":    out.RawBlock,
		"raw_item":     out.RawItem,
		"plank_item":   out.PlankItem,
		"station_item": out.StationItem,
		"bed_item":     out.BedItem,
	} {
		if v == "" {
			return fmt.Errorf("progression.json: missing %s", name)
		}
	}
	if len(out.Tools) == 0 {
		return fmt.Errorf("progression.json: no tools")
	}
	if len(out.Foods) == 0 {
		return fmt.Errorf("progression.json: no foods")
	}
	return nil
}
