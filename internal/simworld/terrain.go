package simworld

import (
	"math/rand"

	"fleetmind.ai/internal/fleet/catalogs"
)

// Vec3i is a block position. Index order is x, y, z.
type Vec3i [3]int

func manhattan(a, b Vec3i) int {
	return abs(a[0]-b[0]) + abs(a[1]-b[1]) + abs(a[2]-b[2])
}

// manhattanXZ ignores the vertical axis; walking never changes Y here.
func manhattanXZ(a, b Vec3i) int {
	return abs(a[0]-b[0]) + abs(a[2]-b[2])
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

const (
	// Flat world: solid ground at groundY, agents and blocks at groundY+1.
	groundY = 0

	scatterRadius = 48
	treeCount     = 120
	bedCount      = 4
)

// Terrain is a flat plane plus a sparse overlay of placed blocks
// (trees, beds). Mining removes overlay blocks; the plane itself is
// not breakable.
type Terrain struct {
	cats   *catalogs.Catalogs
	blocks map[Vec3i]string
}

// NewTerrain scatters trees across the plane and a few beds near the
// spawn area, deterministically from the seed.
func NewTerrain(seed int64, cats *catalogs.Catalogs) *Terrain {
	t := &Terrain{cats: cats, blocks: map[Vec3i]string{}}
	rng := rand.New(rand.NewSource(seed))

	for i := 0; i < treeCount; i++ {
		x := rng.Intn(2*scatterRadius+1) - scatterRadius
		z := rng.Intn(2*scatterRadius+1) - scatterRadius
		p := Vec3i{x, groundY + 1, z}
		if manhattan(p, Vec3i{0, groundY + 1, 0}) < 4 {
			continue // keep the spawn clearing walkable
		}
		t.blocks[p] = "TREE"
	}
	for i := 0; i < bedCount; i++ {
		x := rng.Intn(17) - 8
		z := rng.Intn(17) - 8
		t.blocks[Vec3i{x, groundY + 1, z}] = "BED"
	}
	return t
}

// BlockAt reports the overlay block at p, or "" for air/plane.
func (t *Terrain) BlockAt(p Vec3i) string {
	return t.blocks[p]
}

func (t *Terrain) SetBlock(p Vec3i, block string) {
	if block == "" {
		delete(t.blocks, p)
		return
	}
	t.blocks[p] = block
}

func (t *Terrain) RemoveBlock(p Vec3i) {
	delete(t.blocks, p)
}

func (t *Terrain) solidAt(p Vec3i) bool {
	b, ok := t.blocks[p]
	if !ok {
		return false
	}
	def, ok := t.cats.Blocks.Defs[b]
	if !ok {
		return true
	}
	return def.Solid
}

// NearBlock reports whether a block of the given id lies within dist
// (Manhattan, XZ plane) of pos.
func (t *Terrain) NearBlock(pos Vec3i, blockID string, dist int) bool {
	for p, b := range t.blocks {
		if b != blockID {
			continue
		}
		if abs(p[0]-pos[0])+abs(p[2]-pos[2]) <= dist {
			return true
		}
	}
	return false
}

// BlocksWithin lists overlay blocks inside a Chebyshev radius of
// center, for observation frames.
func (t *Terrain) BlocksWithin(center Vec3i, radius int) []placedBlock {
	out := make([]placedBlock, 0, 32)
	for p, b := range t.blocks {
		if abs(p[0]-center[0]) > radius || abs(p[1]-center[1]) > radius || abs(p[2]-center[2]) > radius {
			continue
		}
		out = append(out, placedBlock{Pos: p, Block: b})
	}
	return out
}

type placedBlock struct {
	Pos   Vec3i
	Block string
}
