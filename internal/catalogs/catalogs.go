package catalogs

import (
	"crypto/sha256"
	_ "embed"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"voxelmesh.ai/internal/voxel"
)

//go:embed blocks.schema.json
var blocksSchemaSrc string

var blocksSchema = jsonschema.MustCompileString("blocks.schema.json", blocksSchemaSrc)

type Visibility uint8

const (
	Empty Visibility = iota
	Opaque
	Transparent
)

func (v Visibility) String() string {
	switch v {
	case Empty:
		return "empty"
	case Opaque:
		return "opaque"
	case Transparent:
		return "transparent"
	default:
		return fmt.Sprintf("visibility(%d)", uint8(v))
	}
}

func parseVisibility(s string) (Visibility, error) {
	switch strings.ToLower(s) {
	case "empty":
		return Empty, nil
	case "opaque":
		return Opaque, nil
	case "transparent":
		return Transparent, nil
	}
	return Empty, fmt.Errorf("unknown visibility %q", s)
}

type BlockDef struct {
	ID         string         `json:"id"`
	Visibility string         `json:"visibility"`
	Textures   map[string]int `json:"textures,omitempty"`
}

type blockEntry struct {
	vis      Visibility
	textures map[string]int
}

// BlockCatalog is read-only after Load and safe for concurrent use.
type BlockCatalog struct {
	IDs    []voxel.BlockID
	Digest string

	defs map[voxel.BlockID]blockEntry
}

func Load(path string) (*BlockCatalog, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(raw)
}

func Parse(raw []byte) (*BlockCatalog, error) {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("blocks.json: %w", err)
	}
	if err := blocksSchema.Validate(doc); err != nil {
		return nil, fmt.Errorf("blocks.json: %w", err)
	}

	var defs []BlockDef
	if err := json.Unmarshal(raw, &defs); err != nil {
		return nil, fmt.Errorf("blocks.json: %w", err)
	}
	out := &BlockCatalog{
		Digest: sha256Hex(raw),
		defs:   make(map[voxel.BlockID]blockEntry, len(defs)),
	}
	for _, d := range defs {
		id := voxel.BlockID(d.ID)
		if _, dup := out.defs[id]; dup {
			return nil, fmt.Errorf("blocks.json: duplicate id %q", d.ID)
		}
		vis, err := parseVisibility(d.Visibility)
		if err != nil {
			return nil, fmt.Errorf("blocks.json: %s: %w", d.ID, err)
		}
		if id == voxel.Air && vis != Empty {
			return nil, fmt.Errorf("blocks.json: %q must be empty", voxel.Air)
		}
		out.defs[id] = blockEntry{vis: vis, textures: d.Textures}
		out.IDs = append(out.IDs, id)
	}
	sort.Slice(out.IDs, func(i, j int) bool { return out.IDs[i] < out.IDs[j] })
	return out, nil
}

// Visibility reports the class of id. Air is always known and Empty.
func (c *BlockCatalog) Visibility(id voxel.BlockID) (Visibility, bool) {
	if id == voxel.Air {
		return Empty, true
	}
	e, ok := c.defs[id]
	if !ok {
		return Empty, false
	}
	return e.vis, true
}

var faceKeys = [6]string{
	voxel.PosX: "east",
	voxel.NegX: "west",
	voxel.PosY: "top",
	voxel.NegY: "bottom",
	voxel.PosZ: "south",
	voxel.NegZ: "north",
}

// TextureTile resolves the atlas tile for one face of a block: the face key
// first, then "side" for horizontal faces, then "all".
func (c *BlockCatalog) TextureTile(id voxel.BlockID, f voxel.Face) (int, bool) {
	e, ok := c.defs[id]
	if !ok || len(e.textures) == 0 {
		return 0, false
	}
	if t, ok := e.textures[faceKeys[f]]; ok {
		return t, true
	}
	if f.Axis() != 1 {
		if t, ok := e.textures["side"]; ok {
			return t, true
		}
	}
	t, ok := e.textures["all"]
	return t, ok
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
