package meshproto

import (
	"voxelmesh.ai/internal/mesh"
	"voxelmesh.ai/internal/voxel"
)

// Version is the viewer stream protocol version.
const Version = "0.1"

// Client -> Server. First message on the viewer WS connection.
// An empty Chunks list subscribes to every chunk.
type SubscribeMsg struct {
	Type            string           `json:"type"`
	ProtocolVersion string           `json:"protocol_version"`
	Chunks          []voxel.ChunkKey `json:"chunks,omitempty"`
}

// Server -> Client. Sent once the subscription is registered.
type WelcomeMsg struct {
	Type            string  `json:"type"`
	ProtocolVersion string  `json:"protocol_version"`
	SessionID       string  `json:"session_id"`
	ChunkSize       int     `json:"chunk_size"`
	VoxelSize       float32 `json:"voxel_size"`
	CatalogDigest   string  `json:"catalog_digest"`
}

// HTTP response for GET /v1/bootstrap.
type BootstrapResponse struct {
	ProtocolVersion string           `json:"protocol_version"`
	ChunkSize       int              `json:"chunk_size"`
	VoxelSize       float32          `json:"voxel_size"`
	CatalogDigest   string           `json:"catalog_digest"`
	Blocks          []voxel.BlockID  `json:"blocks"`
	Loaded          []voxel.ChunkKey `json:"loaded"`
}

// Server -> Client. A freshly meshed chunk replaces any previous one.
type MeshMsg struct {
	Type            string         `json:"type"`
	ProtocolVersion string         `json:"protocol_version"`
	Key             voxel.ChunkKey `json:"key"`
	Digest          string         `json:"digest"`
	Opaque          *Surface       `json:"opaque,omitempty"`
	Transparent     *Surface       `json:"transparent,omitempty"`
}

// Server -> Client. The chunk left the loaded set; drop its meshes.
type UnloadMsg struct {
	Type            string         `json:"type"`
	ProtocolVersion string         `json:"protocol_version"`
	Key             voxel.ChunkKey `json:"key"`
}

// Surface is a flattened mesh: positions/normals are xyz triples, uvs are
// pairs and colors are rgba quads.
type Surface struct {
	Positions []float32  `json:"positions"`
	Normals   []float32  `json:"normals"`
	UVs       []float32  `json:"uvs"`
	Colors    []float32  `json:"colors"`
	Indices   []uint32   `json:"indices"`
	BoundsMin [3]float32 `json:"bounds_min"`
	BoundsMax [3]float32 `json:"bounds_max"`
}

// EncodeSurface flattens m, or returns nil for an empty mesh.
func EncodeSurface(m *mesh.Mesh) *Surface {
	if m.Empty() {
		return nil
	}
	n := len(m.Positions)
	s := &Surface{
		Positions: make([]float32, 0, n*3),
		Normals:   make([]float32, 0, n*3),
		UVs:       make([]float32, 0, n*2),
		Colors:    make([]float32, 0, n*4),
		Indices:   append([]uint32(nil), m.Indices...),
		BoundsMin: m.Bounds.Min,
		BoundsMax: m.Bounds.Max,
	}
	for i := 0; i < n; i++ {
		s.Positions = append(s.Positions, m.Positions[i][:]...)
		s.Normals = append(s.Normals, m.Normals[i][:]...)
		s.UVs = append(s.UVs, m.UVs[i][:]...)
		s.Colors = append(s.Colors, m.Colors[i][:]...)
	}
	return s
}

func NewMeshMsg(key voxel.ChunkKey, digest string, cm *mesh.ChunkMesh) MeshMsg {
	msg := MeshMsg{
		Type:            "MESH",
		ProtocolVersion: Version,
		Key:             key,
		Digest:          digest,
	}
	if cm != nil {
		msg.Opaque = EncodeSurface(cm.Opaque)
		msg.Transparent = EncodeSurface(cm.Transparent)
	}
	return msg
}
