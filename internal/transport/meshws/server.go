package meshws

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"voxelmesh.ai/internal/mesh"
	"voxelmesh.ai/internal/meshproto"
	"voxelmesh.ai/internal/voxel"
)

type Config struct {
	ChunkSize     int
	VoxelSize     float32
	CatalogDigest string
	Blocks        []voxel.BlockID

	MaxViewers   int
	ViewerBuffer int

	// Loaded lists the chunks currently tracked, for the bootstrap endpoint.
	Loaded func() []voxel.ChunkKey
}

type viewer struct {
	id  string
	out chan []byte

	mu     sync.Mutex
	filter map[voxel.ChunkKey]struct{} // nil means every chunk
}

func (v *viewer) wants(k voxel.ChunkKey) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.filter == nil {
		return true
	}
	_, ok := v.filter[k]
	return ok
}

func (v *viewer) setFilter(keys []voxel.ChunkKey) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if len(keys) == 0 {
		v.filter = nil
		return
	}
	v.filter = make(map[voxel.ChunkKey]struct{}, len(keys))
	for _, k := range keys {
		v.filter[k] = struct{}{}
	}
}

// Server streams published chunk meshes to viewers over websockets.
type Server struct {
	cfg Config
	log *log.Logger

	upgrader websocket.Upgrader
	nextID   atomic.Uint64
	dropped  atomic.Uint64

	mu      sync.RWMutex
	viewers map[string]*viewer
	latest  map[voxel.ChunkKey][]byte // encoded MESH of every loaded chunk
}

func NewServer(cfg Config, logger *log.Logger) *Server {
	if cfg.MaxViewers <= 0 {
		cfg.MaxViewers = 64
	}
	if cfg.ViewerBuffer <= 0 {
		cfg.ViewerBuffer = 256
	}
	return &Server{
		cfg: cfg,
		log: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 256 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
		viewers: map[string]*viewer{},
		latest:  map[voxel.ChunkKey][]byte{},
	}
}

func (s *Server) Viewers() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.viewers)
}

// Dropped counts messages not delivered because a viewer fell behind.
func (s *Server) Dropped() uint64 { return s.dropped.Load() }

// PublishMesh sends the mesh of key to every interested viewer and keeps it
// for viewers that subscribe later.
func (s *Server) PublishMesh(key voxel.ChunkKey, digest [32]byte, cm *mesh.ChunkMesh) {
	s.publish(key, meshproto.NewMeshMsg(key, fmt.Sprintf("%x", digest[:]), cm), true)
}

func (s *Server) PublishUnload(key voxel.ChunkKey) {
	s.publish(key, meshproto.UnloadMsg{Type: "UNLOAD", ProtocolVersion: meshproto.Version, Key: key}, false)
}

func (s *Server) publish(key voxel.ChunkKey, msg any, keep bool) {
	b, err := json.Marshal(msg)
	if err != nil {
		if s.log != nil {
			s.log.Printf("meshws: encode %s: %v", key, err)
		}
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if keep {
		s.latest[key] = b
	} else {
		delete(s.latest, key)
	}
	for _, v := range s.viewers {
		if !v.wants(key) {
			continue
		}
		select {
		case v.out <- b:
		default:
			s.dropped.Add(1)
		}
	}
}

// replayLocked returns the cached meshes v subscribes to, ordered by key.
// s.mu must be held.
func (s *Server) replayLocked(v *viewer) [][]byte {
	keys := make([]voxel.ChunkKey, 0, len(s.latest))
	for k := range s.latest {
		if v.wants(k) {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
	out := make([][]byte, len(keys))
	for i, k := range keys {
		out[i] = s.latest[k]
	}
	return out
}

// resubscribe swaps the filter of v and queues the cached meshes it now wants.
func (s *Server) resubscribe(v *viewer, keys []voxel.ChunkKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v.setFilter(keys)
	for _, b := range s.replayLocked(v) {
		select {
		case v.out <- b:
		default:
			s.dropped.Add(1)
		}
	}
}

func (s *Server) BootstrapHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		resp := meshproto.BootstrapResponse{
			ProtocolVersion: meshproto.Version,
			ChunkSize:       s.cfg.ChunkSize,
			VoxelSize:       s.cfg.VoxelSize,
			CatalogDigest:   s.cfg.CatalogDigest,
			Blocks:          s.cfg.Blocks,
			Loaded:          []voxel.ChunkKey{},
		}
		if s.cfg.Loaded != nil {
			resp.Loaded = s.cfg.Loaded()
		}
		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(resp)
	}
}

// register adds v and returns the current meshes it should see first. Later
// publishes reach v through its out channel, so nothing is missed or reordered.
func (s *Server) register(v *viewer) ([][]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.viewers) >= s.cfg.MaxViewers {
		return nil, false
	}
	s.viewers[v.id] = v
	return s.replayLocked(v), true
}

func (s *Server) unregister(id string) {
	s.mu.Lock()
	delete(s.viewers, id)
	s.mu.Unlock()
}

func (s *Server) WSHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}

		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		// Handshake: must send SUBSCRIBE first.
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var sub meshproto.SubscribeMsg
		if err := json.Unmarshal(msg, &sub); err != nil || sub.Type != "SUBSCRIBE" || sub.ProtocolVersion != meshproto.Version {
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected SUBSCRIBE"), time.Now().Add(time.Second))
			return
		}

		v := &viewer{
			id:  fmt.Sprintf("V%d", s.nextID.Add(1)),
			out: make(chan []byte, s.cfg.ViewerBuffer),
		}
		v.setFilter(sub.Chunks)
		replay, ok := s.register(v)
		if !ok {
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "server busy"), time.Now().Add(time.Second))
			return
		}
		defer s.unregister(v.id)

		welcome, _ := json.Marshal(meshproto.WelcomeMsg{
			Type:            "WELCOME",
			ProtocolVersion: meshproto.Version,
			SessionID:       v.id,
			ChunkSize:       s.cfg.ChunkSize,
			VoxelSize:       s.cfg.VoxelSize,
			CatalogDigest:   s.cfg.CatalogDigest,
		})
		_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := conn.WriteMessage(websocket.TextMessage, welcome); err != nil {
			return
		}

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		writeErr := make(chan error, 1)
		go func() {
			for _, b := range replay {
				_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
				if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
					writeErr <- err
					return
				}
			}
			for {
				select {
				case <-ctx.Done():
					writeErr <- ctx.Err()
					return
				case b := <-v.out:
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						writeErr <- err
						return
					}
				}
			}
		}()

		// Reader loop: allow SUBSCRIBE updates.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			var sub meshproto.SubscribeMsg
			if err := json.Unmarshal(msg, &sub); err != nil {
				continue
			}
			if sub.Type != "SUBSCRIBE" || sub.ProtocolVersion != meshproto.Version {
				continue
			}
			s.resubscribe(v, sub.Chunks)
		}

		cancel()
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))

		select {
		case <-writeErr:
		case <-time.After(500 * time.Millisecond):
		}
	}
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
