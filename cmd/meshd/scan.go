package main

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"voxelmesh.ai/internal/persistence/chunkfile"
	"voxelmesh.ai/internal/voxel"
)

type fileStamp struct {
	modTime time.Time
	size    int64
}

type chunkRef struct {
	Key  voxel.ChunkKey
	Path string
}

// chunkDir remembers the chunk files seen on the previous scan.
type chunkDir struct {
	dir  string
	seen map[voxel.ChunkKey]fileStamp
}

func newChunkDir(dir string) *chunkDir {
	return &chunkDir{dir: dir, seen: map[voxel.ChunkKey]fileStamp{}}
}

// scan lists chunk files that are new or changed since the last scan and the
// keys whose files disappeared. A missing directory counts as empty.
func (d *chunkDir) scan() (changed []chunkRef, removed []voxel.ChunkKey, err error) {
	ents, err := os.ReadDir(d.dir)
	if err != nil && !os.IsNotExist(err) {
		return nil, nil, err
	}
	present := make(map[voxel.ChunkKey]bool, len(ents))
	for _, e := range ents {
		if e.IsDir() || !strings.HasSuffix(e.Name(), chunkfile.Ext) {
			continue
		}
		key, ok := chunkfile.ParseName(e.Name())
		if !ok {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		present[key] = true
		st := fileStamp{modTime: info.ModTime(), size: info.Size()}
		if prev, ok := d.seen[key]; ok && prev == st {
			continue
		}
		d.seen[key] = st
		changed = append(changed, chunkRef{Key: key, Path: filepath.Join(d.dir, e.Name())})
	}
	for key := range d.seen {
		if !present[key] {
			delete(d.seen, key)
			removed = append(removed, key)
		}
	}
	sort.Slice(removed, func(i, j int) bool { return removed[i].String() < removed[j].String() })
	return changed, removed, nil
}

// retry clears the stamp of key so the next scan reports its file again.
// The key stays known, so a later deletion is still reported.
func (d *chunkDir) retry(key voxel.ChunkKey) {
	if _, ok := d.seen[key]; ok {
		d.seen[key] = fileStamp{}
	}
}
