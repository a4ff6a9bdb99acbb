package chunkfile

import (
	"bufio"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"

	"voxelmesh.ai/internal/encoding"
	"voxelmesh.ai/internal/voxel"
)

const (
	Version = 1
	Ext     = ".chunk.zst"
)

type Header struct {
	Version int            `json:"version"`
	Key     voxel.ChunkKey `json:"key"`
	Size    int            `json:"size"`
	Digest  string         `json:"digest"`
}

type ChunkV1 struct {
	Header  Header
	Palette []string
	Cells   []byte // encoding.EncodeRuns over the full grid, halo included
}

// Name is the canonical file name for a chunk key.
func Name(k voxel.ChunkKey) string {
	return fmt.Sprintf("c_%d_%d_%d%s", k.CX, k.CY, k.CZ, Ext)
}

// ParseName is the inverse of Name.
func ParseName(name string) (voxel.ChunkKey, bool) {
	var k voxel.ChunkKey
	base := filepath.Base(name)
	if !strings.HasSuffix(base, Ext) {
		return k, false
	}
	_, err := fmt.Sscanf(strings.TrimSuffix(base, Ext), "c_%d_%d_%d", &k.CX, &k.CY, &k.CZ)
	return k, err == nil
}

func Encode(k voxel.ChunkKey, c *voxel.Chunk) ChunkV1 {
	d := c.Digest()
	pal := c.Palette()
	names := make([]string, len(pal))
	for i, b := range pal {
		names[i] = string(b)
	}
	return ChunkV1{
		Header: Header{
			Version: Version,
			Key:     k,
			Size:    c.Size(),
			Digest:  fmt.Sprintf("%x", d[:]),
		},
		Palette: names,
		Cells:   encoding.EncodeRuns(c.Cells()),
	}
}

func Decode(v ChunkV1) (voxel.ChunkKey, *voxel.Chunk, error) {
	if v.Header.Version != Version {
		return v.Header.Key, nil, fmt.Errorf("chunk file version %d not supported", v.Header.Version)
	}
	if v.Header.Size < 1 || v.Header.Size > voxel.MaxSize {
		return v.Header.Key, nil, fmt.Errorf("chunk %s size %d not in 1..%d: %w", v.Header.Key, v.Header.Size, voxel.MaxSize, voxel.ErrInvalidChunk)
	}
	side := v.Header.Size + 2
	cells, err := encoding.DecodeRuns(v.Cells, side*side*side)
	if err != nil {
		return v.Header.Key, nil, fmt.Errorf("chunk %s cells: %w", v.Header.Key, err)
	}
	pal := make([]voxel.BlockID, len(v.Palette))
	for i, s := range v.Palette {
		pal[i] = voxel.BlockID(s)
	}
	c, err := voxel.FromParts(v.Header.Size, pal, cells)
	if err != nil {
		return v.Header.Key, nil, fmt.Errorf("chunk %s: %w", v.Header.Key, err)
	}
	if d := c.Digest(); fmt.Sprintf("%x", d[:]) != v.Header.Digest {
		return v.Header.Key, nil, fmt.Errorf("chunk %s digest mismatch: %w", v.Header.Key, voxel.ErrInvalidChunk)
	}
	return v.Header.Key, c, nil
}

func Write(path string, k voxel.ChunkKey, c *voxel.Chunk) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if err := writeTo(f, Encode(k, c)); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

func writeTo(f *os.File, v ChunkV1) error {
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	bw := bufio.NewWriterSize(enc, 64*1024)

	hb, _ := json.Marshal(v.Header)
	if _, err := bw.Write(hb); err != nil {
		_ = enc.Close()
		return err
	}
	if err := bw.WriteByte('\n'); err != nil {
		_ = enc.Close()
		return err
	}
	if err := gob.NewEncoder(bw).Encode(&v); err != nil {
		_ = enc.Close()
		return fmt.Errorf("gob encode: %w", err)
	}
	if err := bw.Flush(); err != nil {
		_ = enc.Close()
		return err
	}
	return enc.Close()
}

// ReadHeader decodes only the JSON header line.
func ReadHeader(path string) (Header, error) {
	var h Header
	f, err := os.Open(path)
	if err != nil {
		return h, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return h, err
	}
	defer dec.Close()

	line, err := bufio.NewReader(dec).ReadBytes('\n')
	if err != nil {
		return h, fmt.Errorf("read header: %w", err)
	}
	if err := json.Unmarshal(line, &h); err != nil {
		return h, fmt.Errorf("decode header: %w", err)
	}
	return h, nil
}

func Read(path string) (voxel.ChunkKey, *voxel.Chunk, error) {
	var v ChunkV1
	f, err := os.Open(path)
	if err != nil {
		return v.Header.Key, nil, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return v.Header.Key, nil, err
	}
	defer dec.Close()

	br := bufio.NewReaderSize(dec, 64*1024)
	// The gob body repeats the header.
	if _, err := br.ReadBytes('\n'); err != nil {
		return v.Header.Key, nil, fmt.Errorf("read header: %w", err)
	}
	if err := gob.NewDecoder(br).Decode(&v); err != nil {
		return v.Header.Key, nil, fmt.Errorf("gob decode: %w", err)
	}
	return Decode(v)
}
