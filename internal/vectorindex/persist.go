package vectorindex

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
)

// Index artifact layout: magic, version, dimension, count, then row-major
// little-endian float32 data. Metadata lives in a JSON sidecar keyed by
// record id.
const (
	indexMagic   = "VIDX"
	indexVersion = uint32(1)
)

// MetaPath returns the metadata sidecar path for an index path.
func MetaPath(indexPath string) string {
	return indexPath + ".meta.json"
}

// Persist writes the index and metadata artifacts.
func (ix *Index) Persist() error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.persistLocked()
}

func (ix *Index) persistLocked() error {
	if dir := filepath.Dir(ix.path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("create index dir: %w", err)
		}
	}

	var buf bytes.Buffer
	buf.WriteString(indexMagic)
	n := ix.ntotalLocked()
	for _, v := range []uint32{indexVersion, uint32(ix.dim)} {
		if err := binary.Write(&buf, binary.LittleEndian, v); err != nil {
			return fmt.Errorf("encode index header: %w", err)
		}
	}
	if err := binary.Write(&buf, binary.LittleEndian, uint64(n)); err != nil {
		return fmt.Errorf("encode index count: %w", err)
	}
	if err := binary.Write(&buf, binary.LittleEndian, ix.vectors); err != nil {
		return fmt.Errorf("encode index data: %w", err)
	}
	if err := writeAtomic(ix.path, buf.Bytes()); err != nil {
		return fmt.Errorf("write index: %w", err)
	}

	metaData, err := json.Marshal(ix.metas)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	if err := writeAtomic(MetaPath(ix.path), metaData); err != nil {
		return fmt.Errorf("write metadata: %w", err)
	}
	return nil
}

// Load reads the paired artifacts. A missing index file leaves the index
// empty; a missing metadata sidecar alone yields an empty metadata map.
func (ix *Index) Load() error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	data, err := os.ReadFile(ix.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read index: %w", err)
	}

	dim, vectors, err := decodeIndex(data)
	if err != nil {
		return fmt.Errorf("decode index %s: %w", ix.path, err)
	}

	metas := map[int]Meta{}
	metaData, err := os.ReadFile(MetaPath(ix.path))
	if err == nil {
		if err := json.Unmarshal(metaData, &metas); err != nil {
			return fmt.Errorf("decode metadata: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("read metadata: %w", err)
	}

	ix.dim = dim
	ix.vectors = vectors
	ix.metas = metas
	ix.logger.Info("index loaded",
		zap.String("path", ix.path),
		zap.Int("dim", dim),
		zap.Int("ntotal", ix.ntotalLocked()),
	)
	return nil
}

func decodeIndex(data []byte) (int, []float32, error) {
	r := bytes.NewReader(data)
	magic := make([]byte, len(indexMagic))
	if _, err := r.Read(magic); err != nil || string(magic) != indexMagic {
		return 0, nil, fmt.Errorf("bad magic")
	}
	var version, dim uint32
	var count uint64
	if err := binary.Read(r, binary.LittleEndian, &version); err != nil {
		return 0, nil, fmt.Errorf("read version: %w", err)
	}
	if version != indexVersion {
		return 0, nil, fmt.Errorf("unsupported version %d", version)
	}
	if err := binary.Read(r, binary.LittleEndian, &dim); err != nil {
		return 0, nil, fmt.Errorf("read dimension: %w", err)
	}
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return 0, nil, fmt.Errorf("read count: %w", err)
	}
	// The header is untrusted input; bound the claimed element count by
	// the bytes actually present before allocating.
	remaining := uint64(r.Len())
	maxFloats := remaining / 4
	if count > maxFloats || (count > 0 && uint64(dim) > maxFloats/count) {
		return 0, nil, fmt.Errorf("header claims %d x %d vectors but only %d data bytes remain", count, dim, remaining)
	}
	need := count * uint64(dim)
	if need*4 != remaining {
		return 0, nil, fmt.Errorf("vector data length mismatch: want %d bytes, have %d", need*4, remaining)
	}
	vectors := make([]float32, need)
	if err := binary.Read(r, binary.LittleEndian, &vectors); err != nil {
		return 0, nil, fmt.Errorf("read vectors: %w", err)
	}
	return int(dim), vectors, nil
}

func writeAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
