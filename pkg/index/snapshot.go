package index

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/askdoc/askdoc/internal/models"
)

// A snapshot is two co-located artifacts: <path>.vec, a binary blob of all
// vectors in insertion order, and <path>.json, a versioned metadata document
// with the mapping, the dimension and the full chunk store contents.
const snapshotVersion = 1

var vecMagic = [4]byte{'A', 'D', 'V', 'X'}

type snapshotMeta struct {
	Version   int                       `json:"version"`
	Dimension int                       `json:"dimension"`
	Mapping   []slot                    `json:"mapping"`
	Documents map[string][]models.Chunk `json:"documents"`
}

// Save persists the index. Both artifacts are written to temp files and
// renamed into place, so a failed save never replaces a good snapshot with a
// truncated one.
func (ix *Index) Save(path string) error {
	if err := ix.writeVectors(path + ".vec"); err != nil {
		return err
	}
	return ix.writeMeta(path + ".json")
}

// Load restores a snapshot into the index, replacing its current state. The
// mapping must line up one-to-one with the vector blob and every mapping
// entry must resolve to a stored chunk; violations fail the load and leave
// nothing half-restored.
func (ix *Index) Load(path string) error {
	vectors, dim, err := readVectors(path + ".vec")
	if err != nil {
		return err
	}

	meta, err := readMeta(path + ".json")
	if err != nil {
		return err
	}
	if meta.Version != snapshotVersion {
		return fmt.Errorf("unsupported snapshot version %d", meta.Version)
	}
	if meta.Dimension != dim {
		return fmt.Errorf("snapshot dimension mismatch: metadata says %d, vector blob says %d", meta.Dimension, dim)
	}
	if len(meta.Mapping) != len(vectors) {
		return fmt.Errorf("snapshot mapping has %d entries for %d vectors", len(meta.Mapping), len(vectors))
	}
	for i, m := range meta.Mapping {
		chunks, ok := meta.Documents[m.DocID]
		if !ok || m.Chunk < 0 || m.Chunk >= len(chunks) {
			return fmt.Errorf("snapshot mapping entry %d references invalid chunk %d of document %q", i, m.Chunk, m.DocID)
		}
	}

	ix.dim = dim
	ix.vectors = vectors
	ix.mapping = meta.Mapping
	ix.chunks.Replace(meta.Documents)
	return nil
}

func (ix *Index) writeVectors(path string) error {
	var buf bytes.Buffer
	buf.Write(vecMagic[:])
	if err := binary.Write(&buf, binary.LittleEndian, uint32(len(ix.vectors))); err != nil {
		return fmt.Errorf("failed to encode vector blob: %v", err)
	}
	if err := binary.Write(&buf, binary.LittleEndian, uint32(ix.dim)); err != nil {
		return fmt.Errorf("failed to encode vector blob: %v", err)
	}
	for _, vec := range ix.vectors {
		if err := binary.Write(&buf, binary.LittleEndian, vec); err != nil {
			return fmt.Errorf("failed to encode vector blob: %v", err)
		}
	}
	return writeFileAtomic(path, buf.Bytes())
}

func (ix *Index) writeMeta(path string) error {
	meta := snapshotMeta{
		Version:   snapshotVersion,
		Dimension: ix.dim,
		Mapping:   ix.mapping,
		Documents: ix.chunks.Export(),
	}
	if meta.Mapping == nil {
		meta.Mapping = []slot{}
	}

	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode snapshot metadata: %v", err)
	}
	return writeFileAtomic(path, data)
}

func readVectors(path string) ([][]float32, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to open vector blob: %v", err)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	var magic [4]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		return nil, 0, fmt.Errorf("failed to read vector blob header: %v", err)
	}
	if magic != vecMagic {
		return nil, 0, fmt.Errorf("%s is not a vector blob", path)
	}

	var count, dim uint32
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return nil, 0, fmt.Errorf("failed to read vector blob header: %v", err)
	}
	if err := binary.Read(r, binary.LittleEndian, &dim); err != nil {
		return nil, 0, fmt.Errorf("failed to read vector blob header: %v", err)
	}

	vectors := make([][]float32, count)
	for i := range vectors {
		vec := make([]float32, dim)
		if err := binary.Read(r, binary.LittleEndian, vec); err != nil {
			return nil, 0, fmt.Errorf("vector blob truncated at row %d: %v", i, err)
		}
		vectors[i] = vec
	}
	return vectors, int(dim), nil
}

func readMeta(path string) (snapshotMeta, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return snapshotMeta{}, fmt.Errorf("failed to read snapshot metadata: %v", err)
	}
	var meta snapshotMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return snapshotMeta{}, fmt.Errorf("failed to parse snapshot metadata: %v", err)
	}
	return meta, nil
}

func writeFileAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %v", path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to write %s: %v", path, err)
	}
	return nil
}
