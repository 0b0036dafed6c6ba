package partition

import (
	"cmp"
	"os"
	"path"

	"github.com/cockroachdb/errors"
	"github.com/goccy/go-json"

	"github.com/a-poor/shardset/shard"
)

const metaFileName = "_meta.json"

// Meta is the manager state written next to the shard artifacts on Close,
// enough to reopen the set.
type Meta[K cmp.Ordered] struct {
	Lowest       string            `json:"lowest"`       // Id of the shard below every boundary
	Size         uint64            `json:"size"`         // Keys across all shards
	MaxShardSize int               `json:"maxShardSize"` // Split threshold the shards were built with
	Boundaries   []BoundaryMeta[K] `json:"boundaries"`   // Ascending
}

// BoundaryMeta is one boundary map entry.
type BoundaryMeta[K cmp.Ordered] struct {
	Key K
	ID  string
}

// wireBoundary is BoundaryMeta with its key in shard.EncodeKey form.
type wireBoundary struct {
	Key []byte `json:"key"`
	ID  string `json:"id"`
}

func (b BoundaryMeta[K]) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireBoundary{Key: shard.EncodeKey(b.Key), ID: b.ID})
}

func (b *BoundaryMeta[K]) UnmarshalJSON(data []byte) error {
	var w wireBoundary
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	k, err := shard.DecodeKey[K](w.Key)
	if err != nil {
		return errors.Wrapf(err, "boundary of shard %q", w.ID)
	}
	if shard.Invalid(k) {
		return errors.Wrapf(ErrBrokenPartition, "boundary of shard %q is unordered", w.ID)
	}
	b.Key, b.ID = k, w.ID
	return nil
}

func fmtMetaPath(dir string) string {
	return path.Join(dir, metaFileName)
}

// readMeta loads the meta file in dir. It returns false if there is none.
func readMeta[K cmp.Ordered](dir string) (Meta[K], bool, error) {
	b, err := os.ReadFile(fmtMetaPath(dir))
	if err != nil {
		if os.IsNotExist(err) {
			return Meta[K]{}, false, nil
		}
		return Meta[K]{}, false, errors.Wrap(err, "failed to read meta file")
	}

	var meta Meta[K]
	if err := json.Unmarshal(b, &meta); err != nil {
		return Meta[K]{}, false, errors.Wrap(err, "failed to unmarshal meta file")
	}

	// Boundaries must be strictly increasing
	for i := 1; i < len(meta.Boundaries); i++ {
		if !(meta.Boundaries[i-1].Key < meta.Boundaries[i].Key) {
			return Meta[K]{}, false, errors.Wrapf(
				ErrBrokenPartition,
				"meta boundary %d is not above boundary %d", i, i-1,
			)
		}
	}
	if meta.Lowest == "" {
		return Meta[K]{}, false, errors.New("meta file has no lowest shard")
	}
	return meta, true, nil
}

// writeMeta replaces the meta file in dir.
func writeMeta[K cmp.Ordered](dir string, meta Meta[K]) error {
	b, err := json.Marshal(meta)
	if err != nil {
		return errors.Wrap(err, "failed to marshal meta")
	}

	tmp, err := os.CreateTemp(dir, ".tmp-meta-*")
	if err != nil {
		return errors.Wrap(err, "failed to create meta file")
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return errors.Wrap(err, "failed to write meta file")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return errors.Wrap(err, "failed to write meta file")
	}
	if err := os.Rename(tmpName, fmtMetaPath(dir)); err != nil {
		os.Remove(tmpName)
		return errors.Wrap(err, "failed to replace meta file")
	}
	return nil
}
