package storage

import (
	"bytes"
	"os"
	"path"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/cockroachdb/errors"
)

// Store persists shard artifacts by id. Implementations do no caching.
type Store interface {
	// Load reads the payload saved for id. It fails with ErrNotFound if
	// there is none.
	Load(id string) ([]byte, error)

	// Save writes the payload for id, replacing any previous one. Any
	// filter saved for id is dropped first, since it no longer matches.
	Save(id string, data []byte) error

	// Delete removes the payload and filter for id. Missing files are
	// ignored.
	Delete(id string) error

	// LoadFilter reads the key filter saved for id. It fails with
	// ErrNotFound if there is none.
	LoadFilter(id string) (*bloom.BloomFilter, error)

	// SaveFilter writes the key filter for id.
	SaveFilter(id string, bf *bloom.BloomFilter) error
}

// FileStore keeps one data file and one bloom filter file per shard id in
// a single directory:
//
//	path/to/dir/
//	├── {{ ID }}.data
//	├── {{ ID }}.bloom
//
// Files are written to a temporary file and renamed into place, so a
// reader never sees a half written artifact.
type FileStore struct {
	dir string
	rw  BlockRW
}

var _ Store = (*FileStore)(nil)

// NewFileStore creates a FileStore in dir, creating the directory if it
// does not exist.
func NewFileStore(dir string, compress bool) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errors.Wrapf(err, "failed to create store dir %q", dir)
	}
	return &FileStore{
		dir: dir,
		rw:  BlockRW{Compress: compress},
	}, nil
}

// Dir returns the store's directory.
func (s *FileStore) Dir() string {
	return s.dir
}

func (s *FileStore) Load(id string) ([]byte, error) {
	if err := validateID(id); err != nil {
		return nil, err
	}

	// Open the data file
	f, err := os.Open(fmtDataPath(s.dir, id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrapf(ErrNotFound, "id=%q", id)
		}
		return nil, errors.Wrapf(err, "failed to open shard id=%q data file", id)
	}
	defer f.Close()

	// Read the whole block
	b, err := s.rw.Read(f)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read shard id=%q data file", id)
	}
	return b, nil
}

func (s *FileStore) Save(id string, data []byte) error {
	if err := validateID(id); err != nil {
		return err
	}

	// Drop the stale filter before the data changes
	if err := removeIfExists(fmtBloomPath(s.dir, id)); err != nil {
		return errors.Wrapf(err, "failed to remove shard id=%q bloom filter", id)
	}

	// Write the data file
	if err := s.writeFile(fmtDataPath(s.dir, id), data, s.rw); err != nil {
		return errors.Wrapf(err, "failed to write shard id=%q data file", id)
	}
	return nil
}

func (s *FileStore) Delete(id string) error {
	if err := validateID(id); err != nil {
		return err
	}
	if err := removeIfExists(fmtBloomPath(s.dir, id)); err != nil {
		return errors.Wrapf(err, "failed to remove shard id=%q bloom filter", id)
	}
	if err := removeIfExists(fmtDataPath(s.dir, id)); err != nil {
		return errors.Wrapf(err, "failed to remove shard id=%q data file", id)
	}
	return nil
}

func (s *FileStore) LoadFilter(id string) (*bloom.BloomFilter, error) {
	if err := validateID(id); err != nil {
		return nil, err
	}

	// Read the filter file
	b, err := os.ReadFile(fmtBloomPath(s.dir, id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrapf(ErrNotFound, "id=%q bloom filter", id)
		}
		return nil, errors.Wrapf(err, "failed to read shard id=%q bloom filter", id)
	}

	// Decode it
	var bf bloom.BloomFilter
	if err := bf.UnmarshalBinary(b); err != nil {
		return nil, errors.Mark(
			errors.Wrapf(err, "failed to unmarshal shard id=%q bloom filter", id),
			ErrCorrupt,
		)
	}
	return &bf, nil
}

func (s *FileStore) SaveFilter(id string, bf *bloom.BloomFilter) error {
	if err := validateID(id); err != nil {
		return err
	}

	b, err := bf.MarshalBinary()
	if err != nil {
		return errors.Wrapf(err, "failed to marshal shard id=%q bloom filter", id)
	}
	if err := s.writeFile(fmtBloomPath(s.dir, id), b, BlockRW{}); err != nil {
		return errors.Wrapf(err, "failed to write shard id=%q bloom filter", id)
	}
	return nil
}

// writeFile writes data to p through rw, via a temp file in the same
// directory that is renamed over p.
func (s *FileStore) writeFile(p string, data []byte, rw BlockRW) error {
	tmp, err := os.CreateTemp(s.dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if err := rw.Write(tmp, data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, p); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}

func removeIfExists(p string) error {
	if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func fmtDataPath(p, id string) string {
	return path.Join(p, id+".data")
}

func fmtBloomPath(p, id string) string {
	return path.Join(p, id+".bloom")
}

// MemStore is a Store that keeps artifacts in memory, encoded the same way
// a FileStore would write them. It is useful for tests and for caches
// that only need to spill within a process.
type MemStore struct {
	rw      BlockRW
	data    map[string][]byte
	filters map[string][]byte
}

var _ Store = (*MemStore)(nil)

// NewMemStore returns an empty MemStore.
func NewMemStore(compress bool) *MemStore {
	return &MemStore{
		rw:      BlockRW{Compress: compress},
		data:    make(map[string][]byte),
		filters: make(map[string][]byte),
	}
}

func (s *MemStore) Load(id string) ([]byte, error) {
	b, ok := s.data[id]
	if !ok {
		return nil, errors.Wrapf(ErrNotFound, "id=%q", id)
	}
	return s.rw.Read(bytes.NewReader(b))
}

func (s *MemStore) Save(id string, data []byte) error {
	delete(s.filters, id)

	var buf bytes.Buffer
	if err := s.rw.Write(&buf, data); err != nil {
		return err
	}
	s.data[id] = buf.Bytes()
	return nil
}

func (s *MemStore) Delete(id string) error {
	delete(s.data, id)
	delete(s.filters, id)
	return nil
}

func (s *MemStore) LoadFilter(id string) (*bloom.BloomFilter, error) {
	b, ok := s.filters[id]
	if !ok {
		return nil, errors.Wrapf(ErrNotFound, "id=%q bloom filter", id)
	}
	var bf bloom.BloomFilter
	if err := bf.UnmarshalBinary(b); err != nil {
		return nil, errors.Mark(err, ErrCorrupt)
	}
	return &bf, nil
}

func (s *MemStore) SaveFilter(id string, bf *bloom.BloomFilter) error {
	b, err := bf.MarshalBinary()
	if err != nil {
		return err
	}
	s.filters[id] = b
	return nil
}

// Len returns the number of saved payloads.
func (s *MemStore) Len() int {
	return len(s.data)
}
