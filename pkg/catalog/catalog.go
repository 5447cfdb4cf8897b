// Package catalog implements the label/relationship-type/property-key
// catalog as an id-allocation and statistics service, backed by BoltDB. The
// catalog is an external collaborator to the storage engine proper: it
// owns name<->id mappings so the fixed-width records in recordstore can
// carry small integer ids instead of strings, but it holds no graph data
// itself, and the snapshot service treats its database file as an opaque
// blob alongside the record store's files.
package catalog

import (
	"encoding/binary"
	"fmt"
	"path/filepath"

	"github.com/hivellm/nexus/pkg/nxerrors"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketLabels    = []byte("labels")
	bucketRelTypes  = []byte("rel_types")
	bucketPropKeys  = []byte("property_keys")
	bucketStats     = []byte("stats")
	keyLabelStats   = []byte("label_counts")
)

// Catalog allocates stable integer ids for label, relationship-type, and
// property-key names, and tracks coarse per-label node counts for the
// query planner.
type Catalog struct {
	db *bolt.DB
}

// Open opens (or creates) the catalog database under dataDir.
func Open(dataDir string) (*Catalog, error) {
	path := filepath.Join(dataDir, "catalog.db")
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, nxerrors.Wrap(nxerrors.IOError, "open catalog db", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketLabels, bucketRelTypes, bucketPropKeys, bucketStats} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("create bucket %s: %w", b, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, nxerrors.Wrap(nxerrors.IOError, "init catalog buckets", err)
	}

	return &Catalog{db: db}, nil
}

// Close closes the catalog database.
func (c *Catalog) Close() error {
	return c.db.Close()
}

// LabelID returns the id for name, allocating a new one on first use.
func (c *Catalog) LabelID(name string) (uint32, error) {
	return c.internID(bucketLabels, name)
}

// RelTypeID returns the id for name, allocating a new one on first use.
func (c *Catalog) RelTypeID(name string) (uint32, error) {
	return c.internID(bucketRelTypes, name)
}

// PropertyKeyID returns the id for name, allocating a new one on first use.
func (c *Catalog) PropertyKeyID(name string) (uint32, error) {
	return c.internID(bucketPropKeys, name)
}

// LabelName resolves an allocated label id back to its name.
func (c *Catalog) LabelName(id uint32) (string, error) {
	return c.resolveName(bucketLabels, id)
}

// internID looks up name's id in bucket, allocating the next sequence value
// if it has not been seen before. Both directions (name->id, id->name) are
// stored so names can be resolved for query output.
func (c *Catalog) internID(bucket []byte, name string) (uint32, error) {
	var id uint32
	err := c.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucket)
		if existing := b.Get(nameKey(name)); existing != nil {
			id = binary.LittleEndian.Uint32(existing)
			return nil
		}
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		id = uint32(seq)
		var idBuf [4]byte
		binary.LittleEndian.PutUint32(idBuf[:], id)
		if err := b.Put(nameKey(name), idBuf[:]); err != nil {
			return err
		}
		return b.Put(idKey(id), []byte(name))
	})
	if err != nil {
		return 0, nxerrors.Wrap(nxerrors.IOError, "allocate catalog id", err)
	}
	return id, nil
}

func (c *Catalog) resolveName(bucket []byte, id uint32) (string, error) {
	var name string
	err := c.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucket)
		v := b.Get(idKey(id))
		if v == nil {
			return nxerrors.Newf(nxerrors.NotFound, "catalog id %d not found", id)
		}
		name = string(v)
		return nil
	})
	return name, err
}

func nameKey(name string) []byte { return append([]byte("n:"), name...) }
func idKey(id uint32) []byte {
	buf := make([]byte, 2+4)
	copy(buf, "i:")
	binary.LittleEndian.PutUint32(buf[2:], id)
	return buf
}

// IncrementLabelCount bumps the live node count tracked for labelID by
// delta (negative on delete), used by the query planner for cardinality
// estimates. This is advisory bookkeeping, not a source of truth; this
// package neither verifies the count against the stored nodes nor rebuilds it.
func (c *Catalog) IncrementLabelCount(labelID uint32, delta int64) error {
	return c.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketStats)
		counts, err := c.loadLabelCounts(b)
		if err != nil {
			return err
		}
		counts[labelID] += delta
		return c.saveLabelCounts(b, counts)
	})
}

// LabelCounts returns a snapshot of the per-label node count table.
func (c *Catalog) LabelCounts() (map[uint32]int64, error) {
	var counts map[uint32]int64
	err := c.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketStats)
		var err error
		counts, err = c.loadLabelCounts(b)
		return err
	})
	return counts, err
}

func (c *Catalog) loadLabelCounts(b *bolt.Bucket) (map[uint32]int64, error) {
	data := b.Get(keyLabelStats)
	counts := make(map[uint32]int64)
	if data == nil {
		return counts, nil
	}
	if len(data)%12 != 0 {
		return nil, nxerrors.New(nxerrors.InvalidInput, "label count table corrupt")
	}
	for i := 0; i < len(data); i += 12 {
		id := binary.LittleEndian.Uint32(data[i : i+4])
		count := int64(binary.LittleEndian.Uint64(data[i+4 : i+12]))
		counts[id] = count
	}
	return counts, nil
}

func (c *Catalog) saveLabelCounts(b *bolt.Bucket, counts map[uint32]int64) error {
	buf := make([]byte, 0, 12*len(counts))
	for id, count := range counts {
		var entry [12]byte
		binary.LittleEndian.PutUint32(entry[0:4], id)
		binary.LittleEndian.PutUint64(entry[4:12], uint64(count))
		buf = append(buf, entry[:]...)
	}
	return b.Put(keyLabelStats, buf)
}
