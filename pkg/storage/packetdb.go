// pkg/storage/packetdb.go
package storage

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/sirupsen/logrus"
	bolt "go.etcd.io/bbolt"
)

const (
	objectsBucket = "objects"
	metaBucket    = "meta"
)

// MaxObjectIDLen bounds object ids, which become bucket keys.
const MaxObjectIDLen = 1024

var (
	ErrUnknownObject = errors.New("storage: unknown object")
	ErrObjectID      = errors.New("storage: invalid object id")
)

// CheckObjectID rejects ids bbolt cannot store as a bucket key.
func CheckObjectID(object string) error {
	if object == "" || len(object) > MaxObjectIDLen {
		return fmt.Errorf("%w: %d bytes, want 1..%d", ErrObjectID, len(object), MaxObjectIDLen)
	}
	return nil
}

// objectMeta is stored as JSON in the meta bucket.
type objectMeta struct {
	Created time.Time `json:"created"`
}

// objectBucket returns the nested packet bucket of object, creating it
// and its meta entry on first use.
func objectBucket(tx *bolt.Tx, object string) (*bolt.Bucket, error) {
	root := tx.Bucket([]byte(objectsBucket))
	bk := root.Bucket([]byte(object))
	if bk != nil {
		return bk, nil
	}
	bk, err := root.CreateBucket([]byte(object))
	if err != nil {
		return nil, fmt.Errorf("create bucket %q: %w", object, err)
	}
	raw, err := json.Marshal(objectMeta{Created: time.Now().UTC()})
	if err != nil {
		return nil, err
	}
	if err := tx.Bucket([]byte(metaBucket)).Put([]byte(object), raw); err != nil {
		return nil, err
	}
	return bk, nil
}

// PacketDB persists raw packet records per object in bbolt. Records are
// keyed by their xxhash, so storing the same record twice keeps one copy.
type PacketDB struct {
	db      *bolt.DB
	batcher *Batcher
}

func OpenPacketDB(path string, log logrus.FieldLogger) (*PacketDB, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("bolt.Open %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range []string{objectsBucket, metaBucket} {
			if _, err := tx.CreateBucketIfNotExists([]byte(b)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &PacketDB{db: db, batcher: NewBatcher(db, log)}, nil
}

// RecordKey is the bucket key of rec.
func RecordKey(rec []byte) []byte {
	return binary.BigEndian.AppendUint64(nil, xxhash.Sum64(rec))
}

// Put queues rec for object. It becomes visible after the next batch
// write; call Flush to force one.
func (p *PacketDB) Put(object string, rec []byte) error {
	if err := CheckObjectID(object); err != nil {
		return err
	}
	return p.batcher.Put(object, RecordKey(rec), append([]byte(nil), rec...))
}

func (p *PacketDB) Flush() error { return p.batcher.Flush() }

// ForEach calls fn with every stored record of object. The slice passed
// to fn is only valid during the call.
func (p *PacketDB) ForEach(object string, fn func(rec []byte) error) error {
	return p.db.View(func(tx *bolt.Tx) error {
		bk := tx.Bucket([]byte(objectsBucket)).Bucket([]byte(object))
		if bk == nil {
			return fmt.Errorf("%w: %q", ErrUnknownObject, object)
		}
		return bk.ForEach(func(_, v []byte) error { return fn(v) })
	})
}

// Count returns the number of stored records of object.
func (p *PacketDB) Count(object string) (int, error) {
	n := 0
	err := p.db.View(func(tx *bolt.Tx) error {
		bk := tx.Bucket([]byte(objectsBucket)).Bucket([]byte(object))
		if bk == nil {
			return fmt.Errorf("%w: %q", ErrUnknownObject, object)
		}
		return bk.ForEach(func(_, _ []byte) error {
			n++
			return nil
		})
	})
	return n, err
}

// Objects lists the stored object ids in key order.
func (p *PacketDB) Objects() ([]string, error) {
	var out []string
	err := p.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(objectsBucket)).ForEachBucket(func(k []byte) error {
			out = append(out, string(k))
			return nil
		})
	})
	return out, err
}

// Expired lists objects created more than ttl before now.
func (p *PacketDB) Expired(ttl time.Duration, now time.Time) ([]string, error) {
	var out []string
	err := p.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(metaBucket)).ForEach(func(k, v []byte) error {
			var m objectMeta
			if json.Unmarshal(v, &m) == nil && now.Sub(m.Created) > ttl {
				out = append(out, string(k))
			}
			return nil
		})
	})
	return out, err
}

// Delete drops object and its records. Queued writes are flushed first so
// they cannot resurrect the bucket.
func (p *PacketDB) Delete(object string) error {
	if err := p.Flush(); err != nil {
		return err
	}
	return p.db.Update(func(tx *bolt.Tx) error {
		root := tx.Bucket([]byte(objectsBucket))
		if root.Bucket([]byte(object)) == nil {
			return fmt.Errorf("%w: %q", ErrUnknownObject, object)
		}
		if err := root.DeleteBucket([]byte(object)); err != nil {
			return err
		}
		return tx.Bucket([]byte(metaBucket)).Delete([]byte(object))
	})
}

// Snapshot flushes pending writes and copies a consistent image of the
// database to path.
func (p *PacketDB) Snapshot(path string) error {
	if err := p.Flush(); err != nil {
		return err
	}
	return p.db.View(func(tx *bolt.Tx) error {
		return tx.CopyFile(path, 0o600)
	})
}

// Close flushes pending writes and closes the database.
func (p *PacketDB) Close() error {
	p.batcher.Close()
	return p.db.Close()
}
