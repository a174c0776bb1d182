package dedup

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"sync"
	"time"

	"github.com/tecbot/gorocksdb"
)

// RocksStore is a local durable dedup backend for running an adapter without
// a shared Redis. Entries carry an expiry and are swept in time buckets so
// eviction work stays bounded.
type RocksStore struct {
	db *gorocksdb.DB
	ro *gorocksdb.ReadOptions
	wo *gorocksdb.WriteOptions

	bucketSec int64

	mu                sync.Mutex
	lastCleanedBucket int64
}

const rocksMetaKey = "meta:last_clean_bucket"

// OpenRocksStore opens (or creates) the store at path. bucketSec controls
// eviction granularity; one hour works for the TTLs used here.
func OpenRocksStore(path string, bucketSec int64) (*RocksStore, error) {
	if bucketSec <= 0 {
		bucketSec = 3600
	}
	opts := gorocksdb.NewDefaultOptions()
	opts.SetCreateIfMissing(true)
	opts.IncreaseParallelism(2)

	db, err := gorocksdb.OpenDb(opts, path)
	if err != nil {
		return nil, err
	}
	s := &RocksStore{
		db:        db,
		ro:        gorocksdb.NewDefaultReadOptions(),
		wo:        gorocksdb.NewDefaultWriteOptions(),
		bucketSec: bucketSec,
	}
	if err := s.loadLastCleanedBucket(); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func (s *RocksStore) Close() error {
	if s.ro != nil {
		s.ro.Destroy()
	}
	if s.wo != nil {
		s.wo.Destroy()
	}
	if s.db != nil {
		s.db.Close()
	}
	return nil
}

func (s *RocksStore) Exists(_ context.Context, key string) (bool, error) {
	k := mainKey(key)
	val, err := s.db.Get(s.ro, k)
	if err != nil {
		return false, err
	}
	defer val.Free()
	if !val.Exists() {
		return false, nil
	}
	return decodeI64(val.Data()) >= time.Now().Unix(), nil
}

func (s *RocksStore) MarkSeen(_ context.Context, key string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = time.Second
	}
	now := time.Now().Unix()
	expire := now + int64(ttl/time.Second)
	bucket := expire / s.bucketSec

	wb := gorocksdb.NewWriteBatch()
	defer wb.Destroy()
	wb.Put(mainKey(key), encodeI64(expire))
	wb.Put(idxKey(bucket, key), encodeI64(expire))
	if err := s.db.Write(s.wo, wb); err != nil {
		return err
	}
	return s.evict(now)
}

// evict cleans idx buckets strictly older than the current one, bucket by
// bucket, so each call does bounded work.
func (s *RocksStore) evict(nowSec int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	target := nowSec/s.bucketSec - 1
	for b := s.lastCleanedBucket + 1; b <= target; b++ {
		if err := s.cleanBucket(b); err != nil {
			return err
		}
		s.lastCleanedBucket = b
		if err := s.saveLastCleanedBucket(); err != nil {
			return err
		}
	}
	return nil
}

func (s *RocksStore) cleanBucket(bucket int64) error {
	prefix := idxPrefix(bucket)
	it := s.db.NewIterator(s.ro)
	defer it.Close()
	it.Seek(prefix)

	wb := gorocksdb.NewWriteBatch()
	defer wb.Destroy()

	for it.Valid() {
		k := it.Key()
		if !hasPrefix(k.Data(), prefix) {
			k.Free()
			break
		}
		v := it.Value()
		keyHash, ok := idxKeyHash(k.Data())
		expIdx := decodeI64(v.Data())
		wb.Delete(k.Data())

		if ok {
			mk := append([]byte("dd:"), keyHash...)
			mv, err := s.db.Get(s.ro, mk)
			if err != nil {
				k.Free()
				v.Free()
				return err
			}
			// delete main only if it still matches this expiry, so a
			// re-marked newer entry survives
			if mv.Exists() && decodeI64(mv.Data()) == expIdx {
				wb.Delete(mk)
			}
			mv.Free()
		}
		k.Free()
		v.Free()
		if wb.Count() >= 5000 {
			if err := s.db.Write(s.wo, wb); err != nil {
				return err
			}
			wb.Clear()
		}
		it.Next()
	}
	if err := it.Err(); err != nil {
		return err
	}
	if wb.Count() > 0 {
		return s.db.Write(s.wo, wb)
	}
	return nil
}

func (s *RocksStore) loadLastCleanedBucket() error {
	val, err := s.db.Get(s.ro, []byte(rocksMetaKey))
	if err != nil {
		return err
	}
	defer val.Free()
	if !val.Exists() {
		s.lastCleanedBucket = -1
		return nil
	}
	s.lastCleanedBucket = decodeI64(val.Data())
	return nil
}

func (s *RocksStore) saveLastCleanedBucket() error {
	wb := gorocksdb.NewWriteBatch()
	defer wb.Destroy()
	wb.Put([]byte(rocksMetaKey), encodeI64(s.lastCleanedBucket))
	return s.db.Write(s.wo, wb)
}

// ---- key helpers ----

// keys are hashed to fixed 32 bytes so arbitrary-length dedup keys stay
// compact and prefix parsing stays trivial
func keyHash32(key string) []byte {
	h := sha256.Sum256([]byte(key))
	return h[:]
}

func mainKey(key string) []byte {
	return append([]byte("dd:"), keyHash32(key)...)
}

func idxPrefix(bucket int64) []byte {
	k := make([]byte, 0, 4+8+1)
	k = append(k, 'd', 'd', 'x', ':')
	var b8 [8]byte
	binary.BigEndian.PutUint64(b8[:], uint64(bucket))
	k = append(k, b8[:]...)
	k = append(k, ':')
	return k
}

func idxKey(bucket int64, key string) []byte {
	p := idxPrefix(bucket)
	return append(p, keyHash32(key)...)
}

func idxKeyHash(k []byte) ([]byte, bool) {
	if len(k) < 4+8+1+32 {
		return nil, false
	}
	h := make([]byte, 32)
	copy(h, k[len(k)-32:])
	return h, true
}

func hasPrefix(b, p []byte) bool {
	if len(b) < len(p) {
		return false
	}
	for i := range p {
		if b[i] != p[i] {
			return false
		}
	}
	return true
}

func encodeI64(x int64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(x))
	return b[:]
}

func decodeI64(b []byte) int64 {
	if len(b) < 8 {
		return 0
	}
	return int64(binary.BigEndian.Uint64(b[:8]))
}
