// Package blockdb is the leveldb-backed store for everything the
// chain core persists outside the MMR files themselves: headers,
// block bodies, per-block kernel sums, the commitment-to-position
// index, and per-block input bitmaps. One key space, partitioned by
// a one-byte prefix per record kind, the way the teacher's own
// position-indexed stores keep a single flat keyspace rather than
// one database per concern.
package blockdb

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/RoaringBitmap/roaring"
	"github.com/fxamacker/cbor/v2"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/mwgrin/node/core"
	"github.com/mwgrin/node/pkg/hash"
)

// SchemaVersion is the schema version this build of blockdb writes and
// reads. Open runs every migration step between a store's persisted
// version and SchemaVersion, in order, before handing back a usable DB.
const SchemaVersion = 3

var (
	prefixHeader      = byte('h')
	prefixBlock       = byte('b')
	prefixBlockSums   = byte('s')
	prefixPosition    = byte('p')
	prefixInputBitmap = byte('i')
	prefixHeightIndex = byte('g')
	keySchemaVersion  = []byte{'v'}
)

// ErrSchemaTooNew is returned by Open when an existing store's
// persisted schema version is newer than this build knows how to read.
var ErrSchemaTooNew = errors.New("blockdb: store schema version is newer than this build supports")

// migrations[i] upgrades a store from version i+1 to version i+2. Both
// steps are no-ops: the record layout introduced at versions 2 and 3
// (the height index and the input-bitmap prefix, respectively) is
// additive, so a store opened at an older version just starts writing
// the new records going forward rather than needing to backfill
// anything for keys it already holds.
var migrations = []func(db *DB) error{
	func(db *DB) error { return nil }, // 1 -> 2
	func(db *DB) error { return nil }, // 2 -> 3
}

// DB wraps a leveldb handle with the chain's record encodings.
type DB struct {
	ldb *leveldb.DB
}

// Open opens, or creates, a leveldb store at dir, running schema
// migrations up to SchemaVersion if the store was last written by an
// older build.
func Open(dir string) (*DB, error) {
	ldb, err := leveldb.OpenFile(dir, nil)
	if err != nil {
		return nil, fmt.Errorf("blockdb: opening %s: %w", dir, err)
	}

	db := &DB{ldb: ldb}
	if err := db.migrate(); err != nil {
		ldb.Close()
		return nil, err
	}
	return db, nil
}

// GetVersion returns the store's persisted schema version, or 0 for a
// brand-new store that has never been versioned.
func (db *DB) GetVersion() (uint32, error) {
	data, err := db.ldb.Get(keySchemaVersion, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(data), nil
}

// SetVersion persists the store's schema version.
func (db *DB) SetVersion(version uint32) error {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], version)
	return db.ldb.Put(keySchemaVersion, buf[:], nil)
}

func (db *DB) migrate() error {
	version, err := db.GetVersion()
	if err != nil {
		return err
	}
	if version == 0 {
		return db.SetVersion(SchemaVersion)
	}
	if version > SchemaVersion {
		return ErrSchemaTooNew
	}
	for version < SchemaVersion {
		if err := migrations[version-1](db); err != nil {
			return fmt.Errorf("blockdb: migrating schema version %d to %d: %w", version, version+1, err)
		}
		version++
		if err := db.SetVersion(version); err != nil {
			return err
		}
	}
	return nil
}

// Close releases the underlying leveldb handle.
func (db *DB) Close() error { return db.ldb.Close() }

func headerKey(h hash.Hash) []byte   { return append([]byte{prefixHeader}, h.Bytes()...) }
func blockKey(h hash.Hash) []byte    { return append([]byte{prefixBlock}, h.Bytes()...) }
func blockSumsKey(h hash.Hash) []byte {
	return append([]byte{prefixBlockSums}, h.Bytes()...)
}
func positionKey(c core.Commitment) []byte {
	return append([]byte{prefixPosition}, c.Bytes()...)
}
func inputBitmapKey(h hash.Hash) []byte {
	return append([]byte{prefixInputBitmap}, h.Bytes()...)
}
func heightKey(height uint64) []byte {
	var buf [9]byte
	buf[0] = prefixHeightIndex
	binary.BigEndian.PutUint64(buf[1:], height)
	return buf[:]
}

// PutHeader stores a header, indexed by its own hash and by height.
func (db *DB) PutHeader(header *core.BlockHeader) error {
	encoded, err := cbor.Marshal(header)
	if err != nil {
		return err
	}
	h := header.Hash()
	batch := new(leveldb.Batch)
	batch.Put(headerKey(h), encoded)
	batch.Put(heightKey(header.Height), h.Bytes())
	return db.ldb.Write(batch, nil)
}

// GetHeader reads a header by its hash.
func (db *DB) GetHeader(h hash.Hash) (*core.BlockHeader, bool, error) {
	data, err := db.ldb.Get(headerKey(h), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var header core.BlockHeader
	if err := cbor.Unmarshal(data, &header); err != nil {
		return nil, false, err
	}
	return &header, true, nil
}

// GetHeaderAtHeight reads the header at a given height, satisfying
// txhashset.HeaderByHeight.
func (db *DB) GetHeaderAtHeight(height uint64) (*core.BlockHeader, bool, error) {
	data, err := db.ldb.Get(heightKey(height), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return db.GetHeader(hash.FromBytes(data))
}

// PutBlock stores a full block body, indexed by its header's hash.
func (db *DB) PutBlock(block *core.FullBlock) error {
	encoded, err := cbor.Marshal(block)
	if err != nil {
		return err
	}
	return db.ldb.Put(blockKey(block.Header.Hash()), encoded, nil)
}

// GetBlock reads a full block body by its header's hash.
func (db *DB) GetBlock(h hash.Hash) (*core.FullBlock, bool, error) {
	data, err := db.ldb.Get(blockKey(h), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var block core.FullBlock
	if err := cbor.Unmarshal(data, &block); err != nil {
		return nil, false, err
	}
	return &block, true, nil
}

// PutBlockSums stores a block's cumulative output/kernel sums, indexed
// by its header hash.
func (db *DB) PutBlockSums(h hash.Hash, sums core.BlockSums) error {
	encoded, err := cbor.Marshal(sums)
	if err != nil {
		return err
	}
	return db.ldb.Put(blockSumsKey(h), encoded, nil)
}

// GetBlockSums reads a block's cumulative sums by header hash.
func (db *DB) GetBlockSums(h hash.Hash) (core.BlockSums, bool, error) {
	data, err := db.ldb.Get(blockSumsKey(h), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return core.BlockSums{}, false, nil
	}
	if err != nil {
		return core.BlockSums{}, false, err
	}
	var sums core.BlockSums
	if err := cbor.Unmarshal(data, &sums); err != nil {
		return core.BlockSums{}, false, err
	}
	return sums, true, nil
}

// PutOutputLocation records where a commitment's output lives in the
// output/range-proof PMMRs. Satisfies txhashset.PositionIndex.
func (db *DB) PutOutputLocation(c core.Commitment, loc core.OutputLocation) error {
	encoded, err := cbor.Marshal(loc)
	if err != nil {
		return err
	}
	return db.ldb.Put(positionKey(c), encoded, nil)
}

// GetOutputLocation looks up a commitment's output location.
func (db *DB) GetOutputLocation(c core.Commitment) (core.OutputLocation, bool, error) {
	data, err := db.ldb.Get(positionKey(c), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return core.OutputLocation{}, false, nil
	}
	if err != nil {
		return core.OutputLocation{}, false, err
	}
	var loc core.OutputLocation
	if err := cbor.Unmarshal(data, &loc); err != nil {
		return core.OutputLocation{}, false, err
	}
	return loc, true, nil
}

// DeleteOutputLocation removes a spent commitment's location entry.
func (db *DB) DeleteOutputLocation(c core.Commitment) error {
	return db.ldb.Delete(positionKey(c), nil)
}

// PutInputBitmap stores the set of output positions a block's inputs
// spent. Satisfies txhashset.InputBitmapStore.
func (db *DB) PutInputBitmap(blockHash hash.Hash, bitmap *roaring.Bitmap) error {
	encoded, err := bitmap.ToBytes()
	if err != nil {
		return err
	}
	return db.ldb.Put(inputBitmapKey(blockHash), encoded, nil)
}

// GetInputBitmap reads back a block's recorded input bitmap.
func (db *DB) GetInputBitmap(blockHash hash.Hash) (*roaring.Bitmap, bool, error) {
	data, err := db.ldb.Get(inputBitmapKey(blockHash), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	bitmap := roaring.New()
	if _, err := bitmap.FromBuffer(data); err != nil {
		return nil, false, err
	}
	return bitmap, true, nil
}

// DeleteBlock removes a block body, used when an orphan or a
// rejected fork's body should no longer be retained.
func (db *DB) DeleteBlock(h hash.Hash) error {
	return db.ldb.Delete(blockKey(h), nil)
}

// IterateHeadersFrom walks every indexed (height, hash) pair with
// height >= from, in ascending order, calling fn for each until fn
// returns false or the range is exhausted.
func (db *DB) IterateHeadersFrom(from uint64, fn func(height uint64, h hash.Hash) bool) error {
	start := heightKey(from)
	limit := append([]byte{prefixHeightIndex + 1})
	iter := db.ldb.NewIterator(&util.Range{Start: start, Limit: limit}, nil)
	defer iter.Release()

	for iter.Next() {
		key := iter.Key()
		height := binary.BigEndian.Uint64(key[1:])
		if !fn(height, hash.FromBytes(iter.Value())) {
			break
		}
	}
	return iter.Error()
}
