// Package blockstore persists block bodies and undo journals in capped
// append-only files, with index metadata in leveldb.
package blockstore

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/goleveldb/leveldb"
	ldbutil "github.com/btcsuite/goleveldb/leveldb/util"

	"github.com/bitcoincandy/candyd/blockchain"
	"github.com/bitcoincandy/candyd/errors"
	"github.com/bitcoincandy/candyd/model"
	"github.com/bitcoincandy/candyd/ulogger"
	"github.com/bitcoincandy/candyd/utxo"
)

var (
	indexKeyPrefix = []byte{'b'}
	fileKeyPrefix  = []byte{'f'}
	lastFileKey    = []byte{'l'}
	flagKeyPrefix  = []byte{'F'}
)

// recordHeaderLen is the per-record framing: 4 bytes magic, 4 bytes size.
const recordHeaderLen = 8

// fileInfo tracks usage of one blk/rev file pair.
type fileInfo struct {
	Blocks   uint32
	Size     uint32
	UndoSize uint32
}

// Store implements blockchain.BlockStore on the local filesystem.
type Store struct {
	mtx sync.Mutex

	logger ulogger.Logger
	dir    string
	magic  [4]byte

	// maxFileSize rolls appends to a new file once exceeded.
	maxFileSize uint32

	db *leveldb.DB

	lastFile int32
	files    map[int32]*fileInfo
	dirty    map[int32]struct{}
}

func New(logger ulogger.Logger, dir string, magic [4]byte, maxFileSize uint32) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.NewStorageError("creating block store directory %s", dir, err)
	}

	db, err := leveldb.OpenFile(filepath.Join(dir, "index"), nil)
	if err != nil {
		return nil, errors.NewStorageError("opening block index database", err)
	}

	s := &Store{
		logger:      logger.New("blockstore"),
		dir:         dir,
		magic:       magic,
		maxFileSize: maxFileSize,
		db:          db,
		files:       make(map[int32]*fileInfo),
		dirty:       make(map[int32]struct{}),
	}

	if err := s.loadFileState(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return s, nil
}

func (s *Store) Close() error {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	if err := s.writeFileState(nil); err != nil {
		s.logger.Errorf("flushing file state on close: %v", err)
	}

	return s.db.Close()
}

func (s *Store) blockFilePath(file int32) string {
	return filepath.Join(s.dir, fmt.Sprintf("blk%05d.dat", file))
}

func (s *Store) undoFilePath(file int32) string {
	return filepath.Join(s.dir, fmt.Sprintf("rev%05d.dat", file))
}

func (s *Store) fileInfoFor(file int32) *fileInfo {
	info, ok := s.files[file]
	if !ok {
		info = &fileInfo{}
		s.files[file] = info
	}

	return info
}

func (s *Store) loadFileState() error {
	raw, err := s.db.Get(lastFileKey, nil)
	if err == nil {
		s.lastFile = int32(binary.LittleEndian.Uint32(raw))
	} else if err != leveldb.ErrNotFound {
		return errors.NewStorageError("reading last file counter", err)
	}

	iter := s.db.NewIterator(ldbutil.BytesPrefix(fileKeyPrefix), nil)
	defer iter.Release()

	for iter.Next() {
		file := int32(binary.LittleEndian.Uint32(iter.Key()[1:]))

		info := &fileInfo{}
		buf := bytes.NewReader(iter.Value())
		if err := binary.Read(buf, binary.LittleEndian, info); err != nil {
			return errors.NewStorageError("decoding file info %d", file, err)
		}

		s.files[file] = info
	}

	return iter.Error()
}

// writeFileState stages dirty file infos and the last-file counter into the
// given batch, or writes them directly when batch is nil.
func (s *Store) writeFileState(batch *leveldb.Batch) error {
	own := batch == nil
	if own {
		batch = new(leveldb.Batch)
	}

	for file := range s.dirty {
		var key [5]byte
		key[0] = fileKeyPrefix[0]
		binary.LittleEndian.PutUint32(key[1:], uint32(file))

		var buf bytes.Buffer
		if err := binary.Write(&buf, binary.LittleEndian, s.files[file]); err != nil {
			return errors.NewStorageError("encoding file info %d", file, err)
		}

		batch.Put(key[:], buf.Bytes())
	}

	var last [4]byte
	binary.LittleEndian.PutUint32(last[:], uint32(s.lastFile))
	batch.Put(lastFileKey, last[:])

	if own {
		if err := s.db.Write(batch, nil); err != nil {
			return errors.NewStorageError("writing file state", err)
		}

		s.dirty = make(map[int32]struct{})
	}

	return nil
}

// appendRecord writes magic || size || payload to the given file and returns
// the offset of the payload.
func appendRecord(path string, offset uint32, magic [4]byte, payload []byte) (uint32, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return 0, errors.NewSystemError("opening %s", path, err)
	}
	defer f.Close()

	var framing [recordHeaderLen]byte
	copy(framing[:4], magic[:])
	binary.LittleEndian.PutUint32(framing[4:], uint32(len(payload)))

	if _, err := f.WriteAt(framing[:], int64(offset)); err != nil {
		return 0, errors.NewSystemError("writing record header to %s", path, err)
	}

	if _, err := f.WriteAt(payload, int64(offset)+recordHeaderLen); err != nil {
		return 0, errors.NewSystemError("writing record to %s", path, err)
	}

	return offset + recordHeaderLen, nil
}

// WriteBlock appends a block body, rolling to a new file when the current one
// would exceed the cap.
func (s *Store) WriteBlock(block *model.Block) (blockchain.DiskPosition, error) {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	payload := block.Bytes()

	file := s.lastFile
	info := s.fileInfoFor(file)

	for info.Size > 0 && info.Size+uint32(len(payload))+recordHeaderLen >= s.maxFileSize {
		file++
		info = s.fileInfoFor(file)
	}
	s.lastFile = file

	bodyPos, err := appendRecord(s.blockFilePath(file), info.Size, s.magic, payload)
	if err != nil {
		return blockchain.NullDiskPosition, err
	}

	info.Size += uint32(len(payload)) + recordHeaderLen
	info.Blocks++
	s.dirty[file] = struct{}{}

	return blockchain.DiskPosition{File: file, Pos: bodyPos}, nil
}

func (s *Store) ReadBlock(pos blockchain.DiskPosition) (*model.Block, error) {
	if pos.IsNull() {
		return nil, errors.NewInvalidArgumentError("null block position")
	}

	f, err := os.Open(s.blockFilePath(pos.File))
	if err != nil {
		return nil, errors.NewSystemError("opening block file %d", pos.File, err)
	}
	defer f.Close()

	if _, err := f.Seek(int64(pos.Pos), io.SeekStart); err != nil {
		return nil, errors.NewSystemError("seeking block file %d to %d", pos.File, pos.Pos, err)
	}

	block := &model.Block{}
	if err := block.Deserialize(f); err != nil {
		return nil, errors.NewStorageError("decoding block at %d:%d", pos.File, pos.Pos, err)
	}

	return block, nil
}

// undoChecksum binds an undo payload to its block's parent hash, so a
// record pasted from another chain position cannot verify.
func undoChecksum(prevHash chainhash.Hash, payload []byte) chainhash.Hash {
	data := make([]byte, 0, len(prevHash)+len(payload))
	data = append(data, prevHash[:]...)
	data = append(data, payload...)

	return chainhash.DoubleHashH(data)
}

// WriteUndo appends an undo journal to the rev file paired with the given
// block file.
func (s *Store) WriteUndo(undo *utxo.BlockUndo, prevHash chainhash.Hash, file int32) (blockchain.DiskPosition, error) {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	var buf bytes.Buffer
	if err := undo.Serialize(&buf); err != nil {
		return blockchain.NullDiskPosition, errors.NewStorageError("encoding undo data", err)
	}

	payload := buf.Bytes()
	checksum := undoChecksum(prevHash, payload)
	payload = append(payload, checksum[:]...)

	info := s.fileInfoFor(file)

	bodyPos, err := appendRecord(s.undoFilePath(file), info.UndoSize, s.magic, payload)
	if err != nil {
		return blockchain.NullDiskPosition, err
	}

	info.UndoSize += uint32(len(payload)) + recordHeaderLen
	s.dirty[file] = struct{}{}

	return blockchain.DiskPosition{File: file, Pos: bodyPos}, nil
}

func (s *Store) ReadUndo(pos blockchain.DiskPosition, prevHash chainhash.Hash) (*utxo.BlockUndo, error) {
	if pos.IsNull() {
		return nil, errors.NewInvalidArgumentError("null undo position")
	}

	f, err := os.Open(s.undoFilePath(pos.File))
	if err != nil {
		return nil, errors.NewSystemError("opening undo file %d", pos.File, err)
	}
	defer f.Close()

	if _, err := f.Seek(int64(pos.Pos)-recordHeaderLen, io.SeekStart); err != nil {
		return nil, errors.NewSystemError("seeking undo file %d", pos.File, err)
	}

	var framing [recordHeaderLen]byte
	if _, err := io.ReadFull(f, framing[:]); err != nil {
		return nil, errors.NewStorageError("reading undo record header", err)
	}

	if !bytes.Equal(framing[:4], s.magic[:]) {
		return nil, errors.NewStorageError("undo record magic mismatch at %d:%d", pos.File, pos.Pos)
	}

	size := binary.LittleEndian.Uint32(framing[4:])
	if size < chainhash.HashSize {
		return nil, errors.NewStorageError("undo record too small: %d", size)
	}

	payload := make([]byte, size)
	if _, err := io.ReadFull(f, payload); err != nil {
		return nil, errors.NewStorageError("reading undo record", err)
	}

	body := payload[:size-chainhash.HashSize]
	var stored chainhash.Hash
	copy(stored[:], payload[size-chainhash.HashSize:])

	if undoChecksum(prevHash, body) != stored {
		return nil, errors.NewStorageError("undo record checksum mismatch at %d:%d", pos.File, pos.Pos)
	}

	undo := &utxo.BlockUndo{}
	if err := undo.Deserialize(bytes.NewReader(body)); err != nil {
		return nil, errors.NewStorageError("decoding undo record", err)
	}

	return undo, nil
}

func indexKey(hash chainhash.Hash) []byte {
	key := make([]byte, 0, 1+chainhash.HashSize)
	key = append(key, indexKeyPrefix...)

	return append(key, hash[:]...)
}

func encodeIndexRecord(rec *blockchain.IndexRecord) ([]byte, error) {
	var buf bytes.Buffer

	buf.Write(rec.Hash[:])

	if err := rec.Header.Serialize(&buf); err != nil {
		return nil, err
	}

	for _, v := range []uint32{
		uint32(rec.Height),
		uint32(rec.Status),
		rec.TxCount,
		uint32(rec.File),
		rec.DataPos,
		rec.UndoPos,
	} {
		if err := binary.Write(&buf, binary.LittleEndian, v); err != nil {
			return nil, err
		}
	}

	return buf.Bytes(), nil
}

func decodeIndexRecord(raw []byte) (*blockchain.IndexRecord, error) {
	rec := &blockchain.IndexRecord{}
	reader := bytes.NewReader(raw)

	if _, err := io.ReadFull(reader, rec.Hash[:]); err != nil {
		return nil, err
	}

	if err := rec.Header.Deserialize(reader); err != nil {
		return nil, err
	}

	var fields [6]uint32
	for i := range fields {
		if err := binary.Read(reader, binary.LittleEndian, &fields[i]); err != nil {
			return nil, err
		}
	}

	rec.Height = int32(fields[0])
	rec.Status = blockchain.BlockStatus(fields[1])
	rec.TxCount = fields[2]
	rec.File = int32(fields[3])
	rec.DataPos = fields[4]
	rec.UndoPos = fields[5]

	return rec, nil
}

func (s *Store) LoadIndex(fn func(rec *blockchain.IndexRecord) error) error {
	iter := s.db.NewIterator(ldbutil.BytesPrefix(indexKeyPrefix), nil)
	defer iter.Release()

	for iter.Next() {
		rec, err := decodeIndexRecord(iter.Value())
		if err != nil {
			return errors.NewStorageError("decoding index record", err)
		}

		if err := fn(rec); err != nil {
			return err
		}
	}

	return iter.Error()
}

// WriteIndexBatch persists dirty index records together with the file
// metadata in one atomic write.
func (s *Store) WriteIndexBatch(records []*blockchain.IndexRecord) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	batch := new(leveldb.Batch)

	for _, rec := range records {
		raw, err := encodeIndexRecord(rec)
		if err != nil {
			return errors.NewStorageError("encoding index record", err)
		}

		batch.Put(indexKey(rec.Hash), raw)
	}

	if err := s.writeFileState(batch); err != nil {
		return err
	}

	if err := s.db.Write(batch, nil); err != nil {
		return errors.NewStorageError("writing index batch", err)
	}

	s.dirty = make(map[int32]struct{})

	return nil
}

func flagKey(name string) []byte {
	return append(flagKeyPrefix, []byte(name)...)
}

func (s *Store) SetFlag(name string, value bool) error {
	v := []byte{0}
	if value {
		v[0] = 1
	}

	if err := s.db.Put(flagKey(name), v, nil); err != nil {
		return errors.NewStorageError("writing flag %s", name, err)
	}

	return nil
}

func (s *Store) GetFlag(name string) (bool, error) {
	raw, err := s.db.Get(flagKey(name), nil)
	if err == leveldb.ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, errors.NewStorageError("reading flag %s", name, err)
	}

	return len(raw) == 1 && raw[0] == 1, nil
}

// Prune removes the named block files and their undo counterparts.
func (s *Store) Prune(files map[int32]struct{}) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	for file := range files {
		if file == s.lastFile {
			return errors.NewInvalidArgumentError("refusing to prune the active file %d", file)
		}

		if err := os.Remove(s.blockFilePath(file)); err != nil && !os.IsNotExist(err) {
			return errors.NewSystemError("removing block file %d", file, err)
		}
		if err := os.Remove(s.undoFilePath(file)); err != nil && !os.IsNotExist(err) {
			return errors.NewSystemError("removing undo file %d", file, err)
		}

		delete(s.files, file)

		var key [5]byte
		key[0] = fileKeyPrefix[0]
		binary.LittleEndian.PutUint32(key[1:], uint32(file))
		if err := s.db.Delete(key[:], nil); err != nil {
			return errors.NewStorageError("deleting file info %d", file, err)
		}
	}

	if len(files) > 0 {
		if err := s.SetFlag(blockchain.FlagPrunedFiles, true); err != nil {
			return err
		}

		s.logger.Infof("pruned %d block files", len(files))
	}

	return nil
}
