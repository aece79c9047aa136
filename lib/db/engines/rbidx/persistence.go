package rbidx

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/ValentinKolb/rbkv/lib/digest"
	"github.com/ValentinKolb/rbkv/lib/val"
)

// Snapshot layout (little endian):
//
//	magic    [8]byte "RBIDX\x00\x00\x00"
//	version  uint8
//	setLen   uint16, set [setLen]byte
//	count    uint64
//	count x  { digest [20]byte, valueLen uint32, value [valueLen]byte }
//
// Records are written in ascending digest order.
const (
	magicNum     = "RBIDX\x00\x00\x00"
	rbidxVersion = 1
)

// ErrInvalidSnapshot is returned by Load for streams that are not a valid
// snapshot of this index
var ErrInvalidSnapshot = errors.New("invalid snapshot")

// ErrClosed is returned when loading into a closed index
var ErrClosed = errors.New("index closed")

// --------------------------------------------------------------------------
// Persistence Operations
// --------------------------------------------------------------------------

// Save writes a snapshot of the index to w. Entries are collected in a
// single traversal, so writers are blocked only for the collection and not
// while the snapshot is written.
//
// Thread-safety: safe for concurrent use with all operations but Load
func (idx *Index) Save(w io.Writer) error {
	idx.metrics.saves.Inc()

	type record struct {
		key   digest.Digest
		value *val.Val
	}

	tree, release := idx.acquire()
	records := make([]record, 0, tree.Size())
	tree.Reduce(func(key digest.Digest, v *val.Val, _ any) {
		records = append(records, record{key, val.Reserve(v)})
	}, nil)
	release()

	defer func() {
		for _, r := range records {
			val.Destroy(r.value)
		}
	}()

	// Use a buffered writer for better performance
	bw := bufio.NewWriterSize(w, 1024*1024) // 1 MB buffer

	// Write file header
	if _, err := bw.WriteString(magicNum); err != nil {
		return err
	}
	if err := binary.Write(bw, binary.LittleEndian, uint8(rbidxVersion)); err != nil {
		return err
	}

	// Write set name
	if len(idx.set) > math.MaxUint16 {
		return fmt.Errorf("set name too long to save (%d bytes)", len(idx.set))
	}
	if err := binary.Write(bw, binary.LittleEndian, uint16(len(idx.set))); err != nil {
		return err
	}
	if _, err := bw.WriteString(idx.set); err != nil {
		return err
	}

	// Write entry count
	if err := binary.Write(bw, binary.LittleEndian, uint64(len(records))); err != nil {
		return err
	}

	for _, r := range records {
		b, _ := val.AsBytes(r.value)
		if uint64(len(b)) > math.MaxUint32 {
			return fmt.Errorf("value of %s too large to save (%d bytes)", r.key, len(b))
		}

		if _, err := bw.Write(r.key[:]); err != nil {
			return err
		}
		if err := binary.Write(bw, binary.LittleEndian, uint32(len(b))); err != nil {
			return err
		}
		if _, err := bw.Write(b); err != nil {
			return err
		}
	}

	// Flush buffer to ensure all data is written
	return bw.Flush()
}

// Load replaces the content of the index with the snapshot read from r. The
// snapshot must belong to the same set. The new tree is built completely
// before it replaces the old one, on error the index is left unchanged.
//
// Thread-safety: safe for concurrent use, other operations wait only while
// the trees are swapped
func (idx *Index) Load(r io.Reader) error {
	idx.metrics.loads.Inc()

	// Use a buffered reader for better performance
	br := bufio.NewReaderSize(r, 1024*1024) // 1 MB buffer

	// Read and verify magic number
	magicBytes := make([]byte, len(magicNum))
	if _, err := io.ReadFull(br, magicBytes); err != nil {
		return fmt.Errorf("%w: reading header: %v", ErrInvalidSnapshot, err)
	}
	if string(magicBytes) != magicNum {
		return fmt.Errorf("%w: magic number mismatch", ErrInvalidSnapshot)
	}

	// Read and verify version
	var version uint8
	if err := binary.Read(br, binary.LittleEndian, &version); err != nil {
		return fmt.Errorf("%w: reading version: %v", ErrInvalidSnapshot, err)
	}
	if version != rbidxVersion {
		return fmt.Errorf("%w: unsupported version %d (expected %d)", ErrInvalidSnapshot, version, rbidxVersion)
	}

	// Read and verify set name
	set, err := readSetName(br)
	if err != nil {
		return err
	}
	if set != idx.set {
		return fmt.Errorf("%w: snapshot of set %q cannot be loaded into set %q", ErrInvalidSnapshot, set, idx.set)
	}

	var count uint64
	if err := binary.Read(br, binary.LittleEndian, &count); err != nil {
		return fmt.Errorf("%w: reading entry count: %v", ErrInvalidSnapshot, err)
	}

	tree := idx.newTree()
	for i := uint64(0); i < count; i++ {
		var key digest.Digest
		if _, err := io.ReadFull(br, key[:]); err != nil {
			tree.Release(nil)
			return fmt.Errorf("%w: entry %d: %v", ErrInvalidSnapshot, i, err)
		}

		var valueLen uint32
		if err := binary.Read(br, binary.LittleEndian, &valueLen); err != nil {
			tree.Release(nil)
			return fmt.Errorf("%w: entry %d: %v", ErrInvalidSnapshot, i, err)
		}

		value := make([]byte, valueLen)
		if _, err := io.ReadFull(br, value); err != nil {
			tree.Release(nil)
			return fmt.Errorf("%w: entry %d: %v", ErrInvalidSnapshot, i, err)
		}

		v := val.Bytes(value)
		if _, err := tree.Insert(key, v); err != nil {
			val.Destroy(v)
			tree.Release(nil)
			return fmt.Errorf("%w: entry %d (%s): %v", ErrInvalidSnapshot, i, key, err)
		}
	}

	idx.swap.Lock()
	if idx.closed {
		idx.swap.Unlock()
		tree.Release(nil)
		return ErrClosed
	}
	old := idx.tree.Swap(tree)
	idx.swap.Unlock()

	old.Release(nil)
	Logger.Infof("loaded %d entries into set %q", count, idx.set)
	return nil
}

// readSetName reads the length prefixed set name of a snapshot
func readSetName(r io.Reader) (string, error) {
	var setLen uint16
	if err := binary.Read(r, binary.LittleEndian, &setLen); err != nil {
		return "", fmt.Errorf("%w: reading set name: %v", ErrInvalidSnapshot, err)
	}
	set := make([]byte, setLen)
	if _, err := io.ReadFull(r, set); err != nil {
		return "", fmt.Errorf("%w: reading set name: %v", ErrInvalidSnapshot, err)
	}
	return string(set), nil
}

// SnapshotSetName reads the header of a snapshot and returns the set it
// belongs to. Only the header is consumed from r.
func SnapshotSetName(r io.Reader) (string, error) {
	header := make([]byte, len(magicNum)+1)
	if _, err := io.ReadFull(r, header); err != nil {
		return "", fmt.Errorf("%w: reading header: %v", ErrInvalidSnapshot, err)
	}
	if string(header[:len(magicNum)]) != magicNum {
		return "", fmt.Errorf("%w: magic number mismatch", ErrInvalidSnapshot)
	}
	if header[len(magicNum)] != rbidxVersion {
		return "", fmt.Errorf("%w: unsupported version %d", ErrInvalidSnapshot, header[len(magicNum)])
	}
	return readSetName(r)
}
