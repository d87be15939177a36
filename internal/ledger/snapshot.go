package ledger

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/zeebo/blake3"

	"Tally/internal/storage"
)

const (
	// snapshotVersion is the current snapshot format version.
	snapshotVersion = 1

	// checksumSize is the size of the trailing BLAKE3 checksum.
	checksumSize = 32
)

// ExportSnapshot serializes all proposal records, vote markers and
// receipts into a zstd-compressed, checksummed blob.
// Layout before compression:
//
//	u16 version | u32 count | count * (u16 keyLen, key, u32 valLen, val) | 32B blake3
func (l *Ledger) ExportSnapshot() ([]byte, error) {
	var body bytes.Buffer

	var scratch [6]byte
	binary.BigEndian.PutUint16(scratch[0:2], snapshotVersion)
	body.Write(scratch[0:2])

	// Count first: two passes over the prefixes keeps entries contiguous.
	count, err := l.countEntries()
	if err != nil {
		return nil, fmt.Errorf("count entries:\n%w", err)
	}

	binary.BigEndian.PutUint32(scratch[0:4], count)
	body.Write(scratch[0:4])

	for _, prefix := range [][]byte{prefixProposal, prefixVoted, prefixReceipt} {
		err := l.db.IteratePrefix(prefix, func(key, value []byte) error {
			binary.BigEndian.PutUint16(scratch[0:2], uint16(len(key)))
			body.Write(scratch[0:2])
			body.Write(key)

			binary.BigEndian.PutUint32(scratch[0:4], uint32(len(value)))
			body.Write(scratch[0:4])
			body.Write(value)

			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("iterate %q:\n%w", prefix, err)
		}
	}

	sum := blake3.Sum256(body.Bytes())
	body.Write(sum[:])

	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("create compressor:\n%w", err)
	}
	defer enc.Close()

	return enc.EncodeAll(body.Bytes(), nil), nil
}

// ImportSnapshot verifies and loads a snapshot blob into storage.
// All entries are written in a single atomic batch.
func (l *Ledger) ImportSnapshot(blob []byte) error {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return fmt.Errorf("create decompressor:\n%w", err)
	}
	defer dec.Close()

	data, err := dec.DecodeAll(blob, nil)
	if err != nil {
		return fmt.Errorf("decompress snapshot:\n%w", err)
	}

	if len(data) < 2+4+checksumSize {
		return fmt.Errorf("snapshot too short: %d bytes", len(data))
	}

	body := data[:len(data)-checksumSize]
	sum := blake3.Sum256(body)
	if !bytes.Equal(sum[:], data[len(data)-checksumSize:]) {
		return fmt.Errorf("snapshot checksum mismatch")
	}

	version := binary.BigEndian.Uint16(body[0:2])
	if version != snapshotVersion {
		return fmt.Errorf("unsupported snapshot version %d", version)
	}

	count := binary.BigEndian.Uint32(body[2:6])
	offset := 6

	// Every entry carries at least its two length fields, which bounds
	// a plausible count before trusting the header with an allocation.
	const minEntrySize = 6
	if int(count) > (len(body)-offset)/minEntrySize {
		return fmt.Errorf("snapshot count %d exceeds body size %d", count, len(body))
	}

	pairs := make([]storage.KeyValue, 0, count)

	for i := uint32(0); i < count; i++ {
		if len(body) < offset+2 {
			return fmt.Errorf("truncated entry %d", i)
		}

		keyLen := int(binary.BigEndian.Uint16(body[offset : offset+2]))
		offset += 2

		if len(body) < offset+keyLen+4 {
			return fmt.Errorf("truncated key in entry %d", i)
		}

		key := make([]byte, keyLen)
		copy(key, body[offset:offset+keyLen])
		offset += keyLen

		valLen := int(binary.BigEndian.Uint32(body[offset : offset+4]))
		offset += 4

		if len(body) < offset+valLen {
			return fmt.Errorf("truncated value in entry %d", i)
		}

		value := make([]byte, valLen)
		copy(value, body[offset:offset+valLen])
		offset += valLen

		pairs = append(pairs, storage.KeyValue{Key: key, Value: value})
	}

	return l.db.SetBatch(pairs)
}

// countEntries counts proposal records and vote markers.
func (l *Ledger) countEntries() (uint32, error) {
	var count uint32

	for _, prefix := range [][]byte{prefixProposal, prefixVoted, prefixReceipt} {
		err := l.db.IteratePrefix(prefix, func(key, value []byte) error {
			count++
			return nil
		})
		if err != nil {
			return 0, err
		}
	}

	return count, nil
}
