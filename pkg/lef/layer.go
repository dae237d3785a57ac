package lef

import (
	"encoding/binary"
	"hash/crc32"

	"github.com/klauspost/compress/zstd"

	"github.com/orneryd/libetude/pkg/errs"
)

// LayerKind enumerates the operator a layer's weights feed.
type LayerKind uint8

const (
	KindLinear LayerKind = iota
	KindConv1D
	KindAttention
	KindEmbedding
	KindNormalization
	KindActivation
	KindVocoder
	KindCustom
)

// layerFlags is the layer header's own small bitset; currently only the
// compressed bit is meaningful (the layer's other flags live on Header).
type layerFlags uint16

const layerFlagCompressed layerFlags = 1

// LayerHeaderSize is the fixed, packed size of a LayerHeader on disk.
const LayerHeaderSize = 24

// LayerHeader precedes each layer's payload in layer_data. DataOffset is
// not stored on disk: it is always HeaderOffset+LayerHeaderSize, since a
// layer's payload immediately follows its header (the "[layer_header,
// layer_payload]*" run in the on-disk format). IndexEntry.DataOffset
// derives it the same way from the entry's HeaderOffset.
type LayerHeader struct {
	LayerID        uint32
	Kind           LayerKind
	QuantType      QuantType
	Compressed     bool
	MetaSize       uint32
	DataSize       uint32
	CompressedSize uint32
	Checksum       uint32 // CRC32 (IEEE) of the layer's stored payload bytes
}

func (lh *LayerHeader) Encode() []byte {
	buf := make([]byte, LayerHeaderSize)
	binary.LittleEndian.PutUint32(buf[0:4], lh.LayerID)
	buf[4] = byte(lh.Kind)
	buf[5] = byte(lh.QuantType)
	var flags layerFlags
	if lh.Compressed {
		flags |= layerFlagCompressed
	}
	binary.LittleEndian.PutUint16(buf[6:8], uint16(flags))
	binary.LittleEndian.PutUint32(buf[8:12], lh.MetaSize)
	binary.LittleEndian.PutUint32(buf[12:16], lh.DataSize)
	binary.LittleEndian.PutUint32(buf[16:20], lh.CompressedSize)
	binary.LittleEndian.PutUint32(buf[20:24], lh.Checksum)
	return buf
}

func DecodeLayerHeader(buf []byte) (LayerHeader, error) {
	var lh LayerHeader
	if len(buf) < LayerHeaderSize {
		return lh, errs.New("lef.DecodeLayerHeader", errs.InvalidFormat, nil)
	}
	lh.LayerID = binary.LittleEndian.Uint32(buf[0:4])
	lh.Kind = LayerKind(buf[4])
	lh.QuantType = QuantType(buf[5])
	flags := layerFlags(binary.LittleEndian.Uint16(buf[6:8]))
	lh.Compressed = flags&layerFlagCompressed != 0
	lh.MetaSize = binary.LittleEndian.Uint32(buf[8:12])
	lh.DataSize = binary.LittleEndian.Uint32(buf[12:16])
	lh.CompressedSize = binary.LittleEndian.Uint32(buf[16:20])
	lh.Checksum = binary.LittleEndian.Uint32(buf[20:24])
	if lh.Compressed && lh.CompressedSize > lh.DataSize {
		return lh, errs.New("lef.DecodeLayerHeader", errs.InvalidFormat, nil)
	}
	return lh, nil
}

// IndexEntrySize is the fixed, packed size of an IndexEntry on disk.
const IndexEntrySize = 14

// IndexEntry is one row of the dense, header-offset-sorted layer index,
// enabling O(1) layer lookup without scanning layer_data.
type IndexEntry struct {
	LayerID      uint32
	HeaderOffset uint32
	DataSize     uint32
	_            uint16 // reserved, zero on write
}

// DataOffset is the payload's file offset, derived rather than stored.
func (e IndexEntry) DataOffset() uint32 { return e.HeaderOffset + LayerHeaderSize }

func (e IndexEntry) Encode() []byte {
	buf := make([]byte, IndexEntrySize)
	binary.LittleEndian.PutUint32(buf[0:4], e.LayerID)
	binary.LittleEndian.PutUint32(buf[4:8], e.HeaderOffset)
	binary.LittleEndian.PutUint32(buf[8:12], e.DataSize)
	return buf
}

func DecodeIndexEntry(buf []byte) (IndexEntry, error) {
	var e IndexEntry
	if len(buf) < IndexEntrySize {
		return e, errs.New("lef.DecodeIndexEntry", errs.InvalidFormat, nil)
	}
	e.LayerID = binary.LittleEndian.Uint32(buf[0:4])
	e.HeaderOffset = binary.LittleEndian.Uint32(buf[4:8])
	e.DataSize = binary.LittleEndian.Uint32(buf[8:12])
	return e, nil
}

// decodeAndVerifyLayer decompresses stored (a layer's on-disk payload, per
// lh) and checks the result's CRC32 against lh.Checksum, the one decode
// path every loading strategy (full-read, mmap, streaming, and integrity
// verification) funnels through so a checksum mismatch is caught
// identically regardless of how the layer was reached.
func decodeAndVerifyLayer(op string, lh LayerHeader, stored []byte) ([]byte, error) {
	data := stored
	if lh.Compressed {
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return nil, errs.New(op, errs.CompressionFailed, err)
		}
		defer dec.Close()
		data, err = dec.DecodeAll(stored, make([]byte, 0, lh.DataSize))
		if err != nil {
			return nil, errs.New(op, errs.CompressionFailed, err)
		}
	}
	if crc32.ChecksumIEEE(data) != lh.Checksum {
		return nil, errs.New(op, errs.ChecksumMismatch, nil)
	}
	return data, nil
}
