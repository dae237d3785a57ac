// Package lef implements the LEF (LibEtude Format) model container: a
// packed little-endian binary layout for a trained model's metadata and
// layer weights, with full-read, memory-mapped, and streaming-LRU loading
// strategies.
package lef

import (
	"encoding/binary"

	"github.com/orneryd/libetude/pkg/errs"
)

// Magic identifies a LEF file: the bytes 'L','E','E','D' read as a
// little-endian u32.
const Magic uint32 = 0x4445454C

// HeaderSize is the fixed, packed size of Header on disk.
const HeaderSize = 56

// Flag bits, per the header's bitset.
type Flags uint32

const (
	FlagCompressed Flags = 1 << iota
	FlagQuantized
	FlagExtended
	FlagStreaming
	FlagEncrypted
	FlagDifferential
)

func (f Flags) Has(bit Flags) bool { return f&bit != 0 }

// SupportedMajor is the only major version this reader accepts; minor
// versions are backward-compatible within a major.
const SupportedMajor = 1

// Header is the fixed 56-byte prefix of a LEF file.
type Header struct {
	Magic       uint32
	VersionMaj  uint16
	VersionMin  uint16
	Flags       Flags
	FileSize    uint32
	ModelHash   uint32 // CRC32 (IEEE) of the encoded Meta
	Timestamp   uint64
	DictOffset  uint32 // offset of compression_dictionary, 0 if absent
	IndexOffset uint32 // offset of layer_index
	DataOffset  uint32 // offset of the first [layer_header, layer_payload]
	_           [16]byte
}

// Encode writes h in its 56-byte packed little-endian form.
func (h *Header) Encode() []byte {
	buf := make([]byte, HeaderSize)
	binary.LittleEndian.PutUint32(buf[0:4], h.Magic)
	binary.LittleEndian.PutUint16(buf[4:6], h.VersionMaj)
	binary.LittleEndian.PutUint16(buf[6:8], h.VersionMin)
	binary.LittleEndian.PutUint32(buf[8:12], uint32(h.Flags))
	binary.LittleEndian.PutUint32(buf[12:16], h.FileSize)
	binary.LittleEndian.PutUint32(buf[16:20], h.ModelHash)
	binary.LittleEndian.PutUint64(buf[20:28], h.Timestamp)
	binary.LittleEndian.PutUint32(buf[28:32], h.DictOffset)
	binary.LittleEndian.PutUint32(buf[32:36], h.IndexOffset)
	binary.LittleEndian.PutUint32(buf[36:40], h.DataOffset)
	return buf
}

// DecodeHeader parses a 56-byte prefix. The reserved trailer is ignored
// on read, per spec.
func DecodeHeader(buf []byte) (Header, error) {
	var h Header
	if len(buf) < HeaderSize {
		return h, errs.New("lef.DecodeHeader", errs.InvalidFormat, nil)
	}
	h.Magic = binary.LittleEndian.Uint32(buf[0:4])
	if h.Magic != Magic {
		return h, errs.New("lef.DecodeHeader", errs.InvalidFormat, nil)
	}
	h.VersionMaj = binary.LittleEndian.Uint16(buf[4:6])
	h.VersionMin = binary.LittleEndian.Uint16(buf[6:8])
	if h.VersionMaj != SupportedMajor {
		return h, errs.New("lef.DecodeHeader", errs.VersionIncompatible, nil)
	}
	h.Flags = Flags(binary.LittleEndian.Uint32(buf[8:12]))
	h.FileSize = binary.LittleEndian.Uint32(buf[12:16])
	h.ModelHash = binary.LittleEndian.Uint32(buf[16:20])
	h.Timestamp = binary.LittleEndian.Uint64(buf[20:28])
	h.DictOffset = binary.LittleEndian.Uint32(buf[28:32])
	h.IndexOffset = binary.LittleEndian.Uint32(buf[32:36])
	h.DataOffset = binary.LittleEndian.Uint32(buf[36:40])
	return h, nil
}
