package lef

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"

	"github.com/orneryd/libetude/pkg/errs"
)

// Fixed-size string field widths used by Meta's packed encoding.
const (
	nameSize        = 64
	versionSize     = 16
	authorSize      = 64
	descriptionSize = 256
)

// QuantType enumerates the layer weight quantization schemes.
type QuantType uint8

const (
	QuantNone QuantType = iota
	QuantInt8
	QuantInt4
	QuantFloat16
)

// Architecture describes the model's structural hyperparameters.
type Architecture struct {
	InputDim  uint32
	OutputDim uint32
	HiddenDim uint32
	NumLayers uint32
	NumHeads  uint32
	VocabSize uint32
}

// AudioConfig describes the audio front/back-end parameters a vocoder or
// STFT operator needs to reproduce the model's training conditions.
type AudioConfig struct {
	SampleRate uint32
	MelChannels uint32
	HopLength   uint32
	WinLength   uint32
}

// Meta is the model's descriptive metadata, per spec.
type Meta struct {
	Name        string
	Version     string
	Author      string
	Description string

	Architecture Architecture
	Audio        AudioConfig

	DefaultQuantization QuantType
	MixedPrecision      bool
}

// metaSize is the packed size of Meta's encoding: four fixed strings plus
// 6+4 architecture/audio u32 fields plus a quant byte and a bool byte.
const metaSize = nameSize + versionSize + authorSize + descriptionSize + 6*4 + 4*4 + 1 + 1

func putFixedString(dst []byte, s string) {
	for i := range dst {
		dst[i] = 0
	}
	b := []byte(s)
	if len(b) > len(dst) {
		b = b[:len(dst)]
	}
	copy(dst, b)
}

func getFixedString(src []byte) string {
	i := bytes.IndexByte(src, 0)
	if i < 0 {
		return string(src)
	}
	return string(src[:i])
}

// Encode packs m into its fixed-layout binary form.
func (m *Meta) Encode() []byte {
	buf := make([]byte, metaSize)
	off := 0
	putFixedString(buf[off:off+nameSize], m.Name)
	off += nameSize
	putFixedString(buf[off:off+versionSize], m.Version)
	off += versionSize
	putFixedString(buf[off:off+authorSize], m.Author)
	off += authorSize
	putFixedString(buf[off:off+descriptionSize], m.Description)
	off += descriptionSize

	for _, v := range []uint32{
		m.Architecture.InputDim, m.Architecture.OutputDim, m.Architecture.HiddenDim,
		m.Architecture.NumLayers, m.Architecture.NumHeads, m.Architecture.VocabSize,
	} {
		binary.LittleEndian.PutUint32(buf[off:off+4], v)
		off += 4
	}
	for _, v := range []uint32{
		m.Audio.SampleRate, m.Audio.MelChannels, m.Audio.HopLength, m.Audio.WinLength,
	} {
		binary.LittleEndian.PutUint32(buf[off:off+4], v)
		off += 4
	}
	buf[off] = byte(m.DefaultQuantization)
	off++
	if m.MixedPrecision {
		buf[off] = 1
	}
	return buf
}

// DecodeMeta unpacks a Meta from its fixed-layout binary form.
func DecodeMeta(buf []byte) (Meta, error) {
	var m Meta
	if len(buf) < metaSize {
		return m, errs.New("lef.DecodeMeta", errs.InvalidFormat, nil)
	}
	off := 0
	m.Name = getFixedString(buf[off : off+nameSize])
	off += nameSize
	m.Version = getFixedString(buf[off : off+versionSize])
	off += versionSize
	m.Author = getFixedString(buf[off : off+authorSize])
	off += authorSize
	m.Description = getFixedString(buf[off : off+descriptionSize])
	off += descriptionSize

	read32 := func() uint32 {
		v := binary.LittleEndian.Uint32(buf[off : off+4])
		off += 4
		return v
	}
	m.Architecture = Architecture{
		InputDim: read32(), OutputDim: read32(), HiddenDim: read32(),
		NumLayers: read32(), NumHeads: read32(), VocabSize: read32(),
	}
	m.Audio = AudioConfig{
		SampleRate: read32(), MelChannels: read32(), HopLength: read32(), WinLength: read32(),
	}
	m.DefaultQuantization = QuantType(buf[off])
	off++
	m.MixedPrecision = buf[off] != 0
	return m, nil
}

// Hash computes the CRC32 (IEEE) checksum the header's model_hash field
// stores, per spec.
func (m *Meta) Hash() uint32 {
	return crc32.ChecksumIEEE(m.Encode())
}
