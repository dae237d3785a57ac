// Package lefx implements LEFX (LibEtude Extension) files: differential
// or conditional extensions — speaker, language, effect, voice, or plugin
// — applied on top of a base LEF model.
package lefx

import (
	"encoding/binary"

	"github.com/orneryd/libetude/pkg/errs"
)

// Magic identifies an LEFX file: the bytes 'L','E','E','X' read as a
// little-endian u32.
const Magic uint32 = 0x5845454C

// baseNameSize is the fixed width of Header.BaseName's packed encoding.
const baseNameSize = 32

// HeaderSize is the fixed, packed size of Header on disk.
const HeaderSize = 4 + 2 + 2 + 1 + 1 + 4 + 4 + 2 + 2 + baseNameSize + 4 + 4 + 4 + 4 + 4 + 4

// SupportedMajor is the only major version this reader accepts.
const SupportedMajor = 1

// ExtensionType enumerates what an LEFX file adapts.
type ExtensionType uint8

const (
	ExtSpeaker ExtensionType = iota
	ExtLanguage
	ExtEffect
	ExtVoice
	ExtPlugin
	ExtCustom
)

// Header is the fixed prefix of an LEFX file, parallel to lef.Header.
type Header struct {
	Magic      uint32
	VersionMaj uint16
	VersionMin uint16
	Type       ExtensionType
	ExtensionID uint32

	// Base-model identity this extension targets.
	BaseModelHash  uint32
	BaseVersionMaj uint16
	BaseVersionMin uint16
	BaseName       string

	RequiredBaseSize uint32

	MetaOffset       uint32
	DependencyOffset uint32
	IndexOffset      uint32
	DataOffset       uint32
	PluginOffset     uint32 // 0 if absent
}

// Encode packs h into its fixed-size little-endian form.
func (h *Header) Encode() []byte {
	buf := make([]byte, HeaderSize)
	off := 0
	put32 := func(v uint32) { binary.LittleEndian.PutUint32(buf[off:off+4], v); off += 4 }
	put16 := func(v uint16) { binary.LittleEndian.PutUint16(buf[off:off+2], v); off += 2 }

	put32(h.Magic)
	put16(h.VersionMaj)
	put16(h.VersionMin)
	buf[off] = byte(h.Type)
	off++
	off++ // pad byte, zero
	put32(h.ExtensionID)
	put32(h.BaseModelHash)
	put16(h.BaseVersionMaj)
	put16(h.BaseVersionMin)

	nameField := buf[off : off+baseNameSize]
	name := []byte(h.BaseName)
	if len(name) > baseNameSize {
		name = name[:baseNameSize]
	}
	copy(nameField, name)
	off += baseNameSize

	put32(h.RequiredBaseSize)
	put32(h.MetaOffset)
	put32(h.DependencyOffset)
	put32(h.IndexOffset)
	put32(h.DataOffset)
	put32(h.PluginOffset)
	return buf
}

// DecodeHeader parses an LEFX header prefix.
func DecodeHeader(buf []byte) (Header, error) {
	var h Header
	if len(buf) < HeaderSize {
		return h, errs.New("lefx.DecodeHeader", errs.InvalidFormat, nil)
	}
	off := 0
	get32 := func() uint32 { v := binary.LittleEndian.Uint32(buf[off : off+4]); off += 4; return v }
	get16 := func() uint16 { v := binary.LittleEndian.Uint16(buf[off : off+2]); off += 2; return v }

	h.Magic = get32()
	if h.Magic != Magic {
		return h, errs.New("lefx.DecodeHeader", errs.InvalidFormat, nil)
	}
	h.VersionMaj = get16()
	h.VersionMin = get16()
	if h.VersionMaj != SupportedMajor {
		return h, errs.New("lefx.DecodeHeader", errs.VersionIncompatible, nil)
	}
	h.Type = ExtensionType(buf[off])
	off++
	off++ // pad byte
	h.ExtensionID = get32()
	h.BaseModelHash = get32()
	h.BaseVersionMaj = get16()
	h.BaseVersionMin = get16()

	nameField := buf[off : off+baseNameSize]
	off += baseNameSize
	end := baseNameSize
	for i, b := range nameField {
		if b == 0 {
			end = i
			break
		}
	}
	h.BaseName = string(nameField[:end])

	h.RequiredBaseSize = get32()
	h.MetaOffset = get32()
	h.DependencyOffset = get32()
	h.IndexOffset = get32()
	h.DataOffset = get32()
	h.PluginOffset = get32()
	return h, nil
}

// CompatibleWithBase reports whether this extension may load against a
// base LEF model: the base's model hash must match exactly and the base's
// version must be at least BaseVersionMaj.BaseVersionMin. No upper version
// bound is checked.
func (h Header) CompatibleWithBase(baseHash uint32, baseMaj, baseMin uint16) bool {
	if h.BaseModelHash != baseHash {
		return false
	}
	if baseMaj != h.BaseVersionMaj {
		return baseMaj > h.BaseVersionMaj
	}
	return baseMin >= h.BaseVersionMin
}
