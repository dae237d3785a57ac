package lef

import (
	"os"

	"github.com/orneryd/libetude/pkg/errs"
)

// FullReader loads an entire LEF file into memory up front: header, meta,
// index, and every layer's payload, validating CRCs as it goes.
type FullReader struct {
	header  Header
	meta    Meta
	index   []IndexEntry
	byID    map[uint32]int
	plain   []byte // decrypted (still compressed) region-relative view starting at header.DataOffset
}

// OpenFull implements the full-read loading strategy, per spec.
func OpenFull(path string, encOpts EncryptionOptions) (*FullReader, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.New("lef.OpenFull", errs.FileIO, err)
	}
	return DecodeFull(raw, encOpts)
}

// DecodeFull parses an in-memory LEF image, used by OpenFull and by tests
// that round-trip Writer.Bytes() without touching disk.
func DecodeFull(raw []byte, encOpts EncryptionOptions) (*FullReader, error) {
	h, err := DecodeHeader(raw)
	if err != nil {
		return nil, err
	}
	if int(h.FileSize) != len(raw) {
		return nil, errs.New("lef.DecodeFull", errs.InvalidFormat, nil)
	}

	if len(raw) < HeaderSize+metaSize {
		return nil, errs.New("lef.DecodeFull", errs.InvalidFormat, nil)
	}
	meta, err := DecodeMeta(raw[HeaderSize : HeaderSize+metaSize])
	if err != nil {
		return nil, err
	}
	if meta.Hash() != h.ModelHash {
		return nil, errs.New("lef.DecodeFull", errs.ChecksumMismatch, nil)
	}

	index, err := decodeIndex(raw, h)
	if err != nil {
		return nil, err
	}

	region := raw[h.DataOffset:]
	if h.Flags.Has(FlagEncrypted) {
		region, err = decryptPayload(region, encOpts)
		if err != nil {
			return nil, err
		}
	}

	byID := make(map[uint32]int, len(index))
	for i, e := range index {
		byID[e.LayerID] = i
	}

	r := &FullReader{header: h, meta: meta, index: index, byID: byID, plain: region}
	if err := r.VerifyFileIntegrity(); err != nil {
		return nil, err
	}
	return r, nil
}

func decodeIndex(raw []byte, h Header) ([]IndexEntry, error) {
	if h.IndexOffset >= h.DataOffset || h.DataOffset > uint32(len(raw)) {
		return nil, errs.New("lef.decodeIndex", errs.InvalidFormat, nil)
	}
	n := int(h.DataOffset-h.IndexOffset) / IndexEntrySize
	entries := make([]IndexEntry, 0, n)
	off := h.IndexOffset
	for i := 0; i < n; i++ {
		e, err := DecodeIndexEntry(raw[off : off+IndexEntrySize])
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
		off += IndexEntrySize
	}
	return entries, nil
}

func (r *FullReader) Header() Header { return r.header }
func (r *FullReader) Meta() Meta     { return r.meta }
func (r *FullReader) Index() []IndexEntry { return r.index }

// LayerData returns layer id's decompressed payload, validating its CRC32
// against the stored checksum.
func (r *FullReader) LayerData(id uint32) ([]byte, error) {
	idx, ok := r.byID[id]
	if !ok {
		return nil, errs.New("lef.FullReader.LayerData", errs.LayerNotFound, nil)
	}
	return r.layerDataAt(r.index[idx])
}

func (r *FullReader) layerDataAt(entry IndexEntry) ([]byte, error) {
	const op = "lef.FullReader.LayerData"
	rel := entry.HeaderOffset - r.header.DataOffset
	if int(rel)+LayerHeaderSize > len(r.plain) {
		return nil, errs.New(op, errs.InvalidFormat, nil)
	}
	lh, err := DecodeLayerHeader(r.plain[rel : rel+LayerHeaderSize])
	if err != nil {
		return nil, err
	}
	payloadStart := rel + LayerHeaderSize
	payloadEnd := payloadStart + lh.CompressedSize
	if int(payloadEnd) > len(r.plain) {
		return nil, errs.New(op, errs.InvalidFormat, nil)
	}
	stored := r.plain[payloadStart:payloadEnd]
	return decodeAndVerifyLayer(op, lh, stored)
}

// VerifyFileIntegrity walks every entry in the layer index and validates
// its payload's CRC32, so a caller can confirm a loaded file is intact
// without requesting a specific layer. DecodeFull and OpenFull already
// call this before returning, so a *FullReader is only ever handed back
// once every layer has checked out; it remains exported so a caller can
// re-verify an already-open reader (e.g. after suspecting disk corruption
// of a memory-mapped region it shares with one).
func (r *FullReader) VerifyFileIntegrity() error {
	for _, entry := range r.index {
		if _, err := r.layerDataAt(entry); err != nil {
			return err
		}
	}
	return nil
}
