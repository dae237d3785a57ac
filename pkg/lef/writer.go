package lef

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"hash/crc32"
	"os"
	"time"

	"github.com/klauspost/compress/zstd"
	"golang.org/x/crypto/pbkdf2"

	"github.com/orneryd/libetude/pkg/errs"
)

// EncryptionOptions configures the writer's optional whole-file payload
// encryption, adapted from the teacher's PBKDF2 + AES-256-GCM construction
// scoped down to LEF's layer_data region instead of per-field values; the
// layer index stays in plaintext.
type EncryptionOptions struct {
	Enabled    bool
	Passphrase []byte
	Salt       []byte // if empty, a random 16-byte salt is generated
	Iterations int    // default 600000, OWASP 2023 recommendation
}

// WriterOptions configures the writer pipeline, per spec.
type WriterOptions struct {
	CompressionLevel zstd.EncoderLevel
	Dictionary       []byte // optional pre-built zstd dictionary, shared across layers
	Encryption       EncryptionOptions
}

func (o WriterOptions) withDefaults() WriterOptions {
	if o.CompressionLevel == 0 {
		o.CompressionLevel = zstd.SpeedDefault
	}
	if o.Encryption.Enabled && o.Encryption.Iterations == 0 {
		o.Encryption.Iterations = 600000
	}
	return o
}

// LayerInput is a caller-supplied layer descriptor, handed to the writer
// one layer at a time.
type LayerInput struct {
	ID        uint32
	Kind      LayerKind
	QuantType QuantType
	Meta      []byte
	Data      []byte
}

type encodedLayer struct {
	header  LayerHeader
	meta    []byte
	payload []byte // stored bytes: compressed if header.Compressed
}

// Writer accumulates layers in memory and serializes a complete LEF file
// on Finalize, following spec's four-step writer pipeline.
type Writer struct {
	meta Meta
	opts WriterOptions

	layers []encodedLayer
	seen   map[uint32]bool
}

// NewWriter creates a context bound to meta with the given options
// (spec step 1-2: caller sets model info before adding layers).
func NewWriter(meta Meta, opts WriterOptions) *Writer {
	return &Writer{
		meta: meta,
		opts: opts.withDefaults(),
		seen: make(map[uint32]bool),
	}
}

// AddLayer computes the layer's CRC32, optionally compresses it, and
// stages a layer header + index entry for Finalize (spec step 3).
func (w *Writer) AddLayer(in LayerInput) error {
	if w.seen[in.ID] {
		return errs.New("lef.Writer.AddLayer", errs.InvalidParameter, nil)
	}

	checksum := crc32.ChecksumIEEE(in.Data)
	payload := in.Data
	compressed := false

	enc, err := newZstdEncoder(w.opts)
	if err == nil {
		defer enc.Close()
		out := enc.EncodeAll(in.Data, nil)
		if len(out) < len(in.Data) {
			payload = out
			compressed = true
		}
	}

	header := LayerHeader{
		LayerID:        in.ID,
		Kind:           in.Kind,
		QuantType:      in.QuantType,
		Compressed:     compressed,
		MetaSize:       uint32(len(in.Meta)),
		DataSize:       uint32(len(in.Data)),
		CompressedSize: uint32(len(payload)),
		Checksum:       checksum,
	}

	w.seen[in.ID] = true
	w.layers = append(w.layers, encodedLayer{header: header, meta: in.Meta, payload: payload})
	return nil
}

func newZstdEncoder(opts WriterOptions) (*zstd.Encoder, error) {
	zopts := []zstd.EOption{zstd.WithEncoderLevel(opts.CompressionLevel)}
	if len(opts.Dictionary) > 0 {
		zopts = append(zopts, zstd.WithEncoderDict(opts.Dictionary))
	}
	return zstd.NewWriter(nil, zopts...)
}

// Finalize writes the complete LEF file to path: header, optional
// dictionary, layer index, then each [layer_header, layer_payload] in
// registration order, patching file_size and model_hash into the header
// prefix last (spec step 4).
func (w *Writer) Finalize(path string) error {
	raw, err := w.encode()
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return errs.New("lef.Writer.Finalize", errs.FileIO, err)
	}
	return nil
}

// Bytes returns the complete encoded file without touching disk, used by
// tests and by in-memory round trips.
func (w *Writer) Bytes() ([]byte, error) {
	return w.encode()
}

func (w *Writer) encode() ([]byte, error) {
	var body bytes.Buffer // everything after the fixed header

	// Meta is fixed-size and always present immediately after the header,
	// so it needs no offset field of its own; only the variable/optional
	// sections below do.
	body.Write(w.meta.Encode())

	dictOffset := uint32(0)
	if len(w.opts.Dictionary) > 0 {
		dictOffset = HeaderSize + uint32(body.Len())
		body.Write(w.opts.Dictionary)
	}

	indexOffset := HeaderSize + uint32(body.Len())

	// Layer index is dense and sorted by header_offset: header_offset is
	// assigned by walking layers in registration order after the index
	// itself, so compute data region length first.
	dataRegionStart := indexOffset + uint32(len(w.layers))*IndexEntrySize

	entries := make([]IndexEntry, 0, len(w.layers))
	headerOffset := dataRegionStart
	var dataBuf bytes.Buffer
	for _, l := range w.layers {
		entries = append(entries, IndexEntry{
			LayerID:      l.header.LayerID,
			HeaderOffset: headerOffset,
			DataSize:     l.header.DataSize,
		})
		dataBuf.Write(l.header.Encode())
		dataBuf.Write(l.payload)
		headerOffset += LayerHeaderSize + uint32(len(l.payload))
	}

	for _, e := range entries {
		body.Write(e.Encode())
	}
	dataBytes := dataBuf.Bytes()
	if w.opts.Encryption.Enabled {
		var err error
		dataBytes, err = encryptPayload(dataBytes, w.opts.Encryption)
		if err != nil {
			return nil, err
		}
	}
	body.Write(dataBytes)

	flags := Flags(0)
	for _, l := range w.layers {
		if l.header.Compressed {
			flags |= FlagCompressed
		}
		if l.header.QuantType != QuantNone {
			flags |= FlagQuantized
		}
	}
	if w.opts.Encryption.Enabled {
		flags |= FlagEncrypted
	}

	h := Header{
		Magic:       Magic,
		VersionMaj:  SupportedMajor,
		VersionMin:  0,
		Flags:       flags,
		ModelHash:   w.meta.Hash(),
		Timestamp:   uint64(writerTimestamp()),
		DictOffset:  dictOffset,
		IndexOffset: indexOffset,
		DataOffset:  dataRegionStart,
	}
	h.FileSize = HeaderSize + uint32(body.Len())

	out := make([]byte, 0, h.FileSize)
	out = append(out, h.Encode()...)
	out = append(out, body.Bytes()...)
	return out, nil
}

// writerTimestamp is isolated so tests can observe it is called exactly
// once per Finalize without depending on wall-clock determinism elsewhere.
var writerTimestamp = func() int64 { return time.Now().Unix() }

func encryptPayload(data []byte, opts EncryptionOptions) ([]byte, error) {
	salt := opts.Salt
	if len(salt) == 0 {
		salt = make([]byte, 16)
		if _, err := rand.Read(salt); err != nil {
			return nil, errs.New("lef.encryptPayload", errs.Runtime, err)
		}
	}
	key := pbkdf2.Key(opts.Passphrase, salt, opts.Iterations, 32, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errs.New("lef.encryptPayload", errs.Runtime, err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, errs.New("lef.encryptPayload", errs.Runtime, err)
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, errs.New("lef.encryptPayload", errs.Runtime, err)
	}
	ciphertext := gcm.Seal(nil, nonce, data, nil)

	// salt ‖ nonce ‖ ciphertext, so the reader can re-derive the key.
	out := make([]byte, 0, len(salt)+len(nonce)+len(ciphertext))
	out = append(out, byte(len(salt)))
	out = append(out, salt...)
	out = append(out, byte(len(nonce)))
	out = append(out, nonce...)
	out = append(out, ciphertext...)
	return out, nil
}

func decryptPayload(data []byte, opts EncryptionOptions) ([]byte, error) {
	if len(data) < 1 {
		return nil, errs.New("lef.decryptPayload", errs.InvalidFormat, nil)
	}
	saltLen := int(data[0])
	if len(data) < 1+saltLen+1 {
		return nil, errs.New("lef.decryptPayload", errs.InvalidFormat, nil)
	}
	salt := data[1 : 1+saltLen]
	rest := data[1+saltLen:]
	nonceLen := int(rest[0])
	rest = rest[1:]
	if len(rest) < nonceLen {
		return nil, errs.New("lef.decryptPayload", errs.InvalidFormat, nil)
	}
	nonce := rest[:nonceLen]
	ciphertext := rest[nonceLen:]

	iterations := opts.Iterations
	if iterations == 0 {
		iterations = 600000
	}
	key := pbkdf2.Key(opts.Passphrase, salt, iterations, 32, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errs.New("lef.decryptPayload", errs.Runtime, err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, errs.New("lef.decryptPayload", errs.Runtime, err)
	}
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, errs.New("lef.decryptPayload", errs.ChecksumMismatch, err)
	}
	return plaintext, nil
}
