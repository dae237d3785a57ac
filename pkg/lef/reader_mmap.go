//go:build !windows

package lef

import (
	"os"

	"golang.org/x/sys/unix"

	"github.com/orneryd/libetude/pkg/errs"
)

// MmapReader maps a LEF file read-only and views layer payloads directly
// into the mapping, avoiding the full-read strategy's copy. It does not
// support the encrypted flag: an encrypted file's layer_data is opaque
// ciphertext that cannot be viewed in place and must go through
// OpenFull/DecodeFull instead.
type MmapReader struct {
	file   *os.File
	data   []byte
	reader *FullReader
}

// OpenMmap implements the memory-mapped loading strategy, per spec.
func OpenMmap(path string) (*MmapReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errs.New("lef.OpenMmap", errs.FileIO, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, errs.New("lef.OpenMmap", errs.FileIO, err)
	}
	data, err := unix.Mmap(int(f.Fd()), 0, int(info.Size()), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, errs.New("lef.OpenMmap", errs.FileIO, err)
	}

	h, err := DecodeHeader(data)
	if err != nil {
		unix.Munmap(data)
		f.Close()
		return nil, err
	}
	if h.Flags.Has(FlagEncrypted) {
		unix.Munmap(data)
		f.Close()
		return nil, errs.New("lef.OpenMmap", errs.InvalidFormat, nil)
	}

	r, err := DecodeFull(data, EncryptionOptions{})
	if err != nil {
		unix.Munmap(data)
		f.Close()
		return nil, err
	}
	return &MmapReader{file: f, data: data, reader: r}, nil
}

func (m *MmapReader) Header() Header         { return m.reader.Header() }
func (m *MmapReader) Meta() Meta             { return m.reader.Meta() }
func (m *MmapReader) Index() []IndexEntry    { return m.reader.Index() }
func (m *MmapReader) LayerData(id uint32) ([]byte, error) { return m.reader.LayerData(id) }

// VerifyFileIntegrity walks every layer in the mapping and validates its
// CRC32, delegating to the FullReader view DecodeFull already built over
// the mapped bytes.
func (m *MmapReader) VerifyFileIntegrity() error { return m.reader.VerifyFileIntegrity() }

// Close releases the mapping. Unload of a single layer isn't meaningful
// under mmap (the whole file is one mapping); Close tears down the entire
// view.
func (m *MmapReader) Close() error {
	if err := unix.Munmap(m.data); err != nil {
		return errs.New("lef.MmapReader.Close", errs.FileIO, err)
	}
	return m.file.Close()
}
