package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"

	"github.com/fxamacker/cbor/v2"
	"github.com/samber/mo"
)

// record is the on-disk state of the store.
type record struct {
	Blob    []byte `cbor:"1,keyasint"`
	PINHash []byte `cbor:"2,keyasint,omitempty"`
}

// FileStore persists the committed array and the enrolled PIN hash in a
// single CBOR file. Commits write a temporary file in the same directory
// and rename it into place, so a crash mid-commit leaves the previous
// array intact and readers never observe a partially written one.
type FileStore struct {
	path string
	rec  record
}

func NewFileStore(path string) (*FileStore, error) {
	s := &FileStore{path: path}

	b, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		s.rec = record{Blob: InitialLargeBlobArray()}
		return s, nil
	case err != nil:
		return nil, fmt.Errorf("cannot read store file: %w", err)
	}

	if err := cbor.Unmarshal(b, &s.rec); err != nil {
		return nil, fmt.Errorf("cannot decode store file: %w", err)
	}
	if len(s.rec.Blob) == 0 {
		s.rec.Blob = InitialLargeBlobArray()
	}

	return s, nil
}

func (s *FileStore) Read(length, offset uint) ([]byte, error) {
	return readSlice(s.rec.Blob, length, offset), nil
}

func (s *FileStore) Commit(blob []byte) error {
	next := s.rec
	next.Blob = slices.Clone(blob)
	if err := s.persist(next); err != nil {
		return err
	}

	s.rec = next
	return nil
}

func (s *FileStore) PINHash() mo.Option[[]byte] {
	if s.rec.PINHash == nil {
		return mo.None[[]byte]()
	}
	return mo.Some(slices.Clone(s.rec.PINHash))
}

// SetPINHash enrolls (or, with nil, removes) the PIN factor and persists
// the change.
func (s *FileStore) SetPINHash(hash []byte) error {
	next := s.rec
	if hash == nil {
		next.PINHash = nil
	} else {
		next.PINHash = slices.Clone(hash)
	}
	if err := s.persist(next); err != nil {
		return err
	}

	s.rec = next
	return nil
}

func (s *FileStore) persist(rec record) error {
	b, err := cbor.Marshal(rec)
	if err != nil {
		return fmt.Errorf("cannot encode store file: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("cannot create temporary store file: %w", err)
	}
	defer func() {
		// No-op after a successful rename.
		_ = os.Remove(tmp.Name())
	}()

	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("cannot write store file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("cannot close store file: %w", err)
	}

	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("cannot replace store file: %w", err)
	}

	return nil
}
