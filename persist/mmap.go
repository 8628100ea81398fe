// Copyright 2025 Edgeo SCADA
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package persist

import (
	"fmt"
	"os"

	"github.com/edsrzf/mmap-go"
)

// MmapStore keeps the snapshot in a memory-mapped file of fixed size. Save
// copies the blob into the mapping and flushes, which is considerably cheaper
// than rewriting a file when snapshots are taken at a high cadence.
type MmapStore struct {
	path string
	size int

	file  *os.File
	data  mmap.MMap
	fresh bool // file did not exist before Open
}

// NewMmapStore creates a mmap-backed store at path sized for blobs of exactly
// size bytes (use len of a Context.Dump). The file is created and mapped
// lazily on first use.
func NewMmapStore(path string, size int) *MmapStore {
	return &MmapStore{path: path, size: size}
}

func (s *MmapStore) open() error {
	if s.data != nil {
		return nil
	}

	_, err := os.Stat(s.path)
	s.fresh = os.IsNotExist(err)

	f, err := os.OpenFile(s.path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("persist: open %s: %w", s.path, err)
	}
	if err := f.Truncate(int64(s.size)); err != nil {
		f.Close()
		return fmt.Errorf("persist: truncate %s: %w", s.path, err)
	}

	data, err := mmap.Map(f, mmap.RDWR, 0)
	if err != nil {
		f.Close()
		return fmt.Errorf("persist: mmap %s: %w", s.path, err)
	}

	s.file = f
	s.data = data
	return nil
}

// Load returns a copy of the mapped snapshot, or (nil, nil) when the backing
// file did not exist before this store touched it.
func (s *MmapStore) Load() ([]byte, error) {
	if err := s.open(); err != nil {
		return nil, err
	}
	if s.fresh {
		return nil, nil
	}
	blob := make([]byte, len(s.data))
	copy(blob, s.data)
	return blob, nil
}

// Save copies blob into the mapping and flushes it to the backing file.
func (s *MmapStore) Save(blob []byte) error {
	if err := s.open(); err != nil {
		return err
	}
	if len(blob) != s.size {
		return fmt.Errorf("persist: blob is %d bytes, store is sized for %d", len(blob), s.size)
	}
	copy(s.data, blob)
	if err := s.data.Flush(); err != nil {
		return fmt.Errorf("persist: flush %s: %w", s.path, err)
	}
	s.fresh = false
	return nil
}

// Close unmaps the file and closes the descriptor.
func (s *MmapStore) Close() error {
	if s.data == nil {
		return nil
	}
	if err := s.data.Unmap(); err != nil {
		s.file.Close()
		return fmt.Errorf("persist: unmap %s: %w", s.path, err)
	}
	s.data = nil
	if err := s.file.Close(); err != nil {
		return fmt.Errorf("persist: close %s: %w", s.path, err)
	}
	s.file = nil
	return nil
}
