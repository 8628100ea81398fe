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
	"path/filepath"
)

// FileStore keeps the snapshot in a regular file. Save writes the whole blob
// to a temporary file in the same directory, fsyncs, and renames it over the
// target so a crash mid-save never leaves a torn snapshot behind.
type FileStore struct {
	path string
}

// NewFileStore creates a file-backed store at path. The file is created on
// the first Save.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Load reads the stored snapshot. A missing file is not an error.
func (s *FileStore) Load() ([]byte, error) {
	blob, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("persist: load %s: %w", s.path, err)
	}
	return blob, nil
}

// Save replaces the stored snapshot.
func (s *FileStore) Save(blob []byte) error {
	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp*")
	if err != nil {
		return fmt.Errorf("persist: save %s: %w", s.path, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(blob); err != nil {
		tmp.Close()
		return fmt.Errorf("persist: save %s: %w", s.path, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("persist: save %s: %w", s.path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("persist: save %s: %w", s.path, err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("persist: save %s: %w", s.path, err)
	}
	return nil
}

// Close is a no-op; FileStore holds no open descriptors between calls.
func (s *FileStore) Close() error {
	return nil
}
