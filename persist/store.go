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

// Package persist stores context snapshot blobs, as produced by
// Context.Dump and consumed by Context.Restore. The library never schedules
// persistence itself; the owning application decides when to Save.
package persist

// Store persists one context snapshot blob.
type Store interface {
	// Load returns the stored snapshot, or (nil, nil) when none exists
	// yet.
	Load() ([]byte, error)

	// Save replaces the stored snapshot.
	Save(blob []byte) error

	// Close releases any resources held by the store.
	Close() error
}
