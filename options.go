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

package modbus

import (
	"log/slog"
)

// EngineOption is a functional option for configuring the engine.
type EngineOption func(*engineOptions)

type engineOptions struct {
	logger *slog.Logger
}

func defaultEngineOptions() *engineOptions {
	return &engineOptions{
		logger: slog.Default(),
	}
}

// WithLogger sets the logger for the engine. Per-frame events are logged at
// Debug level.
func WithLogger(logger *slog.Logger) EngineOption {
	return func(o *engineOptions) {
		o.logger = logger
	}
}
