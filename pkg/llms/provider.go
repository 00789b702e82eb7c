// Copyright 2025 Edson Martins
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

package llms

import (
	"context"

	"github.com/edsonmartins/archflow/pkg/config"
)

// Provider is the adapter contract every LLM backend satisfies. Execute
// is used for synchronous operations; ExecuteStream for the streaming
// ones. Callers must not invoke either before Configure succeeds.
type Provider interface {
	// Validate checks cfg without side effects.
	Validate(cfg *config.LLMConfig) error

	// Configure prepares the adapter. A NotConfigured error is returned
	// by Execute/ExecuteStream until this succeeds.
	Configure(cfg *config.LLMConfig) error

	// Execute runs a synchronous operation (generate, chat, embed,
	// embedBatch).
	Execute(ctx context.Context, op Operation, input Input) (*Result, error)

	// ExecuteStream runs a streaming operation (generateStream,
	// chatStream). The returned channel is closed after the final chunk.
	ExecuteStream(ctx context.Context, op Operation, input Input) (<-chan StreamChunk, error)

	// Supports reports whether the adapter implements op.
	Supports(op Operation) bool

	// Shutdown releases adapter resources.
	Shutdown() error
}
