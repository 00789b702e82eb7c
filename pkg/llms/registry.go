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
	"fmt"

	"github.com/edsonmartins/archflow/pkg/config"
	"github.com/edsonmartins/archflow/pkg/registry"
)

// Descriptor announces an adapter implementation to the registry.
type Descriptor struct {
	ID         config.LLMProvider
	Operations []Operation
	New        func() Provider
}

// Registry indexes adapter descriptors by provider id.
type Registry struct {
	*registry.BaseRegistry[*Descriptor]
}

// NewRegistry creates an empty provider registry.
func NewRegistry() *Registry {
	return &Registry{BaseRegistry: registry.NewBaseRegistry[*Descriptor]()}
}

// RegisterProvider adds a descriptor under its provider id.
func (r *Registry) RegisterProvider(d *Descriptor) error {
	if d == nil || d.New == nil {
		return fmt.Errorf("provider descriptor cannot be nil")
	}
	return r.Register(string(d.ID), d)
}

// CreateFromConfig instantiates and configures an adapter for cfg.
func (r *Registry) CreateFromConfig(cfg *config.LLMConfig) (Provider, error) {
	if cfg == nil {
		return nil, fmt.Errorf("LLM config cannot be nil")
	}
	d, ok := r.Get(string(cfg.Provider))
	if !ok {
		return nil, NewError(KindInvalidConfig, string(cfg.Provider),
			fmt.Sprintf("unknown provider %q", cfg.Provider), nil)
	}

	provider := d.New()
	if err := provider.Validate(cfg); err != nil {
		return nil, err
	}
	if err := provider.Configure(cfg); err != nil {
		return nil, err
	}
	return provider, nil
}

// DefaultRegistry returns a registry pre-populated with the built-in
// adapters.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	_ = r.RegisterProvider(StubDescriptor())
	return r
}
