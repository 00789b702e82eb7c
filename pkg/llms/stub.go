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
	"strings"
	"sync"
	"time"

	"github.com/edsonmartins/archflow/pkg/config"
)

// StubProvider is the built-in echo adapter used for tests and local
// runs. It supports every operation: synchronous calls echo the input,
// streams emit the input word by word, embeddings are length-derived
// vectors. Responses can be scripted with SetResponses.
type StubProvider struct {
	mu         sync.Mutex
	cfg        *config.LLMConfig
	configured bool
	responses  []string
	calls      int
	failNext   error
}

// StubDescriptor announces the stub adapter.
func StubDescriptor() *Descriptor {
	return &Descriptor{
		ID: config.ProviderStub,
		Operations: []Operation{
			OpGenerate, OpChat, OpGenerateStream, OpChatStream, OpEmbed, OpEmbedBatch,
		},
		New: func() Provider { return &StubProvider{} },
	}
}

// SetResponses scripts the texts returned by subsequent calls, in order.
// After the script is exhausted the stub reverts to echoing.
func (p *StubProvider) SetResponses(responses ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.responses = responses
	p.calls = 0
}

// FailNext makes the next call return err.
func (p *StubProvider) FailNext(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failNext = err
}

// Calls returns the number of Execute/ExecuteStream invocations.
func (p *StubProvider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func (p *StubProvider) Validate(cfg *config.LLMConfig) error {
	if cfg == nil {
		return NewError(KindInvalidConfig, string(config.ProviderStub), "config cannot be nil", nil)
	}
	return cfg.Validate()
}

func (p *StubProvider) Configure(cfg *config.LLMConfig) error {
	if err := p.Validate(cfg); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cfg = cfg
	p.configured = true
	return nil
}

func (p *StubProvider) Supports(op Operation) bool {
	switch op {
	case OpGenerate, OpChat, OpGenerateStream, OpChatStream, OpEmbed, OpEmbedBatch:
		return true
	}
	return false
}

func (p *StubProvider) Shutdown() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.configured = false
	return nil
}

func (p *StubProvider) next(echo string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.failNext != nil {
		err := p.failNext
		p.failNext = nil
		return "", err
	}
	if p.calls <= len(p.responses) {
		return p.responses[p.calls-1], nil
	}
	return echo, nil
}

func (p *StubProvider) Execute(ctx context.Context, op Operation, input Input) (*Result, error) {
	p.mu.Lock()
	configured := p.configured
	p.mu.Unlock()
	if !configured {
		return nil, NewError(KindNotConfigured, string(config.ProviderStub), "provider not configured", nil)
	}
	if err := ctx.Err(); err != nil {
		return nil, NewError(KindTimeout, string(config.ProviderStub), "context cancelled", err)
	}

	start := time.Now()
	switch op {
	case OpGenerate:
		text, err := p.next(input.Prompt)
		if err != nil {
			return nil, NewError(KindProviderError, string(config.ProviderStub), "scripted failure", err)
		}
		return &Result{
			Text:     text,
			Usage:    usageFor(input.Prompt, text),
			Duration: time.Since(start),
		}, nil

	case OpChat:
		last := ""
		if n := len(input.Messages); n > 0 {
			last = input.Messages[n-1].Content
		}
		text, err := p.next(last)
		if err != nil {
			return nil, NewError(KindProviderError, string(config.ProviderStub), "scripted failure", err)
		}
		return &Result{
			Message:  &Message{Role: RoleAssistant, Content: text},
			Usage:    usageFor(last, text),
			Duration: time.Since(start),
		}, nil

	case OpEmbed:
		return &Result{Embeddings: [][]float64{embed(input.Prompt)}, Duration: time.Since(start)}, nil

	case OpEmbedBatch:
		vecs := make([][]float64, len(input.Texts))
		for i, t := range input.Texts {
			vecs[i] = embed(t)
		}
		return &Result{Embeddings: vecs, Duration: time.Since(start)}, nil

	default:
		return nil, NewError(KindUnsupportedOperation, string(config.ProviderStub),
			string(op)+" is not a synchronous operation", nil)
	}
}

func (p *StubProvider) ExecuteStream(ctx context.Context, op Operation, input Input) (<-chan StreamChunk, error) {
	p.mu.Lock()
	configured := p.configured
	p.mu.Unlock()
	if !configured {
		return nil, NewError(KindNotConfigured, string(config.ProviderStub), "provider not configured", nil)
	}

	var source string
	switch op {
	case OpGenerateStream:
		source = input.Prompt
	case OpChatStream:
		if n := len(input.Messages); n > 0 {
			source = input.Messages[n-1].Content
		}
	default:
		return nil, NewError(KindUnsupportedOperation, string(config.ProviderStub),
			string(op)+" is not a streaming operation", nil)
	}

	text, err := p.next(source)
	if err != nil {
		return nil, NewError(KindProviderError, string(config.ProviderStub), "scripted failure", err)
	}

	ch := make(chan StreamChunk)
	go func() {
		defer close(ch)
		words := strings.Fields(text)
		for i, w := range words {
			if i > 0 {
				w = " " + w
			}
			select {
			case ch <- StreamChunk{Type: "text", Text: w}:
			case <-ctx.Done():
				// The consumer may have stopped receiving; never block on
				// the farewell chunk.
				select {
				case ch <- StreamChunk{Type: "error", Err: ctx.Err()}:
				default:
				}
				return
			}
		}
		usage := usageFor(source, text)
		select {
		case ch <- StreamChunk{Type: "done", Text: text, Done: true, Usage: &usage}:
		case <-ctx.Done():
		}
	}()
	return ch, nil
}

func usageFor(prompt, completion string) Usage {
	p := len(strings.Fields(prompt))
	c := len(strings.Fields(completion))
	return Usage{PromptTokens: p, CompletionTokens: c, TotalTokens: p + c}
}

// embed derives a tiny deterministic vector from the text so equal inputs
// produce equal vectors.
func embed(text string) []float64 {
	var sum float64
	for _, r := range text {
		sum += float64(r)
	}
	n := float64(len(text) + 1)
	return []float64{float64(len(text)), sum / n, float64(len(strings.Fields(text)))}
}
