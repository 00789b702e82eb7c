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

// Package llms defines the provider adapter contract: operations, message
// shapes, streaming chunks and the provider registry.
package llms

import "time"

// Operation identifies one of the recognised provider operations.
type Operation string

const (
	OpGenerate       Operation = "generate"
	OpChat           Operation = "chat"
	OpGenerateStream Operation = "generateStream"
	OpChatStream     Operation = "chatStream"
	OpEmbed          Operation = "embed"
	OpEmbedBatch     Operation = "embedBatch"
)

// Role identifies the author of a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one entry in a chat history.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Usage reports token accounting for a completed request.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Result is the outcome of a synchronous operation.
type Result struct {
	Text       string      `json:"text,omitempty"`
	Message    *Message    `json:"message,omitempty"`
	Embeddings [][]float64 `json:"embeddings,omitempty"`
	Usage      Usage       `json:"usage"`
	Duration   time.Duration
}

// StreamChunk is one element of a streaming operation's lazy sequence.
// The final chunk carries Done=true with the assembled text and usage.
type StreamChunk struct {
	Type  string `json:"type"` // "text", "thinking", "done", "error"
	Text  string `json:"text,omitempty"`
	Done  bool   `json:"done,omitempty"`
	Usage *Usage `json:"usage,omitempty"`
	Err   error  `json:"-"`
}

// Input carries the request for any operation. Exactly one of Prompt,
// Messages or Texts is meaningful depending on the operation.
type Input struct {
	Prompt   string    `json:"prompt,omitempty"`
	Messages []Message `json:"messages,omitempty"`
	Texts    []string  `json:"texts,omitempty"`
}
