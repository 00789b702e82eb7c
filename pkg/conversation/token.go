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

package conversation

import (
	"crypto/rand"
	"encoding/base32"
	"fmt"
	"strings"
)

const (
	resumeTokenPrefix = "rt_"
	apiKeyPrefix      = "ak_"
)

var tokenEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// newToken returns a prefixed 128-bit unguessable value.
func newToken(prefix string) string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand never fails on supported platforms.
		panic(fmt.Sprintf("reading random bytes: %v", err))
	}
	return prefix + strings.ToLower(tokenEncoding.EncodeToString(buf))
}

// NewResumeToken generates a single-use resume token.
func NewResumeToken() string {
	return newToken(resumeTokenPrefix)
}

// NewAPIKey generates an API key following the same rule as resume
// tokens.
func NewAPIKey() string {
	return newToken(apiKeyPrefix)
}

// IsResumeToken reports whether s has the resume token shape.
func IsResumeToken(s string) bool {
	return strings.HasPrefix(s, resumeTokenPrefix) && len(s) > len(resumeTokenPrefix)
}
