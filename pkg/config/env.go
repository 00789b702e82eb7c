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

package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
)

// Environment selects runtime behavior defaults.
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvStaging     Environment = "staging"
	EnvProduction  Environment = "production"
	EnvTesting     Environment = "testing"
)

// EnvVarName is the environment variable consulted by ResolveEnvironment.
const EnvVarName = "ARCHFLOW_ENV"

// ResolveEnvironment resolves the active environment. Precedence:
// programmatic override, ARCHFLOW_ENV, configured value, development.
func ResolveEnvironment(override, configured string) (Environment, error) {
	candidates := []string{override, os.Getenv(EnvVarName), configured}
	for _, c := range candidates {
		if c == "" {
			continue
		}
		env := Environment(strings.ToLower(c))
		switch env {
		case EnvDevelopment, EnvStaging, EnvProduction, EnvTesting:
			return env, nil
		default:
			return EnvDevelopment, fmt.Errorf("invalid environment %q (valid: development, staging, production, testing)", c)
		}
	}
	return EnvDevelopment, nil
}

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-([^}]*))?\}`)

// ExpandEnv replaces ${VAR} and ${VAR:-default} references in s with values
// from the process environment.
func ExpandEnv(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if val, ok := os.LookupEnv(groups[1]); ok {
			return val
		}
		return groups[2]
	})
}

// BoolPtr returns a pointer to b.
func BoolPtr(b bool) *bool { return &b }

// Float64Ptr returns a pointer to f.
func Float64Ptr(f float64) *float64 { return &f }
