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

package switcher

import "sort"

// Strategy orders the candidate providers for a fallback attempt.
type Strategy interface {
	Order(stats map[ProviderKey]Stats) []ProviderKey
}

// PrimaryOnly tries the primary first, then the fallback.
type PrimaryOnly struct{}

func (PrimaryOnly) Order(stats map[ProviderKey]Stats) []ProviderKey {
	return orderWithPreference(stats, nil)
}

// SuccessRate orders providers by descending success rate. Ties fall back
// to primary-first.
type SuccessRate struct{}

func (SuccessRate) Order(stats map[ProviderKey]Stats) []ProviderKey {
	return orderWithPreference(stats, func(a, b Stats) int {
		ra, rb := a.SuccessRate(), b.SuccessRate()
		switch {
		case ra > rb:
			return -1
		case ra < rb:
			return 1
		default:
			return 0
		}
	})
}

// LowestLatency orders providers by ascending mean duration. A mean of 0
// means unknown and sorts last among known latencies but before never
// ordering out a provider entirely.
type LowestLatency struct{}

func (LowestLatency) Order(stats map[ProviderKey]Stats) []ProviderKey {
	return orderWithPreference(stats, func(a, b Stats) int {
		ma, mb := a.MeanDuration(), b.MeanDuration()
		switch {
		case ma == mb:
			return 0
		case ma == 0:
			return 1
		case mb == 0:
			return -1
		case ma < mb:
			return -1
		default:
			return 1
		}
	})
}

// orderWithPreference sorts the known slots with cmp, using primary-first
// declaration order as the stable tie-break.
func orderWithPreference(stats map[ProviderKey]Stats, cmp func(a, b Stats) int) []ProviderKey {
	keys := make([]ProviderKey, 0, len(stats))
	for _, key := range []ProviderKey{KeyPrimary, KeyFallback} {
		if _, ok := stats[key]; ok {
			keys = append(keys, key)
		}
	}
	if cmp == nil {
		return keys
	}
	sort.SliceStable(keys, func(i, j int) bool {
		return cmp(stats[keys[i]], stats[keys[j]]) < 0
	})
	return keys
}
