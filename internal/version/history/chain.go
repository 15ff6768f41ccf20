// Package history builds the hash chains that record delete and sharing
// transitions, and compares them across replicas.
package history

import (
	"asisaid.cn/versync/internal/common/hashing"
)

// Digest folds a chain into a single digest: acc = H(acc + entry) for each
// entry, starting from the empty string.
func Digest(h hashing.Hasher, chain []string) string {
	acc := ""
	for _, entry := range chain {
		acc = h.String(acc + entry)
	}
	return acc
}

// Next returns the entry that records event after chain.
func Next(h hashing.Hasher, chain []string, event string) string {
	return h.String(Digest(h, chain) + event)
}

// Append returns a copy of chain extended by the entry for event.
func Append(h hashing.Hasher, chain []string, event string) []string {
	out := make([]string, len(chain), len(chain)+1)
	copy(out, chain)
	return append(out, Next(h, chain, event))
}

// Seed starts a new chain with event.
func Seed(h hashing.Hasher, event string) []string {
	return Append(h, nil, event)
}
