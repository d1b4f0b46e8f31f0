package credential

import (
	"fmt"
	"math/rand/v2"
)

// Credential is one upstream API key plus the non-secret label used to
// refer to it in logs, metrics, and error causes.
type Credential struct {
	Label string
	Key   string
}

// Pool is the fixed set of upstream credentials loaded at startup.
// Immutable after construction and safe for concurrent use.
type Pool struct {
	creds []Credential
}

// NewPool builds a pool from raw key material. Empty strings and
// duplicates are dropped; survivors are labeled key-1, key-2, ... in
// load order.
func NewPool(keys []string) *Pool {
	seen := make(map[string]struct{}, len(keys))
	creds := make([]Credential, 0, len(keys))
	for _, k := range keys {
		if k == "" {
			continue
		}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		creds = append(creds, Credential{
			Label: fmt.Sprintf("key-%d", len(creds)+1),
			Key:   k,
		})
	}
	return &Pool{creds: creds}
}

func (p *Pool) Size() int {
	return len(p.creds)
}

// Labels returns the non-secret labels in load order.
func (p *Pool) Labels() []string {
	labels := make([]string, len(p.creds))
	for i, c := range p.creds {
		labels[i] = c.Label
	}
	return labels
}

// Shuffled returns a fresh uniform-random permutation of the pool. The
// pool itself is never reordered, so concurrent callers each draw an
// independent order.
func (p *Pool) Shuffled() []Credential {
	out := make([]Credential, len(p.creds))
	copy(out, p.creds)
	rand.Shuffle(len(out), func(i, j int) {
		out[i], out[j] = out[j], out[i]
	})
	return out
}
