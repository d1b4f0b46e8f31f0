package credential

import (
	"strings"
	"testing"
)

func TestNewPool_DropsEmptyAndDuplicate(t *testing.T) {
	pool := NewPool([]string{"sk-aaa", "", "sk-bbb", "sk-aaa", ""})

	if pool.Size() != 2 {
		t.Fatalf("Size() = %d, want 2", pool.Size())
	}

	labels := pool.Labels()
	want := []string{"key-1", "key-2"}
	for i, l := range want {
		if labels[i] != l {
			t.Errorf("Labels()[%d] = %q, want %q", i, labels[i], l)
		}
	}
}

func TestNewPool_Empty(t *testing.T) {
	pool := NewPool(nil)
	if pool.Size() != 0 {
		t.Errorf("Size() = %d, want 0", pool.Size())
	}
	if got := pool.Shuffled(); len(got) != 0 {
		t.Errorf("Shuffled() returned %d credentials, want 0", len(got))
	}
}

func TestShuffled_IsPermutation(t *testing.T) {
	keys := []string{"sk-a", "sk-b", "sk-c", "sk-d", "sk-e"}
	pool := NewPool(keys)

	got := pool.Shuffled()
	if len(got) != len(keys) {
		t.Fatalf("Shuffled() returned %d credentials, want %d", len(got), len(keys))
	}

	seen := make(map[string]bool, len(got))
	for _, c := range got {
		if seen[c.Label] {
			t.Errorf("credential %s appears more than once", c.Label)
		}
		seen[c.Label] = true
	}
	for _, l := range pool.Labels() {
		if !seen[l] {
			t.Errorf("credential %s missing from shuffle", l)
		}
	}
}

func TestShuffled_DoesNotMutatePool(t *testing.T) {
	pool := NewPool([]string{"sk-a", "sk-b", "sk-c"})

	for i := 0; i < 10; i++ {
		pool.Shuffled()
	}

	labels := pool.Labels()
	want := []string{"key-1", "key-2", "key-3"}
	for i, l := range want {
		if labels[i] != l {
			t.Errorf("Labels()[%d] = %q, want %q (pool order must not change)", i, labels[i], l)
		}
	}
}

func TestShuffled_VariesAcrossCalls(t *testing.T) {
	pool := NewPool([]string{"sk-a", "sk-b", "sk-c", "sk-d", "sk-e", "sk-f"})

	// 6 credentials have 720 orderings; 30 identical draws in a row would
	// mean the permutation is not fresh per call.
	orders := make(map[string]bool)
	for i := 0; i < 30; i++ {
		var b strings.Builder
		for _, c := range pool.Shuffled() {
			b.WriteString(c.Label)
			b.WriteByte(',')
		}
		orders[b.String()] = true
	}

	if len(orders) < 2 {
		t.Error("Shuffled() produced the same order on every call")
	}
}
