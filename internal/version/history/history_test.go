package history

import (
	"testing"

	"asisaid.cn/versync/internal/common/hashing"
)

func TestAppend(t *testing.T) {
	h := hashing.MustNew(hashing.SHA256)

	chain := Seed(h, "EXISTENT")
	if len(chain) != 1 {
		t.Fatalf("len = %d, want 1", len(chain))
	}
	if chain[0] != h.String("EXISTENT") {
		t.Errorf("seed = %v, want H(EXISTENT)", chain[0])
	}

	next := Append(h, chain, "DELETED")
	if len(next) != 2 {
		t.Fatalf("len = %d, want 2", len(next))
	}
	want := h.String(h.String("" + chain[0]) + "DELETED")
	if next[1] != want {
		t.Errorf("entry = %v, want %v", next[1], want)
	}
	if len(chain) != 1 {
		t.Error("Append must not modify its input")
	}
}

func TestAppend_SelfTransitionExtends(t *testing.T) {
	h := hashing.MustNew(hashing.SHA256)

	chain := Seed(h, "EXISTENT")
	chain = Append(h, chain, "EXISTENT")
	chain = Append(h, chain, "EXISTENT")

	if len(chain) != 3 {
		t.Errorf("len = %d, want 3", len(chain))
	}
	if chain[1] == chain[2] {
		t.Error("repeated events should yield distinct entries")
	}
}

func TestDigest(t *testing.T) {
	h := hashing.MustNew(hashing.SHA256)

	if Digest(h, nil) != "" {
		t.Error("digest of an empty chain should be empty")
	}
	if Digest(h, []string{"a", "b"}) != h.String(h.String("a")+"b") {
		t.Error("unexpected digest")
	}
}

func TestLengthComparator(t *testing.T) {
	tests := []struct {
		name          string
		local, remote []string
		want          Relation
	}{
		{"remote longer", []string{"a"}, []string{"a", "b"}, Ahead},
		{"remote shorter", []string{"a", "b"}, []string{"a"}, Behind},
		{"equal", []string{"a"}, []string{"x"}, Tie},
		{"both empty", nil, nil, Tie},
	}

	var c Comparator = LengthComparator{}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := c.Compare(tt.local, tt.remote); got != tt.want {
				t.Errorf("Compare = %v, want %v", got, tt.want)
			}
		})
	}
}
