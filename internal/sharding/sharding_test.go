package sharding

import (
	"testing"

	"github.com/google/uuid"
)

func TestPartitionFor(t *testing.T) {
	tests := []struct {
		key  string
		want int
	}{
		{"listing-abc", 417},
		{"driver-7", 824},
		{"8f1c0a52-6f0e-4a55-9d0b-3c2b3f6c1a02", 769},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			if got := PartitionFor(tt.key); got != tt.want {
				t.Errorf("PartitionFor(%q) = %v, want %v", tt.key, got, tt.want)
			}
		})
	}
}

func TestShardForDegenerateCounts(t *testing.T) {
	for _, n := range []int{-1, 0, 1} {
		if got := ShardFor("listing-abc", n); got != 0 {
			t.Errorf("ShardFor with %d shards = %d, want 0", n, got)
		}
	}
}

func TestShardForIsStableAndInRange(t *testing.T) {
	for i := 0; i < 200; i++ {
		key := uuid.NewString()
		first := ShardFor(key, 16)
		if first < 0 || first >= 16 {
			t.Fatalf("ShardFor(%q, 16) = %d, out of range", key, first)
		}
		if again := ShardFor(key, 16); again != first {
			t.Fatalf("ShardFor(%q, 16) changed between calls: %d then %d", key, first, again)
		}
	}
}

func TestListingIDsSpreadAcrossPartitions(t *testing.T) {
	used := make(map[int]int)
	for i := 0; i < 1000; i++ {
		used[PartitionFor(uuid.NewString())]++
	}
	if len(used) < 100 {
		t.Errorf("1000 listing ids landed in only %d partitions", len(used))
	}
}
