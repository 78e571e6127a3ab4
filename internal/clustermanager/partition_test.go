package clustermanager

import "testing"

func TestPartitionShardsCoversAllWithoutOverlap(t *testing.T) {
	partition := PartitionShards(10, 3)
	seen := make(map[int]bool)
	for _, shards := range partition {
		for _, s := range shards {
			if seen[s] {
				t.Fatalf("shard %d assigned twice", s)
			}
			seen[s] = true
		}
	}
	for i := 0; i < 10; i++ {
		if !seen[i] {
			t.Fatalf("shard %d not assigned to any cluster", i)
		}
	}
}

func TestPartitionShardsSizesDifferByAtMostOne(t *testing.T) {
	partition := PartitionShards(10, 3)
	min, max := -1, -1
	for _, shards := range partition {
		n := len(shards)
		if min == -1 || n < min {
			min = n
		}
		if n > max {
			max = n
		}
	}
	if max-min > 1 {
		t.Fatalf("partition sizes differ by more than 1: min=%d max=%d", min, max)
	}
}

func TestShardToClusterReverseLookup(t *testing.T) {
	partition := PartitionShards(6, 2)
	rev := shardToCluster(partition)
	for clusterID, shards := range partition {
		for _, s := range shards {
			if rev[s] != clusterID {
				t.Fatalf("shard %d: got cluster %d want %d", s, rev[s], clusterID)
			}
		}
	}
}
