package clustermanager

// PartitionShards splits totalShards into totalClusters contiguous slices
// whose sizes differ by at most one (spec.md §3, §8 invariant: "sizes
// differ by at most 1 for an even split").
func PartitionShards(totalShards, totalClusters int) [][]int {
	if totalClusters <= 0 {
		return nil
	}
	parts := make([][]int, totalClusters)
	base := totalShards / totalClusters
	extra := totalShards % totalClusters

	shard := 0
	for c := 0; c < totalClusters; c++ {
		size := base
		if c < extra {
			size++
		}
		list := make([]int, 0, size)
		for i := 0; i < size; i++ {
			list = append(list, shard)
			shard++
		}
		parts[c] = list
	}
	return parts
}

// shardToCluster builds a reverse lookup from shard id to owning cluster
// id given the partition produced by PartitionShards.
func shardToCluster(partition [][]int) map[int]int {
	m := make(map[int]int)
	for clusterID, shards := range partition {
		for _, s := range shards {
			m[s] = clusterID
		}
	}
	return m
}
