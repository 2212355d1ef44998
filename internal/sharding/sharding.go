package sharding

import "hash/crc32"

// PartitionCount is the number of logical partitions subject keys hash into.
// Worker pools fold partitions onto their own worker count.
const PartitionCount = 1024

// ShardFor maps key deterministically onto one of n shards.
func ShardFor(key string, n int) int {
	if n <= 1 {
		return 0
	}
	checksum := crc32.ChecksumIEEE([]byte(key))
	return int(checksum % uint32(n))
}

// PartitionFor returns the logical partition of a subject key.
func PartitionFor(key string) int {
	return ShardFor(key, PartitionCount)
}
