package chash

import "hash/fnv"

// HashUint64 is the key hash for block-index-keyed tables (the block
// cache).
func HashUint64(v uint64) uint64 {
	// splitmix64 finalizer: cheap, well-distributed for sequential block
	// indexes, which is the common case for a growing file.
	v ^= v >> 30
	v *= 0xbf58476d1ce4e5b9
	v ^= v >> 27
	v *= 0x94d049bb133111eb
	v ^= v >> 31
	return v
}

// HashString hashes a string key (FNV-1a), used to combine dentry cache
// keys (parent id + child name).
func HashString(s string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return h.Sum64()
}
