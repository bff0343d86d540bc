package volume

import "github.com/jkv/jkv/blockcache"

// cacheRegion offsets block indices by a fixed base, standing in for the
// original's TCachedBlockFileRegion: each block-group addresses its own
// blocks starting at 0, while the underlying cache addresses the whole
// meta-group file.
type cacheRegion struct {
	cache *blockcache.Cache
	base  uint64
}

func (r cacheRegion) GetBlock(idx uint32) (*blockcache.ReadPage, error) {
	return r.cache.GetBlock(r.base + uint64(idx))
}

func (r cacheRegion) GetMutableBlock(idx uint32) (*blockcache.WritePage, error) {
	return r.cache.GetMutableBlock(r.base + uint64(idx))
}
