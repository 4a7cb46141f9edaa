package hash

import (
	"strconv"

	"github.com/cespare/xxhash/v2"
)

// ID computes the xxHash64 of the given string.
func ID(data string) uint64 {
	return xxhash.Sum64String(data)
}

// PathID returns a short stable token for a file path. Files that share a
// temporary directory are prefixed with it so equal base names written for
// different destinations never collide.
func PathID(path string) string {
	return strconv.FormatUint(ID(path), 36)
}
