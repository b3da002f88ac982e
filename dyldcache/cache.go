// Package dyldcache reads the dyld shared cache format spec §4.5 describes:
// a header, a mapping table, and an image table, used to resolve a dylib
// path to an in-buffer Mach-O image without touching the filesystem.
// Grounded on original_source/dyld_cache.c's load_dyld_cache/try_cache.
package dyldcache

import (
	"encoding/binary"
	"fmt"
	"os"
)

// Magic is the fixed 16-byte armv7 cache signature
// (original_source/dyld_cache.c: strcmp(header->magic, "dyld_v1   armv7")).
const Magic = "dyld_v1   armv7"

const (
	headerSize     = 16 + 4*4 + 8*6 + 16 // magic + 4 u32 + 6 u64 + uuid, the prefix this loader needs
	mappingInfoSize = 8 + 8 + 8 + 4 + 4
	imageInfoSize   = 8 + 8 + 8 + 4 + 4
)

type mappingInfo struct {
	address    uint64
	size       uint64
	fileOffset uint64
}

// Cache is a loaded dyld shared cache: the retained file buffer plus an
// index from image path to that image's file offset (spec §4.5).
type Cache struct {
	data     []byte
	imageOff map[string]uint32
}

// Load reads path into memory, verifies the magic, and builds the image
// path -> file offset index (original_source/dyld_cache.c load_dyld_cache).
func Load(path string) (*Cache, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("dyldcache: %w", err)
	}
	if len(data) < headerSize || string(data[0:len(Magic)]) != Magic {
		return nil, fmt.Errorf("dyldcache: %s is not a dyld_v1 armv7 cache", path)
	}

	mappingOffset := binary.LittleEndian.Uint32(data[16:])
	mappingCount := binary.LittleEndian.Uint32(data[20:])
	imagesOffset := binary.LittleEndian.Uint32(data[24:])
	imagesCount := binary.LittleEndian.Uint32(data[28:])

	mappings := make([]mappingInfo, mappingCount)
	for i := uint32(0); i < mappingCount; i++ {
		off := mappingOffset + i*mappingInfoSize
		if uint64(off)+mappingInfoSize > uint64(len(data)) {
			return nil, fmt.Errorf("dyldcache: mapping table entry %d out of range", i)
		}
		mappings[i] = mappingInfo{
			address:    binary.LittleEndian.Uint64(data[off:]),
			size:       binary.LittleEndian.Uint64(data[off+8:]),
			fileOffset: binary.LittleEndian.Uint64(data[off+16:]),
		}
	}

	c := &Cache{data: data, imageOff: make(map[string]uint32, imagesCount)}
	for i := uint32(0); i < imagesCount; i++ {
		off := imagesOffset + i*imageInfoSize
		if uint64(off)+imageInfoSize > uint64(len(data)) {
			return nil, fmt.Errorf("dyldcache: image table entry %d out of range", i)
		}
		address := binary.LittleEndian.Uint64(data[off:])
		pathFileOffset := binary.LittleEndian.Uint32(data[off+24:])

		fileOffset, ok := fileOffsetFor(mappings, address)
		if !ok {
			return nil, fmt.Errorf("dyldcache: image %d's address 0x%x is not covered by any mapping", i, address)
		}
		name := cString(data, pathFileOffset)
		c.imageOff[name] = uint32(fileOffset)
	}
	return c, nil
}

// fileOffsetFor implements mapping.fileOffset + (image.address - mapping.address)
// for whichever mapping contains address (original_source/dyld_cache.c).
func fileOffsetFor(mappings []mappingInfo, address uint64) (uint64, bool) {
	for _, m := range mappings {
		if address >= m.address && address <= m.address+m.size {
			return m.fileOffset + (address - m.address), true
		}
	}
	return 0, false
}

// TryCache returns the whole cache buffer and the file offset at which the
// named image's mach_header begins, so a caller can parse it exactly as it
// would a plain file (original_source/dyld_cache.c try_cache).
func (c *Cache) TryCache(path string) (data []byte, imageOffset uint32, ok bool) {
	off, found := c.imageOff[path]
	if !found {
		return nil, 0, false
	}
	return c.data, off, true
}

func cString(data []byte, off uint32) string {
	end := off
	for end < uint32(len(data)) && data[end] != 0 {
		end++
	}
	return string(data[off:end])
}
