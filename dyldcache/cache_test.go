package dyldcache_test

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/lookbusy1344/armv7sim/dyldcache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildSyntheticCache assembles a minimal dyld_v1 armv7 cache buffer with
// one mapping and one image, laid out the way Load expects (spec §4.5):
// header, then a mapping table, then an image table, then the image's
// path string.
func buildSyntheticCache() []byte {
	const (
		headerLen      = 96
		mappingOff     = headerLen
		mappingLen     = 32
		imagesOff      = mappingOff + mappingLen
		imagesLen      = 32
		pathOff        = imagesOff + imagesLen
		mappingAddress = 0x1000
		mappingSize    = 0x1000
		mappingFileOff = 100
		imageAddress   = mappingAddress + 0x50
	)
	path := "/usr/lib/libfoo.dylib"
	buf := make([]byte, pathOff+len(path)+1)

	copy(buf[0:], dyldcache.Magic)
	binary.LittleEndian.PutUint32(buf[16:], mappingOff)
	binary.LittleEndian.PutUint32(buf[20:], 1)
	binary.LittleEndian.PutUint32(buf[24:], imagesOff)
	binary.LittleEndian.PutUint32(buf[28:], 1)

	binary.LittleEndian.PutUint64(buf[mappingOff:], mappingAddress)
	binary.LittleEndian.PutUint64(buf[mappingOff+8:], mappingSize)
	binary.LittleEndian.PutUint64(buf[mappingOff+16:], mappingFileOff)

	binary.LittleEndian.PutUint64(buf[imagesOff:], imageAddress)
	binary.LittleEndian.PutUint32(buf[imagesOff+24:], pathOff)

	copy(buf[pathOff:], path)
	return buf
}

func writeSyntheticCache(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "dyld_shared_cache_armv7")
	require.NoError(t, os.WriteFile(path, buildSyntheticCache(), 0o644))
	return path
}

func TestLoad_ResolvesImageOffset(t *testing.T) {
	path := writeSyntheticCache(t)

	cache, err := dyldcache.Load(path)
	require.NoError(t, err)

	data, offset, ok := cache.TryCache("/usr/lib/libfoo.dylib")
	require.True(t, ok)
	assert.Equal(t, uint32(100+0x50), offset, "fileOffset = mapping.fileOffset + (address - mapping.address)")
	assert.NotEmpty(t, data)
}

func TestLoad_UnknownImageNotFound(t *testing.T) {
	path := writeSyntheticCache(t)

	cache, err := dyldcache.Load(path)
	require.NoError(t, err)

	_, _, ok := cache.TryCache("/usr/lib/libbar.dylib")
	assert.False(t, ok)
}

func TestLoad_RejectsWrongMagic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "not_a_cache")
	require.NoError(t, os.WriteFile(path, make([]byte, 200), 0o644))

	_, err := dyldcache.Load(path)
	assert.Error(t, err)
}

func TestLoad_RejectsTruncatedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "truncated")
	require.NoError(t, os.WriteFile(path, []byte(dyldcache.Magic), 0o644))

	_, err := dyldcache.Load(path)
	assert.Error(t, err)
}
