package localstore

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testVisit = "raw:broccoli"

func TestManager_New(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	m := NewManager(dir)

	assert.Equal(t, dir, m.BaseDir)
	assert.Equal(t, DefaultMaxAge, m.MaxAge)
}

func TestManager_VisitDir(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	m := NewManager(dir)
	expected := filepath.Join(dir, VisitHash(testVisit))
	assert.Equal(t, expected, m.VisitDir(testVisit))
}

func TestManager_Exists_NoVisit(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	m := NewManager(dir)

	assert.False(t, m.Exists(testVisit))
}

func TestManager_Seed_CreatesDirsAndMetadata(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	m := NewManager(dir)

	err := m.Seed(testVisit, []string{"R00_SG0", "R00_SG1"})
	require.NoError(t, err)

	assert.True(t, m.Exists(testVisit))
	assert.DirExists(t, m.RawTileDir(testVisit))
	assert.DirExists(t, m.MergedTileDir(testVisit))
}

func TestManager_LoadMetadata_RoundTrips(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	m := NewManager(dir)

	ccds := []string{"R00_SG0", "R00_SG1"}
	require.NoError(t, m.Seed(testVisit, ccds))

	meta, err := m.LoadMetadata(testVisit)
	require.NoError(t, err)

	assert.Equal(t, MetadataVersion, meta.Version)
	assert.Equal(t, testVisit, meta.Visit)
	assert.Equal(t, VisitHash(testVisit), meta.VisitHash)
	assert.Equal(t, ccds, meta.CCDNames)
}

func TestManager_ClearRaw_KeepsMerged(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	m := NewManager(dir)
	require.NoError(t, m.Seed(testVisit, nil))

	rawFile := filepath.Join(m.RawTileDir(testVisit), "tile.bin")
	require.NoError(t, os.WriteFile(rawFile, []byte("x"), 0o600))

	mergedFile := filepath.Join(m.MergedTileDir(testVisit), "tile.bin")
	require.NoError(t, os.WriteFile(mergedFile, []byte("x"), 0o600))

	require.NoError(t, m.ClearRaw(testVisit))

	assert.NoDirExists(t, m.RawTileDir(testVisit))
	assert.FileExists(t, mergedFile)
}

func TestManager_ClearMerged_KeepsRaw(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	m := NewManager(dir)
	require.NoError(t, m.Seed(testVisit, nil))

	rawFile := filepath.Join(m.RawTileDir(testVisit), "tile.bin")
	require.NoError(t, os.WriteFile(rawFile, []byte("x"), 0o600))

	mergedFile := filepath.Join(m.MergedTileDir(testVisit), "tile.bin")
	require.NoError(t, os.WriteFile(mergedFile, []byte("x"), 0o600))

	require.NoError(t, m.ClearMerged(testVisit))

	assert.NoDirExists(t, m.MergedTileDir(testVisit))
	assert.FileExists(t, rawFile)
}

func TestManager_ClearVisit(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	m := NewManager(dir)
	require.NoError(t, m.Seed(testVisit, nil))

	require.True(t, m.Exists(testVisit))

	err := m.ClearVisit(testVisit)
	require.NoError(t, err)

	assert.False(t, m.Exists(testVisit))
}

func TestManager_ClearVisit_NonExistent(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	m := NewManager(dir)

	err := m.ClearVisit(testVisit)
	assert.NoError(t, err)
}

func TestManager_ClearAll(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	m := NewManager(dir)
	require.NoError(t, m.Seed(testVisit, nil))
	require.NoError(t, m.Seed("raw:other", nil))

	err := m.ClearAll()
	require.NoError(t, err)

	assert.False(t, m.Exists(testVisit))
	assert.False(t, m.Exists("raw:other"))
}

func TestManager_SweepOrphans_RemovesStaleUnknownVisits(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	m := NewManager(dir)
	m.MaxAge = time.Millisecond

	require.NoError(t, m.Seed(testVisit, nil))
	time.Sleep(5 * time.Millisecond)

	swept, err := m.SweepOrphans(map[string]bool{})
	require.NoError(t, err)

	assert.Equal(t, []string{testVisit}, swept)
	assert.False(t, m.Exists(testVisit))
}

func TestManager_SweepOrphans_KeepsLiveVisits(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	m := NewManager(dir)
	m.MaxAge = time.Millisecond

	require.NoError(t, m.Seed(testVisit, nil))
	time.Sleep(5 * time.Millisecond)

	swept, err := m.SweepOrphans(map[string]bool{testVisit: true})
	require.NoError(t, err)

	assert.Empty(t, swept)
	assert.True(t, m.Exists(testVisit))
}

func TestManager_SweepOrphans_KeepsFreshVisits(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	m := NewManager(dir)

	require.NoError(t, m.Seed(testVisit, nil))

	swept, err := m.SweepOrphans(map[string]bool{})
	require.NoError(t, err)

	assert.Empty(t, swept)
	assert.True(t, m.Exists(testVisit))
}

func TestDefaultDir(t *testing.T) {
	t.Parallel()

	dir := DefaultDir()
	assert.Contains(t, dir, ".quicklook")
	assert.Contains(t, dir, "tiles")
}

func TestVisitHash(t *testing.T) {
	t.Parallel()

	hash := VisitHash(testVisit)
	assert.Len(t, hash, 16) // 8 bytes hex = 16 chars.

	hash2 := VisitHash(testVisit)
	assert.Equal(t, hash, hash2)

	hash3 := VisitHash("raw:different")
	assert.NotEqual(t, hash, hash3)
}

func TestManager_Seed_ErrorOnMkdir(t *testing.T) {
	t.Parallel()

	tmpFile, err := os.CreateTemp(t.TempDir(), "localstore-test")
	require.NoError(t, err)
	tmpFile.Close()

	m := NewManager(filepath.Join(tmpFile.Name(), "nested"))
	err = m.Seed(testVisit, nil)
	assert.Error(t, err)
}
