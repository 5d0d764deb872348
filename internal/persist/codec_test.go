package persist

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testState struct {
	Name   string         `json:"name"`
	Count  int            `json:"count"`
	Values map[string]int `json:"values"`
}

func TestJSONCodec_RoundTrip(t *testing.T) {
	t.Parallel()

	codec := NewJSONCodec()
	original := testState{Name: "test", Count: 42, Values: map[string]int{"a": 1, "b": 2}}

	var buf bytes.Buffer
	require.NoError(t, codec.Encode(&buf, original))

	var decoded testState
	require.NoError(t, codec.Decode(&buf, &decoded))

	assert.Equal(t, original, decoded)
}

func TestJSONCodec_Extension(t *testing.T) {
	t.Parallel()

	assert.Equal(t, ".json", NewJSONCodec().Extension())
}

func TestJSONCodec_CompactHasNoIndent(t *testing.T) {
	t.Parallel()

	codec := &JSONCodec{Indent: ""}

	var buf bytes.Buffer
	require.NoError(t, codec.Encode(&buf, testState{Name: "compact", Count: 1}))

	assert.LessOrEqual(t, strings.Count(buf.String(), "\n"), 1)
}

func TestGobCodec_RoundTrip(t *testing.T) {
	t.Parallel()

	codec := NewGobCodec()
	original := testState{Name: "gob-test", Count: 123, Values: map[string]int{"x": 10, "y": 20}}

	var buf bytes.Buffer
	require.NoError(t, codec.Encode(&buf, original))

	var decoded testState
	require.NoError(t, codec.Decode(&buf, &decoded))

	assert.Equal(t, original, decoded)
}

func TestGobCodec_Extension(t *testing.T) {
	t.Parallel()

	assert.Equal(t, ".gob", NewGobCodec().Extension())
}

func TestSaveState_LoadState_RoundTrip(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	original := testState{Name: "roundtrip", Count: 7, Values: map[string]int{"z": 9}}

	require.NoError(t, SaveState(dir, "state", NewJSONCodec(), &original))

	var decoded testState
	require.NoError(t, LoadState(dir, "state", NewJSONCodec(), &decoded))

	assert.Equal(t, original, decoded)
}

func TestLoadState_MissingFile(t *testing.T) {
	t.Parallel()

	var decoded testState
	err := LoadState(t.TempDir(), "missing", NewJSONCodec(), &decoded)
	assert.Error(t, err)
}
