package quicklook_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/skyquick/quicklook/internal/quicklook"
)

func TestVisit_KindAndName(t *testing.T) {
	t.Parallel()

	v := quicklook.Visit("raw:broccoli")
	assert.Equal(t, "raw", v.Kind())
	assert.Equal(t, "broccoli", v.Name())
	assert.Equal(t, "raw:broccoli", v.String())
}

func TestVisit_NameWithEmbeddedColon(t *testing.T) {
	t.Parallel()

	v := quicklook.Visit("raw:2026-07-31:broccoli")
	assert.Equal(t, "raw", v.Kind())
	assert.Equal(t, "2026-07-31:broccoli", v.Name())
}

func TestVisit_NoColonYieldsEmptyName(t *testing.T) {
	t.Parallel()

	v := quicklook.Visit("broccoli")
	assert.Equal(t, "broccoli", v.Kind())
	assert.Empty(t, v.Name())
}
