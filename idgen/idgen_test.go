package idgen

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateWithPrefix(t *testing.T) {
	id, err := GenerateWithPrefix(LoadPrefix)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(id, LoadPrefix))
	assert.Len(t, id, len(LoadPrefix)+Length)
}

func TestMustUnique(t *testing.T) {
	seen := make(map[string]struct{}, 100)
	for i := 0; i < 100; i++ {
		id := Must(ShowPrefix)
		_, dup := seen[id]
		require.False(t, dup, "duplicate id %s", id)
		seen[id] = struct{}{}
	}
}
