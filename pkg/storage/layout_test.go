package storage

import (
	"testing"

	"binstore/pkg/types"

	"github.com/stretchr/testify/assert"
)

func TestLayout_Segments(t *testing.T) {
	key := types.MustParseKey("aabbccddeeff0011")

	tests := []struct {
		layout Layout
		want   []string
	}{
		{DefaultLayout, []string{"aa", "bb", "cc", "aabbccddeeff0011"}},
		{Layout{Depth: 2, Width: 2}, []string{"aa", "bb", "aabbccddeeff0011"}},
		{Layout{Depth: 1, Width: 3}, []string{"aab", "aabbccddeeff0011"}},
		{Layout{Depth: 0, Width: 2}, []string{"aabbccddeeff0011"}},
		// 深度超过 hex 长度时截断
		{Layout{Depth: 8, Width: 4}, []string{"aabb", "ccdd", "eeff", "0011", "aabbccddeeff0011"}},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.layout.Segments(key), "%+v", tt.layout)
	}

	assert.Equal(t, []string{"aa", "aabbccddeeff0011.lock"}, DefaultLayout.LockSegments(key))
}

func TestLayout_Validate(t *testing.T) {
	assert.NoError(t, DefaultLayout.Validate())
	assert.NoError(t, Layout{Depth: 0, Width: 1}.Validate())
	assert.Error(t, Layout{Depth: -1, Width: 2}.Validate())
	assert.Error(t, Layout{Depth: 9, Width: 2}.Validate())
	assert.Error(t, Layout{Depth: 2, Width: 0}.Validate())
	assert.Error(t, Layout{Depth: 2, Width: 5}.Validate())
}
