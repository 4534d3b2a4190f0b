package types

import (
	"crypto/sha256"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseKey(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"Valid sha256 hex", strings.Repeat("ab", 32), false},
		{"Valid sha1 hex", strings.Repeat("0f", 20), false},
		{"Upper case", strings.Repeat("AB", 32), false},
		{"Empty", "", true},
		{"Odd length", "abc", true},
		{"Not hex", "zz" + strings.Repeat("00", 31), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			k, err := ParseKey(tt.input)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidKey)
				assert.True(t, k.IsZero())
				return
			}
			require.NoError(t, err)
			// String 总是规范的小写形式
			assert.Equal(t, strings.ToLower(tt.input), k.String())
		})
	}
}

func TestKey_Equality(t *testing.T) {
	sum := sha256.Sum256([]byte("hello"))
	a := KeyFromDigest(sum[:])
	b := MustParseKey(a.String())

	assert.True(t, a.Equal(b))
	assert.Equal(t, a, b, "相同摘要的 Key 必须可以直接用 == 比较")
	assert.Equal(t, 32, a.Len())

	// Bytes 返回副本，修改它不影响 Key
	raw := a.Bytes()
	raw[0] ^= 0xff
	assert.Equal(t, sum[:], a.Bytes())

	var zero Key
	assert.True(t, zero.IsZero())
	assert.False(t, a.IsZero())
}

func TestKey_Compare(t *testing.T) {
	lo := KeyFromDigest([]byte{0x00, 0xff})
	mid := KeyFromDigest([]byte{0x01, 0x00})
	hi := KeyFromDigest([]byte{0xf0, 0x00})

	assert.Equal(t, -1, lo.Compare(mid))
	assert.Equal(t, 1, hi.Compare(mid))
	assert.Equal(t, 0, mid.Compare(KeyFromDigest([]byte{0x01, 0x00})))

	keys := []Key{hi, lo, mid}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Compare(keys[j]) < 0 })
	assert.Equal(t, []Key{lo, mid, hi}, keys)
}
