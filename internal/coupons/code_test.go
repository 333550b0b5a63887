package coupons

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateCode_Format(t *testing.T) {
	for i := 0; i < 200; i++ {
		code, err := GenerateCode()
		require.NoError(t, err)
		assert.True(t, ValidCode(code), code)
		assert.False(t, strings.ContainsAny(code, "0O1IL"), code)
	}
}

func TestGenerateCode_Distinct(t *testing.T) {
	seen := make(map[string]bool, 1000)
	for i := 0; i < 1000; i++ {
		code, err := GenerateCode()
		require.NoError(t, err)
		require.False(t, seen[code], "duplicate code %s", code)
		seen[code] = true
	}
}

func TestValidCode(t *testing.T) {
	assert.True(t, ValidCode("ABCD-EFGH-JKMN-2345"))
	assert.False(t, ValidCode("ABCD-EFGH-JKMN"))
	assert.False(t, ValidCode("ABCD-EFGH-JKMN-234O"))
	assert.False(t, ValidCode("abcd-efgh-jkmn-2345"))
	assert.True(t, ValidCode(NormalizeCode(" abcd-efgh-jkmn-2345 ")))
}

func TestHasher(t *testing.T) {
	h := NewHasher(testSecret)

	sum := h.Hash("ABCD-EFGH-JKMN-2345")
	assert.Len(t, sum, 64)
	assert.Equal(t, sum, h.Hash("ABCD-EFGH-JKMN-2345"))
	assert.NotEqual(t, sum, h.Hash("ABCD-EFGH-JKMN-2346"))
	assert.NotEqual(t, sum, NewHasher("another-secret").Hash("ABCD-EFGH-JKMN-2345"))
}
