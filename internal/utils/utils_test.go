package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalNoEscape(t *testing.T) {
	out, err := MarshalNoEscape(map[string]string{"content": "<b>hi</b>"})
	require.NoError(t, err)
	assert.Equal(t, `{"content":"<b>hi</b>"}`, string(out))
}

func TestCanonicalizeJSON_KeyOrder(t *testing.T) {
	a, err := CanonicalizeJSON([]byte(`{"model":"gpt-3.5-turbo","messages":[{"role":"user","content":"hi"}]}`))
	require.NoError(t, err)
	b, err := CanonicalizeJSON([]byte(`{"messages":[{"content":"hi","role":"user"}],"model":"gpt-3.5-turbo"}`))
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
}

func TestCanonicalizeJSON_Invalid(t *testing.T) {
	_, err := CanonicalizeJSON([]byte(`{"model":`))
	assert.Error(t, err)

	_, err = CanonicalizeJSON([]byte(`{"model":"gpt-4"} extra`))
	assert.Error(t, err)
}

func TestCanonicalizeJSON_PreservesLargeIntegers(t *testing.T) {
	// Values past float64 precision must come back digit for digit.
	out, err := CanonicalizeJSON([]byte(`{"seed":9007199254740993}`))
	require.NoError(t, err)
	assert.Equal(t, `{"seed":9007199254740993}`, string(out))

	out, err = CanonicalizeJSON([]byte(`{"id":18446744073709551615,"temperature":0.7}`))
	require.NoError(t, err)
	assert.Equal(t, `{"id":18446744073709551615,"temperature":0.7}`, string(out))
}

func TestMaskKey(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", "(empty)"},
		{"short", "sk-abc", "****"},
		{"long", "sk-proj-1234567890abcdef", "sk-proj-...cdef"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MaskKey(tt.in))
		})
	}
}

func TestTruncateRunes(t *testing.T) {
	assert.Equal(t, "héllo", TruncateRunes("héllo", 10))
	assert.Equal(t, "hél", TruncateRunes("héllo", 3))
}
