package payment

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCode(t *testing.T) {
	seen := map[string]bool{}
	for range 100 {
		code, err := newCode()
		require.NoError(t, err)
		require.Len(t, code, codeLength)
		for _, c := range code {
			assert.Contains(t, codeAlphabet, string(c))
		}
		seen[code] = true
	}
	assert.Greater(t, len(seen), 95)
}

func TestRandomCode(t *testing.T) {
	tests := []struct {
		name    string
		input   []byte
		n       int
		want    string
		wantErr bool
	}{
		{
			name:  "bytes above the limit are rejected",
			input: []byte{255, 252, 0, 35, 36, 71, 0, 0},
			n:     4,
			want:  "A9A9",
		},
		{
			name:  "last accepted byte maps to the last symbol",
			input: []byte{251, 215},
			n:     2,
			want:  "99",
		},
		{
			name:    "exhausted source",
			input:   []byte{253, 254, 255},
			n:       3,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := randomCode(bytes.NewReader(tt.input), tt.n)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRandomCode_Uniform(t *testing.T) {
	input := make([]byte, codeByteLimit)
	for i := range input {
		input[i] = byte(i)
	}
	code, err := randomCode(bytes.NewReader(input), codeByteLimit)
	require.NoError(t, err)

	counts := map[rune]int{}
	for _, c := range code {
		counts[c]++
	}
	require.Len(t, counts, len(codeAlphabet))
	for c, n := range counts {
		assert.Equal(t, 7, n, "symbol %q", c)
	}
}
