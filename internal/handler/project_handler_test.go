package handler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseByteRange(t *testing.T) {
	tests := []struct {
		name      string
		header    string
		wantStart int64
		wantEnd   int64
		wantErr   bool
	}{
		{"explicit range", "bytes=0-1023", 0, 1023, false},
		{"open range", "bytes=500-", 500, -1, false},
		{"single byte", "bytes=7-7", 7, 7, false},
		{"missing prefix", "0-1023", 0, 0, true},
		{"suffix range", "bytes=-500", 0, 0, true},
		{"multiple ranges", "bytes=0-100,200-300", 0, 0, true},
		{"inverted range", "bytes=100-50", 0, 0, true},
		{"garbage start", "bytes=abc-100", 0, 0, true},
		{"garbage end", "bytes=0-xyz", 0, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			start, end, err := parseByteRange(tt.header)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantStart, start)
			assert.Equal(t, tt.wantEnd, end)
		})
	}
}
