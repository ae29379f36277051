package securerandom

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInt(t *testing.T) {
	tests := []struct {
		name    string
		min     int
		max     int
		wantErr bool
	}{
		{name: "Range", min: 1, max: 10},
		{name: "Equal", min: 7, max: 7},
		{name: "Zero", min: 0, max: 1},
		{name: "Inverted", min: 10, max: 1, wantErr: true},
		{name: "Negative", min: -1, max: 5, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for i := 0; i < 50; i++ {
				v, err := Int(tt.min, tt.max)
				if tt.wantErr {
					require.Error(t, err)
					return
				}
				require.NoError(t, err)
				assert.GreaterOrEqual(t, v, tt.min)
				assert.LessOrEqual(t, v, tt.max)
			}
		})
	}
}

func TestDuration(t *testing.T) {
	d, err := Duration(10*time.Millisecond, 20*time.Millisecond)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, d, 10*time.Millisecond)
	assert.LessOrEqual(t, d, 20*time.Millisecond)

	d, err = Duration(time.Second, time.Second)
	require.NoError(t, err)
	assert.Equal(t, time.Second, d)

	_, err = Duration(time.Second, time.Millisecond)
	assert.Error(t, err)
}

func TestGetRandomBytes(t *testing.T) {
	a, err := GetRandomBytes(32)
	require.NoError(t, err)
	b, err := GetRandomBytes(32)
	require.NoError(t, err)

	assert.Len(t, a, 32)
	assert.False(t, bytes.Equal(a, b), "two 32-byte draws should differ")
}
