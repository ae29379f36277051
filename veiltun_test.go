package veiltun_test

import (
	"path/filepath"
	"testing"

	"github.com/sourceshift/veiltun"
	"github.com/sourceshift/veiltun/core"
	"github.com/sourceshift/veiltun/testutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEngineFromFile(t *testing.T) {
	engine, err := veiltun.NewEngineFromFile(filepath.Join("config", "veiltun.yaml"), testutils.NewTestLogger())
	require.NoError(t, err)

	status, err := engine.Status()
	require.NoError(t, err)
	assert.Equal(t, "Disconnected", status)

	assert.ErrorIs(t, engine.Stop(), core.ErrNotConnected)
}

func TestNewEngineFromFile_Missing(t *testing.T) {
	_, err := veiltun.NewEngineFromFile(filepath.Join(t.TempDir(), "absent.yaml"), nil)
	assert.Error(t, err)
}
