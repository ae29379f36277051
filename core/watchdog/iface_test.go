package watchdog

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInterfaceChecker_MissingInterfaceIsDown(t *testing.T) {
	up, err := InterfaceChecker{Name: "veiltun-none9"}.IsUp(context.Background())
	require.NoError(t, err)
	assert.False(t, up)
}

func TestInterfaceChecker_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := InterfaceChecker{Name: "lo"}.IsUp(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
