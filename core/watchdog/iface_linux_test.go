package watchdog

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInterfaceChecker_Loopback(t *testing.T) {
	up, err := InterfaceChecker{Name: "lo"}.IsUp(context.Background())
	if err != nil {
		t.Skipf("interface query unavailable: %v", err)
	}
	assert.True(t, up)
}
