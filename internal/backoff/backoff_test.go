package backoff

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDelayExponentialGrowthCapped(t *testing.T) {
	policy := Policy{InitialDelay: 100 * time.Millisecond, Multiplier: 2.0, MaxDelay: time.Second}

	require.Equal(t, 100*time.Millisecond, Delay(1, policy))
	require.Equal(t, 200*time.Millisecond, Delay(2, policy))
	require.Equal(t, 400*time.Millisecond, Delay(3, policy))
	require.Equal(t, time.Second, Delay(10, policy))
}

func TestDelayZeroPolicyUsesDefaults(t *testing.T) {
	require.Equal(t, 100*time.Millisecond, Delay(1, Policy{}))
}
