package job

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLeasePolicy(t *testing.T) {
	tests := []struct {
		name          string
		lease         time.Duration
		heartbeat     time.Duration
		wantLease     time.Duration
		wantHeartbeat time.Duration
	}{
		{"explicit heartbeat kept", 60 * time.Second, 10 * time.Second, 60 * time.Second, 10 * time.Second},
		{"zero heartbeat derived", 60 * time.Second, 0, 60 * time.Second, 20 * time.Second},
		{"heartbeat not shorter than lease derived", 30 * time.Second, time.Minute, 30 * time.Second, 10 * time.Second},
		{"sub-second lease raised", 300 * time.Millisecond, 0, time.Second, time.Second / 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			policy, err := NewLeasePolicy(tt.lease, tt.heartbeat)
			require.NoError(t, err)
			assert.Equal(t, tt.wantLease, policy.Default())
			assert.Equal(t, tt.wantHeartbeat, policy.HeartbeatInterval())
		})
	}

	t.Run("invalid default lease", func(t *testing.T) {
		policy, err := NewLeasePolicy(0, time.Second)
		require.ErrorIs(t, err, ErrInvalidDefaultLease)
		assert.Nil(t, policy)
	})
}

func TestLeasePolicy_Nil(t *testing.T) {
	var nilPolicy *LeasePolicy
	assert.Zero(t, nilPolicy.Default())
	assert.Zero(t, nilPolicy.HeartbeatInterval())
}
