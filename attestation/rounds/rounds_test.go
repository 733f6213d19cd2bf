package rounds

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCandidates(t *testing.T) {
	tests := []struct {
		name   string
		policy Policy
		latest uint64
		want   []uint64
	}{
		{"five attempts from 100", NewPolicy(5), 100, []uint64{99, 98, 97, 96, 95}},
		{"default attempts", NewPolicy(0), 50, []uint64{49, 48, 47, 46, 45}},
		{"stops at round zero", NewPolicy(5), 3, []uint64{2, 1, 0}},
		{"no finalized round", NewPolicy(5), 0, nil},
		{"only round zero finalized", NewPolicy(5), 1, []uint64{0}},
		{"floor truncates", NewPolicy(5).WithFloor(97), 100, []uint64{99, 98, 97}},
		{"floor above start", NewPolicy(5).WithFloor(100), 100, nil},
		{"single attempt", NewPolicy(1), 100, []uint64{99}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.policy.Candidates(tt.latest)
			require.Equal(t, tt.want, got)
			require.LessOrEqual(t, len(got), tt.policy.MaxAttempts)
			for i := 1; i < len(got); i++ {
				require.Less(t, got[i], got[i-1], "candidates must be strictly decreasing")
			}
		})
	}
}

func TestPassed(t *testing.T) {
	tests := []struct {
		name   string
		policy Policy
		latest uint64
		want   bool
	}{
		{"no floor", NewPolicy(5), 1000, false},
		{"floor is the oldest candidate", NewPolicy(5).WithFloor(55), 60, false},
		{"floor just out of the window", NewPolicy(5).WithFloor(54), 60, true},
		{"window far past the floor", NewPolicy(5).WithFloor(45), 60, true},
		{"floor not finalized yet", NewPolicy(5).WithFloor(45), 45, false},
		{"nothing finalized", NewPolicy(5).WithFloor(1), 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, tt.policy.Passed(tt.latest))
			if !tt.want && tt.policy.Floor > 0 {
				for _, round := range tt.policy.Candidates(tt.latest) {
					require.GreaterOrEqual(t, round, tt.policy.Floor)
				}
			}
		})
	}
}

func TestClock(t *testing.T) {
	c, err := NewClock(1_658_430_000, 90*time.Second)
	require.NoError(t, err)

	round, err := c.RoundAt(1_658_430_000)
	require.NoError(t, err)
	require.Equal(t, uint64(0), round)

	round, err = c.RoundAt(1_658_430_000 + 90*47 + 89)
	require.NoError(t, err)
	require.Equal(t, uint64(47), round)
	require.Equal(t, uint64(1_658_430_000+90*47), c.RoundStart(47))

	_, err = c.RoundAt(1_658_429_999)
	require.Error(t, err)

	now := time.Unix(int64(c.RoundStart(10))+30, 0)
	c.WithNow(func() time.Time { return now })
	cur, err := c.Current()
	require.NoError(t, err)
	require.Equal(t, uint64(10), cur)
	require.Equal(t, 60*time.Second, c.UntilRoundEnd(10))
	require.Zero(t, c.UntilRoundEnd(9))

	_, err = NewClock(0, 0)
	require.Error(t, err)
}
