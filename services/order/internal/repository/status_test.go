package repository

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStatus_ApplyOutcome(t *testing.T) {
	tests := []struct {
		name     string
		current  Status
		outcome  Outcome
		expected Status
		changed  bool
	}{
		{
			name:     "pending + success -> paid",
			current:  StatusPending,
			outcome:  OutcomeSuccess,
			expected: StatusPaid,
			changed:  true,
		},
		{
			name:     "pending + failure -> failed",
			current:  StatusPending,
			outcome:  OutcomeFailure,
			expected: StatusFailed,
			changed:  true,
		},
		{
			name:     "paid absorbs success",
			current:  StatusPaid,
			outcome:  OutcomeSuccess,
			expected: StatusPaid,
			changed:  false,
		},
		{
			name:     "paid absorbs late failure",
			current:  StatusPaid,
			outcome:  OutcomeFailure,
			expected: StatusPaid,
			changed:  false,
		},
		{
			name:     "failed absorbs late success",
			current:  StatusFailed,
			outcome:  OutcomeSuccess,
			expected: StatusFailed,
			changed:  false,
		},
		{
			name:     "failed absorbs failure",
			current:  StatusFailed,
			outcome:  OutcomeFailure,
			expected: StatusFailed,
			changed:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next, changed := tt.current.ApplyOutcome(tt.outcome)
			require.Equal(t, tt.expected, next)
			require.Equal(t, tt.changed, changed)
		})
	}
}
