package communication

import (
	"testing"

	"fitclub_comms/internal/domain/profile"

	"github.com/stretchr/testify/assert"
)

func TestSuccessPolicy_Decide(t *testing.T) {
	tests := []struct {
		name    string
		policy  SuccessPolicy
		summary AttemptSummary
		want    Status
	}{
		{"nothing attempted", DefaultSuccessPolicy, AttemptSummary{}, StatusFailed},
		{"every delivery failed", DefaultSuccessPolicy, AttemptSummary{Total: 3, Failed: 2, Bounced: 1}, StatusFailed},
		{"one success is enough by default", DefaultSuccessPolicy, AttemptSummary{Total: 10, Sent: 1, Failed: 9}, StatusSent},
		{"ratio below threshold", SuccessPolicy{MinSuccessRatio: 0.8}, AttemptSummary{Total: 10, Sent: 7, Bounced: 3}, StatusFailed},
		{"ratio at threshold", SuccessPolicy{MinSuccessRatio: 0.7}, AttemptSummary{Total: 10, Sent: 7, Bounced: 3}, StatusSent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, reason := tt.policy.Decide(tt.summary)
			assert.Equal(t, tt.want, got)
			if got == StatusFailed {
				assert.NotEmpty(t, reason)
			} else {
				assert.Empty(t, reason)
			}
		})
	}

	_, reason := DefaultSuccessPolicy.Decide(AttemptSummary{})
	assert.Equal(t, "no recipients resolved", reason)
}

func TestAttemptSummary_Add(t *testing.T) {
	var s AttemptSummary
	for _, st := range []AttemptStatus{AttemptSent, AttemptSent, AttemptBounced, AttemptFailed, "weird"} {
		s.Add(st)
	}
	assert.Equal(t, AttemptSummary{Total: 5, Sent: 2, Failed: 2, Bounced: 1}, s)
}

func TestAddressFor(t *testing.T) {
	p := &profile.Profile{Email: " a@example.com ", Phone: "", PushToken: "tok"}
	assert.Equal(t, "a@example.com", AddressFor(p, ChannelEmail))
	assert.Equal(t, "", AddressFor(p, ChannelSMS))
	assert.Equal(t, "tok", AddressFor(p, ChannelPush))
	assert.True(t, Reachable(p))
	assert.False(t, Reachable(&profile.Profile{Phone: "  "}))
	assert.Equal(t, "", AddressFor(nil, ChannelEmail))
}
