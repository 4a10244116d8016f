package communication

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	legal := map[Status][]Status{
		StatusDraft:     {StatusScheduled, StatusSending, StatusCancelled},
		StatusScheduled: {StatusSending, StatusCancelled, StatusDraft},
		StatusSending:   {StatusSent, StatusFailed},
	}
	all := []Status{StatusDraft, StatusScheduled, StatusSending, StatusSent, StatusFailed, StatusCancelled}

	for _, from := range all {
		for _, to := range all {
			want := false
			for _, s := range legal[from] {
				if s == to {
					want = true
				}
			}
			assert.Equal(t, want, CanTransition(from, to), "%s -> %s", from, to)
		}
	}
}

func TestStatus_Terminal(t *testing.T) {
	assert.True(t, StatusSent.Terminal())
	assert.True(t, StatusFailed.Terminal())
	assert.True(t, StatusCancelled.Terminal())
	assert.False(t, StatusSending.Terminal())
	assert.False(t, StatusDraft.Terminal())

	_, ok := ParseStatus("pending")
	assert.False(t, ok)
	st, ok := ParseStatus("scheduled")
	assert.True(t, ok)
	assert.Equal(t, StatusScheduled, st)
}

func TestType_Channel(t *testing.T) {
	for _, typ := range []Type{TypePush, TypeEmail, TypeSMS} {
		assert.True(t, typ.Valid())
		assert.Equal(t, string(typ), string(typ.Channel()))
	}
	_, ok := ParseType("fax")
	assert.False(t, ok)
}
