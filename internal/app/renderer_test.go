package app

import (
	"strings"
	"testing"
	"unicode/utf8"

	"fitclub_comms/internal/domain/communication"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTemplateRenderer(t *testing.T) {
	c := &communication.Communication{Title: "Pool <closed>", Body: "Monday only.\n\nSorry & thanks."}
	r := TemplateRenderer{}

	email, err := r.Render(c, communication.ChannelEmail)
	require.NoError(t, err)
	assert.Equal(t, "Pool <closed>", email.Subject)
	assert.Equal(t, c.Body, email.Text)
	assert.Contains(t, email.HTML, "<h2>Pool &lt;closed&gt;</h2>")
	assert.Contains(t, email.HTML, "<p>Monday only.</p>")
	assert.Contains(t, email.HTML, "<p>Sorry &amp; thanks.</p>")

	sms, err := r.Render(c, communication.ChannelSMS)
	require.NoError(t, err)
	assert.Equal(t, "Pool <closed>: Monday only.\n\nSorry & thanks.", sms.Text)
	assert.Empty(t, sms.HTML)

	_, err = r.Render(c, communication.Channel("fax"))
	assert.Error(t, err)
}

func TestTemplateRenderer_TruncatesPush(t *testing.T) {
	c := &communication.Communication{Title: "Long", Body: strings.Repeat("ä", 300)}

	push, err := TemplateRenderer{}.Render(c, communication.ChannelPush)
	require.NoError(t, err)
	assert.Equal(t, "Long", push.Subject)
	assert.Equal(t, pushMaxRunes, utf8.RuneCountInString(push.Text))
	assert.True(t, strings.HasSuffix(push.Text, "…"))

	c.Body = "short"
	push, _ = TemplateRenderer{}.Render(c, communication.ChannelPush)
	assert.Equal(t, "short", push.Text)
}
