package app

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"

	"fitclub_comms/internal/domain/communication"
)

// Renderer produces channel-specific content for a communication.
type Renderer interface {
	Render(c *communication.Communication, ch communication.Channel) (communication.RenderedContent, error)
}

const pushMaxRunes = 240

var emailLayout = template.Must(template.New("email").Parse(`<!DOCTYPE html>
<html><body style="font-family:sans-serif">
<h2>{{.Title}}</h2>
{{range .Paragraphs}}<p>{{.}}</p>
{{end}}</body></html>
`))

// TemplateRenderer is the built-in renderer: the title becomes the subject and
// the body is wrapped in a minimal HTML layout for email.
type TemplateRenderer struct{}

func (TemplateRenderer) Render(c *communication.Communication, ch communication.Channel) (communication.RenderedContent, error) {
	switch ch {
	case communication.ChannelEmail:
		var buf bytes.Buffer
		err := emailLayout.Execute(&buf, struct {
			Title      string
			Paragraphs []string
		}{Title: c.Title, Paragraphs: paragraphs(c.Body)})
		if err != nil {
			return communication.RenderedContent{}, fmt.Errorf("failed to render email: %w", err)
		}
		return communication.RenderedContent{Subject: c.Title, Text: c.Body, HTML: buf.String()}, nil
	case communication.ChannelPush:
		return communication.RenderedContent{Subject: c.Title, Text: truncateRunes(c.Body, pushMaxRunes)}, nil
	case communication.ChannelSMS:
		return communication.RenderedContent{Text: c.Title + ": " + c.Body}, nil
	}
	return communication.RenderedContent{}, fmt.Errorf("no renderer for channel %q", ch)
}

func paragraphs(body string) []string {
	var out []string
	for _, p := range strings.Split(strings.ReplaceAll(body, "\r\n", "\n"), "\n\n") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
