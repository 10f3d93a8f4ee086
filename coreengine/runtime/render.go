package runtime

import (
	"bytes"
	"fmt"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/renderer/html"

	"github.com/jeeves-cluster-organization/outreach/coreengine/envelope"
)

// Raw HTML in drafts is escaped; single newlines become <br>.
var markdown = goldmark.New(goldmark.WithRendererOptions(html.WithHardWraps()))

// RenderedEmail is an email draft split for a mail client.
type RenderedEmail struct {
	Subject string `json:"subject"`
	HTML    string `json:"html"`
}

// RenderEmailHTML renders the body of an email draft as HTML. The subject
// line is returned separately.
func RenderEmailHTML(draft string) (RenderedEmail, error) {
	subject, body := envelope.SplitSubject(draft)
	var buf bytes.Buffer
	if err := markdown.Convert([]byte(body), &buf); err != nil {
		return RenderedEmail{}, fmt.Errorf("render email: %w", err)
	}
	return RenderedEmail{Subject: subject, HTML: buf.String()}, nil
}
