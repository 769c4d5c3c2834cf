package telephony

import (
	"bytes"
	"encoding/xml"
)

// Minimal voice-markup (TwiML) builder for the documents this service
// produces itself: the flow engine's output is returned verbatim, but the
// gateway still needs a hangup document for channels with no flow bound,
// and tests need a way to build realistic responses.

const MarkupContentType = "application/xml"

type markupResponse struct {
	XMLName xml.Name `xml:"Response"`
	Verbs   []any    `xml:",any"`
}

type markupSay struct {
	XMLName xml.Name `xml:"Say"`
	Text    string   `xml:",chardata"`
}

type markupHangup struct {
	XMLName xml.Name `xml:"Hangup"`
}

type markupRedirect struct {
	XMLName xml.Name `xml:"Redirect"`
	URL     string   `xml:",chardata"`
}

// MarkupBuilder accumulates verbs and renders one response document.
type MarkupBuilder struct {
	verbs []any
}

func NewMarkup() *MarkupBuilder { return &MarkupBuilder{} }

func (b *MarkupBuilder) Say(text string) *MarkupBuilder {
	b.verbs = append(b.verbs, markupSay{Text: text})
	return b
}

func (b *MarkupBuilder) Hangup() *MarkupBuilder {
	b.verbs = append(b.verbs, markupHangup{})
	return b
}

func (b *MarkupBuilder) Redirect(url string) *MarkupBuilder {
	b.verbs = append(b.verbs, markupRedirect{URL: url})
	return b
}

func (b *MarkupBuilder) Render() (string, error) {
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(markupResponse{Verbs: b.verbs}); err != nil {
		return "", err
	}
	if err := enc.Flush(); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// HangupMarkup is the canned response for calls nothing is handling.
func HangupMarkup() string {
	out, err := NewMarkup().Hangup().Render()
	if err != nil {
		// static document, cannot fail
		panic(err)
	}
	return out
}
