// Package render turns a notification request into the channel payload that
// every delivery attempt of a job sends unchanged.
package render

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"strings"
	texttemplate "text/template"

	"herald/internal/types"
)

//go:embed templates/message.html templates/message.txt
var templateFS embed.FS

// Input is what the renderer needs from a request.
type Input struct {
	ApplicationName string
	Channel         types.Channel
	Recipient       types.Recipient
	Subject         string
	Message         string
}

type templateData struct {
	Subject         string
	Body            string
	Paragraphs      []string
	SenderName      string
	ApplicationName string
}

// Renderer renders payloads. EMAIL gets an HTML and a plain text body from
// embedded templates; SMS and PUSH carry the message verbatim.
type Renderer struct {
	html       *template.Template
	text       *texttemplate.Template
	senderName string
}

// NewRenderer parses the embedded templates.
func NewRenderer(senderName string) (*Renderer, error) {
	htmlSrc, err := templateFS.ReadFile("templates/message.html")
	if err != nil {
		return nil, fmt.Errorf("renderer: failed to read message.html: %w", err)
	}
	txtSrc, err := templateFS.ReadFile("templates/message.txt")
	if err != nil {
		return nil, fmt.Errorf("renderer: failed to read message.txt: %w", err)
	}
	htmlTmpl, err := template.New("message.html").Parse(string(htmlSrc))
	if err != nil {
		return nil, fmt.Errorf("renderer: failed to parse message.html: %w", err)
	}
	txtTmpl, err := texttemplate.New("message.txt").Parse(string(txtSrc))
	if err != nil {
		return nil, fmt.Errorf("renderer: failed to parse message.txt: %w", err)
	}
	if senderName == "" {
		senderName = "Herald"
	}
	return &Renderer{html: htmlTmpl, text: txtTmpl, senderName: senderName}, nil
}

// Render builds the payload for in.Channel.
func (r *Renderer) Render(in Input) (types.Payload, error) {
	switch in.Channel {
	case types.ChannelEmail:
		return r.renderEmail(in)
	case types.ChannelSMS:
		return types.Payload{
			Channel:      types.ChannelSMS,
			Destinations: []string{in.Recipient.PhoneNumber},
			Body:         in.Message,
		}, nil
	case types.ChannelPush:
		return types.Payload{
			Channel:      types.ChannelPush,
			Destinations: []string{in.Recipient.DeviceToken},
			Subject:      in.Subject,
			Body:         in.Message,
		}, nil
	default:
		return types.Payload{}, fmt.Errorf("renderer: unsupported channel %q", in.Channel)
	}
}

func (r *Renderer) renderEmail(in Input) (types.Payload, error) {
	appName := in.ApplicationName
	if appName == "" {
		appName = r.senderName
	}
	data := templateData{
		Subject:         in.Subject,
		Body:            in.Message,
		Paragraphs:      paragraphs(in.Message),
		SenderName:      r.senderName,
		ApplicationName: appName,
	}

	var htmlBuf, txtBuf bytes.Buffer
	if err := r.html.Execute(&htmlBuf, data); err != nil {
		return types.Payload{}, fmt.Errorf("renderer: failed to render HTML: %w", err)
	}
	if err := r.text.Execute(&txtBuf, data); err != nil {
		return types.Payload{}, fmt.Errorf("renderer: failed to render text: %w", err)
	}

	return types.Payload{
		Channel:      types.ChannelEmail,
		Destinations: append([]string(nil), in.Recipient.EmailAddresses...),
		Subject:      in.Subject,
		Body:         txtBuf.String(),
		HTMLBody:     htmlBuf.String(),
	}, nil
}

// paragraphs splits on blank lines and drops empty blocks.
func paragraphs(msg string) []string {
	msg = strings.ReplaceAll(msg, "\r\n", "\n")
	var out []string
	for _, block := range strings.Split(msg, "\n\n") {
		if b := strings.TrimSpace(block); b != "" {
			out = append(out, b)
		}
	}
	return out
}
