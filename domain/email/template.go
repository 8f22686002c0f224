package email

import (
	"fmt"

	"github.com/aymerick/raymond"
)

// Template names
const (
	TemplateSignatureRequest  = "signature_request"
	TemplateDocumentCompleted = "document_completed"
)

// Handlebars sources for each template. Kept inline rather than on disk so
// the binary is self-contained.
var templateSources = map[string]struct {
	subject string
	html    string
	text    string
}{
	TemplateSignatureRequest: {
		subject: `{{senderName}} sent you "{{documentTitle}}" to sign`,
		html: `<html><body>
<p>Hi {{signerName}},</p>
<p>{{senderName}} has requested your signature on <strong>{{documentTitle}}</strong>.</p>
<p><a href="{{signingUrl}}">Review and sign the document</a></p>
<p>This link is personal to you. Do not forward this email.</p>
</body></html>`,
		text: `Hi {{signerName}},

{{senderName}} has requested your signature on "{{documentTitle}}".

Review and sign: {{signingUrl}}

This link is personal to you. Do not forward this email.`,
	},
	TemplateDocumentCompleted: {
		subject: `"{{documentTitle}}" has been signed by everyone`,
		html: `<html><body>
<p>Hi {{recipientName}},</p>
<p><strong>{{documentTitle}}</strong> has been completed. Every signer has signed.</p>
<p><a href="{{documentUrl}}">Download the signed document</a></p>
</body></html>`,
		text: `Hi {{recipientName}},

"{{documentTitle}}" has been completed. Every signer has signed.

Download the signed document: {{documentUrl}}`,
	},
}

// RenderResult holds a rendered email
type RenderResult struct {
	Subject string
	HTML    string
	Text    string
}

type compiledTemplate struct {
	subject *raymond.Template
	html    *raymond.Template
	text    *raymond.Template
}

var compiled = func() map[string]compiledTemplate {
	out := make(map[string]compiledTemplate, len(templateSources))
	for name, src := range templateSources {
		out[name] = compiledTemplate{
			subject: raymond.MustParse(src.subject),
			html:    raymond.MustParse(src.html),
			text:    raymond.MustParse(src.text),
		}
	}
	return out
}()

// Render renders a named template with the given context
func Render(name string, ctx map[string]interface{}) (*RenderResult, error) {
	tmpl, ok := compiled[name]
	if !ok {
		return nil, fmt.Errorf("unknown email template %q", name)
	}

	subject, err := tmpl.subject.Exec(ctx)
	if err != nil {
		return nil, fmt.Errorf("render subject for %s: %w", name, err)
	}
	html, err := tmpl.html.Exec(ctx)
	if err != nil {
		return nil, fmt.Errorf("render html for %s: %w", name, err)
	}
	text, err := tmpl.text.Exec(ctx)
	if err != nil {
		return nil, fmt.Errorf("render text for %s: %w", name, err)
	}

	return &RenderResult{Subject: subject, HTML: html, Text: text}, nil
}
