package email

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRender_SignatureRequest(t *testing.T) {
	result, err := Render(TemplateSignatureRequest, map[string]interface{}{
		"signerName":    "Ada",
		"senderName":    "Acme Legal",
		"documentTitle": "Mutual NDA",
		"signingUrl":    "https://app.example.com/sign/abc",
	})
	require.NoError(t, err)

	assert.Contains(t, result.Subject, "Mutual NDA")
	assert.Contains(t, result.Subject, "Acme Legal")
	assert.Contains(t, result.HTML, "Hi Ada,")
	assert.Contains(t, result.HTML, "https://app.example.com/sign/abc")
	assert.Contains(t, result.Text, "https://app.example.com/sign/abc")
}

func TestRender_EscapesHTML(t *testing.T) {
	result, err := Render(TemplateSignatureRequest, map[string]interface{}{
		"signerName":    "<script>alert(1)</script>",
		"documentTitle": "NDA",
	})
	require.NoError(t, err)

	assert.NotContains(t, result.HTML, "<script>")
}

func TestRender_UnknownTemplate(t *testing.T) {
	_, err := Render("nope", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown email template")
}

func TestRender_DocumentCompleted(t *testing.T) {
	result, err := Render(TemplateDocumentCompleted, map[string]interface{}{
		"recipientName": "Bob",
		"documentTitle": "Lease Agreement",
		"documentUrl":   "https://app.example.com/docs/d1",
	})
	require.NoError(t, err)

	assert.Contains(t, result.Subject, "Lease Agreement")
	assert.Contains(t, result.HTML, "Hi Bob,")
}

func TestNoOpSender(t *testing.T) {
	s := &noOpSender{log: slog.New(slog.NewTextHandler(io.Discard, nil))}

	result, err := s.Send(context.Background(), SendOptions{
		To:      "ada@example.com",
		Subject: "test",
	})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Contains(t, result.MessageID, "noop-")
}
