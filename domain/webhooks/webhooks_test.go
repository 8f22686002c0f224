package webhooks

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubscription_ListensTo(t *testing.T) {
	tests := []struct {
		name      string
		types     []string
		eventType string
		want      bool
	}{
		{"exact match", []string{EventDocumentSent}, EventDocumentSent, true},
		{"no match", []string{EventDocumentSent}, EventDocumentSigned, false},
		{"wildcard matches everything", []string{"*"}, EventDocumentDeclined, true},
		{"wildcard among others", []string{EventDocumentSent, "*"}, EventSignerNotified, true},
		{"multiple types", []string{EventDocumentSent, EventDocumentSigned}, EventDocumentSigned, true},
		{"empty list matches nothing", nil, EventDocumentSent, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sub := &Subscription{EventTypes: tt.types}
			assert.Equal(t, tt.want, sub.ListensTo(tt.eventType))
		})
	}
}

func TestCreateSubscriptionInput_Validate(t *testing.T) {
	valid := CreateSubscriptionInput{
		OwnerID:    "owner-1",
		URL:        "https://example.com/hook",
		Secret:     "topsecret",
		EventTypes: []string{EventDocumentSent},
	}
	require.NoError(t, valid.validate())

	tests := []struct {
		name   string
		mutate func(*CreateSubscriptionInput)
	}{
		{"missing owner", func(in *CreateSubscriptionInput) { in.OwnerID = "" }},
		{"missing url", func(in *CreateSubscriptionInput) { in.URL = "" }},
		{"bad scheme", func(in *CreateSubscriptionInput) { in.URL = "ftp://example.com" }},
		{"missing secret", func(in *CreateSubscriptionInput) { in.Secret = "" }},
		{"no event types", func(in *CreateSubscriptionInput) { in.EventTypes = nil }},
		{"blank event type", func(in *CreateSubscriptionInput) { in.EventTypes = []string{" "} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := valid
			tt.mutate(&in)
			assert.Error(t, in.validate())
		})
	}
}

func TestDeliveryEvent_ShouldRetry(t *testing.T) {
	e := &DeliveryEvent{MaxAttempts: 5}

	for attempts := 0; attempts < 5; attempts++ {
		e.Attempts = attempts
		assert.True(t, e.ShouldRetry(), "attempts=%d", attempts)
	}

	e.Attempts = 5
	assert.False(t, e.ShouldRetry())
	e.Attempts = 6
	assert.False(t, e.ShouldRetry())
}

func TestDeliveryEvent_ShouldRetry_DefaultCap(t *testing.T) {
	// Rows created before max_attempts existed fall back to the package cap
	e := &DeliveryEvent{Attempts: 4}
	assert.True(t, e.ShouldRetry())
	e.Attempts = 5
	assert.False(t, e.ShouldRetry())
}

func TestDeliveryEvent_NextRetryDelay(t *testing.T) {
	tests := []struct {
		attempts int
		want     time.Duration
	}{
		{1, 60 * time.Second},
		{2, 300 * time.Second},
		{3, 900 * time.Second},
		{4, 3600 * time.Second},
		{5, 21600 * time.Second},
		// Past the ladder the largest delay repeats
		{6, 21600 * time.Second},
		{7, 21600 * time.Second},
	}

	for _, tt := range tests {
		e := &DeliveryEvent{Attempts: tt.attempts}
		assert.Equal(t, tt.want, e.NextRetryDelay(), "attempts=%d", tt.attempts)
	}
}

func TestSign(t *testing.T) {
	body := []byte(`{"id":"evt-1"}`)

	sig := Sign("topsecret", body)
	assert.True(t, len(sig) > len("sha256="))
	assert.Contains(t, sig, "sha256=")

	// Deterministic for the same secret and body
	assert.Equal(t, sig, Sign("topsecret", body))

	// Different secret or body changes the signature
	assert.NotEqual(t, sig, Sign("othersecret", body))
	assert.NotEqual(t, sig, Sign("topsecret", []byte(`{"id":"evt-2"}`)))
}

func TestVerifySignature(t *testing.T) {
	body := []byte(`{"id":"evt-1"}`)
	sig := Sign("topsecret", body)

	assert.True(t, VerifySignature("topsecret", body, sig))
	assert.False(t, VerifySignature("wrong", body, sig))
	assert.False(t, VerifySignature("topsecret", []byte("tampered"), sig))
	assert.False(t, VerifySignature("topsecret", body, "sha256=deadbeef"))
}

func testDispatcher() *Dispatcher {
	return &Dispatcher{
		client: &http.Client{Timeout: 2 * time.Second},
		log:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func TestDispatcher_Attempt_Success(t *testing.T) {
	var gotSig, gotEvent, gotDelivery string
	var gotBody []byte

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get(HeaderSignature)
		gotEvent = r.Header.Get(HeaderEventType)
		gotDelivery = r.Header.Get(HeaderDelivery)
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"received":true}`))
	}))
	defer srv.Close()

	sub := &Subscription{URL: srv.URL, Secret: "topsecret"}
	event := &DeliveryEvent{
		ID:        "del-1",
		EventID:   "evt-1",
		EventType: EventDocumentSent,
		Payload:   json.RawMessage(`{"documentId":"doc-1"}`),
	}

	code, respBody, err := testDispatcher().attempt(context.Background(), sub, event)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, `{"received":true}`, respBody)

	// Receiver can verify the body with the shared secret
	assert.True(t, VerifySignature("topsecret", gotBody, gotSig))
	assert.Equal(t, EventDocumentSent, gotEvent)
	assert.Equal(t, "del-1", gotDelivery)

	var env Envelope
	require.NoError(t, json.Unmarshal(gotBody, &env))
	assert.Equal(t, "evt-1", env.ID)
	assert.Equal(t, EventDocumentSent, env.Type)
	assert.JSONEq(t, `{"documentId":"doc-1"}`, string(env.Data))
}

func TestDispatcher_Attempt_Non2xxFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("upstream exploded"))
	}))
	defer srv.Close()

	sub := &Subscription{URL: srv.URL, Secret: "s"}
	event := &DeliveryEvent{ID: "del-1", EventID: "evt-1", EventType: EventDocumentSent}

	code, respBody, err := testDispatcher().attempt(context.Background(), sub, event)
	require.Error(t, err)
	assert.Equal(t, http.StatusInternalServerError, code)
	assert.Equal(t, "upstream exploded", respBody)
	assert.Contains(t, err.Error(), "500")
}

func TestDispatcher_Attempt_TruncatesResponseBody(t *testing.T) {
	big := make([]byte, maxResponseBodyBytes*2)
	for i := range big {
		big[i] = 'x'
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(big)
	}))
	defer srv.Close()

	sub := &Subscription{URL: srv.URL, Secret: "s"}
	event := &DeliveryEvent{ID: "del-1", EventID: "evt-1", EventType: EventDocumentSent}

	_, respBody, err := testDispatcher().attempt(context.Background(), sub, event)
	require.NoError(t, err)
	assert.Len(t, respBody, maxResponseBodyBytes)
}

func TestDispatcher_Attempt_ConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	sub := &Subscription{URL: srv.URL, Secret: "s"}
	event := &DeliveryEvent{ID: "del-1", EventID: "evt-1", EventType: EventDocumentSent}

	code, _, err := testDispatcher().attempt(context.Background(), sub, event)
	require.Error(t, err)
	assert.Zero(t, code)
}

func TestRetrySequence(t *testing.T) {
	// Three failures then a success: the event ends delivered with four
	// attempts on record, and each failure schedules the next rung.
	e := &DeliveryEvent{MaxAttempts: MaxDeliveryAttempts}

	wantDelays := []time.Duration{60 * time.Second, 300 * time.Second, 900 * time.Second}
	for i, want := range wantDelays {
		e.Attempts++ // failed attempt recorded
		require.True(t, e.ShouldRetry(), "after failure %d", i+1)
		assert.Equal(t, want, e.NextRetryDelay())
	}

	e.Attempts++ // successful attempt recorded
	e.Status = DeliveryDelivered
	assert.Equal(t, 4, e.Attempts)
}
