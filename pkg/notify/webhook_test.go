package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWebhookChannel_EmptyURL(t *testing.T) {
	assert.Nil(t, NewWebhookChannel("", time.Second))
}

func TestWebhookChannel_Send(t *testing.T) {
	var got struct {
		Embeds []Embed `json:"embeds"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	ch := NewWebhookChannel(srv.URL, time.Second)
	err := ch.Send(context.Background(), []Embed{{Title: "Summary", Description: "body", Color: 0x42A5F5}})
	require.NoError(t, err)
	require.Len(t, got.Embeds, 1)
	assert.Equal(t, "Summary", got.Embeds[0].Title)
}

func TestWebhookChannel_Send_TruncatesToLimit(t *testing.T) {
	var gotCount int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload struct {
			Embeds []Embed `json:"embeds"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		gotCount = len(payload.Embeds)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	embeds := make([]Embed, MaxEmbeds+5)
	for i := range embeds {
		embeds[i] = Embed{Title: fmt.Sprintf("embed %d", i)}
	}

	ch := NewWebhookChannel(srv.URL, time.Second)
	require.NoError(t, ch.Send(context.Background(), embeds))
	assert.Equal(t, MaxEmbeds, gotCount)
}

func TestWebhookChannel_Send_EmptyIsNoop(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, _ *http.Request) {
		called = true
	}))
	defer srv.Close()

	ch := NewWebhookChannel(srv.URL, time.Second)
	require.NoError(t, ch.Send(context.Background(), nil))
	assert.False(t, called)
}

func TestWebhookChannel_Send_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	ch := NewWebhookChannel(srv.URL, time.Second)
	err := ch.Send(context.Background(), []Embed{{Title: "x"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}
