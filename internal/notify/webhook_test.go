package notify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mgrabowski/restock-sentinel/internal/metrics"
	domain "github.com/mgrabowski/restock-sentinel/pkg/types"
)

func TestWebhookNotifierSendDiscord(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(body, &got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	r := testRecipient()
	r.WebhookURL = srv.URL

	n := NewWebhookNotifier(10 * time.Second)
	require.NoError(t, n.Send(context.Background(), r, testEvent()))

	embeds, ok := got["embeds"].([]any)
	require.True(t, ok)
	require.Len(t, embeds, 1)
}

func TestWebhookNotifierSendSlack(t *testing.T) {
	var got slackWebhookPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	r := testRecipient()
	r.Backend = domain.BackendSlack
	r.WebhookURL = srv.URL
	r.SlackChannel = "#restocks"

	n := NewWebhookNotifier(10 * time.Second)
	require.NoError(t, n.Send(context.Background(), r, testEvent()))
	assert.Equal(t, "#restocks", got.Channel)
	assert.Contains(t, got.Text, "back in stock")
}

func TestWebhookNotifierErrorStatuses(t *testing.T) {
	t.Run("rate limited", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTooManyRequests)
		}))
		defer srv.Close()

		r := testRecipient()
		r.WebhookURL = srv.URL

		err := NewWebhookNotifier(time.Second).Send(context.Background(), r, testEvent())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "429")
	})

	t.Run("server error includes body", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"message": "invalid payload"}`))
		}))
		defer srv.Close()

		r := testRecipient()
		r.WebhookURL = srv.URL

		err := NewWebhookNotifier(time.Second).Send(context.Background(), r, testEvent())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid payload")
	})

	t.Run("unsupported backend", func(t *testing.T) {
		r := testRecipient()
		r.Backend = "telegram"

		err := NewWebhookNotifier(time.Second).Send(context.Background(), r, testEvent())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unsupported backend")
	})
}

func TestWebhookNotifierRecordsDeliveryDuration(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	before := deliverySampleCount(t, "discord")

	r := testRecipient()
	r.WebhookURL = srv.URL
	require.NoError(t, NewWebhookNotifier(time.Second).Send(context.Background(), r, testEvent()))

	assert.Equal(t, before+1, deliverySampleCount(t, "discord"))
}

func deliverySampleCount(t *testing.T, backend string) uint64 {
	t.Helper()
	obs, err := metrics.DeliveryDuration.GetMetricWithLabelValues(backend)
	require.NoError(t, err)
	m := &dto.Metric{}
	require.NoError(t, obs.(prometheus.Metric).Write(m))
	return m.GetHistogram().GetSampleCount()
}
