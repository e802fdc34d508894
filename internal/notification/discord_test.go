package notification

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"livermore/internal/model"
)

func TestDiscordNotifyPostsEmbed(t *testing.T) {
	var got discordPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(body, &got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	d := NewDiscord(srv.URL)
	err := d.Notify(context.Background(), model.Alert{
		Symbol:       "BTC-USD",
		Timeframe:    model.TF1h,
		AlertType:    "momentum_reversal",
		TriggerLabel: "reversal_oversold",
		TriggerValue: 95.4,
		Price:        50000.12,
		TriggeredAt:  time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	require.Len(t, got.Embeds, 1)
	embed := got.Embeds[0]
	assert.Equal(t, "BTC-USD 1h reversal_oversold", embed.Title)
	assert.Equal(t, colorBullish, embed.Color)
	assert.Equal(t, "2024-03-01T12:00:00Z", embed.Timestamp)
}

func TestDiscordNotifyRejectedStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	d := NewDiscord(srv.URL)
	err := d.NotifyTransition(context.Background(), &model.InstanceStatus{ExchangeName: "coinbase"},
		model.StateWarming, model.StateActive)
	assert.ErrorContains(t, err, "status 401")
}
