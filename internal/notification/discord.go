package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"livermore/internal/model"
)

const discordTimeout = 10 * time.Second

// Embed colors, Discord decimal RGB.
const (
	colorBullish = 0x2ecc71
	colorBearish = 0xe74c3c
	colorNeutral = 0x95a5a6
)

// Discord posts alerts and lifecycle transitions to a Discord webhook.
type Discord struct {
	webhookURL string
	client     *http.Client
}

// NewDiscord creates a webhook notifier. The URL must be a full Discord
// webhook endpoint with its token.
func NewDiscord(webhookURL string) *Discord {
	return &Discord{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: discordTimeout},
	}
}

type discordEmbed struct {
	Title     string              `json:"title"`
	Color     int                 `json:"color"`
	Fields    []discordEmbedField `json:"fields,omitempty"`
	Timestamp string              `json:"timestamp,omitempty"`
}

type discordEmbedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

type discordPayload struct {
	Content string         `json:"content,omitempty"`
	Embeds  []discordEmbed `json:"embeds,omitempty"`
}

func (d *Discord) Notify(ctx context.Context, a model.Alert) error {
	color := colorBearish
	if strings.HasPrefix(a.TriggerLabel, "reversal_oversold") || strings.HasPrefix(a.TriggerLabel, "stage_rallying") {
		color = colorBullish
	}
	embed := discordEmbed{
		Title:     fmt.Sprintf("%s %s %s", a.Symbol, a.Timeframe, a.TriggerLabel),
		Color:     color,
		Timestamp: a.TriggeredAt.UTC().Format(time.RFC3339),
		Fields: []discordEmbedField{
			{Name: "Type", Value: a.AlertType, Inline: true},
			{Name: "Value", Value: fmt.Sprintf("%.2f", a.TriggerValue), Inline: true},
			{Name: "Price", Value: fmt.Sprintf("%.8g", a.Price), Inline: true},
		},
	}
	if a.PreviousLabel != "" {
		embed.Fields = append(embed.Fields, discordEmbedField{
			Name: "Previous", Value: a.PreviousLabel, Inline: true,
		})
	}
	return d.post(ctx, discordPayload{Embeds: []discordEmbed{embed}})
}

func (d *Discord) NotifyTransition(ctx context.Context, st *model.InstanceStatus, from, to model.ConnectionState) error {
	color := colorNeutral
	switch to {
	case model.StateActive:
		color = colorBullish
	case model.StateOffline, model.StateStopped:
		color = colorBearish
	}
	embed := discordEmbed{
		Title:     fmt.Sprintf("%s: %s -> %s", st.ExchangeName, from, to),
		Color:     color,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Fields: []discordEmbedField{
			{Name: "Host", Value: st.Hostname, Inline: true},
			{Name: "Symbols", Value: fmt.Sprintf("%d", st.SymbolCount), Inline: true},
		},
	}
	if st.LastError != "" {
		embed.Fields = append(embed.Fields, discordEmbedField{
			Name: "Last error", Value: st.LastError, Inline: false,
		})
	}
	return d.post(ctx, discordPayload{Embeds: []discordEmbed{embed}})
}

func (d *Discord) post(ctx context.Context, p discordPayload) error {
	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal discord payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build discord request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("post discord webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		log.Warn().Str("component", "notify").Int("status", resp.StatusCode).Msg("discord webhook rejected")
		return fmt.Errorf("discord webhook status %d", resp.StatusCode)
	}
	return nil
}
