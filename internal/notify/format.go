package notify

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	domain "github.com/mgrabowski/restock-sentinel/pkg/types"
)

const defaultEmbedColor = 0x2ECC71 // green

// discordWebhookPayload is the Discord webhook JSON structure.
type discordWebhookPayload struct {
	Content   string         `json:"content,omitempty"`
	Username  string         `json:"username,omitempty"`
	AvatarURL string         `json:"avatar_url,omitempty"`
	Embeds    []discordEmbed `json:"embeds"`
}

type discordEmbed struct {
	Title       string              `json:"title"`
	Description string              `json:"description,omitempty"`
	Color       int                 `json:"color"`
	Fields      []discordEmbedField `json:"fields,omitempty"`
}

type discordEmbedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

// slackWebhookPayload is the Slack incoming-webhook JSON structure.
type slackWebhookPayload struct {
	Text    string `json:"text"`
	Channel string `json:"channel,omitempty"`
}

// BuildDiscordPayload formats a restock event as a Discord webhook payload,
// applying the recipient's presentation overrides.
func BuildDiscordPayload(ev *Event, r *domain.Recipient) discordWebhookPayload {
	embed := discordEmbed{
		Title: fmt.Sprintf("Back in stock: %s", ev.Item.Label()),
		Color: ParseEmbedColor(r.EmbedColor),
		Fields: []discordEmbedField{
			{Name: "Location", Value: ev.Location(), Inline: true},
			{Name: "Region", Value: ev.Key.Region, Inline: true},
			{Name: "Out of stock for", Value: FormatDuration(ev.Duration), Inline: true},
		},
	}

	if ev.Item.PurchaseURL != "" {
		embed.Description = fmt.Sprintf("[Order now](%s)", ev.Item.PurchaseURL)
	}

	if r.IncludePrice && ev.Item.PriceMinor != nil {
		embed.Fields = append(embed.Fields, discordEmbedField{
			Name:   "Price",
			Value:  FormatPrice(*ev.Item.PriceMinor, ev.Item.Currency),
			Inline: true,
		})
	}

	if r.IncludeSpecs {
		if specs := formatSpecs(ev.Item.Specs); specs != "" {
			embed.Fields = append(embed.Fields, discordEmbedField{
				Name:  "Specs",
				Value: specs,
			})
		}
	}

	payload := discordWebhookPayload{
		Username:  r.BotUsername,
		AvatarURL: r.AvatarURL,
		Embeds:    []discordEmbed{embed},
	}

	if r.MentionRoleID != "" {
		payload.Content = fmt.Sprintf("<@&%s>", r.MentionRoleID)
	}

	return payload
}

// BuildSlackPayload formats a restock event as a Slack incoming-webhook
// payload.
func BuildSlackPayload(ev *Event, r *domain.Recipient) slackWebhookPayload {
	var b strings.Builder
	// Slack has no separate mention field; the user-group token goes
	// straight into the text.
	if r.MentionRoleID != "" {
		fmt.Fprintf(&b, "<!subteam^%s> ", r.MentionRoleID)
	}
	fmt.Fprintf(&b, "*%s* is back in stock in %s (%s)",
		ev.Item.Label(), ev.Location(), ev.Key.Region)
	fmt.Fprintf(&b, " after %s out of stock.", FormatDuration(ev.Duration))

	if r.IncludePrice && ev.Item.PriceMinor != nil {
		fmt.Fprintf(&b, " Price: %s.", FormatPrice(*ev.Item.PriceMinor, ev.Item.Currency))
	}
	if r.IncludeSpecs {
		if specs := formatSpecs(ev.Item.Specs); specs != "" {
			fmt.Fprintf(&b, " Specs: %s.", specs)
		}
	}
	if ev.Item.PurchaseURL != "" {
		fmt.Fprintf(&b, " <%s|Order now>", ev.Item.PurchaseURL)
	}

	return slackWebhookPayload{
		Text:    b.String(),
		Channel: r.SlackChannel,
	}
}

// Summary is the one-line message text recorded with each delivery attempt.
func Summary(ev *Event) string {
	return fmt.Sprintf("%s back in stock in %s after %s",
		ev.Item.Label(), ev.Location(), FormatDuration(ev.Duration))
}

// FormatPrice renders a price held in minor currency units (cents) without
// floating point math.
func FormatPrice(minor int64, currency string) string {
	sign := ""
	if minor < 0 {
		sign = "-"
		minor = -minor
	}
	s := fmt.Sprintf("%s%d.%02d", sign, minor/100, minor%100)
	if currency != "" {
		s += " " + currency
	}
	return s
}

// FormatDuration renders a duration as a compact human-readable string,
// rounded down to the minute.
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int64(d / time.Minute)
	days := total / (24 * 60)
	hours := (total % (24 * 60)) / 60
	minutes := total % 60

	switch {
	case days > 0:
		return fmt.Sprintf("%dd %dh %dm", days, hours, minutes)
	case hours > 0:
		return fmt.Sprintf("%dh %dm", hours, minutes)
	default:
		return fmt.Sprintf("%dm", minutes)
	}
}

// ParseEmbedColor parses a "#RRGGBB" or "RRGGBB" hex color override,
// falling back to the default green when empty or malformed.
func ParseEmbedColor(s string) int {
	s = strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(s) != 6 {
		return defaultEmbedColor
	}
	v, err := strconv.ParseInt(s, 16, 32)
	if err != nil {
		return defaultEmbedColor
	}
	return int(v)
}

func formatSpecs(s domain.ItemSpecs) string {
	var parts []string
	if s.VCPU != nil {
		parts = append(parts, fmt.Sprintf("%d vCPU", *s.VCPU))
	}
	if s.RAMGB != nil {
		parts = append(parts, fmt.Sprintf("%d GB RAM", *s.RAMGB))
	}
	if s.StorageGB != nil {
		parts = append(parts, fmt.Sprintf("%d GB storage", *s.StorageGB))
	}
	if s.BandwidthMbps != nil {
		parts = append(parts, fmt.Sprintf("%d Mbps", *s.BandwidthMbps))
	}
	return strings.Join(parts, ", ")
}
