package notify

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/mgrabowski/restock-sentinel/pkg/types"
)

func TestValidateWebhookURL(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		backend domain.Backend
		wantErr string
	}{
		{
			name:    "valid discord",
			url:     "https://discord.com/api/webhooks/123/abc",
			backend: domain.BackendDiscord,
		},
		{
			name:    "valid discordapp host",
			url:     "https://discordapp.com/api/webhooks/123/abc",
			backend: domain.BackendDiscord,
		},
		{
			name:    "valid slack",
			url:     "https://hooks.slack.com/services/T000/B000/xyz",
			backend: domain.BackendSlack,
		},
		{
			name:    "http rejected",
			url:     "http://discord.com/api/webhooks/123/abc",
			backend: domain.BackendDiscord,
			wantErr: "must use https",
		},
		{
			name:    "wrong discord host",
			url:     "https://example.com/api/webhooks/123/abc",
			backend: domain.BackendDiscord,
			wantErr: "discord.com",
		},
		{
			name:    "wrong discord path",
			url:     "https://discord.com/webhooks/123/abc",
			backend: domain.BackendDiscord,
			wantErr: "/api/webhooks/",
		},
		{
			name:    "wrong slack host",
			url:     "https://slack.com/services/T000/B000/xyz",
			backend: domain.BackendSlack,
			wantErr: "hooks.slack.com",
		},
		{
			name:    "unsupported backend",
			url:     "https://example.com/hook",
			backend: "telegram",
			wantErr: "unsupported backend",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateWebhookURL(tt.url, tt.backend)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
