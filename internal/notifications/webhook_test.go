package notifications

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// capture records the JSON body of every request it receives.
func capture(t *testing.T, status int) (*httptest.Server, chan map[string]string) {
	t.Helper()
	got := make(chan map[string]string, 10)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		got <- body
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv, got
}

func TestSend_NoWebhook(t *testing.T) {
	s := NewSender("", "TestBot")
	assert.False(t, s.Enabled())
	assert.NoError(t, s.SendContext(context.Background(), "hello from test"))
}

func TestSend_SlackFormat(t *testing.T) {
	srv, got := capture(t, http.StatusOK)

	s := NewSender(srv.URL+"/services/slack", "TestBot")
	require.True(t, s.Enabled())
	require.NoError(t, s.SendContext(context.Background(), "backtest complete"))

	body := <-got
	assert.Equal(t, "TestBot", body["username"])
	assert.Equal(t, "`[TestBot] backtest complete`", body["text"])
}

func TestSend_MultilineUsesFencedBlock(t *testing.T) {
	srv, got := capture(t, http.StatusOK)

	s := NewSender(srv.URL+"/slack", "TestBot")
	require.NoError(t, s.SendContext(context.Background(), "top runs\n#1 0.42\n#2 0.40\n"))

	assert.Equal(t, "```\n[TestBot] top runs\n#1 0.42\n#2 0.40\n```", (<-got)["text"])
}

func TestSend_DiscordFormat(t *testing.T) {
	srv, got := capture(t, http.StatusOK)

	s := NewSender(srv.URL+"/discord/webhook", "GridBot")
	require.NoError(t, s.SendContext(context.Background(), "LIQUIDATION position #3 @ 81.20"))

	body := <-got
	assert.Equal(t, "`[GridBot] LIQUIDATION position #3 @ 81.20`", body["content"])
	assert.Equal(t, "GridBot", body["username"])
	assert.NotContains(t, body, "text")
}

func TestSend_DiscordTruncatesLongContent(t *testing.T) {
	srv, got := capture(t, http.StatusOK)

	s := NewSender(srv.URL+"/discord", "GridBot")
	require.NoError(t, s.SendContext(context.Background(), strings.Repeat("row\n", 1000)))

	content := (<-got)["content"]
	assert.LessOrEqual(t, len(content), maxDiscordContent)
	assert.True(t, strings.HasPrefix(content, "```\n[GridBot] row"))
	assert.True(t, strings.HasSuffix(content, "...\n```"))
}

func TestSend_GenericJSON(t *testing.T) {
	srv, got := capture(t, http.StatusOK)

	s := NewSender(srv.URL+"/hooks/gridsim", "GridBot")
	require.NoError(t, s.SendContext(context.Background(), "optimization done"))

	body := <-got
	assert.Equal(t, "GridBot", body["bot"])
	assert.Equal(t, "optimization done", body["text"])
	_, err := time.Parse(time.RFC3339, body["sent_at"])
	assert.NoError(t, err)
}

func TestSend_ClientErrorSurfaced(t *testing.T) {
	srv, got := capture(t, http.StatusNotFound)

	s := NewSender(srv.URL, "TestBot")
	err := s.SendContext(context.Background(), "gone")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
	assert.Len(t, got, 1, "4xx is not retried")
}

func TestSend_WebhookError(t *testing.T) {
	s := NewSender("http://localhost:1/bogus", "TestBot")
	s.retry.BaseDelay = 0
	s.retry.MaxDelay = 0
	// logged, never panics
	s.Send("this will fail gracefully")
}

func TestSend_RateLimitHonoursContext(t *testing.T) {
	srv, _ := capture(t, http.StatusOK)

	s := NewSender(srv.URL, "TestBot")
	for range sendBurst {
		require.NoError(t, s.SendContext(context.Background(), "burst"))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := s.SendContext(ctx, "over the limit")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limit")
}

func TestDefaultBotName(t *testing.T) {
	s := NewSender("", "")
	assert.Equal(t, defaultBotName, s.botName)
}

func TestDetectFormat(t *testing.T) {
	assert.Equal(t, formatDiscord, detectFormat("https://discord.com/api/webhooks/1/x"))
	assert.Equal(t, formatSlack, detectFormat("https://hooks.slack.com/services/T/B/X"))
	assert.Equal(t, formatJSON, detectFormat("https://example.com/hook"))
}
