package notifications

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/kjannette/trahn-gridsim/internal/httputil"
	"github.com/kjannette/trahn-gridsim/internal/logger"
)

const defaultBotName = "TrahnGridSim"

// Discord rejects content over 2000 characters; Slack truncates long
// messages on its side.
const maxDiscordContent = 2000

// webhooks allow roughly one post per second before answering 429.
const (
	sendRate  = rate.Limit(1)
	sendBurst = 5
)

type format int

const (
	formatSlack format = iota
	formatDiscord
	formatJSON
)

func detectFormat(url string) format {
	switch {
	case strings.Contains(url, "discord"):
		return formatDiscord
	case strings.Contains(url, "slack"):
		return formatSlack
	case url == "":
		return formatSlack
	}
	return formatJSON
}

// Sender posts run messages to a Slack or Discord webhook, or as plain JSON
// to any other URL. Every message is also logged, so an empty URL still
// leaves a trail.
type Sender struct {
	webhookURL string
	botName    string
	format     format
	httpClient *http.Client
	retry      httputil.RetryConfig
	limiter    *rate.Limiter
	log        *logrus.Entry
}

func NewSender(webhookURL, botName string) *Sender {
	if botName == "" {
		botName = defaultBotName
	}
	return &Sender{
		webhookURL: webhookURL,
		botName:    botName,
		format:     detectFormat(webhookURL),
		httpClient: &http.Client{Timeout: 10 * time.Second},
		retry: httputil.RetryConfig{
			MaxAttempts: 3,
			BaseDelay:   1 * time.Second,
			MaxDelay:    5 * time.Second,
		},
		limiter: rate.NewLimiter(sendRate, sendBurst),
		log:     logger.Component("NOTIFY"),
	}
}

// Send logs msg and posts it, waiting up to 30s for the rate limiter and
// retries. Failures are logged, never returned.
func (s *Sender) Send(msg string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := s.SendContext(ctx, msg); err != nil {
		s.log.Errorf("Failed to send notification: %v", err)
	}
}

// SendContext is Send with the caller's deadline and the error surfaced.
func (s *Sender) SendContext(ctx context.Context, msg string) error {
	s.log.Infof("[%s] %s", s.botName, msg)
	if s.webhookURL == "" {
		return nil
	}

	body, err := json.Marshal(s.payload(msg, time.Now().UTC()))
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	if err := s.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit: %w", err)
	}

	resp, err := httputil.Do(ctx, s.httpClient, s.retry, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	})
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook answered %s", resp.Status)
	}
	return nil
}

func (s *Sender) payload(msg string, now time.Time) map[string]string {
	switch s.format {
	case formatDiscord:
		content := codeBlock(fmt.Sprintf("[%s] %s", s.botName, msg))
		if len(content) > maxDiscordContent {
			content = codeBlock(truncate(fmt.Sprintf("[%s] %s", s.botName, msg), maxDiscordContent-8))
		}
		return map[string]string{"content": content, "username": s.botName}
	case formatJSON:
		return map[string]string{"bot": s.botName, "text": msg, "sent_at": now.Format(time.RFC3339)}
	default:
		return map[string]string{"text": codeBlock(fmt.Sprintf("[%s] %s", s.botName, msg)), "username": s.botName}
	}
}

// codeBlock keeps tables aligned: multi-line text gets a fenced block,
// one-liners inline code.
func codeBlock(s string) string {
	if strings.Contains(s, "\n") {
		return "```\n" + strings.TrimRight(s, "\n") + "\n```"
	}
	return "`" + s + "`"
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

func (s *Sender) Enabled() bool {
	return s.webhookURL != ""
}
