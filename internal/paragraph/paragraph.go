package paragraph

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

const DefaultURL = "http://metaphorpsum.com/paragraphs/10"

// Fallback is used whenever the remote source cannot be reached.
const Fallback = "In a quiet little town, there was a small park filled with vibrant flowers and tall trees. " +
	"Children played happily on swings and slides while their laughter echoed through the air. " +
	"Nearby, a gentle stream flowed, reflecting the blue sky above. " +
	"Every afternoon, people gathered to enjoy picnics on the grassy hills. " +
	"Some brought sandwiches, while others shared fruit and cookies. " +
	"As the sun began to set, the sky turned shades of orange and pink. " +
	"Families packed up their things and headed home, cherishing the moments spent together. " +
	"In this peaceful place, time seemed to slow down, allowing everyone to appreciate the beauty of nature. " +
	"The birds chirped sweet melodies, and the breeze carried the scent of blooming flowers. " +
	"It was a perfect day, filled with joy and laughter, reminding everyone of the simple pleasures that life has to offer."

const maxBodyBytes = 1 << 20

// Provider returns the text for a round. Implementations never return "".
type Provider interface {
	Fetch(ctx context.Context) string
}

type HTTPProvider struct {
	client  *http.Client
	url     string
	timeout time.Duration
	log     *zap.Logger
}

func NewHTTPProvider(url string, timeout time.Duration, log *zap.Logger) *HTTPProvider {
	if url == "" {
		url = DefaultURL
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &HTTPProvider{
		client:  &http.Client{},
		url:     url,
		timeout: timeout,
		log:     log.Named("paragraph"),
	}
}

func (p *HTTPProvider) Fetch(ctx context.Context) string {
	text, err := p.fetch(ctx)
	if err != nil {
		p.log.Warn("paragraph fetch failed, using fallback", zap.String("url", p.url), zap.Error(err))
		return Fallback
	}
	return text
}

func (p *HTTPProvider) fetch(ctx context.Context) (string, error) {
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("get: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return "", fmt.Errorf("read body: %w", err)
	}

	text := Normalize(string(body))
	if text == "" {
		return "", fmt.Errorf("empty paragraph")
	}
	return text, nil
}

// Normalize joins the lines of a multi-paragraph body with single spaces.
func Normalize(body string) string {
	lines := strings.Split(strings.ReplaceAll(body, "\r\n", "\n"), "\n")
	kept := lines[:0]
	for _, line := range lines {
		if line = strings.TrimSpace(line); line != "" {
			kept = append(kept, line)
		}
	}
	return strings.Join(kept, " ")
}

// Static always returns the same text, or Fallback when empty.
type Static string

func (s Static) Fetch(context.Context) string {
	if strings.TrimSpace(string(s)) == "" {
		return Fallback
	}
	return string(s)
}
