// Package telegram implements the single external collaborator spec.md §1
// leaves opaque: "fetch_channel_messages(url, since, until) -> [Message]".
// The default Client fetches a public channel's HTML preview
// (t.me/s/<channel>), which Telegram serves without authentication for any
// public channel — the same surface lightweight Telegram scrapers have
// used for years when a full MTProto session is unavailable or
// unnecessary. It is deliberately the only component in the system that
// talks to Telegram directly; everything above it (the Ingestor) depends
// only on the Client interface.
package telegram

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/html"
)

// Message is one channel post as returned by fetch_channel_messages.
type Message struct {
	MessageID string
	Timestamp time.Time
	Text      string
}

// Client is the interface the Ingestor depends on. The real
// implementation talks to Telegram; tests substitute a stub.
type Client interface {
	FetchChannelMessages(ctx context.Context, channelURL string, since, until time.Time) ([]Message, error)
}

// PreviewClient fetches messages from a public channel's HTML preview
// page, Telegram's "instant view" surface for channels with no API
// access configured.
type PreviewClient struct {
	httpClient *http.Client
	userAgent  string
	baseURL    string
}

// Option configures a PreviewClient.
type Option func(*PreviewClient)

// WithHTTPClient overrides the default client, e.g. to attach OpenTelemetry
// instrumentation.
func WithHTTPClient(c *http.Client) Option { return func(p *PreviewClient) { p.httpClient = c } }

// NewPreviewClient builds a Client with a bounded-timeout HTTP client.
func NewPreviewClient(opts ...Option) *PreviewClient {
	p := &PreviewClient{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		userAgent:  "Mozilla/5.0 (compatible; chanalystd/1.0)",
		baseURL:    "https://t.me/s/",
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// FetchChannelMessages walks a channel's /s/ preview, newest page first,
// paging backwards via "?before=<id>", and keeps the messages inside
// [since, until]. It stops after the first page that holds a message older
// than since, when the channel has no older page, or after 50 pages.
func (p *PreviewClient) FetchChannelMessages(ctx context.Context, channelURL string, since, until time.Time) ([]Message, error) {
	username, err := channelUsername(channelURL)
	if err != nil {
		return nil, err
	}

	var out []Message
	before := ""
	for page := 0; page < 50; page++ { // hard cap: a misbehaving mirror must not loop forever
		body, err := p.fetchPage(ctx, username, before)
		if err != nil {
			return out, err
		}
		msgs, oldestID := parsePreviewPage(body)
		if len(msgs) == 0 {
			break
		}

		stop := false
		for _, m := range msgs {
			if m.Timestamp.Before(since) {
				stop = true
				continue
			}
			if m.Timestamp.After(until) {
				continue
			}
			out = append(out, m)
		}
		if stop || oldestID == "" || oldestID == before {
			break
		}
		before = oldestID
	}
	return out, nil
}

func (p *PreviewClient) fetchPage(ctx context.Context, username, before string) (io.Reader, error) {
	u := p.baseURL + username
	if before != "" {
		u += "?before=" + url.QueryEscape(before)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", p.userAgent)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("telegram: fetch %s: %w", u, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("telegram: %s returned %d", u, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4*1000*1000))
	if err != nil {
		return nil, fmt.Errorf("telegram: read %s: %w", u, err)
	}
	return strings.NewReader(string(body)), nil
}

func channelUsername(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("telegram: invalid channel url %q: %w", raw, err)
	}
	name := strings.Trim(u.Path, "/")
	name = strings.TrimPrefix(name, "s/")
	if name == "" {
		return "", fmt.Errorf("telegram: no channel name in %q", raw)
	}
	return name, nil
}

// parsePreviewPage extracts (message, timestamp, text) triples from a
// t.me/s/ page's "tgme_widget_message" blocks, plus the oldest message id
// seen (used as the next page's "before" cursor).
func parsePreviewPage(r io.Reader) ([]Message, string) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, ""
	}

	var out []Message
	var oldestID string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && hasClass(n, "tgme_widget_message") {
			if m, id, ok := parseMessageBlock(n); ok {
				out = append(out, m)
				oldestID = id
			}
			return // message blocks don't nest
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return out, oldestID
}

func parseMessageBlock(n *html.Node) (Message, string, bool) {
	id := attr(n, "data-post")
	if id == "" {
		return Message{}, "", false
	}
	if idx := strings.LastIndex(id, "/"); idx != -1 {
		id = id[idx+1:]
	}

	var ts time.Time
	var text strings.Builder
	var walk func(*html.Node)
	walk = func(c *html.Node) {
		if c.Type == html.ElementNode {
			switch {
			case c.Data == "time" && hasClass(c, "time"):
				if dt := attr(c, "datetime"); dt != "" {
					if parsed, err := time.Parse(time.RFC3339, dt); err == nil {
						ts = parsed
					}
				}
			case hasClass(c, "tgme_widget_message_text"):
				text.WriteString(extractText(c))
				return
			}
		}
		for cc := c.FirstChild; cc != nil; cc = cc.NextSibling {
			walk(cc)
		}
	}
	walk(n)

	if ts.IsZero() {
		return Message{}, "", false
	}
	return Message{MessageID: id, Timestamp: ts, Text: strings.TrimSpace(text.String())}, id, true
}

func extractText(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(c *html.Node) {
		if c.Type == html.TextNode {
			sb.WriteString(c.Data)
		}
		if c.Type == html.ElementNode && c.Data == "br" {
			sb.WriteString("\n")
		}
		for cc := c.FirstChild; cc != nil; cc = cc.NextSibling {
			walk(cc)
		}
	}
	walk(n)
	return sb.String()
}

func hasClass(n *html.Node, class string) bool {
	for _, a := range n.Attr {
		if a.Key != "class" {
			continue
		}
		for _, c := range strings.Fields(a.Val) {
			if c == class {
				return true
			}
		}
	}
	return false
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}
