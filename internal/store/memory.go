package store

import (
	"context"
	neturl "net/url"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryStore is an in-process Store used as the default backend and as
// the seam for unit tests, mirroring the teacher's own
// "NewXStore(pool) -> memory fallback when pool is nil" shape.
type MemoryStore struct {
	mu sync.RWMutex

	sources    map[string]*Source // by canonical URL
	nextSrc    int64
	messages   []*Message
	nextMsgPK  int64
	linkSums   map[string]*LinkSummary
	topics     []*TopicSummary
	nextTopic  int64
	insights   map[string]*Insight // by topic
	feedback   []*Feedback
	nextFB     int64
	subs       map[string]*Subscriber
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sources:  make(map[string]*Source),
		linkSums: make(map[string]*LinkSummary),
		insights: make(map[string]*Insight),
		subs:     make(map[string]*Subscriber),
	}
}

// CanonicalizeURL normalizes a URL to scheme+host+path with no trailing
// slash, per the Source invariant.
func CanonicalizeURL(raw string) string {
	s := strings.TrimSpace(raw)
	if u, err := neturl.Parse(s); err == nil && u.Scheme != "" && u.Host != "" {
		s = u.Scheme + "://" + u.Host + u.Path
	}
	s = strings.TrimSuffix(s, "/")
	return s
}

func (m *MemoryStore) UpsertSource(_ context.Context, url, name, kind, category string) (Source, error) {
	url = CanonicalizeURL(url)
	if category == "" {
		category = "Uncategorized"
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.sources[url]; ok {
		existing.Name = name
		existing.Category = category
		if kind != "" {
			existing.Kind = kind
		}
		return *existing, nil
	}
	m.nextSrc++
	src := &Source{
		ID:        m.nextSrc,
		URL:       url,
		Name:      name,
		Kind:      kind,
		Category:  category,
		CreatedAt: time.Now().UTC(),
	}
	m.sources[url] = src
	return *src, nil
}

func (m *MemoryStore) ListSourcesByCategory(_ context.Context) (map[string][]Source, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string][]Source)
	for _, s := range m.sources {
		out[s.Category] = append(out[s.Category], *s)
	}
	for cat := range out {
		sort.Slice(out[cat], func(i, j int) bool { return out[cat][i].URL < out[cat][j].URL })
	}
	return out, nil
}

func (m *MemoryStore) RecordMessage(_ context.Context, kind, channelID, messageID, sourceURL string, ts time.Time, text string) (bool, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, msg := range m.messages {
		if msg.Kind == kind && msg.ChannelID == channelID && msg.MessageID == messageID {
			return false, msg.PK, nil
		}
	}
	m.nextMsgPK++
	msg := &Message{
		PK:        m.nextMsgPK,
		Kind:      kind,
		ChannelID: channelID,
		MessageID: messageID,
		SourceURL: CanonicalizeURL(sourceURL),
		Timestamp: ts,
		Text:      text,
		CreatedAt: time.Now().UTC(),
	}
	m.messages = append(m.messages, msg)
	return true, msg.PK, nil
}

func (m *MemoryStore) AttachResolvedLinks(_ context.Context, messagePK int64, jsonText string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, msg := range m.messages {
		if msg.PK == messagePK {
			msg.ResolvedLinksJSON = jsonText
			return nil
		}
	}
	return ErrNotFound
}

func (m *MemoryStore) GetMessagesInWindow(_ context.Context, sourceURLs []string, since, until time.Time) ([]Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	wanted := make(map[string]bool, len(sourceURLs))
	for _, u := range sourceURLs {
		wanted[CanonicalizeURL(u)] = true
	}

	var out []Message
	for _, msg := range m.messages {
		if len(wanted) > 0 && !wanted[msg.SourceURL] {
			continue
		}
		if msg.Timestamp.Before(since) || msg.Timestamp.After(until) {
			continue
		}
		out = append(out, *msg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

func (m *MemoryStore) GetMessageByPK(_ context.Context, pk int64) (Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, msg := range m.messages {
		if msg.PK == pk {
			return *msg, nil
		}
	}
	return Message{}, ErrNotFound
}

func (m *MemoryStore) GetLinkSummary(_ context.Context, url string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if ls, ok := m.linkSums[url]; ok {
		return ls.SummaryText, true, nil
	}
	return "", false, nil
}

func (m *MemoryStore) PutLinkSummary(_ context.Context, url, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	if ls, ok := m.linkSums[url]; ok {
		ls.SummaryText = text
		ls.UpdatedAt = now
		return nil
	}
	m.linkSums[url] = &LinkSummary{URL: url, SummaryText: text, CreatedAt: now, UpdatedAt: now}
	return nil
}

func (m *MemoryStore) SaveTopicSummary(_ context.Context, topic, metatopic string, importance int, messageIDs []int64) (TopicSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextTopic++
	ts := &TopicSummary{
		ID:         m.nextTopic,
		Topic:      topic,
		Metatopic:  metatopic,
		Importance: importance,
		MessageIDs: append([]int64(nil), messageIDs...),
		CreatedAt:  time.Now().UTC(),
	}
	m.topics = append(m.topics, ts)
	return *ts, nil
}

func (m *MemoryStore) SaveInsight(_ context.Context, insight Insight) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	insight.CreatedAt = time.Now().UTC()
	cp := insight
	m.insights[insight.Topic] = &cp
	return nil
}

func (m *MemoryStore) GetInsight(_ context.Context, topic string) (Insight, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if ins, ok := m.insights[topic]; ok {
		return *ins, true, nil
	}
	return Insight{}, false, nil
}

func (m *MemoryStore) SaveFeedback(_ context.Context, f Feedback) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextFB++
	f.ID = m.nextFB
	f.CreatedAt = time.Now().UTC()
	m.feedback = append(m.feedback, &f)
	return nil
}

func (m *MemoryStore) UpsertSubscriber(_ context.Context, email, source string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	email = strings.ToLower(strings.TrimSpace(email))
	if existing, ok := m.subs[email]; ok {
		existing.Source = source
		return nil
	}
	m.subs[email] = &Subscriber{Email: email, Source: source, CreatedAt: time.Now().UTC()}
	return nil
}

func (m *MemoryStore) Close() error { return nil }

var _ Store = (*MemoryStore)(nil)
