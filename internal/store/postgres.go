package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore is a pgx-backed Store. Construct with NewPostgresStore and
// call Init before first use.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore wraps an existing pool. The pool must not be nil; use
// New for the config-driven "postgres or memory" decision.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Init creates the schema if it does not already exist.
func (s *PostgresStore) Init(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS sources (
			id SERIAL PRIMARY KEY,
			url TEXT UNIQUE NOT NULL,
			name TEXT NOT NULL DEFAULT '',
			kind TEXT NOT NULL DEFAULT '',
			category TEXT NOT NULL DEFAULT 'Uncategorized',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			pk BIGSERIAL PRIMARY KEY,
			kind TEXT NOT NULL,
			channel_id TEXT NOT NULL,
			message_id TEXT NOT NULL,
			source_url TEXT NOT NULL,
			ts TIMESTAMPTZ NOT NULL,
			text TEXT NOT NULL DEFAULT '',
			resolved_links_json TEXT NOT NULL DEFAULT '',
			processed BOOLEAN NOT NULL DEFAULT false,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			UNIQUE (kind, channel_id, message_id)
		)`,
		`CREATE INDEX IF NOT EXISTS messages_source_ts_idx ON messages (source_url, ts)`,
		`CREATE TABLE IF NOT EXISTS link_summaries (
			url TEXT PRIMARY KEY,
			summary_text TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS topic_summaries (
			id BIGSERIAL PRIMARY KEY,
			topic TEXT NOT NULL,
			metatopic TEXT NOT NULL DEFAULT '',
			importance INT NOT NULL,
			message_ids_json TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS insights (
			topic TEXT PRIMARY KEY,
			analysis_summary TEXT NOT NULL DEFAULT '',
			stance TEXT NOT NULL,
			rationale_long TEXT NOT NULL DEFAULT '',
			rationale_short TEXT NOT NULL DEFAULT '',
			rationale_neutral TEXT NOT NULL DEFAULT '',
			risks_json TEXT NOT NULL DEFAULT '[]',
			questions_json TEXT NOT NULL DEFAULT '[]',
			instruments_long_json TEXT NOT NULL DEFAULT '[]',
			instruments_short_json TEXT NOT NULL DEFAULT '[]',
			resources_json TEXT NOT NULL DEFAULT '[]',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS feedback (
			id BIGSERIAL PRIMARY KEY,
			email TEXT NOT NULL,
			message TEXT NOT NULL,
			type TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS subscribers (
			email TEXT PRIMARY KEY,
			source TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("store: init schema: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) UpsertSource(ctx context.Context, url, name, kind, category string) (Source, error) {
	url = CanonicalizeURL(url)
	if category == "" {
		category = "Uncategorized"
	}
	row := s.pool.QueryRow(ctx, `
		INSERT INTO sources (url, name, kind, category)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (url) DO UPDATE SET name = EXCLUDED.name, category = EXCLUDED.category
		RETURNING id, url, name, kind, category, created_at`,
		url, name, kind, category)

	var src Source
	if err := row.Scan(&src.ID, &src.URL, &src.Name, &src.Kind, &src.Category, &src.CreatedAt); err != nil {
		return Source{}, fmt.Errorf("store: upsert source: %w", err)
	}
	return src, nil
}

func (s *PostgresStore) ListSourcesByCategory(ctx context.Context) (map[string][]Source, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, url, name, kind, category, created_at FROM sources ORDER BY category, url`)
	if err != nil {
		return nil, fmt.Errorf("store: list sources: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]Source)
	for rows.Next() {
		var src Source
		if err := rows.Scan(&src.ID, &src.URL, &src.Name, &src.Kind, &src.Category, &src.CreatedAt); err != nil {
			return nil, fmt.Errorf("store: scan source: %w", err)
		}
		out[src.Category] = append(out[src.Category], src)
	}
	return out, rows.Err()
}

func (s *PostgresStore) RecordMessage(ctx context.Context, kind, channelID, messageID, sourceURL string, ts time.Time, text string) (bool, int64, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO messages (kind, channel_id, message_id, source_url, ts, text)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (kind, channel_id, message_id) DO NOTHING
		RETURNING pk`,
		kind, channelID, messageID, CanonicalizeURL(sourceURL), ts, text)

	var pk int64
	err := row.Scan(&pk)
	if err == nil {
		return true, pk, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return false, 0, fmt.Errorf("store: record message: %w", err)
	}

	existing := s.pool.QueryRow(ctx, `SELECT pk FROM messages WHERE kind=$1 AND channel_id=$2 AND message_id=$3`, kind, channelID, messageID)
	if err := existing.Scan(&pk); err != nil {
		return false, 0, fmt.Errorf("store: lookup existing message: %w", err)
	}
	return false, pk, nil
}

func (s *PostgresStore) AttachResolvedLinks(ctx context.Context, messagePK int64, jsonText string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE messages SET resolved_links_json=$1 WHERE pk=$2`, jsonText, messagePK)
	if err != nil {
		return fmt.Errorf("store: attach resolved links: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) GetMessagesInWindow(ctx context.Context, sourceURLs []string, since, until time.Time) ([]Message, error) {
	var rows pgx.Rows
	var err error
	if len(sourceURLs) == 0 {
		rows, err = s.pool.Query(ctx, `
			SELECT pk, kind, channel_id, message_id, source_url, ts, text, resolved_links_json, processed, created_at
			FROM messages WHERE ts >= $1 AND ts <= $2 ORDER BY ts ASC`, since, until)
	} else {
		canon := make([]string, len(sourceURLs))
		for i, u := range sourceURLs {
			canon[i] = CanonicalizeURL(u)
		}
		rows, err = s.pool.Query(ctx, `
			SELECT pk, kind, channel_id, message_id, source_url, ts, text, resolved_links_json, processed, created_at
			FROM messages WHERE source_url = ANY($1) AND ts >= $2 AND ts <= $3 ORDER BY ts ASC`, canon, since, until)
	}
	if err != nil {
		return nil, fmt.Errorf("store: messages in window: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.PK, &m.Kind, &m.ChannelID, &m.MessageID, &m.SourceURL, &m.Timestamp, &m.Text, &m.ResolvedLinksJSON, &m.Processed, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("store: scan message: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *PostgresStore) GetMessageByPK(ctx context.Context, pk int64) (Message, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT pk, kind, channel_id, message_id, source_url, ts, text, resolved_links_json, processed, created_at
		FROM messages WHERE pk=$1`, pk)
	var m Message
	if err := row.Scan(&m.PK, &m.Kind, &m.ChannelID, &m.MessageID, &m.SourceURL, &m.Timestamp, &m.Text, &m.ResolvedLinksJSON, &m.Processed, &m.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Message{}, ErrNotFound
		}
		return Message{}, fmt.Errorf("store: get message: %w", err)
	}
	return m, nil
}

func (s *PostgresStore) GetLinkSummary(ctx context.Context, url string) (string, bool, error) {
	row := s.pool.QueryRow(ctx, `SELECT summary_text FROM link_summaries WHERE url=$1`, url)
	var text string
	if err := row.Scan(&text); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("store: get link summary: %w", err)
	}
	return text, true, nil
}

func (s *PostgresStore) PutLinkSummary(ctx context.Context, url, text string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO link_summaries (url, summary_text)
		VALUES ($1, $2)
		ON CONFLICT (url) DO UPDATE SET summary_text = EXCLUDED.summary_text, updated_at = now()`,
		url, text)
	if err != nil {
		return fmt.Errorf("store: put link summary: %w", err)
	}
	return nil
}

func (s *PostgresStore) SaveTopicSummary(ctx context.Context, topic, metatopic string, importance int, messageIDs []int64) (TopicSummary, error) {
	idsJSON, err := json.Marshal(messageIDs)
	if err != nil {
		return TopicSummary{}, fmt.Errorf("store: marshal message ids: %w", err)
	}
	row := s.pool.QueryRow(ctx, `
		INSERT INTO topic_summaries (topic, metatopic, importance, message_ids_json)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at`, topic, metatopic, importance, string(idsJSON))

	ts := TopicSummary{Topic: topic, Metatopic: metatopic, Importance: importance, MessageIDs: messageIDs}
	if err := row.Scan(&ts.ID, &ts.CreatedAt); err != nil {
		return TopicSummary{}, fmt.Errorf("store: save topic summary: %w", err)
	}
	return ts, nil
}

func (s *PostgresStore) SaveInsight(ctx context.Context, insight Insight) error {
	risks, _ := json.Marshal(insight.RisksAndWatchouts)
	questions, _ := json.Marshal(insight.KeyQuestionsForUser)
	instrLong, _ := json.Marshal(insight.SuggestedInstrumentsLong)
	instrShort, _ := json.Marshal(insight.SuggestedInstrumentsShort)
	resources, _ := json.Marshal(insight.UsefulResources)

	_, err := s.pool.Exec(ctx, `
		INSERT INTO insights (topic, analysis_summary, stance, rationale_long, rationale_short, rationale_neutral,
			risks_json, questions_json, instruments_long_json, instruments_short_json, resources_json)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		ON CONFLICT (topic) DO UPDATE SET
			analysis_summary = EXCLUDED.analysis_summary,
			stance = EXCLUDED.stance,
			rationale_long = EXCLUDED.rationale_long,
			rationale_short = EXCLUDED.rationale_short,
			rationale_neutral = EXCLUDED.rationale_neutral,
			risks_json = EXCLUDED.risks_json,
			questions_json = EXCLUDED.questions_json,
			instruments_long_json = EXCLUDED.instruments_long_json,
			instruments_short_json = EXCLUDED.instruments_short_json,
			resources_json = EXCLUDED.resources_json,
			created_at = now()`,
		insight.Topic, insight.AnalysisSummary, string(insight.Stance), insight.RationaleLong, insight.RationaleShort, insight.RationaleNeutral,
		string(risks), string(questions), string(instrLong), string(instrShort), string(resources))
	if err != nil {
		return fmt.Errorf("store: save insight: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetInsight(ctx context.Context, topic string) (Insight, bool, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT topic, analysis_summary, stance, rationale_long, rationale_short, rationale_neutral,
			risks_json, questions_json, instruments_long_json, instruments_short_json, resources_json, created_at
		FROM insights WHERE topic=$1`, topic)

	var ins Insight
	var stance, risks, questions, instrLong, instrShort, resources string
	if err := row.Scan(&ins.Topic, &ins.AnalysisSummary, &stance, &ins.RationaleLong, &ins.RationaleShort, &ins.RationaleNeutral,
		&risks, &questions, &instrLong, &instrShort, &resources, &ins.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Insight{}, false, nil
		}
		return Insight{}, false, fmt.Errorf("store: get insight: %w", err)
	}
	ins.Stance = Stance(stance)
	_ = json.Unmarshal([]byte(risks), &ins.RisksAndWatchouts)
	_ = json.Unmarshal([]byte(questions), &ins.KeyQuestionsForUser)
	_ = json.Unmarshal([]byte(instrLong), &ins.SuggestedInstrumentsLong)
	_ = json.Unmarshal([]byte(instrShort), &ins.SuggestedInstrumentsShort)
	_ = json.Unmarshal([]byte(resources), &ins.UsefulResources)
	return ins, true, nil
}

func (s *PostgresStore) SaveFeedback(ctx context.Context, f Feedback) error {
	_, err := s.pool.Exec(ctx, `INSERT INTO feedback (email, message, type) VALUES ($1,$2,$3)`, f.Email, f.Message, f.Type)
	if err != nil {
		return fmt.Errorf("store: save feedback: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpsertSubscriber(ctx context.Context, email, source string) error {
	email = strings.ToLower(strings.TrimSpace(email))
	_, err := s.pool.Exec(ctx, `
		INSERT INTO subscribers (email, source) VALUES ($1, $2)
		ON CONFLICT (email) DO UPDATE SET source = EXCLUDED.source`, email, source)
	if err != nil {
		return fmt.Errorf("store: upsert subscriber: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

var _ Store = (*PostgresStore)(nil)
