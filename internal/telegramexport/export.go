// Package telegramexport parses the Telegram channel-export JSON accepted
// by POST /upload-telegram-export (spec.md §6): a flat list of channels,
// each with an id, name, optional url, and status flags.
package telegramexport

import (
	"encoding/json"
	"fmt"
	"io"

	"chanalystd/internal/clusterer"
)

// rawChannel mirrors one entry of Telegram's export schema. Several field
// name variants are accepted since the source has diverging schema
// revisions (see spec.md §9); the newest/richest shape wins.
type rawChannel struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	Title           string `json:"title"`
	URL             string `json:"url"`
	Link            string `json:"link"`
	LastMessageDate string `json:"last_message_date"`
	Left            bool   `json:"left"`
}

// Parse decodes the uploaded export, accepting either a bare JSON array or
// an object with a top-level "channels" array.
func Parse(r io.Reader) ([]clusterer.Channel, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("telegramexport: read: %w", err)
	}

	var items []rawChannel
	if err := json.Unmarshal(raw, &items); err != nil {
		var wrapped struct {
			Channels []rawChannel `json:"channels"`
		}
		if err2 := json.Unmarshal(raw, &wrapped); err2 != nil {
			return nil, fmt.Errorf("telegramexport: invalid export payload: %w", err)
		}
		items = wrapped.Channels
	}

	out := make([]clusterer.Channel, 0, len(items))
	for _, it := range items {
		name := it.Name
		if name == "" {
			name = it.Title
		}
		url := it.URL
		if url == "" {
			url = it.Link
		}
		if it.ID == "" {
			continue
		}
		out = append(out, clusterer.Channel{
			ID:              it.ID,
			Name:            name,
			URL:             url,
			LastMessageDate: it.LastMessageDate,
			Left:            it.Left,
		})
	}
	return out, nil
}
