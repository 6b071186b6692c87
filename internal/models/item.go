package models

import (
	"errors"
	"strings"
	"time"
)

// Item is the demo resource served by the collection endpoints.
type Item struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Category  string    `json:"category"`
	Tags      []string  `json:"tags"`
	CreatedAt time.Time `json:"created_at"`
}

// Validate checks the fields a caller must supply. ID and CreatedAt are
// assigned by storage when zero.
func (i *Item) Validate() error {
	if strings.TrimSpace(i.Name) == "" {
		return errors.New("item name cannot be empty")
	}
	if len(i.Name) > 200 {
		return errors.New("item name cannot exceed 200 characters")
	}
	if strings.TrimSpace(i.Category) == "" {
		return errors.New("item category cannot be empty")
	}
	if i.ID < 0 {
		return errors.New("item id cannot be negative")
	}
	return nil
}

// Normalize trims whitespace, drops empty tags and stores timestamps in UTC.
func (i *Item) Normalize() {
	i.Name = strings.TrimSpace(i.Name)
	i.Category = strings.ToLower(strings.TrimSpace(i.Category))

	tags := make([]string, 0, len(i.Tags))
	for _, t := range i.Tags {
		if t = strings.TrimSpace(t); t != "" {
			tags = append(tags, t)
		}
	}
	i.Tags = tags

	if !i.CreatedAt.IsZero() {
		i.CreatedAt = i.CreatedAt.UTC()
	}
}
