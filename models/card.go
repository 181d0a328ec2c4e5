package models

import (
	"time"

	"github.com/google/uuid"
)

// SectionKind describes how a card section's items are rendered.
type SectionKind string

const (
	SectionUnordered SectionKind = "unordered"
	SectionOrdered   SectionKind = "ordered"
	SectionChecklist SectionKind = "checklist"
)

// Item is a single entry within a card section. Checked is only
// meaningful for checklist sections; it round-trips regardless.
type Item struct {
	Text    string `json:"text" msgpack:"text"`
	Checked bool   `json:"checked,omitempty" msgpack:"checked"`
}

// Section is a headed, ordered group of items within a card.
type Section struct {
	Heading string      `json:"heading" msgpack:"heading"`
	Kind    SectionKind `json:"kind" msgpack:"kind"`
	Items   []Item      `json:"items" msgpack:"items"`
}

// CardMeta carries the identity and timestamps of a card.
// ID is assigned once and never changes for the card's lifetime.
type CardMeta struct {
	ID       string    `json:"id" msgpack:"id"`
	Created  time.Time `json:"created" msgpack:"created"`
	Modified time.Time `json:"modified" msgpack:"modified"`
}

// Card is the user-facing document synchronized by the engine:
// a title, a free-form description, and a sequence of structured sections.
type Card struct {
	Title       string    `json:"title" msgpack:"title"`
	Meta        CardMeta  `json:"meta" msgpack:"meta"`
	Description string    `json:"description" msgpack:"description"`
	Sections    []Section `json:"sections" msgpack:"sections"`
}

// NewCard creates a card with a fresh ID and both timestamps set to now.
func NewCard(title string) *Card {
	now := time.Now()
	return &Card{
		Title: title,
		Meta: CardMeta{
			ID:       uuid.New().String(),
			Created:  now,
			Modified: now,
		},
	}
}

// RemoteName returns the card's filename in the remote store.
func (c *Card) RemoteName() string {
	return c.Meta.ID + ".md"
}

// Touch advances Meta.Modified to now, guaranteeing it lands strictly
// after the previous value even when the clock has not visibly moved
// between two rapid edits.
func (c *Card) Touch() {
	now := time.Now()
	if !now.After(c.Meta.Modified) {
		now = c.Meta.Modified.Add(time.Millisecond)
	}
	c.Meta.Modified = now
}

// Clone returns a deep copy. Store reads hand out clones so no two
// callers ever share mutable section slices.
func (c *Card) Clone() *Card {
	if c == nil {
		return nil
	}
	dup := *c
	dup.Sections = make([]Section, len(c.Sections))
	for i, s := range c.Sections {
		sec := s
		sec.Items = make([]Item, len(s.Items))
		copy(sec.Items, s.Items)
		dup.Sections[i] = sec
	}
	return &dup
}

// RemoteFileMeta describes one file in the remote store's listing.
// Name maps 1:1 to a card via name == meta.id + ".md".
type RemoteFileMeta struct {
	Path        string    `json:"path"`
	Name        string    `json:"name"`
	Modified    time.Time `json:"modified"`
	Size        int64     `json:"size"`
	ETag        string    `json:"etag,omitempty"`
	DownloadRef string    `json:"download_ref,omitempty"`
}

// CardIDFromFileName strips the ".md" suffix, returning the card ID a
// remote filename maps to, or "" when the name has no such suffix.
func CardIDFromFileName(name string) string {
	const suffix = ".md"
	if len(name) <= len(suffix) || name[len(name)-len(suffix):] != suffix {
		return ""
	}
	return name[:len(name)-len(suffix)]
}
