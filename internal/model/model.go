// Package model defines the typed study records shared by the persistence service and the sync client.
package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Kind names a resource collection. The value doubles as the HTTP path segment.
type Kind string

const (
	KindNotes         Kind = "notes"
	KindDecks         Kind = "flashcard-decks"
	KindFlashcards    Kind = "flashcards"
	KindHomeworks     Kind = "homeworks"
	KindTopicSearches Kind = "topic-searches"
)

// ErrUnknownKind indicates that a kind string does not name a supported collection.
var ErrUnknownKind = errors.New("model: unknown resource kind")

// Kinds lists every supported resource kind.
func Kinds() []Kind {
	return []Kind{KindNotes, KindDecks, KindFlashcards, KindHomeworks, KindTopicSearches}
}

// ParseKind validates raw input and returns the matching Kind.
func ParseKind(rawInput string) (Kind, error) {
	trimmed := Kind(strings.ToLower(strings.TrimSpace(rawInput)))
	for _, kind := range Kinds() {
		if kind == trimmed {
			return kind, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownKind, rawInput)
}

// String returns the underlying kind name.
func (k Kind) String() string {
	return string(k)
}

// Singular returns a human label for one record of the kind.
func (k Kind) Singular() string {
	switch k {
	case KindNotes:
		return "note"
	case KindDecks:
		return "flashcard deck"
	case KindFlashcards:
		return "flashcard"
	case KindHomeworks:
		return "homework"
	case KindTopicSearches:
		return "topic search"
	default:
		return string(k)
	}
}

// Record is implemented by every persisted study record.
type Record interface {
	RecordID() uint64
	OwnerID() uint64
	LastUpdated() time.Time
}

// Note is a free-form study note.
type Note struct {
	ID        uint64    `json:"id" gorm:"column:id;primaryKey;autoIncrement"`
	UserID    uint64    `json:"userId" gorm:"column:user_id;not null;index:idx_notes_user_updated,priority:1"`
	Title     string    `json:"title" gorm:"column:title;size:512;not null"`
	Content   *string   `json:"content" gorm:"column:content;type:text"`
	CreatedAt time.Time `json:"createdAt" gorm:"column:created_at;not null;autoCreateTime:false"`
	UpdatedAt time.Time `json:"updatedAt" gorm:"column:updated_at;not null;autoUpdateTime:false;index:idx_notes_user_updated,priority:2"`
}

// TableName provides the explicit table binding for GORM.
func (Note) TableName() string { return "notes" }

func (n Note) RecordID() uint64       { return n.ID }
func (n Note) OwnerID() uint64        { return n.UserID }
func (n Note) LastUpdated() time.Time { return n.UpdatedAt }

// NoteInput is the create payload for a note.
type NoteInput struct {
	Title   string  `json:"title" validate:"notblank,max=512"`
	Content *string `json:"content"`
}

// NotePatch is the partial update payload for a note. A null content clears it.
type NotePatch struct {
	Title   *string          `json:"title,omitempty" validate:"omitnil,notblank,max=512"`
	Content Nullable[string] `json:"content,omitzero"`
}

// Deck groups flashcards under a title.
type Deck struct {
	ID          uint64    `json:"id" gorm:"column:id;primaryKey;autoIncrement"`
	UserID      uint64    `json:"userId" gorm:"column:user_id;not null;index"`
	Title       string    `json:"title" gorm:"column:title;size:512;not null"`
	Description *string   `json:"description" gorm:"column:description;type:text"`
	CreatedAt   time.Time `json:"createdAt" gorm:"column:created_at;not null;autoCreateTime:false"`
	UpdatedAt   time.Time `json:"updatedAt" gorm:"column:updated_at;not null;autoUpdateTime:false"`
}

// TableName provides the explicit table binding for GORM.
func (Deck) TableName() string { return "flashcard_decks" }

func (d Deck) RecordID() uint64       { return d.ID }
func (d Deck) OwnerID() uint64        { return d.UserID }
func (d Deck) LastUpdated() time.Time { return d.UpdatedAt }

// DeckInput is the create payload for a flashcard deck.
type DeckInput struct {
	Title       string  `json:"title" validate:"notblank,max=512"`
	Description *string `json:"description"`
}

// DeckPatch is the partial update payload for a flashcard deck.
type DeckPatch struct {
	Title       *string          `json:"title,omitempty" validate:"omitnil,notblank,max=512"`
	Description Nullable[string] `json:"description,omitzero"`
}

// Flashcard is a single front/back card inside a deck.
type Flashcard struct {
	ID        uint64    `json:"id" gorm:"column:id;primaryKey;autoIncrement"`
	UserID    uint64    `json:"userId" gorm:"column:user_id;not null;index"`
	DeckID    uint64    `json:"deckId" gorm:"column:deck_id;not null;index"`
	Front     string    `json:"front" gorm:"column:front;type:text;not null"`
	Back      string    `json:"back" gorm:"column:back;type:text;not null"`
	CreatedAt time.Time `json:"createdAt" gorm:"column:created_at;not null;autoCreateTime:false"`
	UpdatedAt time.Time `json:"updatedAt" gorm:"column:updated_at;not null;autoUpdateTime:false"`
}

// TableName provides the explicit table binding for GORM.
func (Flashcard) TableName() string { return "flashcards" }

func (f Flashcard) RecordID() uint64       { return f.ID }
func (f Flashcard) OwnerID() uint64        { return f.UserID }
func (f Flashcard) LastUpdated() time.Time { return f.UpdatedAt }

// FlashcardInput is the create payload for a flashcard.
type FlashcardInput struct {
	DeckID uint64 `json:"deckId" validate:"required"`
	Front  string `json:"front" validate:"notblank"`
	Back   string `json:"back" validate:"notblank"`
}

// FlashcardPatch is the partial update payload for a flashcard.
type FlashcardPatch struct {
	DeckID *uint64 `json:"deckId,omitempty" validate:"omitnil,gt=0"`
	Front  *string `json:"front,omitempty" validate:"omitnil,notblank"`
	Back   *string `json:"back,omitempty" validate:"omitnil,notblank"`
}

// Homework tracks an assignment and its completion.
type Homework struct {
	ID        uint64     `json:"id" gorm:"column:id;primaryKey;autoIncrement"`
	UserID    uint64     `json:"userId" gorm:"column:user_id;not null;index"`
	Subject   string     `json:"subject" gorm:"column:subject;size:190;not null"`
	Title     string     `json:"title" gorm:"column:title;size:512;not null"`
	DueDate   *time.Time `json:"dueDate" gorm:"column:due_date"`
	Completed bool       `json:"completed" gorm:"column:completed;not null;default:false"`
	CreatedAt time.Time  `json:"createdAt" gorm:"column:created_at;not null;autoCreateTime:false"`
	UpdatedAt time.Time  `json:"updatedAt" gorm:"column:updated_at;not null;autoUpdateTime:false"`
}

// TableName provides the explicit table binding for GORM.
func (Homework) TableName() string { return "homeworks" }

func (h Homework) RecordID() uint64       { return h.ID }
func (h Homework) OwnerID() uint64        { return h.UserID }
func (h Homework) LastUpdated() time.Time { return h.UpdatedAt }

// HomeworkInput is the create payload for a homework record.
type HomeworkInput struct {
	Subject   string     `json:"subject" validate:"notblank,max=190"`
	Title     string     `json:"title" validate:"notblank,max=512"`
	DueDate   *time.Time `json:"dueDate"`
	Completed bool       `json:"completed"`
}

// HomeworkPatch is the partial update payload for a homework record.
type HomeworkPatch struct {
	Subject   *string             `json:"subject,omitempty" validate:"omitnil,notblank,max=190"`
	Title     *string             `json:"title,omitempty" validate:"omitnil,notblank,max=512"`
	DueDate   Nullable[time.Time] `json:"dueDate,omitzero"`
	Completed *bool               `json:"completed,omitempty"`
}

// TopicSearch records a topic the user looked up, with an optional summary.
type TopicSearch struct {
	ID        uint64    `json:"id" gorm:"column:id;primaryKey;autoIncrement"`
	UserID    uint64    `json:"userId" gorm:"column:user_id;not null;index"`
	Query     string    `json:"query" gorm:"column:query;size:512;not null"`
	Summary   *string   `json:"summary" gorm:"column:summary;type:text"`
	CreatedAt time.Time `json:"createdAt" gorm:"column:created_at;not null;autoCreateTime:false"`
	UpdatedAt time.Time `json:"updatedAt" gorm:"column:updated_at;not null;autoUpdateTime:false"`
}

// TableName provides the explicit table binding for GORM.
func (TopicSearch) TableName() string { return "topic_searches" }

func (s TopicSearch) RecordID() uint64       { return s.ID }
func (s TopicSearch) OwnerID() uint64        { return s.UserID }
func (s TopicSearch) LastUpdated() time.Time { return s.UpdatedAt }

// TopicSearchInput is the create payload for a topic search.
type TopicSearchInput struct {
	Query   string  `json:"query" validate:"notblank,max=512"`
	Summary *string `json:"summary"`
}

// TopicSearchPatch is the partial update payload for a topic search.
type TopicSearchPatch struct {
	Query   *string          `json:"query,omitempty" validate:"omitnil,notblank,max=512"`
	Summary Nullable[string] `json:"summary,omitzero"`
}
