package study

import (
	"time"

	"github.com/MarcoPoloResearchLab/studytrack/internal/model"
	"gorm.io/gorm"
)

// Notes returns the repository for study notes.
func (s *Service) Notes() *Repository[model.Note, model.NoteInput, model.NotePatch] {
	return &Repository[model.Note, model.NoteInput, model.NotePatch]{
		service: s,
		kind:    model.KindNotes,
		hooks: hooks[model.Note, model.NoteInput, model.NotePatch]{
			build: func(ownerID uint64, input model.NoteInput) model.Note {
				return model.Note{UserID: ownerID, Title: input.Title, Content: input.Content}
			},
			apply: func(note *model.Note, patch model.NotePatch) {
				if patch.Title != nil {
					note.Title = *patch.Title
				}
				patch.Content.Apply(&note.Content)
			},
			stamp: func(note *model.Note, at time.Time, created bool) {
				if created {
					note.CreatedAt = at
				}
				note.UpdatedAt = at
			},
		},
	}
}

// Decks returns the repository for flashcard decks. A deck that still holds flashcards cannot be deleted.
func (s *Service) Decks() *Repository[model.Deck, model.DeckInput, model.DeckPatch] {
	return &Repository[model.Deck, model.DeckInput, model.DeckPatch]{
		service: s,
		kind:    model.KindDecks,
		hooks: hooks[model.Deck, model.DeckInput, model.DeckPatch]{
			build: func(ownerID uint64, input model.DeckInput) model.Deck {
				return model.Deck{UserID: ownerID, Title: input.Title, Description: input.Description}
			},
			apply: func(deck *model.Deck, patch model.DeckPatch) {
				if patch.Title != nil {
					deck.Title = *patch.Title
				}
				patch.Description.Apply(&deck.Description)
			},
			stamp: func(deck *model.Deck, at time.Time, created bool) {
				if created {
					deck.CreatedAt = at
				}
				deck.UpdatedAt = at
			},
			guardDelete: func(tx *gorm.DB, ownerID, id uint64) error {
				var cards int64
				if err := tx.Model(&model.Flashcard{}).
					Where("user_id = ? AND deck_id = ?", ownerID, id).
					Count(&cards).Error; err != nil {
					return err
				}
				if cards > 0 {
					return &rejection{reason: "deck_not_empty", message: "flashcard deck still has flashcards"}
				}
				return nil
			},
		},
	}
}

// Flashcards returns the repository for flashcards. Every card must reference a deck of the same user.
func (s *Service) Flashcards() *Repository[model.Flashcard, model.FlashcardInput, model.FlashcardPatch] {
	return &Repository[model.Flashcard, model.FlashcardInput, model.FlashcardPatch]{
		service: s,
		kind:    model.KindFlashcards,
		hooks: hooks[model.Flashcard, model.FlashcardInput, model.FlashcardPatch]{
			build: func(ownerID uint64, input model.FlashcardInput) model.Flashcard {
				return model.Flashcard{UserID: ownerID, DeckID: input.DeckID, Front: input.Front, Back: input.Back}
			},
			apply: func(card *model.Flashcard, patch model.FlashcardPatch) {
				if patch.DeckID != nil {
					card.DeckID = *patch.DeckID
				}
				if patch.Front != nil {
					card.Front = *patch.Front
				}
				if patch.Back != nil {
					card.Back = *patch.Back
				}
			},
			stamp: func(card *model.Flashcard, at time.Time, created bool) {
				if created {
					card.CreatedAt = at
				}
				card.UpdatedAt = at
			},
			verify: func(tx *gorm.DB, card model.Flashcard) error {
				var decks int64
				if err := tx.Model(&model.Deck{}).
					Where("user_id = ? AND id = ?", card.UserID, card.DeckID).
					Count(&decks).Error; err != nil {
					return err
				}
				if decks == 0 {
					return &rejection{reason: "unknown_deck", message: "deckId does not reference a flashcard deck"}
				}
				return nil
			},
		},
	}
}

// Homeworks returns the repository for homework records.
func (s *Service) Homeworks() *Repository[model.Homework, model.HomeworkInput, model.HomeworkPatch] {
	return &Repository[model.Homework, model.HomeworkInput, model.HomeworkPatch]{
		service: s,
		kind:    model.KindHomeworks,
		hooks: hooks[model.Homework, model.HomeworkInput, model.HomeworkPatch]{
			build: func(ownerID uint64, input model.HomeworkInput) model.Homework {
				return model.Homework{
					UserID:    ownerID,
					Subject:   input.Subject,
					Title:     input.Title,
					DueDate:   input.DueDate,
					Completed: input.Completed,
				}
			},
			apply: func(homework *model.Homework, patch model.HomeworkPatch) {
				if patch.Subject != nil {
					homework.Subject = *patch.Subject
				}
				if patch.Title != nil {
					homework.Title = *patch.Title
				}
				patch.DueDate.Apply(&homework.DueDate)
				if patch.Completed != nil {
					homework.Completed = *patch.Completed
				}
			},
			stamp: func(homework *model.Homework, at time.Time, created bool) {
				if created {
					homework.CreatedAt = at
				}
				homework.UpdatedAt = at
			},
		},
	}
}

// TopicSearches returns the repository for topic searches.
func (s *Service) TopicSearches() *Repository[model.TopicSearch, model.TopicSearchInput, model.TopicSearchPatch] {
	return &Repository[model.TopicSearch, model.TopicSearchInput, model.TopicSearchPatch]{
		service: s,
		kind:    model.KindTopicSearches,
		hooks: hooks[model.TopicSearch, model.TopicSearchInput, model.TopicSearchPatch]{
			build: func(ownerID uint64, input model.TopicSearchInput) model.TopicSearch {
				return model.TopicSearch{UserID: ownerID, Query: input.Query, Summary: input.Summary}
			},
			apply: func(search *model.TopicSearch, patch model.TopicSearchPatch) {
				if patch.Query != nil {
					search.Query = *patch.Query
				}
				patch.Summary.Apply(&search.Summary)
			},
			stamp: func(search *model.TopicSearch, at time.Time, created bool) {
				if created {
					search.CreatedAt = at
				}
				search.UpdatedAt = at
			},
		},
	}
}
