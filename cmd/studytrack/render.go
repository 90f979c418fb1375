package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/MarcoPoloResearchLab/studytrack/internal/model"
)

const timeLayout = "2006-01-02 15:04"

type table[T any] struct {
	headers []string
	row     func(T) []string
}

var (
	noteRow = table[model.Note]{
		headers: []string{"ID", "TITLE", "UPDATED"},
		row: func(n model.Note) []string {
			return []string{id(n.ID), n.Title, stamp(n.UpdatedAt)}
		},
	}
	deckRow = table[model.Deck]{
		headers: []string{"ID", "TITLE", "DESCRIPTION", "UPDATED"},
		row: func(d model.Deck) []string {
			return []string{id(d.ID), d.Title, optional(d.Description), stamp(d.UpdatedAt)}
		},
	}
	flashcardRow = table[model.Flashcard]{
		headers: []string{"ID", "DECK", "FRONT", "BACK"},
		row: func(f model.Flashcard) []string {
			return []string{id(f.ID), id(f.DeckID), f.Front, f.Back}
		},
	}
	homeworkRow = table[model.Homework]{
		headers: []string{"ID", "SUBJECT", "TITLE", "DUE", "DONE"},
		row: func(h model.Homework) []string {
			due := "-"
			if h.DueDate != nil {
				due = stamp(*h.DueDate)
			}
			return []string{id(h.ID), h.Subject, h.Title, due, strconv.FormatBool(h.Completed)}
		},
	}
	topicSearchRow = table[model.TopicSearch]{
		headers: []string{"ID", "QUERY", "SUMMARY"},
		row: func(s model.TopicSearch) []string {
			return []string{id(s.ID), s.Query, optional(s.Summary)}
		},
	}
)

func (t table[T]) write(out io.Writer, records []T) error {
	if len(records) == 0 {
		_, err := fmt.Fprintln(out, "(none)")
		return err
	}
	writer := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(writer, strings.Join(t.headers, "\t"))
	for _, record := range records {
		fmt.Fprintln(writer, strings.Join(t.row(record), "\t"))
	}
	return writer.Flush()
}

func writeJSON(out io.Writer, value any) error {
	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(value)
}

func id(value uint64) string {
	return strconv.FormatUint(value, 10)
}

func stamp(value time.Time) string {
	return value.Local().Format(timeLayout)
}

func optional(value *string) string {
	if value == nil || *value == "" {
		return "-"
	}
	return *value
}
