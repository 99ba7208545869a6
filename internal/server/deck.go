package server

import (
	"sync"

	"github.com/MarcoPoloResearchLab/studyaid/backend/internal/records"
)

// deckRegistry keeps one flashcard cursor per identity across requests.
type deckRegistry struct {
	mu    sync.Mutex
	decks map[string]*records.Deck
}

type deckResponsePayload struct {
	Index int                `json:"index"`
	Total int                `json:"total"`
	Card  *records.Flashcard `json:"card,omitempty"`
}

func newDeckRegistry() *deckRegistry {
	return &deckRegistry{decks: make(map[string]*records.Deck)}
}

// view syncs the identity's cursor with cards, applies move, and reports the position.
func (r *deckRegistry) view(email string, cards []records.Flashcard, move func(deck *records.Deck)) deckResponsePayload {
	r.mu.Lock()
	defer r.mu.Unlock()
	deck := r.deckLocked(email)
	deck.Sync(cards)
	if move != nil {
		move(deck)
	}
	return describe(deck)
}

// appended positions the cursor on the first of added, which were appended after before.
func (r *deckRegistry) appended(email string, before, added []records.Flashcard) {
	r.mu.Lock()
	defer r.mu.Unlock()
	deck := r.deckLocked(email)
	deck.Sync(before)
	deck.Append(added...)
}

func (r *deckRegistry) forget(email string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.decks, email)
}

func (r *deckRegistry) deckLocked(email string) *records.Deck {
	deck, ok := r.decks[email]
	if !ok {
		deck = records.NewDeck(nil)
		r.decks[email] = deck
	}
	return deck
}

func describe(deck *records.Deck) deckResponsePayload {
	response := deckResponsePayload{Index: deck.Index(), Total: deck.Len()}
	if card, ok := deck.Current(); ok {
		response.Card = &card
	}
	return response
}
