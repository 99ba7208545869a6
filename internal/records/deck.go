package records

import "fmt"

// Deck is a navigation cursor over a flashcard sequence. The index always points at an
// existing card, or is 0 when the deck is empty.
type Deck struct {
	cards []Flashcard
	index int
}

// NewDeck positions a cursor on the first card.
func NewDeck(cards []Flashcard) *Deck {
	deck := &Deck{}
	deck.Sync(cards)
	return deck
}

// Len reports the number of cards.
func (d *Deck) Len() int {
	return len(d.cards)
}

// Index reports the current position.
func (d *Deck) Index() int {
	return d.index
}

// Current returns the card under the cursor.
func (d *Deck) Current() (Flashcard, bool) {
	if len(d.cards) == 0 {
		return Flashcard{}, false
	}
	return d.cards[d.index], true
}

// Next advances the cursor, wrapping to the first card.
func (d *Deck) Next() {
	if len(d.cards) == 0 {
		return
	}
	d.index = (d.index + 1) % len(d.cards)
}

// Previous moves the cursor back, wrapping to the last card.
func (d *Deck) Previous() {
	if len(d.cards) == 0 {
		return
	}
	d.index = (d.index - 1 + len(d.cards)) % len(d.cards)
}

// Seek moves the cursor to index.
func (d *Deck) Seek(index int) error {
	if index < 0 || index >= len(d.cards) {
		return fmt.Errorf("%w: index %d outside deck of %d", ErrRecordNotFound, index, len(d.cards))
	}
	d.index = index
	return nil
}

// Append adds cards and moves the cursor to the first of them.
func (d *Deck) Append(cards ...Flashcard) {
	if len(cards) == 0 {
		return
	}
	first := len(d.cards)
	d.cards = append(d.cards, cards...)
	d.index = first
}

// Sync replaces the card sequence, e.g. after a deletion, and clamps the cursor so it never
// points past the end.
func (d *Deck) Sync(cards []Flashcard) {
	d.cards = append(make([]Flashcard, 0, len(cards)), cards...)
	if d.index >= len(d.cards) {
		d.index = max(0, len(d.cards)-1)
	}
}

// Cards returns a copy of the sequence.
func (d *Deck) Cards() []Flashcard {
	return append(make([]Flashcard, 0, len(d.cards)), d.cards...)
}
