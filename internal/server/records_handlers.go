package server

import (
	"net/http"

	"github.com/MarcoPoloResearchLab/studyaid/backend/internal/records"
	"github.com/gin-gonic/gin"
)

type recordsResponsePayload struct {
	records.Bundle
	LifetimeAverage int    `json:"lifetimeAverage"`
	Warning         string `json:"warning,omitempty"`
}

func (h *httpHandler) recordsResponse(warning string) recordsResponsePayload {
	bundle := h.store.Records()
	return recordsResponsePayload{
		Bundle:          bundle,
		LifetimeAverage: bundle.LifetimeAverage(),
		Warning:         warning,
	}
}

func (h *httpHandler) handleGetRecords(c *gin.Context) {
	c.JSON(http.StatusOK, h.recordsResponse(""))
}

func (h *httpHandler) handleSaveRecords(c *gin.Context) {
	payload, err := c.GetRawData()
	if err != nil || len(payload) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	warning, err := warningFor(h.store.SaveRecords(c.Param("collection"), payload))
	if err != nil {
		h.respondError(c, err)
		return
	}
	if c.Param("collection") == string(records.CollectionFlashcards) {
		h.decks.view(sessionEmail(c), h.store.Records().Flashcards, nil)
	}
	c.JSON(http.StatusOK, h.recordsResponse(warning))
}

type flashcardPayload struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
	ImageURL string `json:"imageUrl"`
}

type addFlashcardsRequestPayload struct {
	Flashcards []flashcardPayload `json:"flashcards"`
}

func (h *httpHandler) handleAddFlashcards(c *gin.Context) {
	var request addFlashcardsRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || len(request.Flashcards) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	drafts := make([]records.FlashcardDraft, 0, len(request.Flashcards))
	for _, card := range request.Flashcards {
		drafts = append(drafts, records.FlashcardDraft{Question: card.Question, Answer: card.Answer, ImageURL: card.ImageURL})
	}

	before := h.store.Records().Flashcards
	added, err := h.store.AddFlashcards(drafts...)
	warning, err := warningFor(err)
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.decks.appended(sessionEmail(c), before, added)
	c.JSON(http.StatusCreated, withWarning(gin.H{"flashcards": added}, warning))
}

func (h *httpHandler) handleDeleteFlashcard(c *gin.Context) {
	warning, err := warningFor(h.store.DeleteFlashcard(records.RecordID(c.Param("id"))))
	if err != nil {
		h.respondError(c, err)
		return
	}
	deck := h.decks.view(sessionEmail(c), h.store.Records().Flashcards, nil)
	c.JSON(http.StatusOK, withWarning(gin.H{"deleted": c.Param("id"), "deck": deck}, warning))
}

func (h *httpHandler) handleDeck(c *gin.Context) {
	c.JSON(http.StatusOK, h.decks.view(sessionEmail(c), h.store.Records().Flashcards, nil))
}

func (h *httpHandler) handleDeckNext(c *gin.Context) {
	c.JSON(http.StatusOK, h.decks.view(sessionEmail(c), h.store.Records().Flashcards, (*records.Deck).Next))
}

func (h *httpHandler) handleDeckPrevious(c *gin.Context) {
	c.JSON(http.StatusOK, h.decks.view(sessionEmail(c), h.store.Records().Flashcards, (*records.Deck).Previous))
}

type recordQuizRequestPayload struct {
	Score          *int   `json:"score"`
	TotalQuestions int    `json:"totalQuestions"`
	Difficulty     string `json:"difficulty"`
}

func (h *httpHandler) handleRecordQuiz(c *gin.Context) {
	var request recordQuizRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || request.Score == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	quiz, err := h.store.RecordQuiz(records.QuizResult{
		Score:          *request.Score,
		TotalQuestions: request.TotalQuestions,
		Difficulty:     request.Difficulty,
	})
	warning, err := warningFor(err)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, withWarning(gin.H{
		"quiz":      quiz,
		"quizStats": h.store.Records().QuizStats,
	}, warning))
}

type quizStatsRequestPayload struct {
	Score *float64 `json:"score"`
}

func (h *httpHandler) handleQuizStats(c *gin.Context) {
	var request quizStatsRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || request.Score == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	warning, err := warningFor(h.store.UpdateQuizStats(*request.Score))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, withWarning(gin.H{"quizStats": h.store.Records().QuizStats}, warning))
}

type addNoteRequestPayload struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

func (h *httpHandler) handleAddNote(c *gin.Context) {
	var request addNoteRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	note, err := h.store.AddNote(request.Title, request.Content)
	warning, err := warningFor(err)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, withWarning(gin.H{"note": note}, warning))
}

func (h *httpHandler) handleDeleteNote(c *gin.Context) {
	warning, err := warningFor(h.store.DeleteNote(records.RecordID(c.Param("id"))))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, withWarning(gin.H{"deleted": c.Param("id")}, warning))
}
