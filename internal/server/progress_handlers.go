package server

import (
	"net/http"

	"github.com/MarcoPoloResearchLab/studyaid/backend/internal/progress"
	"github.com/MarcoPoloResearchLab/studyaid/backend/internal/records"
	"github.com/gin-gonic/gin"
)

type flashcardStatusRequestPayload struct {
	Status string `json:"status"`
}

func (h *httpHandler) handleFlashcardStatus(c *gin.Context) {
	var request flashcardStatusRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	cardID := records.RecordID(c.Param("id"))
	warning, err := warningFor(h.tracker.UpdateFlashcardStatus(cardID, progress.FlashcardStatus(request.Status)))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, withWarning(gin.H{"id": cardID, "status": request.Status}, warning))
}

type studyTimeRequestPayload struct {
	Minutes int `json:"minutes"`
}

func (h *httpHandler) handleStudyTime(c *gin.Context) {
	var request studyTimeRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	session, err := h.tracker.RecordStudyTime(request.Minutes)
	warning, err := warningFor(err)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, withWarning(gin.H{"session": session}, warning))
}

func (h *httpHandler) handleStats(c *gin.Context) {
	c.JSON(http.StatusOK, h.aggregator.Stats())
}
