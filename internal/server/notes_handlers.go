package server

import (
	"io"
	"net/http"

	"github.com/MarcoPoloResearchLab/pds/internal/notebook"
	"github.com/MarcoPoloResearchLab/pds/internal/snowflake"
	"github.com/gin-gonic/gin"
)

type noteCreateRequest struct {
	Fields *notebook.NoteFields `json:"fields" binding:"required"`
}

type noteUpdateRequest struct {
	ID             *snowflake.ID        `json:"id" binding:"required"`
	Fields         *notebook.NoteFields `json:"fields" binding:"required"`
	CreatedAt      *string              `json:"created_at" binding:"required"`
	LastModifiedAt *string              `json:"last_modified_at" binding:"required"`
}

func (h *httpHandler) handleListNotes(c *gin.Context) {
	c.JSON(http.StatusOK, h.notesResponse(h.notebook.Notes()))
}

func (h *httpHandler) handleSearchNotes(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		badRequest(c, err)
		return
	}
	filter, err := notebook.UnmarshalFilter(body)
	if err != nil {
		badRequest(c, err)
		return
	}
	c.JSON(http.StatusOK, h.notesResponse(h.notebook.FilterNotes(filter)))
}

func (h *httpHandler) handleGetNote(c *gin.Context) {
	id, ok := parseIDParam(c)
	if !ok {
		return
	}
	note, found := h.notebook.Note(id)
	if !found {
		notFound(c, notebook.ObjectTypeNote)
		return
	}
	c.JSON(http.StatusOK, h.noteResponse(note))
}

func (h *httpHandler) handleCreateNote(c *gin.Context) {
	var request noteCreateRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		badRequest(c, err)
		return
	}
	id, ok := h.newID(c, notebook.ObjectTypeNote)
	if !ok {
		return
	}

	now := h.now()
	note := notebook.Note{
		ID:             id,
		Fields:         *request.Fields,
		CreatedAt:      now,
		LastModifiedAt: now,
	}
	if err := h.notebook.PutNote(c.Request.Context(), note); err != nil {
		h.respondStoreError(c, notebook.ObjectTypeNote, err)
		return
	}
	h.publishChange(notebook.ObjectTypeNote, id, false)
	c.JSON(http.StatusCreated, h.noteResponse(note))
}

func (h *httpHandler) handleUpdateNote(c *gin.Context) {
	id, ok := parseIDParam(c)
	if !ok {
		return
	}
	var request noteUpdateRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		badRequest(c, err)
		return
	}
	if *request.ID != id {
		idMismatch(c)
		return
	}
	if _, found := h.notebook.Note(id); !found {
		notFound(c, notebook.ObjectTypeNote)
		return
	}

	note := notebook.Note{
		ID:             id,
		Fields:         *request.Fields,
		CreatedAt:      *request.CreatedAt,
		LastModifiedAt: h.now(),
	}
	if err := h.notebook.PutNote(c.Request.Context(), note); err != nil {
		h.respondStoreError(c, notebook.ObjectTypeNote, err)
		return
	}
	h.publishChange(notebook.ObjectTypeNote, id, false)
	c.JSON(http.StatusOK, h.noteResponse(note))
}

func (h *httpHandler) handleDeleteNote(c *gin.Context) {
	id, ok := parseIDParam(c)
	if !ok {
		return
	}
	if err := h.notebook.DeleteNote(c.Request.Context(), id); err != nil {
		h.respondStoreError(c, notebook.ObjectTypeNote, err)
		return
	}
	h.publishChange(notebook.ObjectTypeNote, id, true)
	c.Status(http.StatusNoContent)
}
