package server

import (
	"encoding/json"
	"net/http"

	"github.com/MarcoPoloResearchLab/pds/internal/notebook"
	"github.com/MarcoPoloResearchLab/pds/internal/snowflake"
	"github.com/gin-gonic/gin"
)

type tagRequest struct {
	ID   *snowflake.ID `json:"id"`
	Name *string       `json:"name" binding:"required"`
}

type attachmentRequest struct {
	ID          *snowflake.ID `json:"id"`
	Hash        *string       `json:"hash" binding:"required"`
	Filename    *string       `json:"filename"`
	ContentType *string       `json:"content_type" binding:"required"`
	Width       *int64        `json:"width"`
	Height      *int64        `json:"height"`
	Duration    *float64      `json:"duration"`
}

type feedRequest struct {
	ID       *snowflake.ID        `json:"id"`
	Name     *string              `json:"name" binding:"required"`
	Filter   json.RawMessage      `json:"filter" binding:"required"`
	Origin   *notebook.FeedOrigin `json:"origin" binding:"required"`
	Ordering *notebook.Ordering   `json:"ordering" binding:"required"`
}

func (r feedRequest) feed(id snowflake.ID) (notebook.Feed, error) {
	filter, err := notebook.UnmarshalFilter(r.Filter)
	if err != nil {
		return notebook.Feed{}, err
	}
	return notebook.Feed{
		ID:       id,
		Name:     *r.Name,
		Filter:   filter,
		Origin:   *r.Origin,
		Ordering: *r.Ordering,
	}, nil
}

func (r attachmentRequest) attachment(id snowflake.ID) notebook.Attachment {
	return notebook.Attachment{
		ID:          id,
		Hash:        *r.Hash,
		Filename:    r.Filename,
		ContentType: *r.ContentType,
		Width:       r.Width,
		Height:      r.Height,
		Duration:    r.Duration,
	}
}

// bindUpdate decodes a PUT body and checks that its id matches the path.
func bindUpdate(c *gin.Context, request any, bodyID func() *snowflake.ID) (snowflake.ID, bool) {
	id, ok := parseIDParam(c)
	if !ok {
		return 0, false
	}
	if err := c.ShouldBindJSON(request); err != nil {
		badRequest(c, err)
		return 0, false
	}
	if claimed := bodyID(); claimed == nil || *claimed != id {
		idMismatch(c)
		return 0, false
	}
	return id, true
}

func (h *httpHandler) handleListTags(c *gin.Context) {
	c.JSON(http.StatusOK, simpleResponse(h.notebook.Tags()))
}

func (h *httpHandler) handleGetTag(c *gin.Context) {
	id, ok := parseIDParam(c)
	if !ok {
		return
	}
	tag, found := h.notebook.Tag(id)
	if !found {
		notFound(c, notebook.ObjectTypeTag)
		return
	}
	c.JSON(http.StatusOK, simpleResponse(tag))
}

func (h *httpHandler) handleCreateTag(c *gin.Context) {
	var request tagRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		badRequest(c, err)
		return
	}
	id, ok := h.newID(c, notebook.ObjectTypeTag)
	if !ok {
		return
	}
	tag := notebook.Tag{ID: id, Name: *request.Name}
	if err := h.notebook.PutTag(c.Request.Context(), tag); err != nil {
		h.respondStoreError(c, notebook.ObjectTypeTag, err)
		return
	}
	h.publishChange(notebook.ObjectTypeTag, id, false)
	c.JSON(http.StatusCreated, simpleResponse(tag))
}

func (h *httpHandler) handleUpdateTag(c *gin.Context) {
	var request tagRequest
	id, ok := bindUpdate(c, &request, func() *snowflake.ID { return request.ID })
	if !ok {
		return
	}
	if _, found := h.notebook.Tag(id); !found {
		notFound(c, notebook.ObjectTypeTag)
		return
	}
	tag := notebook.Tag{ID: id, Name: *request.Name}
	if err := h.notebook.PutTag(c.Request.Context(), tag); err != nil {
		h.respondStoreError(c, notebook.ObjectTypeTag, err)
		return
	}
	h.publishChange(notebook.ObjectTypeTag, id, false)
	c.JSON(http.StatusOK, simpleResponse(tag))
}

func (h *httpHandler) handleDeleteTag(c *gin.Context) {
	id, ok := parseIDParam(c)
	if !ok {
		return
	}
	if err := h.notebook.DeleteTag(c.Request.Context(), id); err != nil {
		h.respondStoreError(c, notebook.ObjectTypeTag, err)
		return
	}
	h.publishChange(notebook.ObjectTypeTag, id, true)
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleListAttachments(c *gin.Context) {
	c.JSON(http.StatusOK, simpleResponse(h.notebook.Attachments()))
}

func (h *httpHandler) handleGetAttachment(c *gin.Context) {
	id, ok := parseIDParam(c)
	if !ok {
		return
	}
	attachment, found := h.notebook.Attachment(id)
	if !found {
		notFound(c, notebook.ObjectTypeAttachment)
		return
	}
	c.JSON(http.StatusOK, simpleResponse(attachment))
}

func (h *httpHandler) handleCreateAttachment(c *gin.Context) {
	var request attachmentRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		badRequest(c, err)
		return
	}
	id, ok := h.newID(c, notebook.ObjectTypeAttachment)
	if !ok {
		return
	}
	attachment := request.attachment(id)
	if err := h.notebook.PutAttachment(c.Request.Context(), attachment); err != nil {
		h.respondStoreError(c, notebook.ObjectTypeAttachment, err)
		return
	}
	h.publishChange(notebook.ObjectTypeAttachment, id, false)
	c.JSON(http.StatusCreated, simpleResponse(attachment))
}

func (h *httpHandler) handleUpdateAttachment(c *gin.Context) {
	var request attachmentRequest
	id, ok := bindUpdate(c, &request, func() *snowflake.ID { return request.ID })
	if !ok {
		return
	}
	if _, found := h.notebook.Attachment(id); !found {
		notFound(c, notebook.ObjectTypeAttachment)
		return
	}
	attachment := request.attachment(id)
	if err := h.notebook.PutAttachment(c.Request.Context(), attachment); err != nil {
		h.respondStoreError(c, notebook.ObjectTypeAttachment, err)
		return
	}
	h.publishChange(notebook.ObjectTypeAttachment, id, false)
	c.JSON(http.StatusOK, simpleResponse(attachment))
}

func (h *httpHandler) handleDeleteAttachment(c *gin.Context) {
	id, ok := parseIDParam(c)
	if !ok {
		return
	}
	if err := h.notebook.DeleteAttachment(c.Request.Context(), id); err != nil {
		h.respondStoreError(c, notebook.ObjectTypeAttachment, err)
		return
	}
	h.publishChange(notebook.ObjectTypeAttachment, id, true)
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleListFeeds(c *gin.Context) {
	c.JSON(http.StatusOK, simpleResponse(h.notebook.Feeds()))
}

func (h *httpHandler) handleGetFeed(c *gin.Context) {
	id, ok := parseIDParam(c)
	if !ok {
		return
	}
	feed, found := h.notebook.Feed(id)
	if !found {
		notFound(c, notebook.ObjectTypeFeed)
		return
	}
	c.JSON(http.StatusOK, simpleResponse(feed))
}

func (h *httpHandler) handleFeedContents(c *gin.Context) {
	id, ok := parseIDParam(c)
	if !ok {
		return
	}
	contents, err := h.notebook.FeedContents(id)
	if err != nil {
		h.respondStoreError(c, notebook.ObjectTypeFeed, err)
		return
	}
	c.JSON(http.StatusOK, h.notesResponse(contents))
}

func (h *httpHandler) handleCreateFeed(c *gin.Context) {
	var request feedRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		badRequest(c, err)
		return
	}
	id, ok := h.newID(c, notebook.ObjectTypeFeed)
	if !ok {
		return
	}
	feed, err := request.feed(id)
	if err != nil {
		badRequest(c, err)
		return
	}
	if err := h.notebook.PutFeed(c.Request.Context(), feed); err != nil {
		h.respondStoreError(c, notebook.ObjectTypeFeed, err)
		return
	}
	h.publishChange(notebook.ObjectTypeFeed, id, false)
	c.JSON(http.StatusCreated, simpleResponse(feed))
}

func (h *httpHandler) handleUpdateFeed(c *gin.Context) {
	var request feedRequest
	id, ok := bindUpdate(c, &request, func() *snowflake.ID { return request.ID })
	if !ok {
		return
	}
	feed, err := request.feed(id)
	if err != nil {
		badRequest(c, err)
		return
	}
	if _, found := h.notebook.Feed(id); !found {
		notFound(c, notebook.ObjectTypeFeed)
		return
	}
	if err := h.notebook.PutFeed(c.Request.Context(), feed); err != nil {
		h.respondStoreError(c, notebook.ObjectTypeFeed, err)
		return
	}
	h.publishChange(notebook.ObjectTypeFeed, id, false)
	c.JSON(http.StatusOK, simpleResponse(feed))
}

func (h *httpHandler) handleDeleteFeed(c *gin.Context) {
	id, ok := parseIDParam(c)
	if !ok {
		return
	}
	if err := h.notebook.DeleteFeed(c.Request.Context(), id); err != nil {
		h.respondStoreError(c, notebook.ObjectTypeFeed, err)
		return
	}
	h.publishChange(notebook.ObjectTypeFeed, id, true)
	c.Status(http.StatusNoContent)
}
