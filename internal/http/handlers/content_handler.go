// Content HTTP handlers.
//
// This file exposes REST endpoints for learning content and its map:
//   - POST /contents                     (register content with sections)
//   - GET  /contents                     (list own content)
//   - GET  /contents/{id}                (content with sections)
//   - DELETE /contents/{id}              (content and everything derived from it)
//   - POST /contents/{id}/learning-map   (generate the learning map)
//   - GET  /contents/{id}/learning-map   (read the stored learning map)
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-tutor-backend/internal/domain"
	"github.com/tbourn/go-tutor-backend/internal/repo"
	"github.com/tbourn/go-tutor-backend/internal/services"
)

//
// DTOs
//

// SectionRequest is one pre-extracted section of a document.
type SectionRequest struct {
	Title string `json:"title" example:"Adjacency lists"`
	Text  string `json:"text" binding:"required" example:"An adjacency list stores, for each node, the nodes it links to."`
}

// CreateContentRequest is the JSON payload for registering content.
type CreateContentRequest struct {
	Title       string           `json:"title" binding:"required" example:"Graph algorithms"`
	Description string           `json:"description" example:"Lecture notes, week 3"`
	Sections    []SectionRequest `json:"sections" binding:"required,min=1,dive"`
}

// ListContentsResponse wraps the user's content.
type ListContentsResponse struct {
	Contents []domain.Content `json:"contents"`
}

//
// Handlers
//

// CreateContent godoc
// @ID          createContent
// @Summary     Register content
// @Description Stores a document's pre-extracted sections and queues them for search indexing.
// @Description The returned index_status is PENDING until indexing finishes.
// @Tags        Contents
// @Accept      json
// @Produce     json
//
// @Param       X-User-ID  header  string  false "User ID (demo header)"  example(user123)
// @Param       body       body    handlers.CreateContentRequest  true  "Content payload"
//
// @Success     201  {object}  domain.Content
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /contents [post]
func (h *Handlers) CreateContent(c *gin.Context) {
	var req CreateContentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "title and at least one section required")
		return
	}

	in := services.NewContent{Title: req.Title, Description: req.Description}
	for _, s := range req.Sections {
		in.Sections = append(in.Sections, repo.SectionInput{Title: s.Title, Text: s.Text})
	}

	content, _, err := h.contents.Create(c.Request.Context(), userID(c), in)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusCreated, content)
}

// ListContents godoc
// @ID          listContents
// @Summary     List content
// @Tags        Contents
// @Produce     json
//
// @Param       X-User-ID  header  string  false "User ID (demo header)"  example(user123)
//
// @Success     200  {object}  handlers.ListContentsResponse
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /contents [get]
func (h *Handlers) ListContents(c *gin.Context) {
	items, err := h.contents.List(c.Request.Context(), userID(c))
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}
	ok(c, http.StatusOK, ListContentsResponse{Contents: items})
}

// GetContent godoc
// @ID          getContent
// @Summary     Get content with sections
// @Tags        Contents
// @Produce     json
//
// @Param       X-User-ID  header  string  false "User ID (demo header)"  example(user123)
// @Param       id         path    string  true  "Content ID (UUID)"      format(uuid)
//
// @Success     200  {object}  domain.Content
// @Failure     404  {object}  handlers.ErrorResponse  "Content not found"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /contents/{id} [get]
func (h *Handlers) GetContent(c *gin.Context) {
	content, err := h.contents.Get(c.Request.Context(), userID(c), c.Param("id"))
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, content)
}

// GenerateLearningMap godoc
// @ID          generateLearningMap
// @Summary     Generate a learning map
// @Description Asks the planner to split the content into ordered concepts. Replaces any
// @Description previous map; open sessions on the content restart at the new first concept.
// @Tags        Contents
// @Produce     json
//
// @Param       X-User-ID  header  string  false "User ID (demo header)"  example(user123)
// @Param       id         path    string  true  "Content ID (UUID)"      format(uuid)
//
// @Success     201  {object}  domain.LearningMap
// @Failure     400  {object}  handlers.ErrorResponse  "Content has no sections"
// @Failure     404  {object}  handlers.ErrorResponse  "Content not found"
// @Failure     502  {object}  handlers.ErrorResponse  "AI provider unavailable"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /contents/{id}/learning-map [post]
func (h *Handlers) GenerateLearningMap(c *gin.Context) {
	m, err := h.planner.Generate(c.Request.Context(), userID(c), c.Param("id"))
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusCreated, m)
}

// GetLearningMap godoc
// @ID          getLearningMap
// @Summary     Get the learning map
// @Tags        Contents
// @Produce     json
//
// @Param       X-User-ID  header  string  false "User ID (demo header)"  example(user123)
// @Param       id         path    string  true  "Content ID (UUID)"      format(uuid)
//
// @Success     200  {object}  domain.LearningMap
// @Failure     404  {object}  handlers.ErrorResponse  "Content or map not found"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /contents/{id}/learning-map [get]
func (h *Handlers) GetLearningMap(c *gin.Context) {
	m, err := h.planner.Get(c.Request.Context(), userID(c), c.Param("id"))
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, m)
}

// DeleteContent godoc
// @ID          deleteContent
// @Summary     Delete content
// @Description Removes the content with its sections, learning map, sessions, interactions
// @Description and notes, and clears its sections from the search index.
// @Tags        Contents
//
// @Param       X-User-ID  header  string  false "User ID (demo header)"  example(user123)
// @Param       id         path    string  true  "Content ID (UUID)"      format(uuid)
//
// @Success     204  "Deleted"
// @Failure     404  {object}  handlers.ErrorResponse  "Content not found"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /contents/{id} [delete]
func (h *Handlers) DeleteContent(c *gin.Context) {
	if err := h.contents.Delete(c.Request.Context(), userID(c), c.Param("id")); err != nil {
		failErr(c, err)
		return
	}
	noContent(c)
}
