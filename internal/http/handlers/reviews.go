package handlers

import (
	"net/http"
	"strconv"

	"animehub-be/internal/http/middleware"
	"animehub-be/internal/review"

	"github.com/gin-gonic/gin"
)

type ReviewHandler struct {
	Reviews *review.Service
}

// input reads the review form. JSON bodies are accepted too, without an
// image.
func (h *ReviewHandler) input(c *gin.Context) (review.Input, bool) {
	if !isMultipart(c) && c.ContentType() == "application/json" {
		var req struct {
			AnimeTitle string      `json:"animeTitle"`
			ReviewText string      `json:"reviewText"`
			Rating     interface{} `json:"rating"`
		}
		if !bindJSON(c, &req) {
			return review.Input{}, false
		}
		return review.Input{Title: req.AnimeTitle, Text: req.ReviewText, Rating: ratingString(req.Rating)}, true
	}
	img, err := formFile(c, "animeImage")
	if err != nil {
		fail(c, err)
		return review.Input{}, false
	}
	return review.Input{
		Title:  c.PostForm("animeTitle"),
		Text:   c.PostForm("reviewText"),
		Rating: c.PostForm("rating"),
		Image:  img,
	}, true
}

func ratingString(v interface{}) string {
	switch r := v.(type) {
	case string:
		return r
	case float64:
		if r == float64(int(r)) {
			return strconv.Itoa(int(r))
		}
		return "invalid"
	}
	return ""
}

func (h *ReviewHandler) Create(c *gin.Context) {
	in, ok := h.input(c)
	if !ok {
		return
	}
	r, err := h.Reviews.Create(c.Request.Context(), middleware.MustUserID(c), in)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": "Review added successfully", "review": r})
}

func (h *ReviewHandler) List(c *gin.Context) {
	list, err := h.Reviews.List(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (h *ReviewHandler) ListMine(c *gin.Context) {
	list, err := h.Reviews.ListMine(c.Request.Context(), middleware.MustUserID(c))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (h *ReviewHandler) Update(c *gin.Context) {
	id, ok := paramID(c, "review")
	if !ok {
		return
	}
	in, ok := h.input(c)
	if !ok {
		return
	}
	r, err := h.Reviews.Update(c.Request.Context(), id, middleware.MustUserID(c), in)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Review updated successfully", "review": r})
}

func (h *ReviewHandler) Delete(c *gin.Context) {
	id, ok := paramID(c, "review")
	if !ok {
		return
	}
	if err := h.Reviews.Delete(c.Request.Context(), id, middleware.MustUserID(c)); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Review deleted successfully"})
}
