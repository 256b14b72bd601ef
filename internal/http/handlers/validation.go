package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"animehub-be/internal/account"
	"animehub-be/internal/apperr"
	"animehub-be/internal/chat"
	"animehub-be/internal/upload"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// RegisterValidations adds the custom binding tags used by request structs.
func RegisterValidations() error {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return errors.New("gin validator engine is not go-playground/validator")
	}
	return account.RegisterValidations(v)
}

// fail hands err to the error middleware.
func fail(c *gin.Context, err error) {
	_ = c.Error(err)
	c.Abort()
}

func bindJSON(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		fail(c, bindError(err))
		return false
	}
	return true
}

func bindError(err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		field := strings.ToLower(fe.Field()[:1]) + fe.Field()[1:]
		switch fe.Tag() {
		case "required":
			return apperr.Validation(field + " is required")
		case "username":
			return apperr.Validation("username must be 3-30 letters, digits, '_', '.' or '-'")
		case "email":
			return apperr.Validation("a valid email is required")
		case "min":
			return apperr.Validation(field + " must be at least " + fe.Param() + " characters")
		}
		return apperr.Validation("invalid " + field)
	}
	return apperr.Validation("invalid request body")
}

func paramID(c *gin.Context, what string) (uuid.UUID, bool) {
	id, err := chat.ParseID(c.Param("id"), what)
	if err != nil {
		fail(c, err)
		return uuid.Nil, false
	}
	return id, true
}

func queryInt(c *gin.Context, keys ...string) int {
	for _, k := range keys {
		if v := c.Query(k); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return 0
			}
			return n
		}
	}
	return 0
}

// formFile returns the named multipart file, or nil when none was sent.
func formFile(c *gin.Context, field string) (*upload.File, error) {
	fh, err := c.FormFile(field)
	switch {
	case err == nil:
		return upload.FromHeader(fh), nil
	case errors.Is(err, http.ErrMissingFile), errors.Is(err, http.ErrNotMultipart):
		return nil, nil
	}
	return nil, apperr.Validation("invalid multipart body")
}

func isMultipart(c *gin.Context) bool {
	return strings.HasPrefix(c.ContentType(), "multipart/")
}
