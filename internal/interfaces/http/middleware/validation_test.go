package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crosslist/backend/internal/interfaces/http/dto"
)

type validationInput struct {
	ListingID string          `json:"listing_id" binding:"required,uuid"`
	Action    string          `json:"action" binding:"required,oneof=retry discard"`
	Price     decimal.Decimal `json:"price" binding:"decimal_gte0"`
	IDs       []string        `json:"ids" binding:"omitempty,max=2"`
}

func newValidationRouter() *gin.Engine {
	SetupValidator()
	router := gin.New()
	router.Use(RequestID())
	router.POST("/test", func(c *gin.Context) {
		var req validationInput
		if err := c.ShouldBindJSON(&req); err != nil {
			HandleValidationError(c, err)
			return
		}
		c.Status(http.StatusOK)
	})
	return router
}

func postJSON(router *gin.Engine, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/test", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestHandleValidationError(t *testing.T) {
	router := newValidationRouter()

	t.Run("field details use json names", func(t *testing.T) {
		w := postJSON(router, `{"listing_id":"nope","action":"explode","price":"-1","ids":["a","b","c"]}`)
		require.Equal(t, http.StatusBadRequest, w.Code)

		var resp dto.Response
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.False(t, resp.Success)
		assert.Equal(t, dto.ErrCodeValidation, resp.Error.Code)
		assert.NotEmpty(t, resp.Error.RequestID)

		messages := map[string]string{}
		for _, d := range resp.Error.Details {
			messages[d.Field] = d.Message
		}
		assert.Equal(t, "Invalid UUID format", messages["listing_id"])
		assert.Equal(t, "Must be one of: retry discard", messages["action"])
		assert.Equal(t, "Must not be negative", messages["price"])
		assert.Equal(t, "Must contain at most 2 items", messages["ids"])
	})

	t.Run("malformed json", func(t *testing.T) {
		w := postJSON(router, `{"listing_id":`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), dto.ErrCodeInvalidJSON)
	})

	t.Run("valid input", func(t *testing.T) {
		w := postJSON(router, `{"listing_id":"550e8400-e29b-41d4-a716-446655440000","action":"retry","price":"12.50"}`)
		assert.Equal(t, http.StatusOK, w.Code)
	})
}

func TestGetValidationMessage(t *testing.T) {
	type input struct {
		Required string `validate:"required"`
		Min      string `validate:"min=5"`
		Max      string `validate:"max=3"`
		Len      string `validate:"len=5"`
		GTE      int    `validate:"gte=10"`
		URL      string `validate:"url"`
	}

	err := validator.New().Struct(input{Min: "ab", Max: "abcdef", Len: "ab", URL: "nope"})
	require.Error(t, err)

	got := map[string]string{}
	for _, e := range err.(validator.ValidationErrors) {
		got[e.Field()] = getValidationMessage(e)
	}

	assert.Equal(t, "This field is required", got["Required"])
	assert.Equal(t, "Must be at least 5 characters", got["Min"])
	assert.Equal(t, "Must be at most 3 characters", got["Max"])
	assert.Equal(t, "Must be exactly 5 characters", got["Len"])
	assert.Equal(t, "Must be greater than or equal to 10", got["GTE"])
	assert.Equal(t, "Invalid URL format", got["URL"])
}
