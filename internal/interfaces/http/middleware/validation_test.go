package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/erp/catalog-exchange/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type keyRequest struct {
	Name        string `json:"name" binding:"required,max=10"`
	ErpUsername string `json:"erp_username" binding:"required_with=ErpPassword"`
	ErpPassword string `json:"erp_password"`
}

func TestHandleValidationError(t *testing.T) {
	SetupValidator()

	router := gin.New()
	router.Use(CorrelationID())
	router.POST("/keys", func(c *gin.Context) {
		var req keyRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			HandleValidationError(c, err)
			return
		}
		c.Status(http.StatusCreated)
	})

	post := func(body string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/keys", strings.NewReader(body)))
		return w
	}

	t.Run("field errors use json names", func(t *testing.T) {
		w := post(`{"name":"far-too-long-name","erp_password":"x"}`)
		require.Equal(t, http.StatusBadRequest, w.Code)

		info := decodeError(t, w)
		assert.Equal(t, dto.ErrCodeValidation, info.Code)
		assert.NotEmpty(t, info.CorrelationID)
		fields := map[string]string{}
		for _, d := range info.Details {
			fields[d.Field] = d.Message
		}
		assert.Equal(t, "Must be at most 10 characters", fields["name"])
		assert.Contains(t, fields["erp_username"], "required together with")
	})

	t.Run("malformed json", func(t *testing.T) {
		w := post(`{"name":`)
		require.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, dto.ErrCodeBadRequest, decodeError(t, w).Code)
	})

	t.Run("valid", func(t *testing.T) {
		assert.Equal(t, http.StatusCreated, post(`{"name":"ok"}`).Code)
	})
}
