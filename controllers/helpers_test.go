package controllers

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/cppla/aiblog/services"
)

func TestParsePagination(t *testing.T) {
	page, size := parsePagination("", "", 6)
	assert.Equal(t, 1, page)
	assert.Equal(t, 6, size)

	page, size = parsePagination("3", "12", 6)
	assert.Equal(t, 3, page)
	assert.Equal(t, 12, size)

	page, size = parsePagination("-1", "500", 9)
	assert.Equal(t, 1, page)
	assert.Equal(t, 9, size)
}

func TestRespondErrorMapsKinds(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cases := []struct {
		err    error
		status int
	}{
		{&services.Error{Kind: services.ErrValidation, Message: "bad"}, http.StatusBadRequest},
		{&services.Error{Kind: services.ErrNotFound, Message: "gone"}, http.StatusNotFound},
		{&services.Error{Kind: services.ErrInvalidOperation, Message: "nope"}, http.StatusConflict},
		{&services.Error{Kind: services.ErrPermission, Message: "mine"}, http.StatusForbidden},
		{fmt.Errorf("wrapped: %w", services.ErrNotFound), http.StatusNotFound},
		{errors.New("disk on fire"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		w := httptest.NewRecorder()
		ctx, _ := gin.CreateTestContext(w)
		ctx.Request = httptest.NewRequest(http.MethodGet, "/", nil)
		respondError(ctx, tc.err, "test")
		assert.Equal(t, tc.status, w.Code, tc.err.Error())
		assert.True(t, ctx.IsAborted())
	}
	w := httptest.NewRecorder()
	ctx, _ := gin.CreateTestContext(w)
	ctx.Request = httptest.NewRequest(http.MethodGet, "/", nil)
	respondError(ctx, errors.New("secret detail"), "test")
	assert.NotContains(t, w.Body.String(), "secret detail")
}
