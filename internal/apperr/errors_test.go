package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"validation", Invalid(CodeEmptySlug, "slug is empty"), http.StatusBadRequest},
		{"wrapped conflict", fmt.Errorf("rename: %w", Conflict(CodeSlugTaken, "taken")), http.StatusConflict},
		{"not found", NotFound("memorial", "abc"), http.StatusNotFound},
		{"store", Unavailable("insert", errors.New("connection reset")), http.StatusServiceUnavailable},
		{"other", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HTTPStatus(tt.err))
		})
	}
}

func TestPublicMessage(t *testing.T) {
	assert.Equal(t, "pick another", PublicMessage(Conflict(CodeSlugTaken, "pick another")))
	assert.Equal(t, "Something went wrong, please try again.", PublicMessage(Unavailable("get", errors.New("timeout"))))
	assert.Equal(t, CodeSlugTaken, Code(fmt.Errorf("x: %w", Conflict(CodeSlugTaken, "taken"))))
	assert.True(t, IsNotFound(fmt.Errorf("get: %w", NotFound("memorial", "1"))))
}
