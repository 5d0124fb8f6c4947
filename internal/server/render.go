package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"formsmith/internal/store"
)

func isNotFound(err error) bool {
	return errors.Is(err, store.ErrNotFound)
}

// renderError shows the standalone error page.
func (s *Server) renderError(c *gin.Context, status int, message string) {
	c.HTML(status, "error.html", gin.H{
		"Status":  status,
		"Message": message,
	})
}

// serverError logs the failure and renders a generic 500 so internals
// never leak to the browser.
func (s *Server) serverError(c *gin.Context, err error) {
	s.logger.Error("request failed",
		zap.String("path", c.Request.URL.Path),
		zap.Error(err))
	_ = c.Error(err)
	s.renderError(c, http.StatusInternalServerError, "Something went wrong")
}

// handleRequestError renders user-facing errors with their status and
// everything else as a 500.
func (s *Server) handleRequestError(c *gin.Context, err error) (status int, message string) {
	var reqErr *requestError
	if errors.As(err, &reqErr) {
		return reqErr.status, reqErr.message
	}
	s.logger.Error("request failed",
		zap.String("path", c.Request.URL.Path),
		zap.Error(err))
	return http.StatusInternalServerError, "Something went wrong"
}
