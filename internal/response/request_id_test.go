package response

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestRequestIDMiddleware(t *testing.T) {
	tests := []struct {
		name     string
		incoming string
		keep     bool
	}{
		{name: "kept", incoming: "req-123", keep: true},
		{name: "missing", incoming: "", keep: false},
		{name: "too long", incoming: strings.Repeat("a", 65), keep: false},
		{name: "contains space", incoming: "req 123", keep: false},
		{name: "non ascii", incoming: "요청", keep: false},
	}

	gin.SetMode(gin.TestMode)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var fromCtx string
			r := gin.New()
			r.Use(RequestIDMiddleware())
			r.GET("/", func(c *gin.Context) {
				fromCtx = RequestIDFrom(c.Request.Context())
				c.Status(http.StatusNoContent)
			})

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.incoming != "" {
				req.Header.Set("X-Request-ID", tt.incoming)
			}
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, req)

			header := rec.Header().Get("X-Request-ID")
			if header == "" || header != fromCtx {
				t.Fatalf("header %q and context %q should carry the same id", header, fromCtx)
			}
			if (header == tt.incoming) != tt.keep {
				t.Errorf("X-Request-ID = %q, keep incoming = %v", header, tt.keep)
			}
		})
	}
}
