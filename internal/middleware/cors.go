package middleware

import (
	"net/http"
	"slices"

	"github.com/rs/cors"

	"studio-board/internal/common"
)

// CORS adds Cross-Origin Resource Sharing headers and answers preflight
// requests. Credentials are only allowed for an explicit origin list.
func CORS(config *common.CORSConfig) func(http.Handler) http.Handler {
	origins := config.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	c := cors.New(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", "Authorization", "Range"},
		ExposedHeaders:   []string{"Content-Range", "Content-Length", "Accept-Ranges", "Content-Disposition"},
		AllowCredentials: !slices.Contains(origins, "*"),
		MaxAge:           600,
	})
	return c.Handler
}
