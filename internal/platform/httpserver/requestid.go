package httpserver

import (
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/madhav-relish/streaming/internal/platform/api"
)

const (
	requestIDHeader = "X-Request-Id"
	maxRequestIDLen = 128
)

// requestID echoes a caller-supplied id when it looks sane and otherwise
// mints a UUID. The id is stored with api.WithRequestID.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(requestIDHeader))
		if !validRequestID(id) {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(api.WithRequestID(r.Context(), id)))
	})
}

func validRequestID(id string) bool {
	if id == "" || len(id) > maxRequestIDLen {
		return false
	}
	for i := 0; i < len(id); i++ {
		if c := id[i]; c < 0x21 || c > 0x7e {
			return false
		}
	}
	return true
}
