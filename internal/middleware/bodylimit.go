package middleware

import (
	"net/http"
)

// The largest legitimate payload is a usage report carrying a day of
// activity samples; half a megabyte leaves generous headroom for that
// while keeping junk uploads off the decoder.
const defaultMaxBodyBytes = 512 << 10

type BodyLimitMiddleware struct {
	maxBytes int64
}

func NewBodyLimitMiddleware(maxBytes int64) *BodyLimitMiddleware {
	if maxBytes <= 0 {
		maxBytes = defaultMaxBodyBytes
	}
	return &BodyLimitMiddleware{maxBytes: maxBytes}
}

func (m *BodyLimitMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Declared length is checked up front; MaxBytesReader still
		// covers chunked bodies that never declare one.
		if r.Body != nil && r.ContentLength > m.maxBytes {
			writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{
				"error": "Request body too large",
			})
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, m.maxBytes)
		next.ServeHTTP(w, r)
	})
}
