package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	apperrors "github.com/kidspc/kidspc-server/internal/errors"
	"github.com/kidspc/kidspc-server/internal/httputil"
	"github.com/kidspc/kidspc-server/internal/util"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

func writeJSON(w http.ResponseWriter, status int, data any) {
	httputil.WriteJSON(w, status, data)
}

func writeError(w http.ResponseWriter, err error) {
	httputil.WriteError(w, err)
}

// decodeAndValidate decodes a JSON body into dst and runs struct
// validation. Returns false after writing the error response.
func decodeAndValidate(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, apperrors.ValidationError("Invalid request body"))
		return false
	}
	if err := validate.Struct(dst); err != nil {
		writeError(w, apperrors.ValidationError(err.Error()))
		return false
	}
	return true
}

// decodeJSONLenient decodes a body when present and ignores decode
// failures, for endpoints where an empty body is acceptable.
func decodeJSONLenient(r *http.Request, dst any) {
	if r.Body == nil {
		return
	}
	json.NewDecoder(r.Body).Decode(dst)
}

func parseJSON(data []byte, dst any) bool {
	return json.Unmarshal(data, dst) == nil
}

// requireUUIDParam rejects malformed id params up front instead of
// letting them reach Postgres as a uuid type error.
func requireUUIDParam(param, resource string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !util.IsValidUUID(chi.URLParam(r, param)) {
				writeError(w, apperrors.NotFound(resource))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func formatTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Format(time.RFC3339)
}
