package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/Rrens/chat-gateway/internal/api/response"
)

var validate = validator.New()

// decode reads a JSON body into v and validates it. It writes the error
// response itself and reports whether the handler may continue.
func decode(w http.ResponseWriter, r *http.Request, v any, optional bool) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		if !(optional && errors.Is(err, io.EOF)) {
			response.BadRequest(w, "invalid request body")
			return false
		}
	}

	if err := validate.Struct(v); err != nil {
		var validationErrors validator.ValidationErrors
		if errors.As(err, &validationErrors) {
			fields := make(map[string]string)
			for _, e := range validationErrors {
				field := e.Field()
				switch e.Tag() {
				case "required":
					fields[field] = "field is required"
				case "max":
					fields[field] = "must be at most " + e.Param() + " characters"
				case "oneof":
					fields[field] = "must be one of: " + e.Param()
				default:
					fields[field] = "validation failed on " + e.Tag()
				}
			}
			response.InvalidFields(w, fields)
			return false
		}
		response.BadRequest(w, err.Error())
		return false
	}
	return true
}
