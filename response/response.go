package response

import (
	"encoding/json"
	"net/http"
)

// V is the envelope for all JSON responses
type V struct {
	Result   interface{} `json:"result"`
	Messages []string    `json:"messages"`
}

// WriteResponse will serialize result as the response body with status 200
func WriteResponse(w http.ResponseWriter, r *http.Request, result interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(V{
		Result:   result,
		Messages: []string{},
	})
}

// WriteError will serialize an Error as the response body with its status code
func WriteError(w http.ResponseWriter, r *http.Request, e *Error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.StatusCode)
	json.NewEncoder(w).Encode(V{
		Result:   e.Result,
		Messages: append(e.Messages, e.Message),
	})
}
