package latent

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// ErrNotFound is matched by an *APIError carrying a 404.
var ErrNotFound = errors.New("latent: not found")

// APIError is a non-2xx answer from the backend.
type APIError struct {
	Method     string
	Path       string
	StatusCode int
	Range      StatusCodeRange
	Message    string
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("%s %s: %s (status code = %d)", e.Method, e.Path, e.Range, e.StatusCode)
	if e.Message != "" {
		msg += ": " + e.Message
	}
	return msg
}

func (e *APIError) Is(target error) bool {
	return target == ErrNotFound && e.StatusCode == http.StatusNotFound
}

// Temporary reports whether repeating the request may succeed.
func (e *APIError) Temporary() bool {
	return e.Range == Status5xx || e.StatusCode == http.StatusTooManyRequests
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func unmarshalJSONResponse(resp *http.Response, v any) error {
	if StatusCodeRangeOf(resp) == Status2xx {
		if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
			return fmt.Errorf("decode %s %s (status code = %d): %w", resp.Request.Method, resp.Request.URL.Path, resp.StatusCode, err)
		}
		return nil
	}

	apiErr := &APIError{
		Method:     resp.Request.Method,
		Path:       resp.Request.URL.Path,
		StatusCode: resp.StatusCode,
		Range:      StatusCodeRangeOf(resp),
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		apiErr.Message = "cannot read server message: " + err.Error()
		return apiErr
	}
	apiErr.Message = parseErrorMessage(body)
	return apiErr
}

func parseErrorMessage(body []byte) string {
	var eb errorBody
	if err := json.Unmarshal(body, &eb); err == nil {
		if eb.Error != "" {
			return eb.Error
		}
		if eb.Message != "" {
			return eb.Message
		}
	}
	return strings.TrimSpace(string(body))
}
