package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrTransport marks failures where no HTTP response was obtained.
var ErrTransport = errors.New("transport failure")

// Error is a non-success HTTP response from the API.
type Error struct {
	Status int
	// Detail is the server-provided reason, empty when the body had none.
	Detail string
}

func (e *Error) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("api: %d %s: %s", e.Status, http.StatusText(e.Status), e.Detail)
	}
	return fmt.Sprintf("api: %d %s", e.Status, http.StatusText(e.Status))
}

// Detail returns the server-provided reason carried by err, or "".
func Detail(err error) string {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Detail
	}
	return ""
}

// StatusCode returns the HTTP status carried by err, or 0 for transport
// failures and non-API errors.
func StatusCode(err error) int {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Status
	}
	return 0
}

// newError builds an Error from a response body. The body follows the
// FastAPI convention: {"detail": ...} where detail is a string, a
// {"code","reason"} object, or a list of validation errors.
func newError(status int, body []byte) *Error {
	e := &Error{Status: status}
	var env struct {
		Detail json.RawMessage `json:"detail"`
	}
	if err := json.Unmarshal(body, &env); err != nil || len(env.Detail) == 0 {
		return e
	}
	e.Detail = parseDetail(env.Detail)
	return e
}

func parseDetail(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var obj struct {
		Code   string `json:"code"`
		Reason string `json:"reason"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil && (obj.Reason != "" || obj.Code != "") {
		if obj.Reason != "" {
			return obj.Reason
		}
		return obj.Code
	}
	var list []struct {
		Msg string `json:"msg"`
	}
	if err := json.Unmarshal(raw, &list); err == nil {
		msgs := make([]string, 0, len(list))
		for _, item := range list {
			if item.Msg != "" {
				msgs = append(msgs, item.Msg)
			}
		}
		return strings.Join(msgs, "; ")
	}
	return ""
}
