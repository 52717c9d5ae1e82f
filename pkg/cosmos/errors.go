// Copyright © 2025 Prabhjot Singh Sethi, All Rights reserved
// Author: Prabhjot Singh Sethi <prabhjot.sethi@gmail.com>

package cosmos

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Error is a non-2xx answer from the Cosmos DB service.
type Error struct {
	StatusCode int    // StatusCode is the HTTP status returned by the service.
	Code       string // Code is the service error code, e.g. "NotFound".
	Message    string // Message is the service supplied description.
}

// Error implements the error interface for Error.
func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Code != "" {
		return fmt.Sprintf("cosmos: status %d: %s", e.StatusCode, e.Code)
	}
	return fmt.Sprintf("cosmos: status %d", e.StatusCode)
}

// IsNotFound reports whether err is a 404 from the service.
func IsNotFound(err error) bool {
	return hasStatus(err, http.StatusNotFound)
}

// IsConflict reports whether err is a 409 from the service.
func IsConflict(err error) bool {
	return hasStatus(err, http.StatusConflict)
}

func hasStatus(err error, status int) bool {
	var cerr *Error
	return errors.As(err, &cerr) && cerr.StatusCode == status
}

// parseError builds an Error from a failed response body. Bodies that are
// not the usual {"code","message"} envelope are kept verbatim as the message.
func parseError(status int, body []byte) *Error {
	cerr := &Error{StatusCode: status}
	var envelope struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil && (envelope.Code != "" || envelope.Message != "") {
		cerr.Code = envelope.Code
		cerr.Message = envelope.Message
		return cerr
	}
	cerr.Message = strings.TrimSpace(string(body))
	return cerr
}
