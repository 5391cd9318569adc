/*
Copyright 2025 Relay Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package apierror

import (
	"net/http"

	"github.com/sirupsen/logrus"
)

// ErrorCode represents the type of an error.
type ErrorCode string

const (
	// ErrNotFound is returned when a requested resource is not found.
	ErrNotFound ErrorCode = "NOT_FOUND"

	// ErrConflict is returned when an operation conflicts with the current state
	// of a resource, such as claiming a topic that is already claimed.
	ErrConflict ErrorCode = "CONFLICT"

	// ErrBadRequest is returned when the request is malformed or invalid.
	ErrBadRequest ErrorCode = "BAD_REQUEST"

	// ErrForbidden is returned when the acting user lacks the capability
	// required by the operation.
	ErrForbidden ErrorCode = "FORBIDDEN"

	// ErrInvalidInput is returned when the input provided by the user is invalid.
	ErrInvalidInput ErrorCode = "INVALID_INPUT"

	// ErrInternalServer is returned when an unexpected internal error occurs.
	ErrInternalServer ErrorCode = "INTERNAL_SERVER_ERROR"
)

// APIError represents a custom error type for API-related errors.
type APIError struct {
	Code    ErrorCode   `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

// Error implements the error interface for APIError.
func (e APIError) Error() string {
	return e.Message
}

// NewAPIError creates a new APIError and logs it.
func NewAPIError(code ErrorCode, message string, details interface{}) APIError {
	err := APIError{
		Code:    code,
		Message: message,
		Details: details,
	}
	logrus.WithFields(logrus.Fields{
		"error_code": code,
		"details":    details,
	}).Error(message)
	return err
}

// MapErrorToHTTPStatus maps an error to the appropriate HTTP status code.
func MapErrorToHTTPStatus(err error) int {
	if apiErr, ok := err.(APIError); ok {
		switch apiErr.Code {
		case ErrNotFound:
			return http.StatusNotFound
		case ErrConflict:
			return http.StatusConflict
		case ErrBadRequest, ErrInvalidInput:
			return http.StatusBadRequest
		case ErrForbidden:
			return http.StatusForbidden
		default:
			return http.StatusInternalServerError
		}
	}
	return http.StatusInternalServerError
}
