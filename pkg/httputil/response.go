package httputil

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	apperrors "github.com/shoecom/stockledger/pkg/errors"
	"github.com/shoecom/stockledger/pkg/logger"
	"github.com/shoecom/stockledger/pkg/validator"
)

// maxBodyBytes caps request bodies accepted by DecodeJSON.
const maxBodyBytes = 1 << 20

// Response is the envelope of every JSON body. Exactly one field is set.
type Response struct {
	Data  any            `json:"data,omitempty"`
	Error *ErrorResponse `json:"error,omitempty"`
}

// ErrorResponse is the error half of Response. Fields carries per-field
// validation messages, Details anything else the error wants to expose.
type ErrorResponse struct {
	Code      string            `json:"code"`
	Message   string            `json:"message"`
	Fields    map[string]string `json:"fields,omitempty"`
	Details   map[string]any    `json:"details,omitempty"`
	RequestID string            `json:"request_id,omitempty"`
}

// bareErrors maps sentinels that reach the handler without an AppError.
// An empty message means err.Error() is safe to echo to the client.
var bareErrors = []struct {
	err     error
	code    string
	message string
}{
	{apperrors.ErrNotFound, "NOT_FOUND", "resource not found"},
	{apperrors.ErrReferenceNotFound, "REFERENCE_NOT_FOUND", "referenced resource does not exist"},
	{apperrors.ErrConflict, "CONFLICT", ""},
	{apperrors.ErrInsufficientStock, "INSUFFICIENT_STOCK", ""},
	{apperrors.ErrInvalidInput, "INVALID_INPUT", ""},
}

func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErrorBody(w http.ResponseWriter, status int, body *ErrorResponse) {
	WriteJSON(w, status, Response{Error: body})
}

// WriteError renders err. Client errors keep their code and message; server
// errors are logged and replaced by a generic INTERNAL_ERROR. The logger is
// the request-scoped one when present, else fallback.
func WriteError(w http.ResponseWriter, r *http.Request, err error, fallback *slog.Logger) {
	ctx := r.Context()
	body := &ErrorResponse{
		Code:      "INTERNAL_ERROR",
		Message:   "an internal error occurred",
		RequestID: logger.CorrelationIDFromContext(ctx),
	}
	status := apperrors.HTTPStatus(err)

	var appErr *apperrors.AppError
	switch {
	case errors.As(err, &appErr) && status < http.StatusInternalServerError:
		body.Code, body.Message = appErr.Code, appErr.Message
		if fields, ok := appErr.Details["fields"].(map[string]string); ok {
			body.Fields = fields
		} else {
			body.Details = appErr.Details
		}
	case status < http.StatusInternalServerError:
		for _, b := range bareErrors {
			if !errors.Is(err, b.err) {
				continue
			}
			body.Code, body.Message = b.code, b.message
			if body.Message == "" {
				body.Message = err.Error()
			}
			break
		}
	}

	if status >= http.StatusInternalServerError {
		status = http.StatusInternalServerError
		logger.FromContext(ctx, fallback).ErrorContext(ctx, "internal error",
			slog.String("error", err.Error()),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
		)
	}
	writeErrorBody(w, status, body)
}

// WriteValidationError writes a 400. Validator failures become
// VALIDATION_ERROR with one message per field.
func WriteValidationError(w http.ResponseWriter, err error) {
	var valErr *validator.ValidationError
	if errors.As(err, &valErr) {
		writeErrorBody(w, http.StatusBadRequest, &ErrorResponse{
			Code:    "VALIDATION_ERROR",
			Message: "request validation failed",
			Fields:  valErr.Fields(),
		})
		return
	}
	writeErrorBody(w, http.StatusBadRequest, &ErrorResponse{Code: "INVALID_INPUT", Message: err.Error()})
}

// DecodeJSON decodes a body of at most 1 MiB into dst and validates it.
// On failure the 400 is already written and false is returned.
func DecodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeErrorBody(w, http.StatusBadRequest, &ErrorResponse{
			Code:    "INVALID_INPUT",
			Message: "invalid request body: " + err.Error(),
		})
		return false
	}
	if err := validator.Validate(dst); err != nil {
		WriteValidationError(w, err)
		return false
	}
	return true
}

// ParseUUID parses a path parameter, writing a 400 INVALID_PARAMETER when
// it is not a UUID.
func ParseUUID(w http.ResponseWriter, param string) (uuid.UUID, bool) {
	id, err := uuid.Parse(param)
	if err != nil {
		writeErrorBody(w, http.StatusBadRequest, &ErrorResponse{
			Code:    "INVALID_PARAMETER",
			Message: "invalid UUID: " + param,
		})
		return uuid.Nil, false
	}
	return id, true
}
