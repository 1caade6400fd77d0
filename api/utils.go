package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"ruleengine/rules"
	"ruleengine/service"
	"ruleengine/storage"

	"go.uber.org/zap"
)

const (
	maxRequestBodyBytes   = 1 << 20
	maxErrorMessageLength = 500
)

var (
	connectionStringPattern = regexp.MustCompile(`(?:sqlite|redis|file)://[^\s"']+`)
	filePathPattern         = regexp.MustCompile(`(?:[A-Za-z]:\\|/)(?:[^\\/:*?"<>|\s]+[\\/])+[^\\/:*?"<>|\s]+`)
)

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// sanitizeErrorMessage removes connection strings and file paths from messages
// of server-side failures and bounds the length of every message.
func sanitizeErrorMessage(message string, internal bool) string {
	if internal {
		message = connectionStringPattern.ReplaceAllString(message, "[DATABASE_CONNECTION]")
		message = filePathPattern.ReplaceAllString(message, "[FILE_PATH]")
	}
	if len(message) > maxErrorMessageLength {
		message = message[:maxErrorMessageLength-3] + "..."
	}
	return message
}

func (a *API) respondJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		a.logger.Errorw("Failed to encode JSON response",
			"error", err,
			"data_type", fmt.Sprintf("%T", data))
	}
}

// writeError logs the full error and sends a sanitized JSON error to the client
func writeError(w http.ResponseWriter, statusCode int, message, code string, err error, logger *zap.SugaredLogger) {
	if logger != nil {
		fields := []interface{}{"status_code", statusCode}
		if err != nil {
			fields = append(fields, "error", err.Error())
		}
		if statusCode >= http.StatusInternalServerError {
			logger.Errorw(message, fields...)
		} else {
			logger.Debugw(message, fields...)
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(errorResponse{
		Error: sanitizeErrorMessage(message, statusCode >= http.StatusInternalServerError),
		Code:  code,
	})
}

// writeServiceError maps rule engine errors to status codes
func (a *API) writeServiceError(w http.ResponseWriter, err error) {
	var editErr *rules.EditError
	switch {
	case errors.Is(err, service.ErrInvalidRuleID):
		writeError(w, http.StatusBadRequest, err.Error(), "invalid_id", err, a.logger)
	case service.IsNotFound(err):
		writeError(w, http.StatusNotFound, "rule not found", "not_found", err, a.logger)
	case errors.Is(err, service.ErrStorageUnavailable):
		writeError(w, http.StatusServiceUnavailable, "rule storage is not configured", "storage_unavailable", err, a.logger)
	case errors.Is(err, storage.ErrDuplicateRule):
		writeError(w, http.StatusConflict, "rule already exists", "duplicate", err, a.logger)
	case errors.Is(err, storage.ErrConflict):
		writeError(w, http.StatusConflict, "rule was modified concurrently, retry the edit", "conflict", err, a.logger)
	case errors.Is(err, service.ErrNoRules), errors.Is(err, service.ErrInvalidPath), errors.Is(err, storage.ErrInvalidRule):
		writeError(w, http.StatusBadRequest, err.Error(), "invalid_request", err, a.logger)
	case rules.IsParseError(err):
		writeError(w, http.StatusBadRequest, err.Error(), rules.ErrorKind(err), err, a.logger)
	case rules.IsEvalError(err), errors.As(err, &editErr):
		writeError(w, http.StatusUnprocessableEntity, err.Error(), rules.ErrorKind(err), err, a.logger)
	case errors.Is(err, service.ErrConditionNotFound):
		writeError(w, http.StatusUnprocessableEntity, err.Error(), "condition_not_found", err, a.logger)
	case errors.Is(err, service.ErrEmptyRule):
		writeError(w, http.StatusUnprocessableEntity, err.Error(), "empty_rule", err, a.logger)
	case errors.Is(err, rules.ErrInvalidTree), errors.Is(err, rules.ErrNotAnOperator):
		writeError(w, http.StatusUnprocessableEntity, err.Error(), rules.ErrorKind(err), err, a.logger)
	default:
		writeError(w, http.StatusInternalServerError, "internal error", "internal", err, a.logger)
	}
}

// decodeJSON decodes a bounded request body, rejecting unknown fields
func decodeJSON(w http.ResponseWriter, r *http.Request, dest interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dest); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("request body is empty")
		}
		return fmt.Errorf("invalid JSON: %w", err)
	}
	if dec.More() {
		return fmt.Errorf("request body must contain a single JSON object")
	}
	return nil
}

// parsePagination reads limit and offset query parameters
func parsePagination(r *http.Request) (limit, offset int, err error) {
	q := r.URL.Query()
	if v := q.Get("limit"); v != "" {
		limit, err = strconv.Atoi(v)
		if err != nil || limit < 1 {
			return 0, 0, fmt.Errorf("limit must be a positive integer")
		}
	}
	if v := q.Get("offset"); v != "" {
		offset, err = strconv.Atoi(v)
		if err != nil || offset < 0 {
			return 0, 0, fmt.Errorf("offset must be a non-negative integer")
		}
	}
	return limit, offset, nil
}

// getClientIP returns the client address. Forwarding headers are only
// believed when the direct peer is a trusted proxy; X-Forwarded-For is then
// walked from the right, skipping trusted hops.
func getClientIP(r *http.Request, trusted []*net.IPNet) string {
	remote := r.RemoteAddr
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		remote = host
	}
	if !isTrustedProxy(remote, trusted) {
		return remote
	}

	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		hops := strings.Split(xff, ",")
		for i := len(hops) - 1; i >= 0; i-- {
			hop := strings.TrimSpace(hops[i])
			if hop == "" {
				continue
			}
			if i == 0 || !isTrustedProxy(hop, trusted) {
				return hop
			}
		}
	}

	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		return xri
	}
	return remote
}

func isTrustedProxy(addr string, trusted []*net.IPNet) bool {
	ip := net.ParseIP(addr)
	if ip == nil {
		return false
	}
	for _, n := range trusted {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}
