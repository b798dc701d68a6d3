package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	apperrors "github.com/vaidashi/quote-service/pkg/errors"
)

// ActorHeader identifies the authenticated storefront customer. Authentication
// happens upstream; this service trusts the header.
const ActorHeader = "X-Actor-ID"

type ApiResponse struct {
	Success bool              `json:"success"`
	Data    interface{}       `json:"data,omitempty"`
	Error   string            `json:"error,omitempty"`
	Code    string            `json:"code,omitempty"`
	Fields  map[string]string `json:"fields,omitempty"`
}

// Health represents the health check response
type Health struct {
	Status    string `json:"status"`
	Database  string `json:"database"`
	Version   string `json:"version"`
	Timestamp string `json:"timestamp"`
}

// healthCheckHandler reports the service as degraded when the database does not answer
func (s *Server) healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	health := Health{
		Status:    "ok",
		Database:  "ok",
		Version:   "1.0.0",
		Timestamp: time.Now().Format(time.RFC3339),
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.db.Ping(ctx); err != nil {
		s.log(r).Error("Database health check failed", "error", err)
		health.Status = "degraded"
		health.Database = "unreachable"
		s.respondWithJSON(w, http.StatusServiceUnavailable, ApiResponse{Success: false, Data: health})
		return
	}

	s.respondWithJSON(w, http.StatusOK, ApiResponse{
		Success: true,
		Data:    health,
	})
}

// decodeAndValidate reads a JSON body into dst and runs its validate tags.
// It writes the error response itself and reports whether the handler may go on.
func (s *Server) decodeAndValidate(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	defer r.Body.Close()

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()

	// An empty body decodes to the zero value and is left to the validate tags
	if err := decoder.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		s.respondWithError(w, http.StatusBadRequest, "Invalid request payload")
		return false
	}

	if err := s.validate.Struct(dst); err != nil {
		var validationErrors validator.ValidationErrors
		if !errors.As(err, &validationErrors) {
			s.respondWithError(w, http.StatusBadRequest, err.Error())
			return false
		}

		fields := make(map[string]string, len(validationErrors))
		for _, e := range validationErrors {
			fields[jsonField(e)] = e.Tag()
		}
		s.respondWithJSON(w, http.StatusBadRequest, ApiResponse{
			Success: false,
			Error:   "validation failed",
			Code:    apperrors.CodeInvalidInput,
			Fields:  fields,
		})
		return false
	}

	return true
}

// newValidator reports fields by their JSON names
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// jsonField drops the struct name from a validator namespace, leaving the
// request path (shipping_address.city)
func jsonField(e validator.FieldError) string {
	ns := e.Namespace()
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

// actorID returns the storefront customer, or "" for a guest
func actorID(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(ActorHeader))
}

// requireActor writes a 401 when the request carries no customer
func (s *Server) requireActor(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := actorID(r)
	if id == "" {
		s.respondWithAppError(w, r, apperrors.NewUnauthorizedError("Customer authentication required"))
		return "", false
	}
	return id, true
}

// queryInt parses an optional integer query parameter
func queryInt(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, apperrors.NewInvalidInputError(fmt.Sprintf("%s must be an integer", name))
	}
	return v, nil
}

// respondWithAppError maps err onto a response. Errors that are not an
// AppError are logged and answered with a bare 500.
func (s *Server) respondWithAppError(w http.ResponseWriter, r *http.Request, err error) {
	if appErr, ok := apperrors.As(err); ok {
		if appErr.StatusCode >= http.StatusInternalServerError {
			s.log(r).Error("Request failed", "error", err, "path", r.URL.Path)
		}
		if appErr.Retryable {
			w.Header().Set("Retry-After", "5")
		}
		s.respondWithJSON(w, appErr.StatusCode, ApiResponse{
			Success: false,
			Error:   appErr.Error(),
			Code:    appErr.Code,
		})
		return
	}

	s.log(r).Error("Unhandled error", "error", err, "method", r.Method, "path", r.URL.Path)
	s.respondWithJSON(w, http.StatusInternalServerError, ApiResponse{
		Success: false,
		Error:   "internal server error",
		Code:    apperrors.CodeInternal,
	})
}

// respondWithError sends a JSON response with an error message
func (s *Server) respondWithError(w http.ResponseWriter, code int, message string) {
	s.respondWithJSON(w, code, ApiResponse{
		Success: false,
		Error:   message,
	})
}

// respondWithJSON sends a JSON response
func (s *Server) respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)

	if err != nil {
		s.logger.Error("Failed to marshal response", "error", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}
