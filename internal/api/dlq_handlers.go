package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/vaidashi/quote-service/internal/models"
	"github.com/vaidashi/quote-service/internal/repository"
)

// PaginationResponse is one page of dead letters
type PaginationResponse struct {
	Items      []*models.DeadLetterMessage `json:"items"`
	TotalCount int                         `json:"total_count"`
	Page       int                         `json:"page"`
	PageSize   int                         `json:"page_size"`
	Status     string                      `json:"status"`
}

// getDeadLettersHandler returns a page of dead letter messages in one status
func (s *Server) getDeadLettersHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	page, err := strconv.Atoi(r.URL.Query().Get("page"))
	if err != nil || page < 1 {
		page = 1
	}

	pageSize, err := strconv.Atoi(r.URL.Query().Get("pageSize"))
	if err != nil || pageSize < 1 || pageSize > 100 {
		pageSize = 10
	}

	status := models.DeadLetterStatus(r.URL.Query().Get("status"))
	switch status {
	case "":
		status = models.DeadLetterStatusPending
	case models.DeadLetterStatusPending, models.DeadLetterStatusRetrying,
		models.DeadLetterStatusResolved, models.DeadLetterStatusDiscarded:
	default:
		s.respondWithError(w, http.StatusBadRequest, "Invalid status")
		return
	}

	messages, err := s.dlqRepo.List(ctx, status, pageSize, (page-1)*pageSize)
	if err != nil {
		s.log(r).Error("Failed to fetch dead letter messages", "error", err)
		s.respondWithError(w, http.StatusInternalServerError, "Failed to fetch dead letter messages")
		return
	}

	total, err := s.dlqRepo.Count(ctx, status)
	if err != nil {
		s.log(r).Error("Failed to count dead letter messages", "error", err)
		s.respondWithError(w, http.StatusInternalServerError, "Failed to fetch dead letter messages")
		return
	}

	s.respondWithJSON(w, http.StatusOK, ApiResponse{Success: true, Data: PaginationResponse{
		Items:      messages,
		TotalCount: total,
		Page:       page,
		PageSize:   pageSize,
		Status:     string(status),
	}})
}

func (s *Server) getDeadLetterHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := s.deadLetterID(w, r)
	if !ok {
		return
	}

	message, err := s.dlqRepo.GetMessage(r.Context(), id)
	if err != nil {
		s.respondWithDeadLetterError(w, r, id, "Failed to fetch dead letter message", err)
		return
	}

	s.respondWithJSON(w, http.StatusOK, ApiResponse{Success: true, Data: message})
}

// retryDeadLetterHandler puts a retrying or discarded message back in the
// queue the dead letter processor drains
func (s *Server) retryDeadLetterHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, ok := s.deadLetterID(w, r)
	if !ok {
		return
	}

	message, err := s.dlqRepo.GetMessage(ctx, id)
	if err != nil {
		s.respondWithDeadLetterError(w, r, id, "Failed to fetch dead letter message", err)
		return
	}

	switch message.Status {
	case models.DeadLetterStatusPending:
		s.respondWithError(w, http.StatusConflict, "Message is already queued for retry")
		return
	case models.DeadLetterStatusResolved:
		s.respondWithError(w, http.StatusConflict, "Resolved messages cannot be retried")
		return
	}

	if err := s.dlqRepo.Requeue(ctx, id); err != nil {
		s.respondWithDeadLetterError(w, r, id, "Failed to requeue message", err)
		return
	}

	s.respondWithJSON(w, http.StatusOK, ApiResponse{
		Success: true,
		Data: map[string]string{
			"message": "Dead letter message queued for retry",
			"id":      strconv.FormatInt(id, 10),
		},
	})
}

// discardDeadLetterHandler discards a dead letter message
func (s *Server) discardDeadLetterHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := s.deadLetterID(w, r)
	if !ok {
		return
	}

	var req struct {
		Reason string `json:"reason" validate:"omitempty,max=500"`
	}
	if !s.decodeAndValidate(w, r, &req) {
		return
	}

	if req.Reason == "" {
		req.Reason = "No reason provided"
	}

	if err := s.dlqRepo.MarkAsDiscarded(r.Context(), id, req.Reason); err != nil {
		s.respondWithDeadLetterError(w, r, id, "Failed to discard message", err)
		return
	}

	s.respondWithJSON(w, http.StatusOK, ApiResponse{
		Success: true,
		Data: map[string]string{
			"message": "Dead letter message discarded",
			"id":      strconv.FormatInt(id, 10),
		},
	})
}

func (s *Server) deadLetterID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		s.respondWithError(w, http.StatusBadRequest, "Invalid message ID")
		return 0, false
	}
	return id, true
}

func (s *Server) respondWithDeadLetterError(w http.ResponseWriter, r *http.Request, id int64, message string, err error) {
	if errors.Is(err, repository.ErrNotFound) {
		s.respondWithError(w, http.StatusNotFound, "Dead letter message not found")
		return
	}
	s.log(r).Error(message, "error", err, "messageID", id)
	s.respondWithError(w, http.StatusInternalServerError, message)
}
