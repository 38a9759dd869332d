package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tOgg1/approvalq/internal/db"
	"github.com/tOgg1/approvalq/internal/enqueue"
	"github.com/tOgg1/approvalq/internal/logging"
	"github.com/tOgg1/approvalq/internal/models"
	"github.com/tOgg1/approvalq/internal/sweep"
)

const maxBodyBytes = 1 << 20

// EnqueueRequest is the body of POST /api/v1/instances/{instance}/approvals.
type EnqueueRequest struct {
	ApprovalType string          `json:"approval_type"`
	ItemID       string          `json:"item_id"`
	ItemDetails  json.RawMessage `json:"item_details,omitempty"`
}

// EnqueueResponse reports per-recipient outcomes.
type EnqueueResponse struct {
	Instance string            `json:"instance"`
	Outcomes []enqueue.Outcome `json:"outcomes"`
	Error    string            `json:"error,omitempty"`
}

// PendingRow is one queue row.
type PendingRow struct {
	ID           string          `json:"id"`
	RecipientID  string          `json:"recipient_id"`
	ApprovalType string          `json:"approval_type"`
	ItemID       string          `json:"item_id"`
	ItemDetails  json.RawMessage `json:"item_details"`
	CreatedAt    time.Time       `json:"created_at"`
	IsSent       bool            `json:"is_sent"`
	SentAt       *time.Time      `json:"sent_at,omitempty"`
}

func pendingRow(row *models.PendingApprovalNotification) PendingRow {
	return PendingRow{
		ID:           row.ID,
		RecipientID:  row.RecipientID,
		ApprovalType: string(row.ApprovalType),
		ItemID:       row.ItemID,
		ItemDetails:  row.ItemDetails,
		CreatedAt:    row.CreatedAt,
		IsSent:       row.IsSent,
		SentAt:       row.SentAt,
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleInstances(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{"instances": s.instances.Sorted()})
}

func (s *Server) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "instance")

	var req EnqueueRequest
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := decoder.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}

	approvalType := models.ApprovalType(strings.ToLower(strings.TrimSpace(req.ApprovalType)))
	outcomes, err := s.enqueuer.Enqueue(r.Context(), name, approvalType, strings.TrimSpace(req.ItemID), req.ItemDetails)
	if err != nil {
		logger := logging.FromContext(r.Context())
		logger.Warn().Err(err).Str("instance", name).Msg("enqueue request failed")
		if outcomes != nil {
			writeJSON(w, statusFor(err), EnqueueResponse{Instance: name, Outcomes: outcomes, Error: err.Error()})
			return
		}
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusAccepted, EnqueueResponse{Instance: name, Outcomes: outcomes})
}

func (s *Server) handlePending(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "instance")
	inst, err := s.instances.Get(name)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}

	rows, err := inst.Pending.ListUnsent(r.Context(), name)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	out := make([]PendingRow, 0, len(rows))
	for _, row := range rows {
		out = append(out, pendingRow(row))
	}
	writeJSON(w, http.StatusOK, map[string]any{"instance": name, "pending": out})
}

func (s *Server) handlePendingRow(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "instance")
	inst, err := s.instances.Get(name)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}

	row, err := inst.Pending.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	// Row ids are global; a row from another instance is not found here.
	if row.Instance != name {
		writeError(w, http.StatusNotFound, db.ErrPendingNotFound)
		return
	}
	writeJSON(w, http.StatusOK, pendingRow(row))
}

func (s *Server) handleSweep(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimSpace(r.URL.Query().Get("instance"))
	if name == "" {
		writeJSON(w, http.StatusOK, map[string][]sweep.Report{"reports": s.sweeper.RunAll(r.Context())})
		return
	}

	report, err := s.sweeper.Run(r.Context(), name)
	status := http.StatusOK
	if err != nil {
		status = statusFor(err)
	}
	writeJSON(w, status, map[string][]sweep.Report{"reports": {report}})
}
