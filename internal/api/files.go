package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/sheetpipe-io/sheetpipe/internal/api/middleware"
	"github.com/sheetpipe-io/sheetpipe/internal/ingestion"
)

// handleGetFile returns the progress record for one upload.
func (s *Server) handleGetFile(w http.ResponseWriter, r *http.Request) {
	fileID := r.PathValue("fileId")

	state, err := s.deps.States.Get(r.Context(), fileID)
	if errors.Is(err, ingestion.ErrFileStateNotFound) {
		WriteErrorResponse(w, r, s.logger, NotFound("no upload with id "+fileID))

		return
	}

	if err != nil {
		s.logger.Error("Failed to read file state",
			slog.String("file_id", fileID),
			slog.String("correlation_id", middleware.GetCorrelationID(r.Context())),
			slog.String("error", err.Error()),
		)
		WriteErrorResponse(w, r, s.logger, ServiceUnavailable("progress store unavailable"))

		return
	}

	w.Header().Set("Cache-Control", "no-store")
	s.writeJSON(w, r, http.StatusOK, FileStateResponse{FileState: state, Percentage: state.Percentage()})
}
