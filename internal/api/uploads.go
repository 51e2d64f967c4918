package api

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"path"
	"strings"

	"github.com/sheetpipe-io/sheetpipe/internal/api/middleware"
	"github.com/sheetpipe-io/sheetpipe/internal/ingestion"
)

const (
	uploadFormField = "file"
	defaultFileName = "upload.csv"
	maxFileNameLen  = 255
)

var (
	errNoFilePart       = errors.New(`multipart body has no "file" part`)
	errUnsupportedMedia = errors.New("upload must be multipart/form-data or text/csv")
)

// handleUpload accepts a CSV either as the "file" part of a multipart form or as a
// raw text/csv body named by ?name=. It answers 202 once the file is queued; progress
// is then polled at the Location URL.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	correlationID := middleware.GetCorrelationID(r.Context())

	r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxUploadSize)

	fileName, body, err := s.openUpload(r)
	if err != nil {
		s.writeUploadError(w, r, err)

		return
	}

	result, err := s.deps.Uploader.Upload(r.Context(), fileName, body)
	if err != nil {
		s.writeUploadError(w, r, err)

		return
	}

	s.logger.Info("Upload accepted",
		slog.String("file_id", result.FileID),
		slog.String("file_name", result.FileName),
		slog.Int("row_count", result.RowCount),
		slog.String("correlation_id", correlationID),
	)

	w.Header().Set("Location", "/api/v1/files/"+result.FileID)
	s.writeJSON(w, r, http.StatusAccepted, result)
}

// openUpload returns the file name and a reader positioned at the CSV bytes.
func (s *Server) openUpload(r *http.Request) (string, io.Reader, error) {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		return "", nil, errUnsupportedMedia
	}

	switch mediaType {
	case "multipart/form-data":
		reader, err := r.MultipartReader()
		if err != nil {
			return "", nil, fmt.Errorf("%w: %w", ingestion.ErrMalformedInput, err)
		}

		for {
			part, err := reader.NextPart()
			if errors.Is(err, io.EOF) {
				return "", nil, errNoFilePart
			}

			if err != nil {
				return "", nil, fmt.Errorf("%w: %w", ingestion.ErrMalformedInput, err)
			}

			if part.FormName() == uploadFormField {
				return cleanFileName(part.FileName()), part, nil
			}

			_ = part.Close()
		}
	case "text/csv", "text/plain", "application/csv", "application/octet-stream":
		return cleanFileName(r.URL.Query().Get("name")), r.Body, nil
	default:
		return "", nil, errUnsupportedMedia
	}
}

func (s *Server) writeUploadError(w http.ResponseWriter, r *http.Request, err error) {
	var tooLarge *http.MaxBytesError

	var problem *ProblemDetail

	switch {
	case errors.As(err, &tooLarge):
		problem = PayloadTooLarge("upload exceeds the maximum size")
	case errors.Is(err, ingestion.ErrPayloadTooLarge):
		problem = PayloadTooLarge("parsed upload exceeds the queue message size limit")
	case errors.Is(err, errUnsupportedMedia):
		problem = UnsupportedMediaType(err.Error())
	case errors.Is(err, ingestion.ErrEmptyInput),
		errors.Is(err, ingestion.ErrMalformedInput),
		errors.Is(err, errNoFilePart):
		problem = BadRequest(err.Error())
	case errors.Is(err, ingestion.ErrPublish):
		problem = ServiceUnavailable("the upload could not be queued, please retry")
	default:
		problem = InternalServerError("the upload could not be recorded")
	}

	if problem.Status >= http.StatusInternalServerError {
		s.logger.Error("Upload failed",
			slog.String("correlation_id", middleware.GetCorrelationID(r.Context())),
			slog.String("error", err.Error()),
		)
	}

	WriteErrorResponse(w, r, s.logger, problem)
}

// cleanFileName keeps the base name only, so a client cannot smuggle paths into
// the recorded file name.
func cleanFileName(name string) string {
	name = strings.TrimSpace(strings.ReplaceAll(name, `\`, "/"))
	name = path.Base(name)

	if name == "." || name == "/" || name == "" {
		return defaultFileName
	}

	if len(name) > maxFileNameLen {
		name = name[:maxFileNameLen]
	}

	return name
}
