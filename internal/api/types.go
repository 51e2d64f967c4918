package api

import "github.com/sheetpipe-io/sheetpipe/internal/ingestion"

// Version is reported by /health and the X-Sheetpipe-Version header. Overridden at build time.
var Version = "v0.1.0" //nolint: gochecknoglobals

const serviceName = "sheetpipe-uploader"

type (
	// HealthStatus represents the health check response structure.
	HealthStatus struct {
		Status      string `json:"status"`
		ServiceName string `json:"serviceName"`
		Version     string `json:"version"`
		Uptime      string `json:"uptime,omitempty"`
	}

	// FileStateResponse is a FileState plus its computed completion percentage.
	FileStateResponse struct {
		*ingestion.FileState

		Percentage float64 `json:"percentage"`
	}
)
