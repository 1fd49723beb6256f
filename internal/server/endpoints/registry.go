package endpoints

import (
	"errors"
	"io"
	"os"

	"github.com/jackzampolin/takeoff/internal/api"
)

// Config holds dependencies needed by some endpoints.
type Config struct {
	MaxUploadBytes  int64
	SwaggerSpecPath string
}

// All returns all endpoint instances.
func All(cfg Config) []api.Endpoint {
	return []api.Endpoint{
		// Health endpoints
		&HealthEndpoint{},
		&ReadyEndpoint{},
		&StatusEndpoint{},

		// Document endpoints
		&UploadDocumentEndpoint{MaxUploadBytes: cfg.MaxUploadBytes},
		&ListDocumentsEndpoint{},
		&GetDocumentEndpoint{},
		&DocumentStatusEndpoint{},
		&DocumentResultEndpoint{},
		&ProcessDocumentEndpoint{},

		// Swagger/OpenAPI endpoints
		&SwaggerEndpoint{SpecPath: cfg.SwaggerSpecPath},
		&SwaggerUIEndpoint{},
	}
}

// stderr receives progress output of polling commands.
var stderr io.Writer = os.Stderr

func errorsAs(err error, target any) bool {
	return errors.As(err, target)
}
