package httpserver

import (
	"errors"
	"io"
	"net/http"
	"os"

	domreports "github.com/qtrade-labs/insight-api/internal/domain/reports"
)

// openArtifact opens the rendered PDF; a record pointing at a missing file
// surfaces as not-found rather than a server error.
func openArtifact(path string) (*os.File, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, domreports.ErrNotFound
	}
	return f, err
}

func streamFile(w http.ResponseWriter, f *os.File) error {
	_, err := io.Copy(w, f)
	return err
}
