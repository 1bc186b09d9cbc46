// Package playback serves locally stored media with HTTP range support so
// compiled videos can be previewed and seeked in a browser.
package playback

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/heimdex/reelforge/internal/logging"
	"github.com/heimdex/reelforge/internal/storage"
)

// mediaTypes covers extensions the system mime table may lack.
var mediaTypes = map[string]string{
	".mp4": "video/mp4",
	".mp3": "audio/mpeg",
	".m4a": "audio/mp4",
	".wav": "audio/wav",
	".png": "image/png",
	".jpg": "image/jpeg",
}

func contentTypeOf(filePath string) string {
	ext := strings.ToLower(filepath.Ext(filePath))
	if t, ok := mediaTypes[ext]; ok {
		return t
	}
	if t := mime.TypeByExtension(ext); t != "" {
		return t
	}
	return "application/octet-stream"
}

// Resolver maps an object path to a file on disk.
type Resolver interface {
	Resolve(objectPath string) (string, error)
}

type Server struct {
	files  Resolver
	logger *slog.Logger
}

func NewServer(files Resolver, logger *slog.Logger) *Server {
	return &Server{files: files, logger: logging.WithComponent(logger, "playback")}
}

// ServeHTTP serves GET and HEAD for /media/<object path>.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	objectPath := strings.TrimPrefix(r.URL.Path, storage.MediaPrefix)
	p, err := s.files.Resolve(objectPath)
	if err != nil {
		if errors.Is(err, storage.ErrInvalidPath) {
			http.Error(w, "invalid media path", http.StatusBadRequest)
			return
		}
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	if err := s.ServeFile(w, r, p); err != nil {
		s.logger.Error("playback error", "path", objectPath, "error", err)
	}
}

// ServeFile writes filePath, or the requested byte range of it. Errors are
// returned only after nothing has been written.
func (s *Server) ServeFile(w http.ResponseWriter, r *http.Request, filePath string) error {
	file, err := os.Open(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			http.Error(w, "file not found", http.StatusNotFound)
			return nil
		}
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat file: %w", err)
	}
	if stat.IsDir() {
		http.Error(w, "file not found", http.StatusNotFound)
		return nil
	}

	size := stat.Size()
	contentType := contentTypeOf(filePath)

	h := w.Header()
	h.Set("Accept-Ranges", "bytes")
	h.Set("Content-Type", contentType)

	br, err := ParseRange(r.Header.Get("Range"), size)
	switch {
	case errors.Is(err, ErrUnsatisfiable):
		h.Set("Content-Range", fmt.Sprintf("bytes */%d", size))
		http.Error(w, "Range Not Satisfiable", http.StatusRequestedRangeNotSatisfiable)
		return nil
	case err != nil:
		// Malformed ranges are ignored and the whole file is sent.
		br = nil
	}

	if br == nil {
		h.Set("Content-Length", strconv.FormatInt(size, 10))
		w.WriteHeader(http.StatusOK)
		if r.Method != http.MethodHead {
			io.Copy(w, file)
		}
		return nil
	}

	if _, err := file.Seek(br.Start, io.SeekStart); err != nil {
		return fmt.Errorf("failed to seek: %w", err)
	}
	h.Set("Content-Length", strconv.FormatInt(br.Length(), 10))
	h.Set("Content-Range", br.ContentRange(size))
	w.WriteHeader(http.StatusPartialContent)
	if r.Method != http.MethodHead {
		io.CopyN(w, file, br.Length())
	}
	return nil
}
