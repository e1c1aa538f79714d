// Package ota serves firmware images to nodes over plain HTTP.
package ota

import (
	"errors"
	"hash/crc32"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/kstaniek/go-can-node/internal/logging"
)

type handler struct {
	dir string
	log *slog.Logger
}

// Handler returns an http.Handler answering GET /<filename> with the raw file
// from dir. Only plain file names are served.
func Handler(dir string, l *slog.Logger) http.Handler {
	return &handler{dir: dir, log: logging.Or(l).With("component", "ota")}
}

func (h *handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	name := strings.TrimPrefix(r.URL.Path, "/")
	if !validName(name) {
		h.log.Warn("ota_bad_path", "path", r.URL.Path, "remote", r.RemoteAddr)
		http.NotFound(w, r)
		return
	}
	data, err := os.ReadFile(filepath.Join(h.dir, name))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			h.log.Info("ota_not_found", "file", name, "remote", r.RemoteAddr)
		} else {
			h.log.Error("ota_read_error", "file", name, "error", err)
		}
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	if _, err := w.Write(data); err != nil {
		h.log.Warn("ota_write_error", "file", name, "error", err)
		return
	}
	h.log.Info("ota_served", "file", name, "bytes", len(data),
		"crc32", "0x"+strconv.FormatUint(uint64(crc32.ChecksumIEEE(data)), 16),
		"remote", r.RemoteAddr)
}

func validName(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	if strings.ContainsAny(name, `/\`) || path.Clean(name) != name {
		return false
	}
	return !strings.HasPrefix(name, ".")
}
