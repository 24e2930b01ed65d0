// Command grfserver is a minimal, explicitly non-production demonstration
// of the core's consumer contract (§6): a gorilla/mux router exposing
// fetch, list, search, and stats over a boot.Result, with no compression
// middleware, CORS, or auth — those remain out of scope (§1 Non-goals).
package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"regexp"

	"github.com/gorilla/mux"
	flag "github.com/spf13/pflag"

	"github.com/icza/grf/internal/boot"
	"github.com/icza/grf/internal/index"
	"github.com/icza/grf/internal/resolver"
)

func main() {
	manifestPath := flag.String("manifest", "DATA.INI", "Path to the archive manifest")
	repairMapPath := flag.String("repair-map", "", "Path to a persisted RepairMap JSON document")
	addr := flag.String("addr", ":8080", "HTTP listen address")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	result, err := boot.Load(context.Background(), *manifestPath, *repairMapPath, logger)
	if err != nil {
		logger.Error("boot failed", "error", err)
		os.Exit(1)
	}
	defer result.Close()

	srv := &server{res: result.Resolver, idx: result.Index, logger: logger}

	router := mux.NewRouter()
	router.HandleFunc("/fetch/{path:.*}", srv.handleFetch).Methods(http.MethodGet)
	router.HandleFunc("/list", srv.handleList).Methods(http.MethodGet)
	router.HandleFunc("/search", srv.handleSearch).Methods(http.MethodGet)
	router.HandleFunc("/stats", srv.handleStats).Methods(http.MethodGet)

	logger.Info("grfserver listening", "addr", *addr, "archives", len(result.Archives))
	if err := http.ListenAndServe(*addr, router); err != nil {
		logger.Error("server exited", "error", err)
		os.Exit(1)
	}
}

type server struct {
	res    *resolver.Resolver
	idx    *index.Index
	logger *slog.Logger
}

func (s *server) handleFetch(w http.ResponseWriter, r *http.Request) {
	path := mux.Vars(r)["path"]

	content, err := s.res.Fetch(r.Context(), path)
	if err != nil {
		if errors.Is(err, resolver.ErrNotFound) {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		s.logger.Error("fetch failed", "path", path, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	_, _ = w.Write(content)
}

func (s *server) handleList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.idx.List())
}

func (s *server) handleSearch(w http.ResponseWriter, r *http.Request) {
	pattern := r.URL.Query().Get("q")
	re, err := regexp.Compile(pattern)
	if err != nil {
		http.Error(w, "invalid regex: "+err.Error(), http.StatusBadRequest)
		return
	}

	var matches []string
	for _, p := range s.idx.List() {
		if re.MatchString(p) {
			matches = append(matches, p)
		}
	}
	writeJSON(w, matches)
}

func (s *server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.res.GetStats())
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
