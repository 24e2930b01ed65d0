// Package boot wires the core together: it parses the archive manifest,
// opens every listed archive through package archive, ingests each one into
// a unified index.Index, merges an optional persisted RepairMap, and
// exposes a ready resolver.Resolver (§4.9, §5 "init order is archives → IDX
// ingest → RepairMap merge → RES exposed"). It is grounded on icza-mpq's
// own archive-opening entry point, generalized from "open one MPQ" to
// "open a manifest-ordered set of GRFs and build the cross-archive index
// around them", logging each step with log/slog the way cue-lang-cue's
// httplog package wraps slog.Logger for structured event output.
package boot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/icza/grf/internal/archive"
	"github.com/icza/grf/internal/cache"
	"github.com/icza/grf/internal/index"
	"github.com/icza/grf/internal/manifest"
	"github.com/icza/grf/internal/resolver"
	"github.com/icza/grf/internal/textenc"
	"github.com/icza/grf/internal/validate"
)

// ErrManifestEmpty is returned when every archive named by the manifest
// failed to load (or none were named at all), per §7's propagation policy:
// "if no archives load, boot fails".
var ErrManifestEmpty = errors.New("boot: manifest empty: no archives loaded")

// archiveLoadTimeout bounds how long a single archive's header+table parse
// may take before boot gives up on it and moves to the next (§5 step
// budget; a stalled disk or a maliciously huge table must not hang the
// whole boot sequence).
const archiveLoadTimeout = 10 * time.Second

// Config is the §6 configuration envelope: all keys optional, defaults
// applied by DefaultConfig.
type Config struct {
	CacheMaxEntries     int
	CacheMaxMemoryMB    int
	AutoDetectThreshold float64
	ExtractEnabled      bool
	ScanLimit           int
}

// DefaultConfig returns the §6 default envelope.
func DefaultConfig() Config {
	return Config{
		CacheMaxEntries:     100,
		CacheMaxMemoryMB:    256,
		AutoDetectThreshold: textenc.DetectThreshold,
		ExtractEnabled:      false,
		ScanLimit:           0,
	}
}

// LoadConfig overlays recognized keys from the manifest document's
// `[cache]`/`[resolver]` section onto the defaults; any key absent or
// unparsable keeps its default rather than erroring, since the whole
// section is optional (§6).
func LoadConfig(doc *manifest.Document) Config {
	cfg := DefaultConfig()
	for _, name := range []string{"cache", "resolver"} {
		sec := doc.Section(name)
		if sec == nil {
			continue
		}
		if v, ok := sec.Get("cache.maxEntries"); ok {
			if n, err := strconv.Atoi(v); err == nil {
				cfg.CacheMaxEntries = n
			}
		}
		if v, ok := sec.Get("cache.maxMemoryMB"); ok {
			if n, err := strconv.Atoi(v); err == nil {
				cfg.CacheMaxMemoryMB = n
			}
		}
		if v, ok := sec.Get("autoDetectThreshold"); ok {
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				cfg.AutoDetectThreshold = f
			}
		}
		if v, ok := sec.Get("extract.enabled"); ok {
			if b, err := strconv.ParseBool(v); err == nil {
				cfg.ExtractEnabled = b
			}
		}
		if v, ok := sec.Get("scanLimit"); ok {
			if n, err := strconv.Atoi(v); err == nil {
				cfg.ScanLimit = n
			}
		}
	}
	return cfg
}

// Result is everything boot assembles: the ready resolver plus the pieces
// a caller (cmd/grfserver, cmd/grfvalidate) may want direct access to.
type Result struct {
	Resolver    *resolver.Resolver
	Index       *index.Index
	Cache       *cache.Cache
	Archives    []*archive.Archive
	LoadResults []validate.ArchiveResult // for VAL / exit-code purposes
	Config      Config
}

// Close releases every opened archive's underlying Source.
func (r *Result) Close() error {
	var firstErr error
	for _, a := range r.Archives {
		if err := a.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Load parses manifestPath, opens every listed archive (resolved relative
// to the manifest's directory), ingests each into a fresh index.Index in
// manifest order (earliest wins on collision), optionally merges a
// persisted RepairMap from repairMapPath, and returns a ready Result. A
// per-archive load failure is logged and the archive is skipped — boot
// continues past a single bad archive rather than aborting the whole
// startup (§7 "boot.Load has logged and continued past a bad archive").
func Load(ctx context.Context, manifestPath, repairMapPath string, logger *slog.Logger) (*Result, error) {
	if logger == nil {
		logger = slog.Default()
	}

	f, err := os.Open(manifestPath)
	if err != nil {
		return nil, fmt.Errorf("boot: opening manifest %s: %w", manifestPath, err)
	}
	doc, err := manifest.Parse(f)
	f.Close()
	if err != nil {
		return nil, fmt.Errorf("boot: %w", err)
	}

	names, err := doc.ArchiveList()
	if err != nil {
		return nil, fmt.Errorf("boot: %w", err)
	}
	cfg := LoadConfig(doc)

	dir := filepath.Dir(manifestPath)
	idx := index.New()
	var archives []*archive.Archive
	var getters []resolver.ArchiveGetter
	var loadResults []validate.ArchiveResult

	for _, name := range names {
		path := filepath.Join(dir, name)
		a, err := loadArchive(ctx, path, cfg)
		if err != nil {
			logger.Warn("archive load failed", "path", path, "error", err)
			loadResults = append(loadResults, validate.ArchiveResult{Path: path, Err: err})
			continue
		}

		id := len(getters)
		archives = append(archives, a)
		getters = append(getters, a)
		loadResults = append(loadResults, validate.ArchiveResult{Path: path, Archive: a})

		a.IterEntries(func(e archive.Entry) {
			idx.Ingest(id, e.RawName, e.Name)
		})
		logger.Info("archive loaded",
			"path", path,
			"version", a.Version(),
			"encoding", a.Encoding().String(),
			"entries", a.EffectiveEntryCount(),
		)
	}

	if len(archives) == 0 {
		return nil, fmt.Errorf("boot: %s: %w", manifestPath, ErrManifestEmpty)
	}

	if repairMapPath != "" {
		merged, err := mergeRepairMap(idx, repairMapPath)
		if err != nil {
			logger.Warn("repair map not merged", "path", repairMapPath, "error", err)
		} else {
			logger.Info("repair map merged", "path", repairMapPath, "entries", merged)
		}
	}

	c := cache.New(cfg.CacheMaxEntries, int64(cfg.CacheMaxMemoryMB)*1024*1024)
	res := resolver.New(idx, c, getters)

	return &Result{
		Resolver:    res,
		Index:       idx,
		Cache:       c,
		Archives:    archives,
		LoadResults: loadResults,
		Config:      cfg,
	}, nil
}

// loadArchive opens and parses one archive under archiveLoadTimeout. The
// archive package's Open is synchronous over an io.ReaderAt Source (§9
// "express it as a narrow capability... the contract does not require" a
// scheduler of its own), so the timeout is enforced around the call rather
// than threaded into it.
func loadArchive(ctx context.Context, path string, cfg Config) (*archive.Archive, error) {
	loadCtx, cancel := context.WithTimeout(ctx, archiveLoadTimeout)
	defer cancel()

	type result struct {
		a   *archive.Archive
		err error
	}
	done := make(chan result, 1)
	go func() {
		src, err := archive.OpenFile(path)
		if err != nil {
			done <- result{err: fmt.Errorf("opening %s: %w", path, err)}
			return
		}
		a, err := archive.Open(path, src, archive.OpenOptions{
			AutoDetect:      true,
			DetectThreshold: cfg.AutoDetectThreshold,
			ScanLimit:       cfg.ScanLimit,
		})
		if err != nil {
			src.Close()
			done <- result{err: err}
			return
		}
		done <- result{a: a}
	}()

	select {
	case <-loadCtx.Done():
		return nil, fmt.Errorf("boot: loading %s: %w", path, loadCtx.Err())
	case r := <-done:
		return r.a, r.err
	}
}

// mergeRepairMap loads a validate.RepairMap JSON document from path and
// merges every mojibake-or-C1 -> canonical pair in its "paths" object into
// idx, returning the number successfully merged.
func mergeRepairMap(idx *index.Index, path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	var rm validate.RepairMap
	if err := json.Unmarshal(data, &rm); err != nil {
		return 0, fmt.Errorf("parsing repair map: %w", err)
	}
	merged := 0
	for mojibake, canonical := range rm.Paths {
		if idx.MergeRepair(mojibake, canonical) {
			merged++
		}
	}
	return merged, nil
}
