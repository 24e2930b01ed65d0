// Package validate implements VAL, the deep encoding validator: it walks
// every decoded filename across every opened archive, classifies each one
// against the §4.8 taxonomy, computes a health score, and emits a
// persistable RepairMap of the mojibake/C1 paths it could repair. It is
// grounded on icza-mpq's own listfile-consistency checks (iterate every
// table entry, compare against an expectation, report mismatches) adapted
// from "does this name appear in the listfile" to "does this name survive
// its own encoding roundtrip".
package validate

import (
	"time"

	"github.com/icza/grf/internal/archive"
	"github.com/icza/grf/internal/textenc"
)

// ArchiveSource is the narrow capability VAL needs from an opened archive.
type ArchiveSource interface {
	Path() string
	Encoding() textenc.Encoding
	IterEntries(fn func(archive.Entry))
}

// ArchiveResult pairs an archive path with either its opened handle or the
// error that prevented it from loading, so VAL can fold boot-time load
// failures into its exit-code decision (§4.8 "Exit codes: ... 2 load
// failures or final-fail present").
type ArchiveResult struct {
	Path    string
	Archive ArchiveSource
	Err     error
}

// Classification is the §4.8 per-entry verdict.
type Classification struct {
	Archive             string
	RawName             string
	Name                string
	BadUFFFD            bool
	BadC1               bool
	Mojibake            bool
	RoundtripRawFail    bool
	RoundtripRepairable bool
	RoundtripFinalFail  bool
	RepairedName        string
}

// ArchiveSummary is one archive's per-archive counters, the unit the
// persisted RepairMap's "grfs" array is built from (§6 path-mapping.json).
type ArchiveSummary struct {
	File             string
	TotalFiles       int
	Mapped           int
	Mojibake         int
	C1               int
	DetectedEncoding string
}

// Report is VAL's complete output: aggregate counters, the full per-entry
// classification list, the per-archive summaries, and the load failures
// observed while assembling the archive set.
type Report struct {
	Total               int
	BadUFFFD            int
	BadC1               int
	Mojibake            int
	RoundtripRawFail    int
	RoundtripRepairable int
	RoundtripFinalFail  int
	LoadFailures        []ArchiveResult
	Entries             []Classification
	Archives            []ArchiveSummary
}

// Health returns (total - bad_ufffd - bad_c1) / total, or 1.0 for an empty
// (zero-entry) report — there is nothing to be unhealthy about.
func (r Report) Health() float64 {
	if r.Total == 0 {
		return 1
	}
	return float64(r.Total-r.BadUFFFD-r.BadC1) / float64(r.Total)
}

// ExitCode implements §4.8's three-tier severity: 0 clean, 1 warnings only
// (repairables or bad names with no unrepairable failures), 2 load failures
// or an unrepairable roundtrip failure.
func (r Report) ExitCode() int {
	if len(r.LoadFailures) > 0 || r.RoundtripFinalFail > 0 {
		return 2
	}
	if r.RoundtripRepairable > 0 || r.BadUFFFD > 0 || r.BadC1 > 0 || r.Mojibake > 0 {
		return 1
	}
	return 0
}

// Validate walks every entry of every successfully-loaded archive in
// results and classifies its decoded name.
func Validate(results []ArchiveResult) Report {
	var r Report

	for _, res := range results {
		if res.Err != nil {
			r.LoadFailures = append(r.LoadFailures, res)
			continue
		}
		enc := res.Archive.Encoding()
		summary := ArchiveSummary{File: res.Archive.Path(), DetectedEncoding: enc.String()}
		res.Archive.IterEntries(func(e archive.Entry) {
			r.Total++
			summary.TotalFiles++
			c := classify(res.Archive.Path(), e, enc)
			r.Entries = append(r.Entries, c)
			if c.BadUFFFD {
				r.BadUFFFD++
			}
			if c.BadC1 {
				r.BadC1++
				summary.C1++
			}
			if c.Mojibake {
				r.Mojibake++
				summary.Mojibake++
			}
			if c.RoundtripRawFail {
				r.RoundtripRawFail++
			}
			if c.RoundtripRepairable {
				r.RoundtripRepairable++
				summary.Mapped++
			}
			if c.RoundtripFinalFail {
				r.RoundtripFinalFail++
			}
		})
		r.Archives = append(r.Archives, summary)
	}

	return r
}

func classify(archivePath string, e archive.Entry, enc textenc.Encoding) Classification {
	c := Classification{
		Archive: archivePath,
		RawName: string(e.RawName),
		Name:    e.Name,
	}

	c.BadUFFFD = textenc.CountReplacement(e.Name) > 0
	c.BadC1 = textenc.CountC1(e.Name) > 0
	c.Mojibake = textenc.IsMojibake(e.Name)

	if textenc.RoundtripOK(e.Name, enc) {
		return c
	}
	c.RoundtripRawFail = true

	repaired := textenc.Repair(e.Name)
	if repaired != e.Name && textenc.RoundtripOK(repaired, enc) {
		c.RoundtripRepairable = true
		c.RepairedName = repaired
		return c
	}
	c.RoundtripFinalFail = true
	return c
}

// GRFSummary is one archive's entry in the RepairMap's "grfs" array (§6).
type GRFSummary struct {
	File             string `json:"file"`
	TotalFiles       int    `json:"totalFiles"`
	Mapped           int    `json:"mapped"`
	Mojibake         int    `json:"mojibake"`
	C1               int    `json:"c1"`
	DetectedEncoding string `json:"detectedEncoding"`
}

// RepairMapSummary is the RepairMap's top-level "summary" object (§6).
type RepairMapSummary struct {
	TotalFiles    int `json:"totalFiles"`
	TotalMapped   int `json:"totalMapped"`
	MojibakeFixed int `json:"mojibakeFixed"`
	C1Fixed       int `json:"c1Fixed"`
}

// RepairMap is the JSON-serializable `path-mapping.json` document (§6): a
// mapping from every mojibake or C1-bearing raw path to its canonical form
// (§3 "and vice versa" — the pairing itself is invertible, since a consumer
// holding the canonical form can recover its raw counterpart by scanning
// Paths for the matching value), plus per-archive and aggregate summary
// counts. VAL persists it; boot.Load's mergeRepairMap consumes it.
type RepairMap struct {
	GeneratedAt time.Time         `json:"generatedAt"`
	GRFs        []GRFSummary      `json:"grfs"`
	Paths       map[string]string `json:"paths"`
	Summary     RepairMapSummary  `json:"summary"`
}

// BuildRepairMap collects the report's per-archive summaries and every
// repairable classification into a persistable RepairMap, stamped with
// generatedAt (the caller's current time, so this method stays pure).
func (r Report) BuildRepairMap(generatedAt time.Time) RepairMap {
	rm := RepairMap{
		GeneratedAt: generatedAt,
		Paths:       make(map[string]string),
		Summary:     RepairMapSummary{TotalFiles: r.Total},
	}
	for _, a := range r.Archives {
		rm.GRFs = append(rm.GRFs, GRFSummary{
			File:             a.File,
			TotalFiles:       a.TotalFiles,
			Mapped:           a.Mapped,
			Mojibake:         a.Mojibake,
			C1:               a.C1,
			DetectedEncoding: a.DetectedEncoding,
		})
	}
	for _, c := range r.Entries {
		if !c.RoundtripRepairable {
			continue
		}
		rm.Paths[c.Name] = c.RepairedName
		rm.Summary.TotalMapped++
		if c.Mojibake {
			rm.Summary.MojibakeFixed++
		}
		if c.BadC1 {
			rm.Summary.C1Fixed++
		}
	}
	return rm
}
