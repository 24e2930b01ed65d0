// Command grfvalidate runs VAL, the deep encoding validator, over every
// archive named in a manifest: it classifies every decoded filename,
// prints a console summary, writes a timestamped JSON report, and exits
// with the §4.8 severity code (0 clean, 1 warnings, 2 load failures or
// unrepairable names).
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/icza/grf/internal/archive"
	"github.com/icza/grf/internal/boot"
	"github.com/icza/grf/internal/textenc"
	"github.com/icza/grf/internal/validate"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, out, errOut *os.File) int {
	fs := flag.NewFlagSet("grfvalidate", flag.ContinueOnError)

	manifestPath := fs.String("manifest", "DATA.INI", "Path to the archive manifest")
	reportPath := fs.String("report", "", "Path to write the JSON report (default: grfvalidate-report-<timestamp>.json)")
	readLimit := fs.Int("read", 0, "Max entries read per archive for roundtrip checks (0 = all)")
	exampleCount := fs.Int("examples", 5, "Number of final-fail example entries to include in the console summary (other classifications are counted, not listed)")
	encodingOverride := fs.String("encoding", "", "Force an encoding for all archives instead of auto-detecting (utf-8, cp949, euc-kr, latin1)")

	if err := fs.Parse(args); err != nil {
		fmt.Fprintln(errOut, "error:", err)
		return 2
	}

	logger := slog.New(slog.NewTextHandler(errOut, nil))

	forcedEncoding, err := parseEncodingOverride(*encodingOverride)
	if err != nil {
		fmt.Fprintln(errOut, "error:", err)
		return 2
	}

	result, err := boot.Load(context.Background(), *manifestPath, "", logger)
	if err != nil {
		fmt.Fprintln(errOut, "error:", err)
		return 2
	}
	defer result.Close()

	var archiveResults []validate.ArchiveResult
	for _, lr := range result.LoadResults {
		if lr.Err != nil {
			archiveResults = append(archiveResults, lr)
			continue
		}
		src := validate.ArchiveSource(lr.Archive)
		if forcedEncoding != textenc.Unknown {
			src = overriddenEncodingSource{ArchiveSource: src, enc: forcedEncoding}
		}
		if *readLimit > 0 {
			src = cappedSource{ArchiveSource: src, limit: *readLimit}
		}
		archiveResults = append(archiveResults, validate.ArchiveResult{Path: lr.Path, Archive: src})
	}

	report := validate.Validate(archiveResults)
	printSummary(out, report, *exampleCount)

	path := *reportPath
	if path == "" {
		path = fmt.Sprintf("grfvalidate-report-%d.json", time.Now().Unix())
	}
	if err := writeReport(path, report); err != nil {
		fmt.Fprintln(errOut, "error: writing report:", err)
		return 2
	}
	fmt.Fprintln(out, "report written to", path)

	return report.ExitCode()
}

// cappedSource caps IterEntries to at most limit calls (§6 "--read=N").
type cappedSource struct {
	validate.ArchiveSource
	limit int
}

func (c cappedSource) IterEntries(fn func(archive.Entry)) {
	seen := 0
	c.ArchiveSource.IterEntries(func(e archive.Entry) {
		if seen >= c.limit {
			return
		}
		seen++
		fn(e)
	})
}

// overriddenEncodingSource reports a forced encoding instead of the
// archive's auto-detected one, for the "--encoding" override flag.
type overriddenEncodingSource struct {
	validate.ArchiveSource
	enc textenc.Encoding
}

func (o overriddenEncodingSource) Encoding() textenc.Encoding { return o.enc }

func parseEncodingOverride(s string) (textenc.Encoding, error) {
	switch s {
	case "":
		return textenc.Unknown, nil
	case "utf-8", "utf8":
		return textenc.UTF8, nil
	case "cp949":
		return textenc.CP949, nil
	case "euc-kr", "euckr":
		return textenc.EUCKR, nil
	case "latin1":
		return textenc.Latin1, nil
	default:
		return textenc.Unknown, fmt.Errorf("unknown --encoding value %q", s)
	}
}

func printSummary(out *os.File, report validate.Report, exampleCount int) {
	fmt.Fprintf(out, "total entries:        %d\n", report.Total)
	fmt.Fprintf(out, "bad (U+FFFD):         %d\n", report.BadUFFFD)
	fmt.Fprintf(out, "bad (C1 controls):    %d\n", report.BadC1)
	fmt.Fprintf(out, "mojibake:             %d\n", report.Mojibake)
	fmt.Fprintf(out, "roundtrip failures:   %d (raw), %d (repairable), %d (final)\n",
		report.RoundtripRawFail, report.RoundtripRepairable, report.RoundtripFinalFail)
	fmt.Fprintf(out, "load failures:        %d\n", len(report.LoadFailures))
	fmt.Fprintf(out, "health:               %.4f\n", report.Health())
	fmt.Fprintf(out, "exit code:            %d\n", report.ExitCode())

	shown := 0
	for _, c := range report.Entries {
		if !c.RoundtripFinalFail {
			continue
		}
		if shown >= exampleCount {
			break
		}
		fmt.Fprintf(out, "  final-fail: %s: %q\n", c.Archive, c.Name)
		shown++
	}
}

func writeReport(path string, report validate.Report) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(struct {
		Report    validate.Report    `json:"report"`
		RepairMap validate.RepairMap `json:"repair_map"`
	}{
		Report:    report,
		RepairMap: report.BuildRepairMap(time.Now()),
	})
}
