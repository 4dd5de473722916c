// Package report writes the artifacts a run leaves in its results directory:
// the append-only summary.txt event log, the failed.txt re-run list and one
// JUnit XML file per job.
package report

import (
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/jstemmer/go-junit-report/v2/junit"

	"github.com/h2oai/h2o-3-sub001/internal/model"
)

// Artifact names inside the results directory.
const (
	SummaryName = "summary.txt"
	FailedName  = "failed.txt"
	JUnitDir    = "junit"
)

// maxLogTail caps how much of a job log is embedded in its JUnit file.
const maxLogTail = 64 << 10

// Writer appends run events to summary.txt and writes per-job artifacts.
// It is safe for concurrent use.
type Writer struct {
	dir   string
	junit bool
	now   func() time.Time

	mu      sync.Mutex
	summary *os.File
}

// Open creates the results directory and opens summary.txt for appending.
func Open(dir string, junitEnabled bool) (*Writer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create results dir: %w", err)
	}
	if junitEnabled {
		if err := os.MkdirAll(filepath.Join(dir, JUnitDir), 0o755); err != nil {
			return nil, fmt.Errorf("create junit dir: %w", err)
		}
	}

	f, err := os.OpenFile(filepath.Join(dir, SummaryName), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open summary: %w", err)
	}
	return &Writer{dir: dir, junit: junitEnabled, now: time.Now, summary: f}, nil
}

// Dir is the results directory.
func (w *Writer) Dir() string { return w.dir }

// Close closes summary.txt.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.summary == nil {
		return nil
	}
	err := w.summary.Close()
	w.summary = nil
	return err
}

// Event appends one line to summary.txt.
func (w *Writer) Event(event, format string, args ...any) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.summary == nil {
		return fmt.Errorf("summary closed")
	}
	line := fmt.Sprintf("%s %-16s %s\n", w.now().UTC().Format(time.RFC3339), event, fmt.Sprintf(format, args...))
	_, err := io.WriteString(w.summary, line)
	return err
}

// JobStarted records a dispatch.
func (w *Writer) JobStarted(path string, cloud int, endpoint string) error {
	return w.Event("STARTED", "%s cloud=%d endpoint=%s", path, cloud, endpoint)
}

// JobFinished records a terminal result and, when enabled, its JUnit file.
func (w *Writer) JobFinished(r model.Result) error {
	line := fmt.Sprintf("%s exit=%d duration=%s", r.Path, r.ExitCode, r.Duration.Round(time.Millisecond))
	if r.Seed != "" {
		line += " seed=" + r.Seed
	}
	if r.Tolerated {
		line += " tolerated"
	}
	if err := w.Event(strings.ToUpper(string(r.Outcome)), "%s", line); err != nil {
		return err
	}
	if !w.junit {
		return nil
	}
	return w.writeJUnit(r)
}

// RunFinished records the final tally.
func (w *Writer) RunFinished(s model.Summary) error {
	return w.Event("SUMMARY",
		"total=%d passed=%d failed=%d skipped=%d did_not_complete=%d cancelled=%d terminated=%d tolerated=%d successful=%t",
		s.Total, s.Passed, s.Failed, s.Skipped, s.DidNotComplete, s.Cancelled, s.Terminated, s.Tolerated, s.Successful())
}

// WriteFailed replaces failed.txt with the paths of the failed, untolerated
// results, in the order given.
func (w *Writer) WriteFailed(results []model.Result) error {
	var b strings.Builder
	for _, r := range results {
		if r.Outcome == model.OutcomeFailed && !r.Tolerated {
			b.WriteString(r.Path)
			b.WriteByte('\n')
		}
	}
	if err := os.WriteFile(filepath.Join(w.dir, FailedName), []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("write failed list: %w", err)
	}
	return nil
}

func (w *Writer) writeJUnit(r model.Result) error {
	tc := junit.Testcase{
		Name:      r.Name,
		Classname: classname(r),
		Time:      fmt.Sprintf("%.3f", r.Duration.Seconds()),
	}

	tail := logTail(r.LogPath)
	switch r.Outcome {
	case model.OutcomePassed:
	case model.OutcomeSkipped:
		tc.Skipped = &junit.Result{Message: fmt.Sprintf("skipped (exit %d)", r.ExitCode)}
	case model.OutcomeFailed:
		tc.Failure = &junit.Result{
			Message: fmt.Sprintf("exit code %d", r.ExitCode),
			Type:    string(r.Outcome),
			Data:    tail,
		}
	default:
		tc.Error = &junit.Result{
			Message: string(r.Outcome),
			Type:    string(r.Outcome),
			Data:    tail,
		}
	}
	if tail != "" {
		tc.SystemOut = &junit.Output{Data: tail}
	}

	suite := junit.Testsuite{Name: classname(r)}
	suite.AddTestcase(tc)

	var suites junit.Testsuites
	suites.AddSuite(suite)

	path := filepath.Join(w.dir, JUnitDir, r.Slug+".xml")
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create junit file: %w", err)
	}
	defer f.Close()

	if _, err := io.WriteString(f, xml.Header); err != nil {
		return fmt.Errorf("write junit %s: %w", path, err)
	}
	enc := xml.NewEncoder(f)
	enc.Indent("", "\t")
	if err := enc.Encode(suites); err != nil {
		return fmt.Errorf("write junit %s: %w", path, err)
	}
	if err := enc.Flush(); err != nil {
		return fmt.Errorf("write junit %s: %w", path, err)
	}
	return f.Close()
}

// classname groups tests by kind and language, e.g. "unit.python".
func classname(r model.Result) string {
	return fmt.Sprintf("%s.%s", r.Kind, r.Lang)
}

func logTail(path string) string {
	if path == "" {
		return ""
	}
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()

	if fi, err := f.Stat(); err == nil && fi.Size() > maxLogTail {
		if _, err := f.Seek(-maxLogTail, io.SeekEnd); err != nil {
			return ""
		}
	}
	data, err := io.ReadAll(f)
	if err != nil {
		return ""
	}
	return string(data)
}
