package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/utlibraries/mediacat/core"
	"github.com/utlibraries/mediacat/llm"
)

// ResponseLog writes per-call LLM response transcripts under
// logs/responses/ in the run directory. Logging is best effort; a
// failed transcript write never fails the item.
type ResponseLog struct {
	dir    string
	logger core.Logger
}

func NewResponseLog(runDir string, logger core.Logger) *ResponseLog {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &ResponseLog{dir: filepath.Join(runDir, "logs", "responses"), logger: logger}
}

// Write records one model reply
func (rl *ResponseLog) Write(stage core.Stage, barcode, content string) {
	if rl == nil {
		return
	}
	if err := os.MkdirAll(rl.dir, 0o755); err != nil {
		rl.logger.Warn("Failed to create response log directory", map[string]interface{}{
			"operation": "response_log_failed",
			"error":     err.Error(),
		})
		return
	}
	path := filepath.Join(rl.dir, fmt.Sprintf("%s_%s.txt", stage.String(), barcode))
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		rl.logger.Warn("Failed to write response log", map[string]interface{}{
			"operation": "response_log_failed",
			"barcode":   barcode,
			"error":     err.Error(),
		})
	}
}

// Exporter writes the terminal run artifacts: the Alma upload export,
// per-stage metrics, the error log, the needs-attention report, and
// token-usage summaries.
type Exporter struct {
	runDir string
	logger core.Logger
}

func NewExporter(runDir string, logger core.Logger) *Exporter {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &Exporter{runDir: runDir, logger: logger}
}

// Export writes every run artifact derived from terminal state
func (e *Exporter) Export(ctx context.Context, store WorkflowStore, report *RunReport, ledger *llm.CostLedger) error {
	if err := os.MkdirAll(filepath.Join(e.runDir, "logs"), 0o755); err != nil {
		return fmt.Errorf("failed to create export directory: %v: %w", err, core.ErrPersistence)
	}

	items, err := store.ListAll(ctx)
	if err != nil {
		return err
	}

	// Stores persisting elsewhere get a state snapshot in the run
	// directory; the file store already keeps state.json here.
	if _, local := store.(interface{ Dir() string }); !local {
		byBarcode := make(map[string]*core.Item, len(items))
		for _, item := range items {
			byBarcode[item.Barcode] = item
		}
		if err := writeJSONAtomic(filepath.Join(e.runDir, "state.json"), byBarcode); err != nil {
			return err
		}
		candidates, cErr := store.Candidates(ctx)
		if cErr != nil {
			return cErr
		}
		if err := writeJSONAtomic(filepath.Join(e.runDir, "candidates.json"), candidates); err != nil {
			return err
		}
	}

	if err := e.writeAlmaExport(items); err != nil {
		return err
	}
	if err := e.writeErrorLog(items); err != nil {
		return err
	}
	if err := e.writeNeedsAttention(items); err != nil {
		return err
	}
	if err := writeJSONAtomic(filepath.Join(e.runDir, "metrics.json"), report); err != nil {
		return err
	}
	if ledger != nil {
		usage := struct {
			Summary llm.CostSummary `json:"summary"`
			Events  []llm.CostEvent `json:"events"`
		}{Summary: ledger.Summary(), Events: ledger.Events()}
		if err := writeJSONAtomic(filepath.Join(e.runDir, "logs", "token_usage.json"), usage); err != nil {
			return err
		}
	}

	e.logger.Info("Run artifacts exported", map[string]interface{}{
		"operation": "export_done",
		"directory": e.runDir,
		"items":     len(items),
	})
	return nil
}

// writeAlmaExport emits the pipe-delimited upload file: one
// "oclc|barcode|title" line per high-confidence item, LF terminated,
// no header.
func (e *Exporter) writeAlmaExport(items []*core.Item) error {
	var b strings.Builder
	for _, item := range items {
		if item.Stage5 == nil || item.Stage5.Group != core.GroupAlmaBatchUpload {
			continue
		}
		title := ""
		if item.Stage1 != nil && item.Stage1.Metadata != nil {
			title = item.Stage1.Metadata.Title
		}
		fmt.Fprintf(&b, "%s|%s|%s\n", item.Stage3.SelectedOCLC, item.Barcode, title)
	}
	return writeFileAtomic(filepath.Join(e.runDir, "alma_batch_upload.txt"), []byte(b.String()))
}

// writeErrorLog lists every failed item with stage, cause and context
func (e *Exporter) writeErrorLog(items []*core.Item) error {
	var b strings.Builder
	for _, item := range items {
		if item.Status != core.StatusFailed {
			continue
		}
		fmt.Fprintf(&b, "%s | %s | %s\n", item.Barcode, item.FailedStage, item.FailedReason)
	}
	return writeFileAtomic(filepath.Join(e.runDir, "errors.log"), []byte(b.String()))
}

// writeNeedsAttention reports failed items and flagged selections for
// a cataloger to follow up on.
func (e *Exporter) writeNeedsAttention(items []*core.Item) error {
	var b strings.Builder
	for _, item := range items {
		switch {
		case item.Status == core.StatusFailed:
			fmt.Fprintf(&b, "%s: failed at %s: %s\n", item.Barcode, item.FailedStage, item.FailedReason)
		case item.Stage3 != nil && item.Stage3.NotInCandidates:
			fmt.Fprintf(&b, "%s: selected OCLC %s was not among the search candidates\n",
				item.Barcode, item.Stage3.SelectedOCLC)
		case item.Stage3 != nil && item.Stage3.Flagged:
			fmt.Fprintf(&b, "%s: selection response could not be fully parsed\n", item.Barcode)
		}
	}
	return writeFileAtomic(filepath.Join(e.runDir, "needs_attention.txt"), []byte(b.String()))
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %v: %w", err, core.ErrPersistence)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to write %s: %v: %w", path, err, core.ErrPersistence)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to close temp file: %v: %w", err, core.ErrPersistence)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to commit %s: %v: %w", path, err, core.ErrPersistence)
	}
	return nil
}
