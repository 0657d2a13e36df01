package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cuongbtq/vidgen/internal/poller"
	"github.com/olekukonko/tablewriter"
)

// progressPrinter prints one line per status change
type progressPrinter struct {
	out io.Writer

	mu   sync.Mutex
	last string
}

func (p *progressPrinter) Loading(active bool) {
	if active {
		fmt.Fprintln(p.out, "Waiting for job...")
	}
}

func (p *progressPrinter) Progress(view poller.StatusView) {
	line := view.Status
	if view.Warning != "" {
		line += " (warning: " + view.Warning + ")"
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if line == p.last {
		return
	}
	p.last = line
	fmt.Fprintf(p.out, "[%s] %s\n", time.Now().Format(time.TimeOnly), line)
}

func (p *progressPrinter) Stalled() {
	fmt.Fprintln(p.out, "Status checks keep failing; polling paused.")
}

func (p *progressPrinter) Done(result poller.Result) {
	fmt.Fprintf(p.out, "Job %s finished: %s\n", result.JobID, result.Status)
}

// saveArtifact writes the artifact into dir and returns its path
func saveArtifact(dir string, result poller.Result) (string, error) {
	name := filepath.Base(result.Artifact.Filename)
	if name == "." || name == string(filepath.Separator) || name == "" {
		name = result.JobID + ".bin"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, result.Artifact.Data, 0o644); err != nil {
		return "", fmt.Errorf("failed to save artifact: %w", err)
	}
	return path, nil
}

type resultJSON struct {
	JobID       string `json:"job_id"`
	State       string `json:"state"`
	Status      string `json:"status,omitempty"`
	Error       string `json:"error,omitempty"`
	Warning     string `json:"warning,omitempty"`
	ContentType string `json:"content_type,omitempty"`
	Size        int    `json:"size,omitempty"`
	SavedTo     string `json:"saved_to,omitempty"`
}

func (a *app) printResult(out io.Writer, result poller.Result, savedTo string) error {
	view := resultJSON{
		JobID:   result.JobID,
		State:   string(result.State),
		Status:  result.Status,
		Error:   result.Error,
		Warning: result.Warning,
		SavedTo: savedTo,
	}
	if result.Artifact != nil {
		view.ContentType = result.Artifact.ContentType
		view.Size = len(result.Artifact.Data)
	}

	if a.jsonOutput() {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(view)
	}

	table := tablewriter.NewWriter(out)
	table.Header("Field", "Value")
	table.Append("Job ID", view.JobID)
	table.Append("State", view.State)
	if view.Status != "" {
		table.Append("Status", view.Status)
	}
	if view.Warning != "" {
		table.Append("Warning", view.Warning)
	}
	if view.Error != "" {
		table.Append("Error", view.Error)
	}
	if view.ContentType != "" {
		table.Append("Content Type", view.ContentType)
		table.Append("Size", fmt.Sprintf("%d bytes", view.Size))
	}
	if view.SavedTo != "" {
		table.Append("Saved To", view.SavedTo)
	}
	return table.Render()
}

// finish saves any artifact and prints the result
func (a *app) finish(out io.Writer, result poller.Result, dir string) error {
	var savedTo string
	if result.Artifact != nil {
		path, err := saveArtifact(dir, result)
		if err != nil {
			return err
		}
		savedTo = path
	}
	if err := a.printResult(out, result, savedTo); err != nil {
		return err
	}
	if result.Status == "failed" {
		return fmt.Errorf("job %s failed: %s", result.JobID, result.Error)
	}
	return nil
}
