// Package schedule runs the batch passes: worker pools, flush buffers,
// progress reporting, checkpoints, the results journal, and the run lock.
package schedule

import (
	"encoding/json"
	"fmt"
	"log"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// Checkpoint persists run progress to a JSON file so a crashed run can be
// diagnosed and external monitoring can poll status. Each Checkpoint carries
// a run id so monitoring can tell a restart from a stalled run that resumed
// writing.
type Checkpoint struct {
	dir   string
	job   string
	runID string
	now   func() time.Time
}

func NewCheckpoint(dir, job string) *Checkpoint {
	return &Checkpoint{dir: dir, job: job, runID: uuid.NewString(), now: time.Now}
}

// Path is where this checkpoint lives: {dir}/ds_checkpoint_{job}.json.
func (c *Checkpoint) Path() string {
	return filepath.Join(c.dir, fmt.Sprintf("ds_checkpoint_%s.json", c.job))
}

// CheckpointData is the file contents.
type CheckpointData struct {
	JobName     string         `json:"job_name"`
	RunID       string         `json:"run_id"`
	Total       int            `json:"total"`
	Stats       map[string]int `json:"stats"`
	UpdatedAt   string         `json:"updated_at"`
	PID         int            `json:"pid"`
	Status      string         `json:"status,omitempty"`
	ElapsedSec  float64        `json:"elapsed_sec,omitempty"`
	CompletedAt string         `json:"completed_at,omitempty"`
}

// Save writes current progress. Failures are logged and swallowed; a full
// /tmp must not kill a scan.
func (c *Checkpoint) Save(stats map[string]int, total int) {
	c.write(CheckpointData{
		JobName:   c.job,
		RunID:     c.runID,
		Total:     total,
		Stats:     stats,
		UpdatedAt: c.now().Format(time.RFC3339),
		PID:       os.Getpid(),
	})
}

// MarkComplete writes the final checkpoint with completion status.
func (c *Checkpoint) MarkComplete(stats map[string]int, total int, elapsed time.Duration) {
	c.write(CheckpointData{
		JobName:     c.job,
		RunID:       c.runID,
		Total:       total,
		Stats:       stats,
		UpdatedAt:   c.now().Format(time.RFC3339),
		PID:         os.Getpid(),
		Status:      "complete",
		ElapsedSec:  math.Round(elapsed.Seconds()*10) / 10,
		CompletedAt: c.now().Format(time.RFC3339),
	})
}

// Load reads the checkpoint if present.
func (c *Checkpoint) Load() (CheckpointData, bool) {
	raw, err := os.ReadFile(c.Path())
	if err != nil {
		return CheckpointData{}, false
	}
	var data CheckpointData
	if err := json.Unmarshal(raw, &data); err != nil {
		return CheckpointData{}, false
	}
	return data, true
}

// Clear removes the checkpoint file.
func (c *Checkpoint) Clear() {
	os.Remove(c.Path())
}

func (c *Checkpoint) write(data CheckpointData) {
	raw, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return
	}
	if err := os.WriteFile(c.Path(), raw, 0o644); err != nil {
		log.Printf("[Checkpoint] save failed: %v", err)
	}
}
