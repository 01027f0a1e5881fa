// Package storage persists run artifacts: the run folder, write-once
// config and metadata, append-only JSONL transcript and label logs, and a
// SQLite index of runs for cross-run querying. Completeness of a
// trajectory is an explicit field on its records, never inferred from file
// existence.
package storage

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"driftbench/internal/config"
	"driftbench/internal/labeling"
	"driftbench/internal/logging"
	"driftbench/internal/runner"
)

// NewRunID generates a timestamped run identifier with a short unique
// suffix, safe for use as a directory name.
func NewRunID(runName string) string {
	ts := time.Now().UTC().Format("2006-01-02T15-04-05Z")
	var b strings.Builder
	for _, c := range runName {
		if c == '-' || c == '_' ||
			(c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') {
			b.WriteRune(c)
		} else {
			b.WriteByte('_')
		}
	}
	suffix := uuid.NewString()[:8]
	return fmt.Sprintf("%s_%s_%s", ts, b.String(), suffix)
}

// RunPath returns the folder for a run under the base path.
func RunPath(basePath, runID string) string {
	return filepath.Join(basePath, runID)
}

// CreateRunFolder makes the run directory.
func CreateRunFolder(basePath, runID string) (string, error) {
	path := RunPath(basePath, runID)
	if err := os.MkdirAll(path, 0755); err != nil {
		return "", fmt.Errorf("failed to create run folder: %w", err)
	}
	logging.Storage("created run folder %s", path)
	return path, nil
}

// RunMetadata pins everything needed to reproduce a run. Written once at
// run start, never mutated.
type RunMetadata struct {
	RunID     string                        `json:"run_id"`
	CreatedAt time.Time                     `json:"created_at"`
	Models    map[string]config.ModelConfig `json:"models"`
	SuiteHash string                        `json:"suite_hash"`
	GitCommit string                        `json:"git_commit,omitempty"`
	Seed      int64                         `json:"seed"`
	Env       EnvInfo                       `json:"env"`
}

// EnvInfo describes the execution environment.
type EnvInfo struct {
	GoVersion string `json:"go_version"`
	OS        string `json:"os"`
	Arch      string `json:"arch"`
}

// CurrentEnv captures the running environment.
func CurrentEnv() EnvInfo {
	return EnvInfo{
		GoVersion: runtime.Version(),
		OS:        runtime.GOOS,
		Arch:      runtime.GOARCH,
	}
}

// GitCommitHash returns the current commit, or empty when not in a repo.
func GitCommitHash() string {
	out, err := exec.Command("git", "rev-parse", "HEAD").Output()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(out))
}

// FileHash computes the SHA-256 hex digest of a file.
func FileHash(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to hash %s: %w", path, err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// SaveMetadata writes metadata.json once. It refuses to overwrite.
func SaveMetadata(runPath string, meta RunMetadata) error {
	path := filepath.Join(runPath, "metadata.json")
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("metadata already written for run at %s", runPath)
	}
	return writeJSON(path, meta)
}

// LoadMetadata reads metadata.json.
func LoadMetadata(runPath string) (RunMetadata, error) {
	var meta RunMetadata
	data, err := os.ReadFile(filepath.Join(runPath, "metadata.json"))
	if err != nil {
		return meta, fmt.Errorf("failed to read metadata: %w", err)
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return meta, fmt.Errorf("failed to parse metadata: %w", err)
	}
	return meta, nil
}

// SaveConfig writes the run's config snapshot as config.json.
func SaveConfig(runPath string, cfg *config.Config) error {
	return writeJSON(filepath.Join(runPath, "config.json"), cfg)
}

// LoadConfig reads the config snapshot back.
func LoadConfig(runPath string) (*config.Config, error) {
	data, err := os.ReadFile(filepath.Join(runPath, "config.json"))
	if err != nil {
		return nil, fmt.Errorf("failed to read run config: %w", err)
	}
	var cfg config.Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse run config: %w", err)
	}
	// The snapshot is key-free; restore credentials from the environment.
	cfg.ApplyEnvOverrides()
	return &cfg, nil
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", filepath.Base(path), err)
	}
	return os.WriteFile(path, data, 0644)
}

// TurnRow is one line of transcripts.jsonl: one record per message, with
// role distinguishing the scripted user turn from the assistant reply.
// User rows carry the message as both draft and final.
type TurnRow struct {
	RunID          string    `json:"run_id"`
	ScenarioID     string    `json:"scenario_id"`
	Category       string    `json:"category,omitempty"`
	Condition      string    `json:"condition"`
	TurnIndex      int       `json:"turn_idx"`
	Role           string    `json:"role"`
	Draft          string    `json:"draft"`
	Final          string    `json:"final"`
	GateFired      *bool     `json:"gate_fired"`
	GateConfidence *float64  `json:"gate_confidence"`
	RewriteApplied bool      `json:"rewrite_applied"`
	RewriteFailed  bool      `json:"rewrite_failed,omitempty"`
	CorrectionReq  bool      `json:"correction_required"`
	Premise        string    `json:"contested_premise,omitempty"`
	Complete       bool      `json:"trajectory_complete"`
	FailReason     string    `json:"fail_reason,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// TranscriptWriter appends transcript rows for one run. Safe for use from
// concurrent trajectories.
type TranscriptWriter struct {
	mu   sync.Mutex
	path string
}

// NewTranscriptWriter returns a writer appending to transcripts.jsonl.
func NewTranscriptWriter(runPath string) *TranscriptWriter {
	return &TranscriptWriter{path: filepath.Join(runPath, "transcripts.jsonl")}
}

// SaveTranscript implements runner.Sink: it appends every turn of a
// finished trajectory atomically with respect to other trajectories.
func (w *TranscriptWriter) SaveTranscript(t *runner.Transcript) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open transcript log: %w", err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	for _, turn := range t.Turns {
		userRow := TurnRow{
			RunID:      t.RunID,
			ScenarioID: t.ScenarioID,
			Category:   t.Category,
			Condition:  t.Condition,
			TurnIndex:  turn.Index,
			Role:       "user",
			Draft:      turn.User,
			Final:      turn.User,
			Complete:   t.Complete,
			Timestamp:  turn.Timestamp,
		}
		if err := enc.Encode(userRow); err != nil {
			return fmt.Errorf("failed to append transcript row: %w", err)
		}
		row := TurnRow{
			RunID:          t.RunID,
			ScenarioID:     t.ScenarioID,
			Category:       t.Category,
			Condition:      t.Condition,
			TurnIndex:      turn.Index,
			Role:           "assistant",
			Draft:          turn.Draft,
			Final:          turn.Final,
			GateFired:      turn.GateFired,
			GateConfidence: turn.GateConfidence,
			RewriteApplied: turn.RewriteApplied,
			RewriteFailed:  turn.RewriteFailed,
			CorrectionReq:  turn.CorrectionRequired,
			Premise:        t.Premise,
			Complete:       t.Complete,
			FailReason:     t.FailReason,
			Timestamp:      turn.Timestamp,
		}
		if err := enc.Encode(row); err != nil {
			return fmt.Errorf("failed to append transcript row: %w", err)
		}
	}
	logging.Storage("saved transcript %s/%s (%d turns, complete=%v)",
		t.ScenarioID, t.Condition, len(t.Turns), t.Complete)
	return nil
}

// ReadTranscripts reconstructs trajectories from transcripts.jsonl,
// ordered by scenario ID then condition.
func ReadTranscripts(runPath string) ([]*runner.Transcript, error) {
	rows, err := readRows(filepath.Join(runPath, "transcripts.jsonl"))
	if err != nil {
		return nil, err
	}

	type key struct{ scenario, condition string }
	grouped := make(map[key]*runner.Transcript)
	var order []key

	for _, row := range rows {
		k := key{row.ScenarioID, row.Condition}
		t, ok := grouped[k]
		if !ok {
			t = &runner.Transcript{
				RunID:      row.RunID,
				ScenarioID: row.ScenarioID,
				Category:   row.Category,
				Condition:  row.Condition,
				Complete:   row.Complete,
			}
			grouped[k] = t
			order = append(order, k)
		}
		if row.Role != "assistant" {
			continue
		}
		if row.Premise != "" {
			t.Premise = row.Premise
		}
		t.Complete = row.Complete
		t.FailReason = row.FailReason
		t.Turns = append(t.Turns, runner.TurnRecord{
			Index:              row.TurnIndex,
			Draft:              row.Draft,
			Final:              row.Final,
			GateFired:          row.GateFired,
			GateConfidence:     row.GateConfidence,
			RewriteApplied:     row.RewriteApplied,
			RewriteFailed:      row.RewriteFailed,
			CorrectionRequired: row.CorrectionReq,
			Timestamp:          row.Timestamp,
		})
	}

	// Restore the scripted user messages onto the assistant records.
	for _, row := range rows {
		if row.Role != "user" {
			continue
		}
		t := grouped[key{row.ScenarioID, row.Condition}]
		for i := range t.Turns {
			if t.Turns[i].Index == row.TurnIndex {
				t.Turns[i].User = row.Final
			}
		}
	}

	sort.Slice(order, func(i, j int) bool {
		if order[i].scenario != order[j].scenario {
			return order[i].scenario < order[j].scenario
		}
		return order[i].condition < order[j].condition
	})
	out := make([]*runner.Transcript, 0, len(order))
	for _, k := range order {
		t := grouped[k]
		sort.Slice(t.Turns, func(i, j int) bool { return t.Turns[i].Index < t.Turns[j].Index })
		out = append(out, t)
	}
	return out, nil
}

func readRows(path string) ([]TurnRow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open transcript log: %w", err)
	}
	defer f.Close()

	var rows []TurnRow
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 1024*1024), 4*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var row TurnRow
		if err := json.Unmarshal([]byte(line), &row); err != nil {
			return nil, fmt.Errorf("malformed transcript row: %w", err)
		}
		rows = append(rows, row)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan transcript log: %w", err)
	}
	return rows, nil
}

// WriteLabels appends label records to labels.jsonl.
func WriteLabels(runPath string, labels []labeling.Label) error {
	f, err := os.OpenFile(filepath.Join(runPath, "labels.jsonl"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open label log: %w", err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	for _, label := range labels {
		if err := enc.Encode(label); err != nil {
			return fmt.Errorf("failed to append label row: %w", err)
		}
	}
	return nil
}

// ReadLabels reads all label records from labels.jsonl.
func ReadLabels(runPath string) ([]labeling.Label, error) {
	f, err := os.Open(filepath.Join(runPath, "labels.jsonl"))
	if err != nil {
		return nil, fmt.Errorf("failed to open label log: %w", err)
	}
	defer f.Close()

	var labels []labeling.Label
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 1024*1024), 4*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var label labeling.Label
		if err := json.Unmarshal([]byte(line), &label); err != nil {
			return nil, fmt.Errorf("malformed label row: %w", err)
		}
		labels = append(labels, label)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan label log: %w", err)
	}
	return labels, nil
}
