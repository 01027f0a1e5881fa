package storage

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"driftbench/internal/config"
	"driftbench/internal/labeling"
	"driftbench/internal/runner"
)

func sampleTranscript(scenario, condition string) *runner.Transcript {
	fired := true
	conf := 0.9
	ts := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	return &runner.Transcript{
		RunID:      "run1",
		ScenarioID: scenario,
		Category:   "false_premise",
		Condition:  condition,
		Premise:    "the contested premise",
		Complete:   true,
		Turns: []runner.TurnRecord{
			{
				Index:              0,
				User:               "first pressure turn",
				Draft:              "draft zero",
				Final:              "final zero",
				GateFired:          &fired,
				GateConfidence:     &conf,
				RewriteApplied:     true,
				CorrectionRequired: true,
				Timestamp:          ts,
			},
			{
				Index:     1,
				User:      "second pressure turn",
				Draft:     "draft one",
				Final:     "draft one",
				Timestamp: ts.Add(time.Minute),
			},
		},
	}
}

func TestNewRunID(t *testing.T) {
	id1 := NewRunID("pilot run/v1")
	id2 := NewRunID("pilot run/v1")

	assert.NotEqual(t, id1, id2, "run IDs are unique")
	assert.NotContains(t, id1, "/")
	assert.NotContains(t, id1, " ")
	assert.Contains(t, id1, "pilot_run_v1")
}

func TestTranscriptRoundTrip(t *testing.T) {
	dir := t.TempDir()
	w := NewTranscriptWriter(dir)

	want := []*runner.Transcript{
		sampleTranscript("sc1", "baseline"),
		sampleTranscript("sc1", "enforce"),
		sampleTranscript("sc2", "baseline"),
	}
	for _, tr := range want {
		require.NoError(t, w.SaveTranscript(tr))
	}

	got, err := ReadTranscripts(dir)
	require.NoError(t, err)
	require.Len(t, got, 3)

	// Ordered by scenario then condition.
	assert.Equal(t, "sc1", got[0].ScenarioID)
	assert.Equal(t, "baseline", got[0].Condition)
	assert.Equal(t, "enforce", got[1].Condition)
	assert.Equal(t, "sc2", got[2].ScenarioID)

	orig := want[1]
	back := got[1]
	assert.Equal(t, orig.Premise, back.Premise)
	assert.Equal(t, orig.Category, back.Category)
	require.Len(t, back.Turns, 2)
	assert.Equal(t, orig.Turns[0].User, back.Turns[0].User)
	assert.Equal(t, orig.Turns[0].Draft, back.Turns[0].Draft)
	assert.Equal(t, orig.Turns[0].Final, back.Turns[0].Final)
	require.NotNil(t, back.Turns[0].GateFired)
	assert.True(t, *back.Turns[0].GateFired)
	assert.True(t, back.Turns[0].RewriteApplied)
	assert.True(t, back.Turns[0].CorrectionRequired)
	assert.Nil(t, back.Turns[1].GateFired)
}

func TestTranscriptRoundTripIncomplete(t *testing.T) {
	dir := t.TempDir()
	w := NewTranscriptWriter(dir)

	tr := sampleTranscript("sc1", "baseline")
	tr.Complete = false
	tr.FailReason = "turn 2: retry budget exhausted"
	require.NoError(t, w.SaveTranscript(tr))

	got, err := ReadTranscripts(dir)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.False(t, got[0].Complete)
	assert.Equal(t, tr.FailReason, got[0].FailReason)
}

func TestLabelsRoundTrip(t *testing.T) {
	dir := t.TempDir()
	want := []labeling.Label{
		{RunID: "run1", ScenarioID: "sc1", Condition: "baseline", TurnIndex: 0,
			AgreementLevel: 0.3, CorrectionPresent: true, CorrectionScore: 2,
			EpistemicCount: 3, ReplyLength: 140,
			AgreementProvenance: labeling.ProvenanceJudge, CorrectionProvenance: labeling.ProvenanceJudge},
		{RunID: "run1", ScenarioID: "sc1", Condition: "baseline", TurnIndex: 1,
			AgreementLevel: 0.8, RapportCount: 2, ReplyLength: 90, LowConfidence: true,
			AgreementProvenance: labeling.ProvenanceLexicon, CorrectionProvenance: labeling.ProvenanceLexicon},
	}
	require.NoError(t, WriteLabels(dir, want[:1]))
	require.NoError(t, WriteLabels(dir, want[1:]), "append, not overwrite")

	got, err := ReadLabels(dir)
	require.NoError(t, err)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("labels changed across the round trip (-want +got):\n%s", diff)
	}
}

func TestMetadataWriteOnce(t *testing.T) {
	dir := t.TempDir()
	meta := RunMetadata{
		RunID:     "run1",
		CreatedAt: time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC),
		Models:    map[string]config.ModelConfig{"generation": {Provider: "openai", Model: "gpt-4o-mini"}},
		SuiteHash: strings.Repeat("ab", 32),
		Seed:      42,
		Env:       CurrentEnv(),
	}
	require.NoError(t, SaveMetadata(dir, meta))

	err := SaveMetadata(dir, meta)
	require.Error(t, err, "metadata is write-once")
	assert.Contains(t, err.Error(), "already written")

	got, err := LoadMetadata(dir)
	require.NoError(t, err)
	assert.Equal(t, meta.RunID, got.RunID)
	assert.Equal(t, meta.SuiteHash, got.SuiteHash)
	assert.Equal(t, meta.Seed, got.Seed)
	assert.NotEmpty(t, got.Env.GoVersion)
}

func TestConfigSnapshotRoundTrip(t *testing.T) {
	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.RunName = "snapshot"
	require.NoError(t, SaveConfig(dir, cfg))

	got, err := LoadConfig(dir)
	require.NoError(t, err)
	assert.Equal(t, "snapshot", got.RunName)
	assert.Equal(t, cfg.Conditions, got.Conditions)
	assert.Equal(t, cfg.Stats, got.Stats)
}

func TestSnapshotsRedactAPIKeys(t *testing.T) {
	dir := t.TempDir()
	const secret = "sk-should-never-hit-disk"

	cfg := config.DefaultConfig()
	for role, m := range cfg.Models {
		m.APIKey = secret
		cfg.Models[role] = m
	}
	require.NoError(t, SaveConfig(dir, cfg))
	require.NoError(t, SaveMetadata(dir, RunMetadata{
		RunID:     "run1",
		CreatedAt: time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC),
		Models:    cfg.Models,
		Env:       CurrentEnv(),
	}))

	for _, name := range []string{"config.json", "metadata.json"} {
		raw, err := os.ReadFile(filepath.Join(dir, name))
		require.NoError(t, err)
		assert.NotContains(t, string(raw), secret, "%s must not carry credentials", name)
	}

	t.Setenv("OPENAI_API_KEY", "from-env")
	got, err := LoadConfig(dir)
	require.NoError(t, err)
	assert.Equal(t, "from-env", got.Models["generation"].APIKey, "keys come back from the environment")
}

func TestFileHash(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "f.txt")
	require.NoError(t, writeJSON(path, map[string]int{"a": 1}))

	h1, err := FileHash(path)
	require.NoError(t, err)
	assert.Len(t, h1, 64)

	h2, err := FileHash(path)
	require.NoError(t, err)
	assert.Equal(t, h1, h2)

	_, err = FileHash(filepath.Join(dir, "missing.txt"))
	assert.Error(t, err)
}

func TestRunStore(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "index.db")
	store, err := NewRunStore(dbPath)
	require.NoError(t, err)
	defer store.Close()

	rec := RunRecord{RunID: "run1", RunName: "pilot", CreatedAt: time.Now().UTC(), Seed: 1}
	require.NoError(t, store.RecordRun(rec))

	tr := sampleTranscript("sc1", "enforce")
	require.NoError(t, store.RecordTrajectory(tr))
	incomplete := sampleTranscript("sc2", "enforce")
	incomplete.Complete = false
	require.NoError(t, store.RecordTrajectory(incomplete))

	counts, err := store.CountTrajectories("run1")
	require.NoError(t, err)
	assert.Equal(t, 2, counts.Total)
	assert.Equal(t, 1, counts.Incomplete)
	assert.Equal(t, 2, counts.Rewrites)

	require.NoError(t, store.SetRunStatus("run1", "done"))
	assert.Error(t, store.SetRunStatus("ghost", "done"))

	runs, err := store.ListRuns()
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "done", runs[0].Status)
	assert.Equal(t, "pilot", runs[0].RunName)
}

func TestSink(t *testing.T) {
	dir := t.TempDir()
	store, err := NewRunStore(filepath.Join(dir, "index.db"))
	require.NoError(t, err)
	defer store.Close()
	require.NoError(t, store.RecordRun(RunRecord{RunID: "run1", RunName: "s", CreatedAt: time.Now().UTC()}))

	sink := NewSink(dir, store)
	require.NoError(t, sink.SaveTranscript(sampleTranscript("sc1", "baseline")))

	got, err := ReadTranscripts(dir)
	require.NoError(t, err)
	assert.Len(t, got, 1)

	counts, err := store.CountTrajectories("run1")
	require.NoError(t, err)
	assert.Equal(t, 1, counts.Total)
}
