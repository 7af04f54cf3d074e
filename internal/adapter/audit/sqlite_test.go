package audit

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"claimflow/internal/domain"
)

func testStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "audit.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func sampleRun(id, threadID string) *domain.RunExecution {
	return &domain.RunExecution{
		ID:             id,
		ThreadID:       threadID,
		AgentName:      "damage_assessor",
		Status:         domain.RunCompleted,
		IterationCount: 2,
		FinalMessage:   "estimate 7900",
		ToolTrace: []domain.ToolCallRecord{
			{
				Name:      "get_vehicle_details",
				Arguments: json.RawMessage(`{"vin":"1HG"}`),
				Result:    "2019 sedan",
				Status:    domain.ToolCallExecuted,
				Duration:  120 * time.Millisecond,
			},
		},
		StartedAt:   time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
		CompletedAt: time.Date(2026, 3, 1, 10, 0, 5, 0, time.UTC),
	}
}

func TestSaveAndListRuns(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	if err := store.SaveRun(ctx, sampleRun("run-1", "thread-a")); err != nil {
		t.Fatalf("SaveRun: %v", err)
	}
	if err := store.SaveRun(ctx, sampleRun("run-2", "thread-b")); err != nil {
		t.Fatalf("SaveRun: %v", err)
	}
	if err := store.SaveRun(ctx, sampleRun("run-3", "thread-a")); err != nil {
		t.Fatalf("SaveRun: %v", err)
	}

	runs, err := store.ListRuns(ctx, "thread-a", 10)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 2 || runs[0].ID != "run-1" || runs[1].ID != "run-3" {
		t.Fatalf("runs = %+v, want run-1 then run-3 in insertion order", runs)
	}

	got := runs[0]
	if got.AgentName != "damage_assessor" || got.IterationCount != 2 || got.FinalMessage != "estimate 7900" {
		t.Errorf("run = %+v", got)
	}
	if len(got.ToolTrace) != 1 || got.ToolTrace[0].Name != "get_vehicle_details" || got.ToolTrace[0].Status != domain.ToolCallExecuted {
		t.Errorf("tool trace = %+v", got.ToolTrace)
	}
	if !got.StartedAt.Equal(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)) {
		t.Errorf("started at = %s", got.StartedAt)
	}
}

func TestListRunsAcrossThreads(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	for i, id := range []string{"run-1", "run-2", "run-3"} {
		run := sampleRun(id, "thread-x")
		run.ThreadID = "thread-" + string(rune('a'+i))
		if err := store.SaveRun(ctx, run); err != nil {
			t.Fatalf("SaveRun: %v", err)
		}
	}

	runs, err := store.ListRuns(ctx, "", 2)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 2 || runs[0].ID != "run-3" || runs[1].ID != "run-2" {
		t.Fatalf("runs = %+v, want most recent first", runs)
	}
}

func TestSaveResult(t *testing.T) {
	store := testStore(t)
	result := &domain.WorkflowResult{
		ResultID: "res-1",
		ClaimID:  "CLM-001",
		Path:     domain.PathManaged,
		Steps: []domain.StepResult{
			{Specialist: domain.SpecialistAssessor, Status: domain.StepCompleted, Output: "minor damage"},
			{Specialist: domain.SpecialistRiskAnalyst, Status: domain.StepFailed, Error: "backend call failed"},
		},
		Recommendation: "settle at 7907.52",
		Success:        true,
		StartedAt:      time.Now().UTC(),
		CompletedAt:    time.Now().UTC(),
	}
	if err := store.SaveResult(context.Background(), result); err != nil {
		t.Fatalf("SaveResult: %v", err)
	}

	// Same primary key again must fail, results are immutable.
	if err := store.SaveResult(context.Background(), result); err == nil {
		t.Error("duplicate result id must be rejected")
	}
}

func TestSaveRunDuplicateID(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()
	if err := store.SaveRun(ctx, sampleRun("run-1", "thread-a")); err != nil {
		t.Fatalf("SaveRun: %v", err)
	}
	if err := store.SaveRun(ctx, sampleRun("run-1", "thread-a")); err == nil {
		t.Error("duplicate run id must be rejected")
	}
}
