package executor

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stagecoach-run/stagecoach/fs/mock"
	"github.com/stagecoach-run/stagecoach/workflow"
)

func TestRunResultAggregates(t *testing.T) {
	fsys := mock.NewMockFileSystem()
	plan := buildPlan(t, fsys, "",
		mkTask(t, "fetch", 0, nil, []string{"raw.fits"}),
		mkTask(t, "calibrate", 1, []string{"raw.fits"}, []string{"cal.fits"}),
		mkTask(t, "plot", 2, []string{"cal.fits"}, []string{"cal.png"}))
	r := newRunResult(plan)

	if r.ID == "" {
		t.Error("run should carry an id")
	}
	if len(r.Tasks) != 3 || r.Tasks[0].Name != "fetch" {
		t.Fatalf("rows: %+v", r.Tasks)
	}
	if r.Failed() {
		t.Error("a run with only pending rows is not failed")
	}

	now := time.Now()
	failure := &workflow.ActionFailure{Task: "calibrate", ExitCode: 2}
	r.settle("fetch", Ran, "output raw.fits is missing", nil, "", now, now.Add(time.Second))
	r.settle("calibrate", Failed, "action exited with code 2", failure, "", now, now)
	r.settle("plot", Blocked, "dependency calibrate failed", nil, "", now, now)
	r.finish()

	if !r.Failed() {
		t.Error("run with a failed row should be failed")
	}
	if r.Cause() != failure {
		t.Errorf("cause: got %v", r.Cause())
	}
	counts := r.Counts()
	if counts["ran-ok"] != 1 || counts["failed"] != 1 || counts["not-attempted-due-to-upstream-failure"] != 1 {
		t.Errorf("counts: %v", counts)
	}
	if row := r.Task("fetch"); row.Took() != time.Second {
		t.Errorf("took: got %s", row.Took())
	}
}

func TestRunResultBlockedWithoutFailureStillFails(t *testing.T) {
	fsys := mock.NewMockFileSystem()
	plan := buildPlan(t, fsys, "", mkTask(t, "solo", 0, nil, []string{"out.txt"}))
	r := newRunResult(plan)

	now := time.Now()
	r.settle("solo", Blocked, "run canceled", nil, "", now, now)

	if !r.Failed() {
		t.Error("a blocked row should make the run failed")
	}
	if r.Cause() != nil {
		t.Errorf("cause without a failed row: got %v", r.Cause())
	}
}

func TestWriteReport(t *testing.T) {
	fsys := mock.NewMockFileSystem()
	plan := buildPlan(t, fsys, "", mkTask(t, "fetch", 0, nil, []string{"raw.fits"}))
	r := newRunResult(plan)
	now := time.Now()
	r.settle("fetch", Ran, "output raw.fits is missing", nil, "", now, now)
	r.finish()

	path, err := r.WriteReport(fsys, "reports")
	if err != nil {
		t.Fatalf("WriteReport: %v", err)
	}
	if !strings.HasPrefix(path, "reports/run-") || !strings.HasSuffix(path, ".json") {
		t.Errorf("report path: got %q", path)
	}
	if !strings.Contains(path, shortID(r.ID)) {
		t.Errorf("report path %q should carry the run id prefix %q", path, shortID(r.ID))
	}

	raw, err := fsys.ReadFile(path)
	if err != nil {
		t.Fatalf("read report: %v", err)
	}
	var decoded RunResult
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if decoded.ID != r.ID {
		t.Errorf("id: got %q, want %q", decoded.ID, r.ID)
	}
	if len(decoded.Tasks) != 1 || decoded.Tasks[0].Status != "ran-ok" {
		t.Errorf("rows: %+v", decoded.Tasks)
	}
}
