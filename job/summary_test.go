package job_test

import (
	"encoding/json"
	"testing"

	"github.com/emberline/stoker/id"
	"github.com/emberline/stoker/job"
)

func TestSummarize_MergesMetadata(t *testing.T) {
	j := &job.Job{
		ID:          id.NewTaskID(),
		Name:        "import-channel",
		State:       job.StateRunning,
		Progress:    0.42,
		Cancellable: true,
		Metadata: map[string]any{
			"type":       "REMOTEIMPORT",
			"channel_id": "ch-9",
			"started_by": "admin",
		},
	}

	data, err := json.Marshal(job.Summarize(j))
	if err != nil {
		t.Fatal(err)
	}

	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatal(err)
	}

	if out["id"] != j.ID.String() {
		t.Errorf("id = %v", out["id"])
	}
	if out["status"] != string(job.StateRunning) {
		t.Errorf("status = %v", out["status"])
	}
	if out["percentage"] != 42.0 {
		t.Errorf("percentage = %v, want 42", out["percentage"])
	}
	if out["type"] != "REMOTEIMPORT" || out["channel_id"] != "ch-9" || out["started_by"] != "admin" {
		t.Errorf("metadata not merged verbatim: %v", out)
	}
	if _, present := out["exception"]; present {
		t.Error("empty exception serialized")
	}
}

func TestSummary_MetadataCannotMaskSchedulerFields(t *testing.T) {
	j := &job.Job{
		ID:    id.NewTaskID(),
		State: job.StateFailed,
		Metadata: map[string]any{
			"status": "COMPLETED", // must not override the real state
			"extra":  1,
		},
		Exception: "disk full",
		Traceback: "copy_content: write /mnt/usb: no space left on device",
	}

	data, err := json.Marshal(job.Summarize(j))
	if err != nil {
		t.Fatal(err)
	}

	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatal(err)
	}

	if out["status"] != string(job.StateFailed) {
		t.Fatalf("metadata masked status: %v", out["status"])
	}
	if out["exception"] != "disk full" || out["traceback"] == "" {
		t.Fatalf("diagnostics missing: %v", out)
	}
	if out["extra"] != 1.0 {
		t.Fatalf("non-reserved metadata dropped: %v", out)
	}
}
