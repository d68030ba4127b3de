package queue

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"

	"github.com/bobarin/reelcut/internal/models"
)

func TestDecodeJob(t *testing.T) {
	exportID := uuid.New()
	raw, _ := json.Marshal(Job{ID: uuid.New(), Type: "export", ExportID: exportID})

	job, err := decodeJob(string(raw))
	if err != nil {
		t.Fatalf("decodeJob: %v", err)
	}
	if job.Type != "export" || job.ExportID != exportID {
		t.Errorf("job = %+v", job)
	}

	if _, err := decodeJob("{"); err == nil {
		t.Error("expected error for truncated job")
	}
}

func TestDecodeEvents(t *testing.T) {
	raw := []string{
		`{"seq":0,"phase":"loading","percent":0,"message":"Loading assets"}`,
		`{"seq":1,"phase":"encoding","percent":40,"message":"Encoding","eta_seconds":3.5}`,
	}
	events, err := decodeEvents(raw)
	if err != nil {
		t.Fatalf("decodeEvents: %v", err)
	}
	if len(events) != 2 || events[1].Phase != models.ExportPhaseEncoding {
		t.Fatalf("events = %+v", events)
	}
	if events[1].ETASeconds == nil || *events[1].ETASeconds != 3.5 {
		t.Errorf("eta = %v", events[1].ETASeconds)
	}

	if _, err := decodeEvents([]string{"nope"}); err == nil {
		t.Error("expected error for malformed event")
	}
}
