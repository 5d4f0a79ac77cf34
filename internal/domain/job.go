package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Source types accepted in a pipeline-start request
const (
	SourceRTSP = "rtsp"
	SourceRTMP = "rtmp"
	SourceURI  = "uri"
	SourceTest = "test"
)

// Output types accepted in a pipeline-start request
const (
	OutputFake = "fake"
	OutputFile = "file"
)

// Job is one decoded pipeline-start request.
// A Job is never mutated after it has been enqueued.
type Job struct {
	ID         string     `json:"id"`
	Input      Input      `json:"input"`
	Output     Output     `json:"output"`
	Inference  *Inference `json:"inference,omitempty"`
	ReceivedAt time.Time  `json:"received_at"`
}

// Input describes where the pipeline reads media from
type Input struct {
	Source Source `json:"source"`
}

// Source is a single media source
type Source struct {
	Type     string `json:"type"`
	Location string `json:"location,omitempty"`
}

// Output describes where the pipeline writes results
type Output struct {
	Type     string `json:"type,omitempty"`
	Location string `json:"location,omitempty"`
}

// Inference holds the detection settings forwarded to the pipeline
type Inference struct {
	ConfigPath string `json:"config_path,omitempty"`
	BatchSize  int    `json:"batch_size,omitempty"`
	GPUID      int    `json:"gpu_id,omitempty"`
}

// Validate checks the job fields and fills the defaults a worker needs.
// It assigns a new ID when the request carries none.
func (j *Job) Validate() error {
	if j.ID == "" {
		j.ID = uuid.NewString()
	} else if _, err := uuid.Parse(j.ID); err != nil {
		return fmt.Errorf("%w: id %q is not a UUID", ErrInvalidJob, j.ID)
	}

	j.Input.Source.Type = strings.ToLower(strings.TrimSpace(j.Input.Source.Type))
	switch j.Input.Source.Type {
	case SourceRTSP, SourceRTMP, SourceURI:
		if strings.TrimSpace(j.Input.Source.Location) == "" {
			return fmt.Errorf("%w: %s source requires a location", ErrInvalidJob, j.Input.Source.Type)
		}
	case SourceTest:
	case "":
		return fmt.Errorf("%w: input source type is required", ErrInvalidJob)
	default:
		return fmt.Errorf("%w: unsupported source type %q", ErrInvalidJob, j.Input.Source.Type)
	}

	j.Output.Type = strings.ToLower(strings.TrimSpace(j.Output.Type))
	switch j.Output.Type {
	case "":
		j.Output.Type = OutputFake
	case OutputFake:
	case OutputFile:
		if strings.TrimSpace(j.Output.Location) == "" {
			return fmt.Errorf("%w: file output requires a location", ErrInvalidJob)
		}
	default:
		return fmt.Errorf("%w: unsupported output type %q", ErrInvalidJob, j.Output.Type)
	}

	if j.Inference != nil && j.Inference.BatchSize < 0 {
		return fmt.Errorf("%w: inference batch size must not be negative", ErrInvalidJob)
	}

	return nil
}

// DecodeJob parses a JSON pipeline-start request and validates it.
// ReceivedAt is set when the payload does not carry it.
func DecodeJob(body []byte) (*Job, error) {
	var job Job
	if err := json.Unmarshal(body, &job); err != nil {
		return nil, fmt.Errorf("%w: failed to decode payload: %w", ErrInvalidJob, err)
	}

	if err := job.Validate(); err != nil {
		return nil, err
	}

	if job.ReceivedAt.IsZero() {
		job.ReceivedAt = time.Now().UTC()
	}

	return &job, nil
}
