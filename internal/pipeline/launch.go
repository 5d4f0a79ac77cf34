package pipeline

import (
	"fmt"
	"strings"

	"github.com/cuongbtq/livestream-ai-worker/internal/domain"
)

// Default stream geometry for the batching muxer
const (
	muxerWidth  = 1280
	muxerHeight = 720
)

// testSourceBuffers makes a test source end on its own
const testSourceBuffers = 300

// BuildLaunch returns the gst-launch description for a job. defaults fill the
// inference settings of a job that carries none; inference is skipped when
// neither names a config file.
func BuildLaunch(job *domain.Job, defaults *domain.Inference) (string, error) {
	source, err := sourceLaunch(job.Input.Source)
	if err != nil {
		return "", err
	}

	sink, err := sinkLaunch(job.Output)
	if err != nil {
		return "", err
	}

	parts := []string{source, "videoconvert"}
	if inference := resolveInference(job.Inference, defaults); inference != nil {
		parts = append(parts, inferenceLaunch(inference)...)
	}
	parts = append(parts, sink)

	return strings.Join(parts, " ! "), nil
}

func sourceLaunch(src domain.Source) (string, error) {
	switch src.Type {
	case domain.SourceRTSP:
		return fmt.Sprintf("rtspsrc location=%s latency=0 ! rtph264depay ! h264parse ! decodebin", quote(src.Location)), nil
	case domain.SourceRTMP:
		return fmt.Sprintf("rtmpsrc location=%s ! queue2 ! flvdemux ! queue ! decodebin", quote(src.Location)), nil
	case domain.SourceURI:
		return fmt.Sprintf("uridecodebin uri=%s", quote(src.Location)), nil
	case domain.SourceTest:
		return fmt.Sprintf("videotestsrc is-live=true num-buffers=%d", testSourceBuffers), nil
	default:
		return "", fmt.Errorf("%w: unsupported source type %q", domain.ErrInvalidJob, src.Type)
	}
}

func sinkLaunch(out domain.Output) (string, error) {
	switch out.Type {
	case "", domain.OutputFake:
		return "fakesink sync=false", nil
	case domain.OutputFile:
		return fmt.Sprintf("x264enc tune=zerolatency ! mp4mux ! filesink location=%s", quote(out.Location)), nil
	default:
		return "", fmt.Errorf("%w: unsupported output type %q", domain.ErrInvalidJob, out.Type)
	}
}

func resolveInference(job, defaults *domain.Inference) *domain.Inference {
	if job != nil && job.ConfigPath != "" {
		merged := *job
		if merged.BatchSize == 0 && defaults != nil {
			merged.BatchSize = defaults.BatchSize
		}
		return &merged
	}
	if defaults != nil && defaults.ConfigPath != "" {
		merged := *defaults
		if job != nil {
			if job.BatchSize > 0 {
				merged.BatchSize = job.BatchSize
			}
			if job.GPUID > 0 {
				merged.GPUID = job.GPUID
			}
		}
		return &merged
	}
	return nil
}

func inferenceLaunch(inference *domain.Inference) []string {
	batchSize := inference.BatchSize
	if batchSize <= 0 {
		batchSize = 1
	}

	return []string{
		"nvvideoconvert",
		fmt.Sprintf("m.sink_0 nvstreammux name=m batch-size=%d width=%d height=%d gpu-id=%d",
			batchSize, muxerWidth, muxerHeight, inference.GPUID),
		fmt.Sprintf("nvinfer config-file-path=%s batch-size=%d gpu-id=%d",
			quote(inference.ConfigPath), batchSize, inference.GPUID),
		"nvvideoconvert",
	}
}

// quote wraps a property value for the launch parser
func quote(value string) string {
	escaped := strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(value)
	return `"` + escaped + `"`
}
