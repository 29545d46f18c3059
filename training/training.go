// Package training submits fine-tuning jobs for sentence-embedding models and
// waits for their model artifacts.
package training

import (
	"context"
	"errors"
	"fmt"

	"github.com/klejdi94/embedtune/core"
)

// ErrJobFailed is returned when a training job ends in the Failed phase.
var ErrJobFailed = errors.New("training: job failed")

// Defaults used by the original fine-tuning run.
const (
	DefaultEpochs          = 3
	DefaultBatchSize       = 32
	DefaultEvaluationSteps = 50
)

// ArtifactName is the archive the trainer writes under the output URI.
const ArtifactName = "model.tar.gz"

// Phase is the lifecycle phase of a job.
type Phase string

const (
	PhasePending   Phase = "Pending"
	PhaseRunning   Phase = "Running"
	PhaseSucceeded Phase = "Succeeded"
	PhaseFailed    Phase = "Failed"
)

// Hyperparameters for the fine-tuning run.
type Hyperparameters struct {
	Epochs          int `yaml:"epochs" split_words:"true"`
	BatchSize       int `yaml:"batch_size" split_words:"true"`
	EvaluationSteps int `yaml:"evaluation_steps" split_words:"true"`
}

// DefaultHyperparameters returns 3 epochs, batch size 32, evaluation every 50 steps.
func DefaultHyperparameters() Hyperparameters {
	return Hyperparameters{Epochs: DefaultEpochs, BatchSize: DefaultBatchSize, EvaluationSteps: DefaultEvaluationSteps}
}

// Validate checks that every value is positive.
func (h Hyperparameters) Validate() error {
	for _, f := range []struct {
		name string
		v    int
	}{
		{"epochs", h.Epochs},
		{"batch_size", h.BatchSize},
		{"evaluation_steps", h.EvaluationSteps},
	} {
		if f.v <= 0 {
			return &core.ValidationError{Field: "training." + f.name, Value: f.v, Message: "must be positive"}
		}
	}
	return nil
}

// Request describes one fine-tuning job.
type Request struct {
	// Name of the job; generated when empty.
	Name              string
	BaseModel         string
	TrainDataURI      string
	ValidationDataURI string
	OutputURI         string
	Image             string
	Hyperparameters   Hyperparameters
}

// Validate checks the fields a trainer needs.
func (r Request) Validate() error {
	required := []struct{ name, v string }{
		{"base_model", r.BaseModel},
		{"train_data", r.TrainDataURI},
		{"output_uri", r.OutputURI},
		{"image", r.Image},
	}
	for _, f := range required {
		if f.v == "" {
			return &core.ValidationError{Field: "training." + f.name, Message: "is required"}
		}
	}
	return r.Hyperparameters.Validate()
}

// Job is the observed state of a submitted request.
type Job struct {
	Name        string
	Phase       Phase
	ArtifactURI string
	Message     string
}

// Backend runs training jobs.
type Backend interface {
	Submit(ctx context.Context, req Request) (*Job, error)
	// Wait blocks until the named job finishes. A failed job returns ErrJobFailed.
	Wait(ctx context.Context, name string) (*Job, error)
}

// Run submits req and waits for it to finish.
func Run(ctx context.Context, b Backend, req Request) (*Job, error) {
	job, err := b.Submit(ctx, req)
	if err != nil {
		return nil, err
	}
	return b.Wait(ctx, job.Name)
}

func failed(job *Job) error {
	if job.Message == "" {
		return fmt.Errorf("%w: %s", ErrJobFailed, job.Name)
	}
	return fmt.Errorf("%w: %s: %s", ErrJobFailed, job.Name, job.Message)
}
