// Package job provides the Job aggregate for asynchronous frame extraction
// work. It includes the Job entity with state machine transitions and the
// repository interface for persistence.
package job

import (
	"errors"
	"sync"
	"time"

	"github.com/framecat/framecat/internal/job/id"
)

// Status represents the current state of a Job.
type Status string

const (
	// StatusInQueue indicates the job is waiting to be picked up.
	StatusInQueue Status = "IN_QUEUE"
	// StatusRunning indicates the job is extracting frames.
	StatusRunning Status = "RUNNING"
	// StatusCompleted indicates the job finished successfully.
	StatusCompleted Status = "COMPLETED"
	// StatusFailed indicates the job encountered an error during extraction.
	StatusFailed Status = "FAILED"
	// StatusCancelled indicates the job was manually cancelled.
	StatusCancelled Status = "CANCELLED"
)

// ErrInvalidTransition is returned when an invalid state transition is attempted.
var ErrInvalidTransition = errors.New("invalid state transition")

// validTransitions defines which state transitions are allowed.
var validTransitions = map[Status][]Status{
	StatusInQueue:   {StatusRunning, StatusCancelled},
	StatusRunning:   {StatusCompleted, StatusFailed, StatusCancelled},
	StatusCompleted: {},
	StatusFailed:    {},
	StatusCancelled: {},
}

// canTransition checks if a transition from one status to another is valid.
func canTransition(from, to Status) bool {
	allowed, ok := validTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// Job represents a frame extraction job aggregate.
// It carries the extraction request plus all state produced while running it.
type Job struct {
	mu sync.RWMutex

	// ID is the unique identifier for this job.
	ID string
	// Status is the current job state.
	Status Status
	// Source is the video source, a local path or an s3:// URI.
	Source string
	// FPS is the sampling rate for rate-based extraction. Zero means
	// timestamp-based extraction via Timestamps.
	FPS float64
	// Timestamps lists explicit seek points in seconds for
	// timestamp-based extraction.
	Timestamps []float64
	// MaxFrames caps the number of extracted frames. Zero means no cap.
	MaxFrames int
	// Format is the output image format, png or jpg.
	Format string
	// Upload indicates whether to push extracted frames to object storage.
	Upload bool
	// UploadPrefix is the object key prefix for uploaded frames.
	UploadPrefix string
	// Progress is the percentage of completion (0-100).
	Progress int
	// Error contains any error message if the job failed.
	Error string
	// FramePaths are the local paths of the extracted frames, in order.
	FramePaths []string
	// OutputDir is the directory holding the extracted frame files.
	OutputDir string
	// FrameURLs are the object store URLs if Upload was true.
	FrameURLs []string
	// PTS are the presentation timestamps of the extracted frames.
	PTS []float64
	// CreatedAt is when the job was created.
	CreatedAt time.Time
	// UpdatedAt is when the job was last updated.
	UpdatedAt time.Time
	// StartedAt is when extraction started.
	StartedAt time.Time
	// CompletedAt is when extraction finished.
	CompletedAt time.Time
}

// New creates a new Job with a generated ID and initial IN_QUEUE status.
func New() *Job {
	now := time.Now()
	return &Job{
		ID:        id.Generate(),
		Status:    StatusInQueue,
		Format:    "png",
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// NewWithID creates a new Job with the specified ID and initial IN_QUEUE
// status. Useful for testing or when the ID is externally generated.
func NewWithID(jobID string) *Job {
	j := New()
	j.ID = jobID
	return j
}

// TransitionTo attempts to change the job status to the specified state.
// Returns ErrInvalidTransition if the transition is not allowed.
func (j *Job) TransitionTo(status Status) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if !canTransition(j.Status, status) {
		return ErrInvalidTransition
	}

	j.Status = status
	j.UpdatedAt = time.Now()

	switch status {
	case StatusRunning:
		j.StartedAt = j.UpdatedAt
	case StatusCompleted, StatusFailed, StatusCancelled:
		j.CompletedAt = j.UpdatedAt
	}

	return nil
}

// Start transitions the job from IN_QUEUE to RUNNING.
func (j *Job) Start() error {
	return j.TransitionTo(StatusRunning)
}

// Complete transitions the job to COMPLETED state.
func (j *Job) Complete() error {
	return j.TransitionTo(StatusCompleted)
}

// Fail transitions the job to FAILED state with an error message.
func (j *Job) Fail(errMsg string) error {
	j.mu.Lock()
	j.Error = errMsg
	j.mu.Unlock()
	return j.TransitionTo(StatusFailed)
}

// Cancel transitions the job to CANCELLED state.
func (j *Job) Cancel() error {
	return j.TransitionTo(StatusCancelled)
}

// GetStatus returns the current job status (thread-safe).
func (j *Job) GetStatus() Status {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.Status
}

// UpdateProgress sets the progress percentage (0-100).
func (j *Job) UpdateProgress(progress int) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}
	j.Progress = progress
	j.UpdatedAt = time.Now()
}

// SetOutputDir records the directory the frame files are written to.
func (j *Job) SetOutputDir(dir string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.OutputDir = dir
	j.UpdatedAt = time.Now()
}

// SetResult records the extracted frame paths, their timestamps, and any
// upload URLs.
func (j *Job) SetResult(framePaths []string, pts []float64, frameURLs []string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.FramePaths = framePaths
	j.PTS = pts
	j.FrameURLs = frameURLs
	j.UpdatedAt = time.Now()
}

// IsTerminal returns true if the job is in a terminal state.
func (j *Job) IsTerminal() bool {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.Status == StatusCompleted ||
		j.Status == StatusFailed ||
		j.Status == StatusCancelled
}

// Clone creates a deep copy of the job for safe reads.
func (j *Job) Clone() *Job {
	j.mu.RLock()
	defer j.mu.RUnlock()

	clone := &Job{
		ID:           j.ID,
		Status:       j.Status,
		Source:       j.Source,
		FPS:          j.FPS,
		MaxFrames:    j.MaxFrames,
		Format:       j.Format,
		Upload:       j.Upload,
		UploadPrefix: j.UploadPrefix,
		OutputDir:    j.OutputDir,
		Progress:     j.Progress,
		Error:        j.Error,
		CreatedAt:    j.CreatedAt,
		UpdatedAt:    j.UpdatedAt,
		StartedAt:    j.StartedAt,
		CompletedAt:  j.CompletedAt,
	}
	clone.Timestamps = append([]float64(nil), j.Timestamps...)
	clone.FramePaths = append([]string(nil), j.FramePaths...)
	clone.FrameURLs = append([]string(nil), j.FrameURLs...)
	clone.PTS = append([]float64(nil), j.PTS...)
	return clone
}
