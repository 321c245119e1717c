// Package server provides the HTTP server for the frame extraction API.
// It includes handlers, middleware, routes, and DTOs separated from domain types.
package server

// ExtractRequest is the HTTP request body for creating an extraction job.
// Exactly one of FPS or Timestamps selects the sampling mode.
type ExtractRequest struct {
	// Source is the video source, a local path or an s3:// URI.
	Source string `json:"source" validate:"required"`
	// FPS samples frames at a fixed rate when > 0.
	FPS float64 `json:"fps" validate:"omitempty,gt=0,lte=240"`
	// Timestamps lists explicit seek points in seconds.
	Timestamps []float64 `json:"timestamps" validate:"omitempty,dive,gte=0"`
	// MaxFrames caps the number of extracted frames.
	MaxFrames int `json:"max_frames" validate:"omitempty,min=1,max=10000"`
	// Format is the output image format.
	Format string `json:"format" validate:"omitempty,oneof=png jpg"`
	// Upload pushes extracted frames to object storage when true.
	Upload bool `json:"upload"`
	// UploadPrefix is the object key prefix for uploaded frames.
	UploadPrefix string `json:"upload_prefix"`
}

// ExtractResponse is the HTTP response after creating an extraction job.
type ExtractResponse struct {
	// ID is the unique identifier for the created job.
	ID string `json:"id"`
	// Status is the initial job status.
	Status string `json:"status"`
}

// FrameResult describes a single extracted frame in a job response.
type FrameResult struct {
	// Path is the local path of the frame image.
	Path string `json:"path"`
	// URL is the object store URL if the job uploaded frames.
	URL string `json:"url,omitempty"`
	// PTS is the presentation timestamp of the frame in seconds.
	PTS float64 `json:"pts"`
}

// JobResponse is the HTTP response for getting job details.
type JobResponse struct {
	// ID is the unique identifier for the job.
	ID string `json:"id"`
	// Status is the current job status.
	Status string `json:"status"`
	// Progress is the percentage of completion (0-100).
	Progress int `json:"progress"`
	// Error contains any error message if the job failed.
	Error string `json:"error,omitempty"`
	// Frames lists the extracted frames when the job completed.
	Frames []FrameResult `json:"frames,omitempty"`
}

// MetaResponse is the HTTP response for the metadata endpoint.
type MetaResponse struct {
	// Width is the display width in pixels, rotation applied.
	Width int `json:"width"`
	// Height is the display height in pixels, rotation applied.
	Height int `json:"height"`
	// Duration is the video duration in seconds.
	Duration float64 `json:"duration"`
	// Rotation is the display rotation in degrees.
	Rotation int `json:"rotation"`
	// Codec is the video codec name.
	Codec string `json:"codec"`
	// FrameRate is the average frame rate.
	FrameRate float64 `json:"frame_rate"`
}

// PTSResponse is the HTTP response for the timestamp list endpoint.
type PTSResponse struct {
	// Count is the number of frames in the video.
	Count int `json:"count"`
	// PTS lists the presentation timestamp of every frame in seconds.
	PTS []float64 `json:"pts"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	// Error is the human-readable error message.
	Error string `json:"error"`
	// Code is the error code for programmatic handling.
	Code string `json:"code"`
}

// HealthResponse is the HTTP response for the health check endpoint.
type HealthResponse struct {
	// Status is the health status of the service.
	Status string `json:"status"`
}
