package server

import (
	"context"
	"encoding/json"
	"errors"
	"image/png"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"

	"github.com/framecat/framecat/internal/job"
	"github.com/framecat/framecat/internal/sheet"
	"github.com/framecat/framecat/internal/storage"
	"github.com/framecat/framecat/internal/video"
)

// Handlers contains the HTTP handlers for the API.
type Handlers struct {
	service            *job.ExtractService
	validator          *validator.Validate
	logger             *slog.Logger
	enableAsyncProcess bool
}

// HandlerOption is a function that configures a Handlers instance.
type HandlerOption func(*Handlers)

// WithAsyncProcessing enables or disables background processing.
// When disabled, CreateExtraction only creates the job and returns
// immediately without starting background processing.
func WithAsyncProcessing(enabled bool) HandlerOption {
	return func(h *Handlers) {
		h.enableAsyncProcess = enabled
	}
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(service *job.ExtractService, logger *slog.Logger, opts ...HandlerOption) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handlers{
		service:            service,
		validator:          validator.New(),
		logger:             logger,
		enableAsyncProcess: true,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Health handles GET /health requests.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// CreateExtraction handles POST /v1/extract requests.
func (h *Handlers) CreateExtraction(w http.ResponseWriter, r *http.Request) {
	var req ExtractRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Warn("failed to decode request body",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, "invalid JSON body", "INVALID_JSON")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		h.logger.Warn("request validation failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
		return
	}

	input := job.ExtractInput{
		Source:       req.Source,
		FPS:          req.FPS,
		Timestamps:   req.Timestamps,
		MaxFrames:    req.MaxFrames,
		Format:       req.Format,
		Upload:       req.Upload,
		UploadPrefix: req.UploadPrefix,
	}

	createdJob, err := h.service.CreateJob(r.Context(), input)
	if err != nil {
		if errors.Is(err, job.ErrNoSampling) || errors.Is(err, job.ErrAmbiguousSampling) {
			writeError(w, http.StatusBadRequest, err.Error(), "INVALID_SAMPLING")
			return
		}
		h.logger.Error("failed to create job",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to create job", "JOB_CREATION_FAILED")
		return
	}

	// Process in background with a detached context so the extraction
	// survives the end of the HTTP request.
	if h.enableAsyncProcess {
		go h.service.ProcessJob(context.WithoutCancel(r.Context()), createdJob.ID)
	}

	h.logger.Info("extraction job created",
		slog.String("job_id", createdJob.ID),
		slog.String("source", req.Source),
	)

	writeJSON(w, http.StatusAccepted, ExtractResponse{
		ID:     createdJob.ID,
		Status: string(createdJob.Status),
	})
}

// GetJob handles GET /v1/jobs/{id} requests.
func (h *Handlers) GetJob(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")
	if jobID == "" {
		writeError(w, http.StatusBadRequest, "job ID is required", "MISSING_JOB_ID")
		return
	}

	foundJob, err := h.service.GetJob(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, job.ErrJobNotFound) {
			writeError(w, http.StatusNotFound, "job not found", "JOB_NOT_FOUND")
			return
		}
		h.logger.Error("failed to get job",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get job", "JOB_FETCH_FAILED")
		return
	}

	writeJSON(w, http.StatusOK, jobToResponse(foundJob))
}

// ListJobs handles GET /v1/jobs requests.
func (h *Handlers) ListJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.service.ListJobs(r.Context())
	if err != nil {
		h.logger.Error("failed to list jobs", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list jobs", "JOB_LIST_FAILED")
		return
	}

	resp := make([]JobResponse, 0, len(jobs))
	for _, j := range jobs {
		resp = append(resp, jobToResponse(j))
	}
	writeJSON(w, http.StatusOK, resp)
}

// DeleteJob handles DELETE /v1/jobs/{id} requests.
func (h *Handlers) DeleteJob(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")

	if err := h.service.DeleteJob(r.Context(), jobID); err != nil {
		if errors.Is(err, job.ErrJobNotFound) {
			writeError(w, http.StatusNotFound, "job not found", "JOB_NOT_FOUND")
			return
		}
		h.logger.Error("failed to delete job",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to delete job", "JOB_DELETE_FAILED")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// GetMeta handles GET /v1/meta requests.
func (h *Handlers) GetMeta(w http.ResponseWriter, r *http.Request) {
	source := r.URL.Query().Get("source")
	if source == "" {
		writeError(w, http.StatusBadRequest, "source parameter is required", "MISSING_SOURCE")
		return
	}

	meta, err := h.service.Meta(r.Context(), source)
	if err != nil {
		h.writeSourceError(w, source, err)
		return
	}

	writeJSON(w, http.StatusOK, MetaResponse{
		Width:     meta.Width,
		Height:    meta.Height,
		Duration:  meta.Duration,
		Rotation:  meta.Rotation,
		Codec:     meta.Codec,
		FrameRate: meta.FrameRate,
	})
}

// GetPTS handles GET /v1/pts requests.
func (h *Handlers) GetPTS(w http.ResponseWriter, r *http.Request) {
	source := r.URL.Query().Get("source")
	if source == "" {
		writeError(w, http.StatusBadRequest, "source parameter is required", "MISSING_SOURCE")
		return
	}

	pts, err := h.service.PTS(r.Context(), source)
	if err != nil {
		h.writeSourceError(w, source, err)
		return
	}

	writeJSON(w, http.StatusOK, PTSResponse{Count: len(pts), PTS: pts})
}

// GetFrame handles GET /v1/frame requests. Exactly one of the time or index
// query parameters selects the frame; the response body is a PNG image.
func (h *Handlers) GetFrame(w http.ResponseWriter, r *http.Request) {
	source := r.URL.Query().Get("source")
	if source == "" {
		writeError(w, http.StatusBadRequest, "source parameter is required", "MISSING_SOURCE")
		return
	}

	timeParam := r.URL.Query().Get("time")
	indexParam := r.URL.Query().Get("index")
	if (timeParam == "") == (indexParam == "") {
		writeError(w, http.StatusBadRequest, "exactly one of time or index is required", "INVALID_FRAME_SELECTOR")
		return
	}

	var (
		frame *video.Frame
		err   error
	)
	if timeParam != "" {
		t, perr := strconv.ParseFloat(timeParam, 64)
		if perr != nil || t < 0 {
			writeError(w, http.StatusBadRequest, "time must be a non-negative number", "INVALID_TIME")
			return
		}
		frame, err = h.service.FrameAtTime(r.Context(), source, t)
	} else {
		idx, perr := strconv.Atoi(indexParam)
		if perr != nil {
			writeError(w, http.StatusBadRequest, "index must be an integer", "INVALID_INDEX")
			return
		}
		frame, err = h.service.FrameAtIndex(r.Context(), source, idx)
	}
	if err != nil {
		if errors.Is(err, video.ErrNoFrame) || errors.Is(err, video.ErrFrameOutOfRange) {
			writeError(w, http.StatusNotFound, err.Error(), "FRAME_NOT_FOUND")
			return
		}
		h.writeSourceError(w, source, err)
		return
	}

	framesServed.Inc()
	w.Header().Set("Content-Type", "image/png")
	if err := frame.EncodePNG(w); err != nil {
		h.logger.Error("failed to encode frame", slog.String("error", err.Error()))
	}
}

// GetSheet handles GET /v1/sheet requests, responding with a PNG contact
// sheet of frames sampled evenly across the video.
func (h *Handlers) GetSheet(w http.ResponseWriter, r *http.Request) {
	source := r.URL.Query().Get("source")
	if source == "" {
		writeError(w, http.StatusBadRequest, "source parameter is required", "MISSING_SOURCE")
		return
	}

	opts := sheet.DefaultOptions()
	var err error
	if opts.Cols, err = intParam(r, "cols", opts.Cols); err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), "INVALID_SHEET_PARAM")
		return
	}
	if opts.Rows, err = intParam(r, "rows", opts.Rows); err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), "INVALID_SHEET_PARAM")
		return
	}
	if opts.ThumbWidth, err = intParam(r, "width", opts.ThumbWidth); err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), "INVALID_SHEET_PARAM")
		return
	}

	img, err := h.service.Sheet(r.Context(), source, opts)
	if err != nil {
		if errors.Is(err, sheet.ErrNoCells) {
			writeError(w, http.StatusBadRequest, err.Error(), "INVALID_SHEET_PARAM")
			return
		}
		h.writeSourceError(w, source, err)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	if err := png.Encode(w, img); err != nil {
		h.logger.Error("failed to encode sheet", slog.String("error", err.Error()))
	}
}

// writeSourceError maps source resolution and probe failures to HTTP errors.
func (h *Handlers) writeSourceError(w http.ResponseWriter, source string, err error) {
	switch {
	case errors.Is(err, video.ErrNoVideoStream):
		writeError(w, http.StatusUnprocessableEntity, "source has no video stream", "NO_VIDEO_STREAM")
	case isNotFound(err):
		writeError(w, http.StatusNotFound, "source not found", "SOURCE_NOT_FOUND")
	default:
		h.logger.Error("source operation failed",
			slog.String("source", source),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to process source", "SOURCE_FAILED")
	}
}

// isNotFound reports whether the error means the source does not exist.
func isNotFound(err error) bool {
	return errors.Is(err, storage.ErrSourceNotFound)
}

// jobToResponse converts a job aggregate to its HTTP representation.
func jobToResponse(j *job.Job) JobResponse {
	resp := JobResponse{
		ID:       j.ID,
		Status:   string(j.Status),
		Progress: j.Progress,
		Error:    j.Error,
	}
	for i, p := range j.FramePaths {
		fr := FrameResult{Path: p, PTS: -1}
		if i < len(j.PTS) {
			fr.PTS = j.PTS[i]
		}
		if i < len(j.FrameURLs) {
			fr.URL = j.FrameURLs[i]
		}
		resp.Frames = append(resp.Frames, fr)
	}
	return resp
}

// intParam parses an optional positive integer query parameter.
func intParam(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return 0, errors.New(name + " must be a positive integer")
	}
	return v, nil
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
	}
}

// writeError writes an error response in the standard format.
func writeError(w http.ResponseWriter, status int, message, code string) {
	writeJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}
