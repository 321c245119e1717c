package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/framecat/framecat/internal/job"
	"github.com/framecat/framecat/internal/storage"
	"github.com/framecat/framecat/internal/video"
)

func skipIfNoFFmpeg(t *testing.T) {
	t.Helper()
	for _, bin := range []string{"ffmpeg", "ffprobe"} {
		if _, err := exec.LookPath(bin); err != nil {
			t.Skipf("%s not found in PATH", bin)
		}
	}
}

func createTestVideo(t *testing.T, duration float64) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.mp4")
	cmd := exec.Command("ffmpeg",
		"-f", "lavfi",
		"-i", fmt.Sprintf("testsrc=size=64x48:rate=10:duration=%g", duration),
		"-pix_fmt", "yuv420p",
		"-y", path,
	)
	if out, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("create test video: %v\n%s", err, out)
	}
	return path
}

func newTestRouter(t *testing.T, opts ...HandlerOption) http.Handler {
	t.Helper()
	store, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	svc := job.NewExtractService(job.NewMemoryRepository(), video.NewExtractor(), store, nil, logger)
	h := NewHandlers(svc, logger, opts...)
	return NewRouter(h, logger, DefaultConfig())
}

func doJSON(t *testing.T, router http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	router := newTestRouter(t)

	rec := doJSON(t, router, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
}

func TestCreateExtraction_Validation(t *testing.T) {
	router := newTestRouter(t, WithAsyncProcessing(false))

	t.Run("invalid JSON", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/v1/extract", bytes.NewBufferString("{not json"))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("missing source", func(t *testing.T) {
		rec := doJSON(t, router, http.MethodPost, "/v1/extract", ExtractRequest{FPS: 1})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("bad format", func(t *testing.T) {
		rec := doJSON(t, router, http.MethodPost, "/v1/extract", ExtractRequest{
			Source: "/a.mp4", FPS: 1, Format: "gif",
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("no sampling mode", func(t *testing.T) {
		rec := doJSON(t, router, http.MethodPost, "/v1/extract", ExtractRequest{Source: "/a.mp4"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)

		var resp ErrorResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "INVALID_SAMPLING", resp.Code)
	})

	t.Run("both sampling modes", func(t *testing.T) {
		rec := doJSON(t, router, http.MethodPost, "/v1/extract", ExtractRequest{
			Source: "/a.mp4", FPS: 1, Timestamps: []float64{0},
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestCreateExtraction_Accepted(t *testing.T) {
	router := newTestRouter(t, WithAsyncProcessing(false))

	rec := doJSON(t, router, http.MethodPost, "/v1/extract", ExtractRequest{
		Source: "/videos/a.mp4",
		FPS:    2,
	})
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp ExtractResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.ID)
	assert.Equal(t, string(job.StatusInQueue), resp.Status)

	t.Run("job is retrievable", func(t *testing.T) {
		got := doJSON(t, router, http.MethodGet, "/v1/jobs/"+resp.ID, nil)
		assert.Equal(t, http.StatusOK, got.Code)

		var jr JobResponse
		require.NoError(t, json.Unmarshal(got.Body.Bytes(), &jr))
		assert.Equal(t, resp.ID, jr.ID)
	})
}

func TestGetJob_NotFound(t *testing.T) {
	router := newTestRouter(t)

	rec := doJSON(t, router, http.MethodGet, "/v1/jobs/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "JOB_NOT_FOUND", resp.Code)
}

func TestListJobs(t *testing.T) {
	router := newTestRouter(t, WithAsyncProcessing(false))

	rec := doJSON(t, router, http.MethodGet, "/v1/jobs", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())

	doJSON(t, router, http.MethodPost, "/v1/extract", ExtractRequest{Source: "/a.mp4", FPS: 1})

	rec = doJSON(t, router, http.MethodGet, "/v1/jobs", nil)
	var jobs []JobResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &jobs))
	assert.Len(t, jobs, 1)
}

func TestDeleteJob(t *testing.T) {
	router := newTestRouter(t, WithAsyncProcessing(false))

	rec := doJSON(t, router, http.MethodPost, "/v1/extract", ExtractRequest{Source: "/a.mp4", FPS: 1})
	var resp ExtractResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	del := doJSON(t, router, http.MethodDelete, "/v1/jobs/"+resp.ID, nil)
	assert.Equal(t, http.StatusNoContent, del.Code)

	got := doJSON(t, router, http.MethodGet, "/v1/jobs/"+resp.ID, nil)
	assert.Equal(t, http.StatusNotFound, got.Code)
}

func TestGetMeta(t *testing.T) {
	router := newTestRouter(t)

	t.Run("missing source param", func(t *testing.T) {
		rec := doJSON(t, router, http.MethodGet, "/v1/meta", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("source not found", func(t *testing.T) {
		rec := doJSON(t, router, http.MethodGet, "/v1/meta?source=/missing.mp4", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("probes real file", func(t *testing.T) {
		skipIfNoFFmpeg(t)
		src := createTestVideo(t, 1)

		rec := doJSON(t, router, http.MethodGet, "/v1/meta?source="+src, nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var resp MetaResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, 64, resp.Width)
		assert.Equal(t, 48, resp.Height)
		assert.InDelta(t, 1.0, resp.Duration, 0.2)
	})
}

func TestGetPTS(t *testing.T) {
	skipIfNoFFmpeg(t)
	router := newTestRouter(t)
	src := createTestVideo(t, 1)

	rec := doJSON(t, router, http.MethodGet, "/v1/pts?source="+src, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp PTSResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 10, resp.Count)
	assert.Len(t, resp.PTS, 10)
}

func TestGetFrame(t *testing.T) {
	router := newTestRouter(t)

	t.Run("missing selector", func(t *testing.T) {
		rec := doJSON(t, router, http.MethodGet, "/v1/frame?source=/a.mp4", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("both selectors", func(t *testing.T) {
		rec := doJSON(t, router, http.MethodGet, "/v1/frame?source=/a.mp4&time=1&index=2", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("negative time", func(t *testing.T) {
		rec := doJSON(t, router, http.MethodGet, "/v1/frame?source=/a.mp4&time=-1", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("by time", func(t *testing.T) {
		skipIfNoFFmpeg(t)
		src := createTestVideo(t, 1)

		rec := doJSON(t, router, http.MethodGet, "/v1/frame?source="+src+"&time=0.5", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
		assert.NotEmpty(t, rec.Body.Bytes())
	})

	t.Run("by index", func(t *testing.T) {
		skipIfNoFFmpeg(t)
		src := createTestVideo(t, 1)

		rec := doJSON(t, router, http.MethodGet, "/v1/frame?source="+src+"&index=3", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	})

	t.Run("index out of range", func(t *testing.T) {
		skipIfNoFFmpeg(t)
		src := createTestVideo(t, 1)

		rec := doJSON(t, router, http.MethodGet, "/v1/frame?source="+src+"&index=500", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("time past end", func(t *testing.T) {
		skipIfNoFFmpeg(t)
		src := createTestVideo(t, 1)

		rec := doJSON(t, router, http.MethodGet, "/v1/frame?source="+src+"&time=30", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestGetSheet(t *testing.T) {
	router := newTestRouter(t)

	t.Run("bad cols param", func(t *testing.T) {
		rec := doJSON(t, router, http.MethodGet, "/v1/sheet?source=/a.mp4&cols=zero", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("renders grid", func(t *testing.T) {
		skipIfNoFFmpeg(t)
		src := createTestVideo(t, 2)

		rec := doJSON(t, router, http.MethodGet, "/v1/sheet?source="+src+"&cols=2&rows=2&width=64", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	})
}

func TestMetricsEndpoint(t *testing.T) {
	router := newTestRouter(t)

	// Generate at least one labelled observation before scraping.
	doJSON(t, router, http.MethodGet, "/health", nil)

	rec := doJSON(t, router, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "framecat_http_requests_total")
}

func TestCORSPreflight(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest(http.MethodOptions, "/v1/jobs", nil)
	req.Header.Set("Origin", "https://example.com")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://example.com", rec.Header().Get("Access-Control-Allow-Origin"))
}
