package handlers

import (
	"bytes"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"

	"rolling-mean-service/analytics"
	"rolling-mean-service/models"
	"rolling-mean-service/services"
	"rolling-mean-service/stream"
	"rolling-mean-service/utils"
)

const (
	// MaxComputeBody bounds the size of a /compute upload
	MaxComputeBody = 32 << 20

	defaultHistoryCount = 100
	defaultRunsCount    = 20
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// MeanHandler handles HTTP requests for series and compute operations
type MeanHandler struct {
	service        *services.MeanService
	maxComputeBody int64
}

// NewMeanHandler creates a new MeanHandler
func NewMeanHandler(service *services.MeanService) *MeanHandler {
	return &MeanHandler{service: service, maxComputeBody: MaxComputeBody}
}

// RegisterRoutes mounts every handler on r
func (h *MeanHandler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/series", h.ListSeries).Methods(http.MethodGet)
	r.HandleFunc("/series/{name}", h.GetSeries).Methods(http.MethodGet)
	r.HandleFunc("/series/{name}", h.DeleteSeries).Methods(http.MethodDelete)
	r.HandleFunc("/series/{name}/samples", h.IngestSamples).Methods(http.MethodPost)
	r.HandleFunc("/series/{name}/samples/{index:[0-9]+}", h.GetSample).Methods(http.MethodGet)
	r.HandleFunc("/series/{name}/history", h.GetHistory).Methods(http.MethodGet)
	r.HandleFunc("/compute", h.Compute).Methods(http.MethodPost)
	r.HandleFunc("/runs", h.GetRuns).Methods(http.MethodGet)
}

// IngestSamples handles POST /series/{name}/samples - accepts one sample or an array
func (h *MeanHandler) IngestSamples(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	var raw jsoniter.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	var inputs []models.SampleInput
	if trimmed := bytes.TrimSpace(raw); len(trimmed) > 0 && trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &inputs); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
	} else if string(trimmed) == "null" {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	} else {
		var input models.SampleInput
		if err := json.Unmarshal(trimmed, &input); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
		inputs = []models.SampleInput{input}
	}
	if len(inputs) == 0 {
		http.Error(w, "No samples in request body", http.StatusBadRequest)
		return
	}

	points, err := h.service.Ingest(name, inputs)
	if err != nil {
		if errors.Is(err, services.ErrInvalidSample) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		utils.HandleError(err, "IngestSamples: ingesting samples")
		http.Error(w, "Failed to ingest samples", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"series": name,
		"points": points,
	})
}

// GetSeries handles GET /series/{name} - returns the series snapshot,
// falling back to the cached one when the series is not in memory
func (h *MeanHandler) GetSeries(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	snapshot, err := h.service.Snapshot(name)
	if errors.Is(err, services.ErrSeriesNotFound) {
		snapshot, err = h.service.CachedSnapshot(r.Context(), name)
		if err == nil {
			w.Header().Set("X-Source", "cache")
		}
	}
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

// GetHistory handles GET /series/{name}/history?count=N - returns cached recent points
func (h *MeanHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	count, ok := countParam(w, r, defaultHistoryCount)
	if !ok {
		return
	}

	history, err := h.service.History(r.Context(), mux.Vars(r)["name"], count)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, history)
}

// GetRuns handles GET /runs?count=N - returns the newest recorded compute runs
func (h *MeanHandler) GetRuns(w http.ResponseWriter, r *http.Request) {
	count, ok := countParam(w, r, defaultRunsCount)
	if !ok {
		return
	}

	runs, err := h.service.RecentRuns(r.Context(), count)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"runs": runs,
	})
}

func countParam(w http.ResponseWriter, r *http.Request, def int64) (int64, bool) {
	s := r.URL.Query().Get("count")
	if s == "" {
		return def, true
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n <= 0 {
		http.Error(w, "count must be a positive integer", http.StatusBadRequest)
		return 0, false
	}
	return n, true
}

// GetSample handles GET /series/{name}/samples/{index} - returns one buffered sample
func (h *MeanHandler) GetSample(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	index, err := strconv.Atoi(vars["index"])
	if err != nil {
		http.Error(w, "Invalid index", http.StatusBadRequest)
		return
	}

	value, err := h.service.SampleAt(vars["name"], index)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"index": index,
		"value": value,
	})
}

// DeleteSeries handles DELETE /series/{name}
func (h *MeanHandler) DeleteSeries(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Delete(mux.Vars(r)["name"]); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListSeries handles GET /series - ?source=cache lists the cached series instead
func (h *MeanHandler) ListSeries(w http.ResponseWriter, r *http.Request) {
	names := h.service.List()
	if r.URL.Query().Get("source") == "cache" {
		cached, err := h.service.CachedSeries(r.Context())
		if err != nil {
			writeServiceError(w, err)
			return
		}
		names = cached
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"series":      names,
		"window_size": h.service.WindowSize(),
	})
}

// Compute handles POST /compute - label,value lines in, label,mean lines out
func (h *MeanHandler) Compute(w http.ResponseWriter, r *http.Request) {
	window := 0
	if s := r.URL.Query().Get("window"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			http.Error(w, "window must be a positive integer", http.StatusBadRequest)
			return
		}
		window = n
	}

	var out bytes.Buffer
	body := http.MaxBytesReader(w, r.Body, h.maxComputeBody)
	summary, err := h.service.Compute(r.Context(), body, &out, window)
	if err != nil {
		var parseErr *stream.ParseError
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			http.Error(w, "Request body too large", http.StatusRequestEntityTooLarge)
		case errors.As(err, &parseErr):
			http.Error(w, err.Error(), http.StatusBadRequest)
		case errors.Is(err, stream.ErrIO):
			http.Error(w, "Failed to read request body", http.StatusBadRequest)
		default:
			utils.HandleError(err, "Compute: computing means")
			http.Error(w, "Failed to compute means", http.StatusInternalServerError)
		}
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("X-Lines", strconv.Itoa(summary.Lines))
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, &out); err != nil {
		utils.HandleError(err, "Compute: writing response")
	}
}

func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrSeriesNotFound), errors.Is(err, analytics.ErrIndexOutOfRange):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, services.ErrCacheDisabled):
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
	default:
		utils.HandleError(err, "series request")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}

// writeJSON encodes v before writing the status so that an unencodable value,
// such as a non-finite mean, becomes a 500 instead of a truncated body
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(v); err != nil {
		utils.HandleError(err, "encoding response")
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(buf.Bytes()); err != nil {
		utils.HandleError(err, "writing response")
	}
}
