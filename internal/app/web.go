package app

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"strconv"

	"github.com/relabs-tech/accel_logger/internal/analysis"
	"github.com/relabs-tech/accel_logger/internal/bus"
	"github.com/relabs-tech/accel_logger/internal/calibration"
	"github.com/relabs-tech/accel_logger/internal/metrics"
	"github.com/relabs-tech/accel_logger/internal/storage"
)

// RunWeb serves the HTTP API on the configured port.
func RunWeb(d *Device) error {
	addr := fmt.Sprintf(":%d", d.cfg.WebServerPort)
	log.Printf("web server listening on %s", addr)
	return http.ListenAndServe(addr, NewHandler(d))
}

// NewHandler builds the API mux for d.
func NewHandler(d *Device) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/status", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, d.Status())
	})
	mux.HandleFunc("GET /api/version", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, d.Info())
	})

	// Recording
	mux.HandleFunc("POST /api/record/start", func(w http.ResponseWriter, r *http.Request) {
		req, err := parseRecordRequest(r)
		if err != nil {
			writeError(w, err)
			return
		}
		st, err := d.StartRecording(req)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, st)
	})
	mux.HandleFunc("POST /api/record/stop", func(w http.ResponseWriter, r *http.Request) {
		if err := d.StopRecording(); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, d.Status())
	})

	// Live preview
	mux.HandleFunc("GET /api/live", func(w http.ResponseWriter, r *http.Request) {
		fc := 0.0
		if v := r.URL.Query().Get("fc"); v != "" {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				writeError(w, fmt.Errorf("%w: fc %q", ErrInvalidRequest, v))
				return
			}
			fc = f
		}
		writeJSON(w, http.StatusOK, d.LivePreview(r.Context(), fc))
	})

	// Calibration
	mux.HandleFunc("GET /api/calibration", func(w http.ResponseWriter, r *http.Request) {
		cal, err := d.Calibration()
		if err != nil {
			log.Printf("web: calibration load: %v", err)
		}
		writeJSON(w, http.StatusOK, cal)
	})
	mux.HandleFunc("DELETE /api/calibration", func(w http.ResponseWriter, r *http.Request) {
		if err := d.ClearCalibration(); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("POST /api/calibration/static", func(w http.ResponseWriter, r *http.Request) {
		if err := d.StartStaticCalibration(); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, d.Status())
	})
	mux.HandleFunc("POST /api/calibration/six", func(w http.ResponseWriter, r *http.Request) {
		if err := d.StartSixPositionCalibration(nil); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, d.Status())
	})
	mux.HandleFunc("GET /ws/calibration", func(w http.ResponseWriter, r *http.Request) {
		HandleCalibrationWS(d, w, r)
	})

	// Files
	mux.HandleFunc("GET /api/files", func(w http.ResponseWriter, r *http.Request) {
		files, err := d.Files()
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, files)
	})
	mux.HandleFunc("GET /api/files/{name}", func(w http.ResponseWriter, r *http.Request) {
		path, err := d.FilePath(r.PathValue("name"))
		if err != nil {
			writeError(w, err)
			return
		}
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", r.PathValue("name")))
		http.ServeFile(w, r, path)
	})
	mux.HandleFunc("DELETE /api/files/{name}", func(w http.ResponseWriter, r *http.Request) {
		if err := d.DeleteFile(r.PathValue("name")); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("GET /api/files/{name}/csv", func(w http.ResponseWriter, r *http.Request) {
		name := r.PathValue("name")
		if _, err := d.FilePath(name); err != nil {
			writeError(w, err)
			return
		}
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name+".csv"))
		if err := d.ExportCSV(w, name); err != nil {
			log.Printf("web: csv export %s: %v", name, err)
		}
	})
	mux.HandleFunc("GET /api/files/{name}/summary", func(w http.ResponseWriter, r *http.Request) {
		sum, err := d.Summarize(r.PathValue("name"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, sum)
	})
	mux.HandleFunc("GET /api/files/{name}/fft", func(w http.ResponseWriter, r *http.Request) {
		axis := r.URL.Query().Get("axis")
		if axis == "" {
			axis = "z"
		}
		spec, err := d.Spectrum(r.PathValue("name"), axis)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, spec)
	})
	mux.HandleFunc("GET /api/disk", func(w http.ResponseWriter, r *http.Request) {
		u, err := d.DiskUsage()
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, u)
	})

	// Register debug
	mux.HandleFunc("GET /api/registers", func(w http.ResponseWriter, r *http.Request) {
		regs, err := d.Registers()
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, regs)
	})

	mux.Handle("GET /metrics", metrics.Handler())
	return mux
}

func parseRecordRequest(r *http.Request) (RecordRequest, error) {
	q := r.URL.Query()
	var req RecordRequest
	u16 := func(key string, dst *uint16) error {
		if v := q.Get(key); v != "" {
			n, err := strconv.ParseUint(v, 10, 16)
			if err != nil {
				return fmt.Errorf("%w: %s %q", ErrInvalidRequest, key, v)
			}
			*dst = uint16(n)
		}
		return nil
	}
	if err := u16("hz", &req.RateHz); err != nil {
		return req, err
	}
	if err := u16("sec", &req.Seconds); err != nil {
		return req, err
	}
	var fs, qb uint16
	if err := u16("fs", &fs); err != nil {
		return req, err
	}
	if err := u16("q", &qb); err != nil {
		return req, err
	}
	if qb > 255 {
		return req, fmt.Errorf("%w: q %d", ErrInvalidRequest, qb)
	}
	req.FullScaleG = int(fs)
	req.QBits = uint8(qb)
	req.Timestamp = q.Get("ts")
	return req, nil
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, bus.ErrBusy), errors.Is(err, ErrNotRecording):
		return http.StatusConflict
	case errors.Is(err, bus.ErrUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, ErrInvalidRequest), errors.Is(err, analysis.ErrBadAxis),
		errors.Is(err, analysis.ErrBadFFTSize):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound), errors.Is(err, os.ErrNotExist):
		return http.StatusNotFound
	case errors.Is(err, storage.ErrBadMagic), errors.Is(err, storage.ErrShortFile),
		errors.Is(err, analysis.ErrTooFewSamples), errors.Is(err, calibration.ErrInsufficientRange):
		return http.StatusUnprocessableEntity
	case errors.Is(err, analysis.ErrResourceExhausted):
		return http.StatusInsufficientStorage
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, err error) {
	code := statusFor(err)
	if code == http.StatusInternalServerError {
		log.Printf("web: %v", err)
	}
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("json encode error: %v", err)
	}
}
