package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/Brownie44l1/captcha-api/internal/imageproc"
	"github.com/Brownie44l1/captcha-api/internal/model"
	"github.com/Brownie44l1/captcha-api/internal/predictor"
)

// maxUploadSize bounds multipart uploads and tensor bodies.
const maxUploadSize = 10 << 20

type Handler struct {
	predictor *predictor.Predictor
	timeout   time.Duration
}

func NewHandler(p *predictor.Predictor, timeout time.Duration) *Handler {
	return &Handler{
		predictor: p,
		timeout:   timeout,
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, model.ErrorResponse{Error: msg})
}

func (h *Handler) requestContext(r *http.Request) (context.Context, context.CancelFunc) {
	if h.timeout <= 0 {
		return context.WithCancel(r.Context())
	}
	return context.WithTimeout(r.Context(), h.timeout)
}

// writePredictError maps pipeline failures onto status codes: bad images are
// the client's fault, everything else is ours.
func writePredictError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, predictor.ErrDecode):
		writeError(w, http.StatusBadRequest, "Invalid image format. Supported: PNG, JPEG, GIF, BMP, TIFF, WebP")
	case errors.Is(err, context.DeadlineExceeded):
		log.Printf("Prediction timed out: %v", err)
		writeError(w, http.StatusInternalServerError, "Prediction timed out")
	default:
		log.Printf("Prediction error: %v", err)
		writeError(w, http.StatusInternalServerError, "Prediction failed")
	}
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, model.HealthResponse{
		Status:    "healthy",
		Classes:   h.predictor.Charset().BlankIndex() + 1,
		Width:     h.predictor.Width(),
		Height:    h.predictor.Height(),
		MaxLength: h.predictor.MaxLength(),
	})
}

// Encoder returns the character mapping in label encoder form.
func (h *Handler) Encoder(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, h.predictor.Charset())
}

// PredictTensor accepts an already normalized image as a JSON float array.
func (h *Handler) PredictTensor(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxUploadSize))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Failed to read request body")
		return
	}

	var req model.TensorRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	tensor, err := imageproc.NewTensor(h.predictor.Width(), h.predictor.Height(), req.Image)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid image tensor: %v", err))
		return
	}

	ctx, cancel := h.requestContext(r)
	defer cancel()

	pred, err := h.predictor.PredictTensor(ctx, tensor)
	if err != nil {
		writePredictError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pred.Result)
}

// PredictFromImage accepts a multipart upload in the "file" field ("image"
// is accepted too).
func (h *Handler) PredictFromImage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		writeError(w, http.StatusBadRequest, "Failed to parse form")
		return
	}

	file, header, err := r.FormFile("file")
	if errors.Is(err, http.ErrMissingFile) {
		file, header, err = r.FormFile("image")
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, "No file provided. Use 'file' as the form field name")
		return
	}
	defer file.Close()

	raw, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Failed to read uploaded file")
		return
	}

	log.Printf("Received file: %s, size: %d bytes", header.Filename, header.Size)

	ctx, cancel := h.requestContext(r)
	defer cancel()

	pred, err := h.predictor.PredictDetailed(ctx, raw)
	if err != nil {
		writePredictError(w, err)
		return
	}
	if pred.TooLong {
		log.Printf("Decoded %d characters, more than max_length %d", len(pred.Indices), h.predictor.MaxLength())
	}

	log.Printf("Predicted %q (confidence %.3f, indices %v)", pred.Text, pred.Confidence, pred.Indices)
	writeJSON(w, http.StatusOK, pred.Result)
}
