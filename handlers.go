package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"mime"
	"net/http"
	"strconv"
	"time"

	"github.com/disintegration/imaging"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/Tutortoise/object-detection-service/detections"
	"github.com/Tutortoise/object-detection-service/models"
)

const HealthMessage = "YOLOv8 FastAPI is up and running!"

// ImageDetector is the part of detections.Detector the HTTP layer needs.
type ImageDetector interface {
	Detect(ctx context.Context, img image.Image, opts detections.Options, timings *models.ProcessingTimings) (*models.Result, error)
}

type AppState struct {
	Detector  ImageDetector
	Pool      *InferencePool
	ModelInfo detections.ModelInfo
	Config    Config
	Log       *logrus.Logger
}

type ErrorResponse struct {
	Detail string `json:"detail"`
}

type HealthResponse struct {
	Message string `json:"message"`
}

func newRouter(state *AppState) *mux.Router {
	r := mux.NewRouter()
	r.Use(requestIDMiddleware, accessLogMiddleware(state.Log))

	r.HandleFunc("/", handleRoot).Methods(http.MethodGet)
	detect := handleDetect(state)
	r.HandleFunc("/detect/", detect).Methods(http.MethodPost)
	r.HandleFunc("/detect", detect).Methods(http.MethodPost)
	state.addMonitoringRoutes(r)

	return r
}

func handleRoot(w http.ResponseWriter, _ *http.Request) {
	sendJSON(w, HealthResponse{Message: HealthMessage}, http.StatusOK)
}

func handleDetect(state *AppState) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTotal := time.Now()
		ctx := r.Context()
		requestID := requestIDFrom(ctx)
		timings := &models.ProcessingTimings{RequestID: requestID}
		logger := state.Log.WithField("request_id", requestID)

		r.Body = http.MaxBytesReader(w, r.Body, state.Config.MaxUploadBytes)

		// Query parameters are checked before the body is touched.
		params, err := parseDetectParams(r, state.Config.MaxImageSize)
		if err != nil {
			sendRequestError(w, state.Config, err)
			return
		}

		mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
		if mediaType == "multipart/form-data" {
			if err := r.ParseMultipartForm(multipartMemory); err != nil {
				sendRequestError(w, state.Config, err)
				return
			}
			defer r.MultipartForm.RemoveAll()

			if params, err = parseDetectParams(r, state.Config.MaxImageSize); err != nil {
				sendRequestError(w, state.Config, err)
				return
			}
		}

		imgBytes, err := readImageBytes(r, mediaType)
		if err != nil {
			sendRequestError(w, state.Config, err)
			return
		}

		decodeStart := time.Now()
		img, err := detections.DecodeImage(imgBytes, state.Config.MaxImagePixels)
		timings.ImageDecode = time.Since(decodeStart)
		var tooLarge *detections.ImageTooLargeError
		if errors.As(err, &tooLarge) {
			logger.WithError(err).Warn("image rejected")
			sendErrorResponse(w, tooLarge.Error(), http.StatusRequestEntityTooLarge)
			return
		}
		if err != nil {
			logger.WithError(err).Debug("decode failed")
			sendErrorResponse(w, "could not decode image", http.StatusBadRequest)
			return
		}

		if err := state.Pool.Acquire(ctx); err != nil {
			logger.WithError(err).Warn("no inference slot")
			sendErrorResponse(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		result, err := state.Detector.Detect(ctx, img, detections.Options{
			Confidence: float32(params.Confidence),
			ImageSize:  params.ImageSize,
		}, timings)
		state.Pool.Release()
		if err != nil {
			logger.WithError(err).Error("detection failed")
			sendErrorResponse(w, "inference failed", http.StatusInternalServerError)
			return
		}

		encodeStart := time.Now()
		var buf bytes.Buffer
		if err := imaging.Encode(&buf, result.Annotated, imaging.JPEG, imaging.JPEGQuality(state.Config.JPEGQuality)); err != nil {
			logger.WithError(err).Error("encode failed")
			sendErrorResponse(w, "inference failed", http.StatusInternalServerError)
			return
		}
		timings.Encode = time.Since(encodeStart)
		timings.Total = time.Since(startTotal)

		logger.WithFields(logrus.Fields{
			"detections": len(result.Detections),
			"conf":       params.Confidence,
			"imgsz":      result.InputSize,
		}).Info("detection complete")
		if state.Config.Debug {
			logTimings(logger, timings)
		}

		w.Header().Set("Content-Type", "image/jpeg")
		w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
		w.Header().Set("X-Detection-Count", strconv.Itoa(len(result.Detections)))
		w.WriteHeader(http.StatusOK)
		buf.WriteTo(w)
	}
}

func (s *AppState) addMonitoringRoutes(r *mux.Router) {
	r.HandleFunc("/metrics", s.handleMetrics).Methods(http.MethodGet)
}

func (s *AppState) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	response := map[string]interface{}{
		"pool": s.Pool.GetMetrics(),
		"model": map[string]interface{}{
			"native_size": s.ModelInfo.NativeSize,
			"dynamic":     s.ModelInfo.Dynamic(),
			"classes":     s.ModelInfo.NumClasses(),
			"stride":      s.ModelInfo.Stride,
		},
	}
	sendJSON(w, response, http.StatusOK)
}

// sendRequestError answers a failure that happened while reading request
// input.
func sendRequestError(w http.ResponseWriter, cfg Config, err error) {
	var paramErr *ParamError
	var maxErr *http.MaxBytesError
	switch {
	case errors.As(err, &paramErr):
		sendErrorResponse(w, paramErr.Detail, paramErr.Status)
	case errors.As(err, &maxErr):
		sendErrorResponse(w, fmt.Sprintf("upload exceeds %d bytes", cfg.MaxUploadBytes), http.StatusRequestEntityTooLarge)
	default:
		sendErrorResponse(w, "invalid request body", http.StatusBadRequest)
	}
}

func sendErrorResponse(w http.ResponseWriter, detail string, status int) {
	sendJSON(w, ErrorResponse{Detail: detail}, status)
}

func sendJSON(w http.ResponseWriter, v interface{}, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
