package main

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"

	"github.com/Tutortoise/object-detection-service/detections"
)

// multipartMemory is how much of a multipart body is kept in memory
// before parts spill to temporary files.
const multipartMemory = 10 << 20

const (
	MsgConfRange    = "conf must be between 0 and 1"
	MsgImgszStride  = "imgsz must be multiple of 32"
	MsgFileRequired = "file is required"
)

// ParamError is a client error with the status it should be answered with.
type ParamError struct {
	Status int
	Detail string
}

func (e *ParamError) Error() string {
	return e.Detail
}

func badRequest(detail string) *ParamError {
	return &ParamError{Status: http.StatusBadRequest, Detail: detail}
}

func unprocessable(detail string) *ParamError {
	return &ParamError{Status: http.StatusUnprocessableEntity, Detail: detail}
}

type detectParams struct {
	Confidence float64
	ImageSize  int
}

// paramValue reads key from the query string, then from multipart form
// fields. It never consumes the body itself. The bool reports whether the
// key was sent at all, even with an empty value.
func paramValue(r *http.Request, key string) (string, bool) {
	if q := r.URL.Query(); q.Has(key) {
		return q.Get(key), true
	}
	if r.MultipartForm != nil {
		if vs := r.MultipartForm.Value[key]; len(vs) > 0 {
			return vs[0], true
		}
	}
	return "", false
}

func parseDetectParams(r *http.Request, maxImageSize int) (detectParams, error) {
	p := detectParams{
		Confidence: detections.DefaultConfThreshold,
		ImageSize:  detections.DefaultImageSize,
	}

	if raw, ok := paramValue(r, "conf"); ok {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return p, unprocessable("conf must be a number")
		}
		p.Confidence = v
	}
	if raw, ok := paramValue(r, "imgsz"); ok {
		v, err := strconv.Atoi(raw)
		if err != nil {
			return p, unprocessable("imgsz must be an integer")
		}
		p.ImageSize = v
	}

	if math.IsNaN(p.Confidence) || p.Confidence <= 0 || p.Confidence >= 1 {
		return p, badRequest(MsgConfRange)
	}
	if p.ImageSize%detections.Stride != 0 {
		return p, badRequest(MsgImgszStride)
	}
	if p.ImageSize < detections.Stride || p.ImageSize > maxImageSize {
		return p, badRequest(fmt.Sprintf("imgsz must be between %d and %d", detections.Stride, maxImageSize))
	}

	return p, nil
}

// readImageBytes extracts the uploaded image from a multipart form, a
// JSON {"image": base64} body, or a raw body.
func readImageBytes(r *http.Request, mediaType string) ([]byte, error) {
	switch mediaType {
	case "multipart/form-data":
		return handleMultipartRequest(r)
	case "application/json":
		return handleJSONRequest(r)
	default:
		return handleRawRequest(r)
	}
}

func handleMultipartRequest(r *http.Request) ([]byte, error) {
	if r.MultipartForm == nil {
		if err := r.ParseMultipartForm(multipartMemory); err != nil {
			return nil, err
		}
	}

	headers := r.MultipartForm.File["file"]
	if len(headers) == 0 {
		return nil, unprocessable(MsgFileRequired)
	}

	file, err := headers[0].Open()
	if err != nil {
		return nil, err
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, unprocessable(MsgFileRequired)
	}
	return data, nil
}

func handleJSONRequest(r *http.Request) ([]byte, error) {
	var req struct {
		Image string `json:"image"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return nil, err
		}
		return nil, badRequest("invalid JSON body")
	}
	if req.Image == "" {
		return nil, unprocessable(MsgFileRequired)
	}

	data, err := base64.StdEncoding.DecodeString(req.Image)
	if err != nil {
		return nil, badRequest("image must be base64 encoded")
	}
	return data, nil
}

func handleRawRequest(r *http.Request) ([]byte, error) {
	data, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, unprocessable(MsgFileRequired)
	}
	return data, nil
}
