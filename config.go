package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/Tutortoise/object-detection-service/detections"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

const (
	DefaultPoolSize       = 4
	DefaultAcquireTimeout = 5 * time.Second
	DefaultServerTimeout  = 60 * time.Second
	DefaultMaxUpload      = 32 << 20
	DefaultMaxImageSize   = 1920
	DefaultJPEGQuality    = 75
	DefaultMaxImagePixels = 89478485
)

type Config struct {
	Addr           string        `validate:"required"`
	ModelPath      string        `validate:"required"`
	LibraryPath    string        `validate:"required"`
	PoolSize       int           `validate:"min=1,max=64"`
	AcquireTimeout time.Duration `validate:"gt=0"`
	ReadTimeout    time.Duration `validate:"gt=0"`
	WriteTimeout   time.Duration `validate:"gt=0"`
	MaxUploadBytes int64         `validate:"min=1024"`
	MaxImageSize   int           `validate:"min=32,max=4096"`
	MaxImagePixels int           `validate:"min=1024"`
	IoUThreshold   float64       `validate:"gt=0,lte=1"`
	MaxDetections  int           `validate:"min=1,max=1000"`
	JPEGQuality    int           `validate:"min=1,max=100"`
	IntraOpThreads int           `validate:"min=1,max=256"`
	LogLevel       string        `validate:"oneof=panic fatal error warn warning info debug trace"`
	LogFile        string
	Debug          bool
}

// LoadConfig reads configuration from the environment, seeding it from a
// .env file in the working directory when one exists.
func LoadConfig() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	return loadConfig(os.Getenv)
}

func loadConfig(getenv func(string) string) (Config, error) {
	env := &envReader{getenv: getenv}

	cfg := Config{
		Addr:           env.str("HTTP_ADDR", ":8000"),
		ModelPath:      env.str("MODEL_PATH", "models/best.onnx"),
		LibraryPath:    env.str("ONNXRUNTIME_LIB", defaultLibraryPath()),
		PoolSize:       env.integer("POOL_SIZE", DefaultPoolSize),
		AcquireTimeout: env.duration("ACQUIRE_TIMEOUT", DefaultAcquireTimeout),
		ReadTimeout:    env.duration("READ_TIMEOUT", DefaultServerTimeout),
		WriteTimeout:   env.duration("WRITE_TIMEOUT", DefaultServerTimeout),
		MaxUploadBytes: int64(env.integer("MAX_UPLOAD_BYTES", DefaultMaxUpload)),
		MaxImageSize:   env.integer("MAX_IMAGE_SIZE", DefaultMaxImageSize),
		MaxImagePixels: env.integer("MAX_IMAGE_PIXELS", DefaultMaxImagePixels),
		IoUThreshold:   env.float("IOU_THRESHOLD", detections.DefaultIoUThreshold),
		MaxDetections:  env.integer("MAX_DETECTIONS", detections.DefaultMaxDetections),
		JPEGQuality:    env.integer("JPEG_QUALITY", DefaultJPEGQuality),
		IntraOpThreads: env.integer("INTRA_OP_THREADS", runtime.NumCPU()),
		LogLevel:       strings.ToLower(env.str("LOG_LEVEL", "info")),
		LogFile:        env.str("LOG_FILE", ""),
		Debug:          env.boolean("DEBUG", false),
	}
	if env.err != nil {
		return Config{}, env.err
	}

	if err := validator.New().Struct(cfg); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// envReader parses typed values and remembers the first failure.
type envReader struct {
	getenv func(string) string
	err    error
}

func (e *envReader) lookup(key string) (string, bool) {
	v := strings.TrimSpace(e.getenv(key))
	return v, v != ""
}

func (e *envReader) fail(key, raw string, err error) {
	if e.err == nil {
		e.err = fmt.Errorf("env %s=%q: %w", key, raw, err)
	}
}

func (e *envReader) str(key, def string) string {
	if v, ok := e.lookup(key); ok {
		return v
	}
	return def
}

func (e *envReader) integer(key string, def int) int {
	raw, ok := e.lookup(key)
	if !ok {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		e.fail(key, raw, err)
		return def
	}
	return v
}

func (e *envReader) float(key string, def float64) float64 {
	raw, ok := e.lookup(key)
	if !ok {
		return def
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		e.fail(key, raw, err)
		return def
	}
	return v
}

func (e *envReader) duration(key string, def time.Duration) time.Duration {
	raw, ok := e.lookup(key)
	if !ok {
		return def
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		e.fail(key, raw, err)
		return def
	}
	return v
}

func (e *envReader) boolean(key string, def bool) bool {
	raw, ok := e.lookup(key)
	if !ok {
		return def
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		e.fail(key, raw, err)
		return def
	}
	return v
}
