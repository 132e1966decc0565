package main

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/sirupsen/logrus"
	ort "github.com/yalue/onnxruntime_go"
	"golang.org/x/sys/cpu"
)

const onnxRuntimeVersion = "1.20.0"

// defaultLibraryPath points at the ONNX Runtime build shipped next to the
// binary under ./lib.
func defaultLibraryPath() string {
	libName := "libonnxruntime.so." + onnxRuntimeVersion
	switch runtime.GOOS {
	case "darwin":
		libName = "libonnxruntime." + onnxRuntimeVersion + ".dylib"
	case "windows":
		libName = "onnxruntime.dll"
	}
	return filepath.Join("lib", libName)
}

// checkFiles resolves the library and model paths and makes sure both exist.
func checkFiles(libPath, modelPath string) (string, string, error) {
	absLib, err := filepath.Abs(filepath.Clean(libPath))
	if err != nil {
		return "", "", fmt.Errorf("resolve library path: %w", err)
	}
	if _, err := os.Stat(absLib); err != nil {
		return "", "", fmt.Errorf("onnxruntime library not found: %s: %w", absLib, err)
	}

	absModel, err := filepath.Abs(filepath.Clean(modelPath))
	if err != nil {
		return "", "", fmt.Errorf("resolve model path: %w", err)
	}
	if _, err := os.Stat(absModel); err != nil {
		return "", "", fmt.Errorf("model file not found: %s: %w", absModel, err)
	}

	return absLib, absModel, nil
}

// cpuFeatures reports the SIMD extensions ONNX Runtime can dispatch to.
func cpuFeatures() logrus.Fields {
	return logrus.Fields{
		"arch":    runtime.GOARCH,
		"cpus":    runtime.NumCPU(),
		"avx512f": cpu.X86.HasAVX512F,
		"avx2":    cpu.X86.HasAVX2,
		"sse41":   cpu.X86.HasSSE41,
		"asimd":   cpu.ARM64.HasASIMD,
	}
}

// initRuntime loads the shared library and initializes the ONNX Runtime
// environment. The returned func tears the environment down.
func initRuntime(libPath string, logger *logrus.Logger) (func(), error) {
	logger.WithFields(cpuFeatures()).Info("CPU features")

	ort.SetSharedLibraryPath(libPath)
	if err := ort.InitializeEnvironment(); err != nil {
		return nil, fmt.Errorf("initialize ONNX environment: %w", err)
	}
	logger.WithField("library", libPath).Info("ONNX Runtime initialized")

	return func() {
		if err := ort.DestroyEnvironment(); err != nil {
			logger.WithError(err).Warn("destroy ONNX environment")
		}
	}, nil
}
