package model

import (
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// LibraryPathEnv names the environment variable consulted when no shared
// library path is configured.
const LibraryPathEnv = "ONNXRUNTIME_SHARED_LIBRARY_PATH"

// The ONNX Runtime environment is process global. Every loaded classifier
// holds one reference; the last Close tears it down.
var env struct {
	sync.Mutex
	refs        int
	libraryPath string
}

func acquireEnvironment(libraryPath string) error {
	env.Lock()
	defer env.Unlock()

	if env.refs > 0 {
		if libraryPath != "" && libraryPath != env.libraryPath {
			return fmt.Errorf("ONNX environment already initialized from %q, cannot switch to %q", env.libraryPath, libraryPath)
		}
		env.refs++
		return nil
	}

	if libraryPath != "" {
		ort.SetSharedLibraryPath(libraryPath)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("failed to initialize ONNX environment: %w", err)
	}
	env.refs = 1
	env.libraryPath = libraryPath
	return nil
}

func releaseEnvironment() error {
	env.Lock()
	defer env.Unlock()

	if env.refs == 0 {
		return nil
	}
	env.refs--
	if env.refs > 0 {
		return nil
	}
	env.libraryPath = ""
	if err := ort.DestroyEnvironment(); err != nil {
		return fmt.Errorf("failed to destroy ONNX environment: %w", err)
	}
	return nil
}
