package model

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
	"k8s.io/klog/v2"
)

// DefaultModelPath is the artifact Create loads, relative to the working directory.
const DefaultModelPath = "model.onnx"

type Options struct {
	// ModelPath is a local ONNX file. Defaults to DefaultModelPath.
	ModelPath string

	// SharedLibraryPath locates the onnxruntime shared library. When empty,
	// LibraryPathEnv is consulted, then the binding's platform default.
	SharedLibraryPath string

	// Thread counts for the session; zero keeps the runtime defaults.
	IntraOpThreads int
	InterOpThreads int
}

// Classifier is a loaded model bound to its first input and first output
// slot. It owns native memory until Close is called.
//
// Predict may be called from multiple goroutines: each call allocates its
// own tensors and the session itself is shared. Close waits for running
// predictions to finish.
type Classifier struct {
	// mu guards session against Close while Run is in flight.
	mu      sync.RWMutex
	session *ort.DynamicAdvancedSession
	options *ort.SessionOptions
	device  Device
	path    string
	inputs  []Slot
	outputs []Slot

	closeOnce sync.Once
	closeErr  error
}

// Create loads DefaultModelPath onto the CPU with default options.
func Create() (*Classifier, error) {
	return Load(context.Background(), Options{})
}

func Load(ctx context.Context, opts Options) (*Classifier, error) {
	log := klog.FromContext(ctx)

	path := opts.ModelPath
	if path == "" {
		path = DefaultModelPath
	}
	// The native loader reports a missing file as a generic runtime error.
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("failed to open model: %w", err)
	}

	libraryPath := opts.SharedLibraryPath
	if libraryPath == "" {
		libraryPath = os.Getenv(LibraryPathEnv)
	}
	if err := acquireEnvironment(libraryPath); err != nil {
		return nil, err
	}

	c := &Classifier{
		device: CPUDevice(),
		path:   path,
	}
	if err := c.bind(opts); err != nil {
		c.destroy()
		if relErr := releaseEnvironment(); relErr != nil {
			log.Error(relErr, "releasing ONNX environment after failed load")
		}
		return nil, err
	}

	log.Info("loaded model", "path", path,
		"input", c.inputs[0].Name, "inputShape", c.inputs[0].Shape,
		"output", c.outputs[0].Name, "outputShape", c.outputs[0].Shape,
		"device", c.device.String())
	return c, nil
}

func (c *Classifier) bind(opts Options) error {
	inputs, outputs, err := ort.GetInputOutputInfo(c.path)
	if err != nil {
		return fmt.Errorf("failed to read model slots from %q: %w", c.path, err)
	}
	if len(inputs) == 0 || len(outputs) == 0 {
		return fmt.Errorf("model %q declares %d inputs and %d outputs, need at least one of each", c.path, len(inputs), len(outputs))
	}
	c.inputs = slotsFromInfo(inputs)
	c.outputs = slotsFromInfo(outputs)

	if opts.IntraOpThreads > 0 || opts.InterOpThreads > 0 {
		c.options, err = ort.NewSessionOptions()
		if err != nil {
			return fmt.Errorf("failed to create session options: %w", err)
		}
		if opts.IntraOpThreads > 0 {
			if err := c.options.SetIntraOpNumThreads(opts.IntraOpThreads); err != nil {
				return fmt.Errorf("failed to set intra-op threads: %w", err)
			}
		}
		if opts.InterOpThreads > 0 {
			if err := c.options.SetInterOpNumThreads(opts.InterOpThreads); err != nil {
				return fmt.Errorf("failed to set inter-op threads: %w", err)
			}
		}
	}

	c.session, err = ort.NewDynamicAdvancedSession(c.path,
		[]string{c.inputs[0].Name}, []string{c.outputs[0].Name}, c.options)
	if err != nil {
		return fmt.Errorf("failed to create ONNX session: %w", err)
	}
	return nil
}

// GetInputOutputInfo only describes tensor slots.
const slotKindTensor = "tensor"

func slotsFromInfo(infos []ort.InputOutputInfo) []Slot {
	slots := make([]Slot, 0, len(infos))
	for _, info := range infos {
		slots = append(slots, Slot{
			Name:        info.Name,
			Kind:        slotKindTensor,
			ElementType: fmt.Sprint(info.DataType),
			Shape:       append([]int64(nil), info.Dimensions...),
		})
	}
	return slots
}

// Path returns the file the classifier was loaded from.
func (c *Classifier) Path() string { return c.path }

func (c *Classifier) Device() Device { return c.device }

// Inputs returns the declared input slots in graph order.
func (c *Classifier) Inputs() []Slot { return append([]Slot(nil), c.inputs...) }

// Outputs returns the declared output slots in graph order.
func (c *Classifier) Outputs() []Slot { return append([]Slot(nil), c.outputs...) }

func (c *Classifier) destroy() error {
	var errs []error
	if c.session != nil {
		if err := c.session.Destroy(); err != nil {
			errs = append(errs, fmt.Errorf("failed to destroy session: %w", err))
		}
		c.session = nil
	}
	if c.options != nil {
		if err := c.options.Destroy(); err != nil {
			errs = append(errs, fmt.Errorf("failed to destroy session options: %w", err))
		}
		c.options = nil
	}
	return errors.Join(errs...)
}

// Close releases the session and this classifier's hold on the ONNX
// environment. It is safe to call more than once.
func (c *Classifier) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		err := c.destroy()
		c.mu.Unlock()
		c.closeErr = errors.Join(err, releaseEnvironment())
	})
	return c.closeErr
}
