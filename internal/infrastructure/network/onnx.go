package network

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"defect-vision/internal/domain/entity"
)

var errBackboneClosed = errors.New("backbone is closed")

// BackboneOptions параметры пула ONNX-сессий
type BackboneOptions struct {
	LibraryPath    string
	PoolSize       int
	IntraOpThreads int
}

type backboneSlot struct {
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	output  *ort.Tensor[float32]
}

func (s *backboneSlot) destroy() {
	if s.session != nil {
		s.session.Destroy()
	}
	if s.input != nil {
		s.input.Destroy()
	}
	if s.output != nil {
		s.output.Destroy()
	}
}

// OnnxBackbone сверточная подсеть до слоя признаков.
// Сессии с привязанными тензорами лежат в пуле, каждая используется одним запросом за раз.
type OnnxBackbone struct {
	slots     chan *backboneSlot
	all       []*backboneSlot
	inputSize int
	h, w, c   int
	ownsEnv   bool
	closeOnce sync.Once
}

var (
	envMu    sync.Mutex
	envUsers int
)

func acquireEnvironment(libraryPath string) error {
	envMu.Lock()
	defer envMu.Unlock()

	if envUsers == 0 && !ort.IsInitialized() {
		if libraryPath != "" {
			ort.SetSharedLibraryPath(libraryPath)
		}
		if err := ort.InitializeEnvironment(); err != nil {
			return fmt.Errorf("failed to initialize ONNX environment: %w", err)
		}
	}
	envUsers++
	return nil
}

func releaseEnvironment() {
	envMu.Lock()
	defer envMu.Unlock()

	envUsers--
	if envUsers == 0 {
		ort.DestroyEnvironment()
	}
}

// NewOnnxBackbone открывает backbone и проверяет его входы и выходы по описанию модели.
func NewOnnxBackbone(modelPath string, meta Metadata, opts BackboneOptions) (*OnnxBackbone, error) {
	if opts.PoolSize <= 0 {
		opts.PoolSize = 1
	}
	if err := acquireEnvironment(opts.LibraryPath); err != nil {
		return nil, err
	}

	if err := validateModelIO(modelPath, meta.Backbone); err != nil {
		releaseEnvironment()
		return nil, err
	}

	h, w, c := meta.FeatureDims()
	b := &OnnxBackbone{
		slots:     make(chan *backboneSlot, opts.PoolSize),
		inputSize: meta.ImageSize,
		h:         h,
		w:         w,
		c:         c,
		ownsEnv:   true,
	}

	for i := 0; i < opts.PoolSize; i++ {
		slot, err := newBackboneSlot(modelPath, meta.Backbone, opts.IntraOpThreads)
		if err != nil {
			b.Close()
			return nil, fmt.Errorf("session %d: %w", i, err)
		}
		b.all = append(b.all, slot)
		b.slots <- slot
	}
	return b, nil
}

func validateModelIO(modelPath string, spec BackboneSpec) error {
	inputs, outputs, err := ort.GetInputOutputInfo(modelPath)
	if err != nil {
		return fmt.Errorf("io info: %w", err)
	}

	in := slices.IndexFunc(inputs, func(i ort.InputOutputInfo) bool { return i.Name == spec.Input })
	if in < 0 {
		return fmt.Errorf("backbone has no input %q", spec.Input)
	}
	out := slices.IndexFunc(outputs, func(o ort.InputOutputInfo) bool { return o.Name == spec.Output })
	if out < 0 {
		return fmt.Errorf("backbone has no output %q", spec.Output)
	}
	if !dimsCompatible(inputs[in].Dimensions, spec.InputShape) {
		return fmt.Errorf("backbone input %v does not match %v", inputs[in].Dimensions, spec.InputShape)
	}
	if !dimsCompatible(outputs[out].Dimensions, spec.FeatureShape) {
		return fmt.Errorf("backbone output %v does not match %v", outputs[out].Dimensions, spec.FeatureShape)
	}
	return nil
}

// dimsCompatible сравнивает формы, динамические оси (<=0) совпадают с любым значением.
func dimsCompatible(model ort.Shape, want []int64) bool {
	if len(model) != len(want) {
		return false
	}
	for i, d := range model {
		if d > 0 && d != want[i] {
			return false
		}
	}
	return true
}

func newBackboneSlot(modelPath string, spec BackboneSpec, threads int) (*backboneSlot, error) {
	slot := &backboneSlot{}

	var err error
	slot.input, err = ort.NewEmptyTensor[float32](ort.NewShape(spec.InputShape...))
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}
	slot.output, err = ort.NewEmptyTensor[float32](ort.NewShape(spec.FeatureShape...))
	if err != nil {
		slot.destroy()
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		slot.destroy()
		return nil, fmt.Errorf("session options: %w", err)
	}
	defer options.Destroy()
	if threads > 0 {
		_ = options.SetIntraOpNumThreads(threads)
	}

	slot.session, err = ort.NewAdvancedSession(modelPath,
		[]string{spec.Input}, []string{spec.Output},
		[]ort.ArbitraryTensor{slot.input}, []ort.ArbitraryTensor{slot.output},
		options)
	if err != nil {
		slot.destroy()
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}
	return slot, nil
}

// Extract прогоняет батч через backbone и возвращает карту признаков.
func (b *OnnxBackbone) Extract(ctx context.Context, batch entity.InputBatch) (entity.FeatureMap, error) {
	if err := batch.Validate(b.inputSize); err != nil {
		return entity.FeatureMap{}, err
	}

	var slot *backboneSlot
	select {
	case <-ctx.Done():
		return entity.FeatureMap{}, ctx.Err()
	case s, ok := <-b.slots:
		if !ok {
			return entity.FeatureMap{}, errBackboneClosed
		}
		slot = s
	}
	defer func() { b.slots <- slot }()

	copy(slot.input.GetData(), batch.Data)
	if err := slot.session.Run(); err != nil {
		return entity.FeatureMap{}, fmt.Errorf("inference failed: %w", err)
	}

	fm := entity.NewFeatureMap(b.h, b.w, b.c)
	copy(fm.Data, slot.output.GetData())
	return fm, nil
}

// Close дожидается возврата всех сессий в пул и освобождает их.
// После Close вызовы Extract завершаются ошибкой.
func (b *OnnxBackbone) Close() {
	b.closeOnce.Do(func() {
		for range b.all {
			<-b.slots
		}
		close(b.slots)

		for _, slot := range b.all {
			slot.destroy()
		}
		b.all = nil
		if b.ownsEnv {
			releaseEnvironment()
		}
	})
}
