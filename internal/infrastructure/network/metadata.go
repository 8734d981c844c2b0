package network

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"defect-vision/internal/domain/entity"
)

// MetadataFile имя файла описания модели внутри каталога модели
const MetadataFile = "model_metadata.json"

// Виды слоёв головы
const (
	KindGlobalAveragePooling = "global_average_pooling"
	KindDropout              = "dropout"
	KindDense                = "dense"
)

// ActivationSoftmax допустима только у последнего слоя и снимается: голова отдаёт логиты.
const ActivationSoftmax = "softmax"

// Metadata описание артефакта модели
type Metadata struct {
	Classes   []string     `json:"classes"`
	ImageSize int          `json:"image_size"`
	Backbone  BackboneSpec `json:"backbone"`
	Head      []LayerSpec  `json:"head"`
}

// BackboneSpec ONNX-подсеть до слоя признаков включительно
type BackboneSpec struct {
	Path         string  `json:"path"`
	Input        string  `json:"input"`
	Output       string  `json:"output"` // например conv5_block3_out
	InputShape   []int64 `json:"input_shape"`
	FeatureShape []int64 `json:"feature_shape"`
}

// LayerSpec один слой головы
type LayerSpec struct {
	Name       string  `json:"name"`
	Kind       string  `json:"kind"`
	Rate       float64 `json:"rate,omitempty"`
	Activation string  `json:"activation,omitempty"`
	Kernel     string  `json:"kernel,omitempty"`
	Bias       string  `json:"bias,omitempty"`
}

// Ожидаемая последовательность слоёв головы между слоем признаков и логитами
var expectedHead = []struct {
	name string
	kind string
}{
	{"global_average_pooling2d", KindGlobalAveragePooling},
	{"dropout", KindDropout},
	{"dense", KindDense},
	{"dropout_1", KindDropout},
	{"predictions", KindDense},
}

// ReadMetadata читает и проверяет описание модели.
func ReadMetadata(path string) (Metadata, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Metadata{}, fmt.Errorf("failed to read metadata: %w", err)
	}

	var meta Metadata
	if err := json.Unmarshal(raw, &meta); err != nil {
		return Metadata{}, fmt.Errorf("failed to parse metadata: %w", err)
	}
	if err := meta.Validate(); err != nil {
		return Metadata{}, err
	}
	return meta, nil
}

// Validate проверяет словарь классов, форму входа и состав головы.
func (m Metadata) Validate() error {
	if !slices.Equal(m.Classes, entity.DefectClasses) {
		return fmt.Errorf("model classes %v do not match %v", m.Classes, entity.DefectClasses)
	}
	if m.ImageSize <= 0 {
		return fmt.Errorf("invalid image size %d", m.ImageSize)
	}

	b := m.Backbone
	if b.Path == "" || b.Input == "" || b.Output == "" {
		return errors.New("backbone path, input and output names are required")
	}
	size := int64(m.ImageSize)
	if !slices.Equal(b.InputShape, []int64{1, size, size, 3}) {
		return fmt.Errorf("backbone input shape %v, expected [1 %d %d 3]", b.InputShape, size, size)
	}
	if len(b.FeatureShape) != 4 || b.FeatureShape[0] != 1 {
		return fmt.Errorf("backbone feature shape %v, expected [1 h w c]", b.FeatureShape)
	}
	for _, d := range b.FeatureShape[1:] {
		if d <= 0 {
			return fmt.Errorf("backbone feature shape %v has non-positive dimension", b.FeatureShape)
		}
	}
	if b.FeatureShape[1] >= size || b.FeatureShape[2] >= size {
		return fmt.Errorf("feature map %v is not spatially reduced", b.FeatureShape)
	}

	if len(m.Head) != len(expectedHead) {
		return fmt.Errorf("head has %d layers, expected %d", len(m.Head), len(expectedHead))
	}
	for i, want := range expectedHead {
		got := m.Head[i]
		if got.Name != want.name || got.Kind != want.kind {
			return fmt.Errorf("head layer %d is %s (%s), expected %s (%s)", i, got.Name, got.Kind, want.name, want.kind)
		}
		if got.Kind == KindDense && (got.Kernel == "" || got.Bias == "") {
			return fmt.Errorf("head layer %s has no weights", got.Name)
		}
		if got.Activation == ActivationSoftmax && i != len(expectedHead)-1 {
			return fmt.Errorf("head layer %s: softmax is only allowed on the last layer", got.Name)
		}
	}
	return nil
}

// FeatureDims форма карты признаков (h, w, c).
func (m Metadata) FeatureDims() (h, w, c int) {
	s := m.Backbone.FeatureShape
	return int(s[1]), int(s[2]), int(s[3])
}

// BuildHead собирает голову по описанию, веса читаются из каталога dir.
// Softmax последнего слоя снимается, голова отдаёт логиты.
func BuildHead(meta Metadata, dir string) (*Head, error) {
	var (
		pooling GlobalAveragePooling
		layers  []Layer
	)
	for i, spec := range meta.Head {
		switch spec.Kind {
		case KindGlobalAveragePooling:
			pooling = NewGlobalAveragePooling(spec.Name)
		case KindDropout:
			layers = append(layers, NewDropout(spec.Name, spec.Rate))
		case KindDense:
			act := Activation(spec.Activation)
			if act == "" || (act == ActivationSoftmax && i == len(meta.Head)-1) {
				act = ActivationLinear
			}
			kernel, err := loadKernel(filepath.Join(dir, spec.Kernel))
			if err != nil {
				return nil, fmt.Errorf("layer %s: %w", spec.Name, err)
			}
			bias, err := loadBias(filepath.Join(dir, spec.Bias))
			if err != nil {
				return nil, fmt.Errorf("layer %s: %w", spec.Name, err)
			}
			dense, err := NewDense(spec.Name, kernel, bias, act)
			if err != nil {
				return nil, err
			}
			layers = append(layers, dense)
		default:
			return nil, fmt.Errorf("layer %s: unsupported kind %q", spec.Name, spec.Kind)
		}
	}

	head, err := NewHead(pooling, layers...)
	if err != nil {
		return nil, err
	}
	if _, _, c := meta.FeatureDims(); head.Channels() != c {
		return nil, fmt.Errorf("head expects %d channels, backbone gives %d", head.Channels(), c)
	}
	if head.NumClasses() != len(meta.Classes) {
		return nil, fmt.Errorf("head gives %d logits, model has %d classes", head.NumClasses(), len(meta.Classes))
	}
	return head, nil
}
