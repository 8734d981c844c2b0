package network

import (
	"fmt"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"defect-vision/internal/domain/port"
)

// Model обученная сеть, разделённая на backbone и голову по слою признаков.
type Model struct {
	meta     Metadata
	backbone port.FeatureExtractor
	head     *Head
	closer   func()
}

// NewModel связывает готовые стадии. Используется загрузчиком и тестами.
func NewModel(meta Metadata, backbone port.FeatureExtractor, head *Head) (*Model, error) {
	if err := meta.Validate(); err != nil {
		return nil, err
	}
	if backbone == nil || head == nil {
		return nil, fmt.Errorf("model requires both backbone and head")
	}
	if head.NumClasses() != len(meta.Classes) {
		return nil, fmt.Errorf("head gives %d logits, model has %d classes", head.NumClasses(), len(meta.Classes))
	}
	return &Model{meta: meta, backbone: backbone, head: head}, nil
}

// LoadModel читает каталог модели: описание, веса головы и ONNX backbone.
func LoadModel(dir string, opts BackboneOptions, log logrus.FieldLogger) (*Model, error) {
	meta, err := ReadMetadata(filepath.Join(dir, MetadataFile))
	if err != nil {
		return nil, err
	}

	head, err := BuildHead(meta, dir)
	if err != nil {
		return nil, fmt.Errorf("failed to build head: %w", err)
	}

	backbone, err := NewOnnxBackbone(filepath.Join(dir, meta.Backbone.Path), meta, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to load backbone: %w", err)
	}

	m, err := NewModel(meta, backbone, head)
	if err != nil {
		backbone.Close()
		return nil, err
	}
	m.closer = backbone.Close

	h, w, c := meta.FeatureDims()
	log.WithFields(logrus.Fields{
		"dir":      dir,
		"classes":  len(meta.Classes),
		"input":    meta.ImageSize,
		"features": fmt.Sprintf("%dx%dx%d", h, w, c),
		"sessions": opts.PoolSize,
	}).Info("model loaded")
	return m, nil
}

func (m *Model) FeatureSubgraph() port.FeatureExtractor { return m.backbone }
func (m *Model) HeadSubgraph() port.ClassifierHead      { return m.head }
func (m *Model) Classes() []string                      { return m.meta.Classes }
func (m *Model) InputSize() int                         { return m.meta.ImageSize }

// Close освобождает ресурсы backbone.
func (m *Model) Close() {
	if m.closer != nil {
		m.closer()
	}
}

var _ port.LayeredNetwork = (*Model)(nil)
