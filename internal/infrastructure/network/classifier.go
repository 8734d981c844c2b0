package network

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/floats"

	"defect-vision/internal/domain/entity"
	"defect-vision/internal/domain/port"
)

var errNotLoaded = errors.New("network is not loaded")

// Classifier фасад над двухстадийной сетью.
type Classifier struct {
	net port.LayeredNetwork
	log logrus.FieldLogger
}

func NewClassifier(net port.LayeredNetwork, log logrus.FieldLogger) *Classifier {
	return &Classifier{net: net, log: log}
}

func (c *Classifier) Classes() []string {
	if c.net == nil {
		return nil
	}
	return c.net.Classes()
}

func (c *Classifier) InputSize() int {
	if c.net == nil {
		return 0
	}
	return c.net.InputSize()
}

// Predict прямой проход: признаки, логиты, softmax.
func (c *Classifier) Predict(ctx context.Context, batch entity.InputBatch) (entity.ClassProbabilities, error) {
	fm, err := c.extract(ctx, batch)
	if err != nil {
		return nil, err
	}

	logits, err := c.net.HeadSubgraph().Logits(fm)
	if err != nil {
		return nil, fmt.Errorf("%w: head: %v", entity.ErrInference, err)
	}
	if len(logits) != len(c.net.Classes()) {
		return nil, fmt.Errorf("%w: head gave %d logits for %d classes", entity.ErrInference, len(logits), len(c.net.Classes()))
	}
	if !finite64(logits) {
		return nil, fmt.Errorf("%w: head gave non-finite logits", entity.ErrInference)
	}
	return Softmax(logits), nil
}

// ActivationsAndGradient возвращает карту признаков и градиент логита class по ней.
// Непригодный градиент заменяется нулевым, это не ошибка.
func (c *Classifier) ActivationsAndGradient(ctx context.Context, batch entity.InputBatch, class int) (entity.FeatureMap, entity.FeatureMap, error) {
	if c.net != nil && (class < 0 || class >= len(c.net.Classes())) {
		return entity.FeatureMap{}, entity.FeatureMap{}, fmt.Errorf("%w: class index %d is out of range", entity.ErrInference, class)
	}

	fm, err := c.extract(ctx, batch)
	if err != nil {
		return entity.FeatureMap{}, entity.FeatureMap{}, err
	}

	grad, err := c.net.HeadSubgraph().Gradient(fm, class)
	if err != nil {
		return entity.FeatureMap{}, entity.FeatureMap{}, fmt.Errorf("%w: gradient: %v", entity.ErrInference, err)
	}
	if !grad.SameShape(fm) || len(grad.Data) != len(fm.Data) || !finite(grad.Data) {
		c.log.WithField("class", class).Warn("head produced no usable gradient, using zero map")
		grad = entity.NewFeatureMap(fm.Height, fm.Width, fm.Channels)
	}
	return fm, grad, nil
}

func (c *Classifier) extract(ctx context.Context, batch entity.InputBatch) (entity.FeatureMap, error) {
	if c.net == nil {
		return entity.FeatureMap{}, fmt.Errorf("%w: %v", entity.ErrInference, errNotLoaded)
	}
	if err := batch.Validate(c.net.InputSize()); err != nil {
		return entity.FeatureMap{}, fmt.Errorf("%w: %v", entity.ErrInference, err)
	}
	if err := ctx.Err(); err != nil {
		return entity.FeatureMap{}, fmt.Errorf("%w: %v", entity.ErrInference, err)
	}

	fm, err := c.net.FeatureSubgraph().Extract(ctx, batch)
	if err != nil {
		return entity.FeatureMap{}, fmt.Errorf("%w: backbone: %v", entity.ErrInference, err)
	}
	if err := fm.Validate(); err != nil {
		return entity.FeatureMap{}, fmt.Errorf("%w: backbone: %v", entity.ErrInference, err)
	}
	if !finite(fm.Data) {
		return entity.FeatureMap{}, fmt.Errorf("%w: backbone gave non-finite features", entity.ErrInference)
	}
	return fm, nil
}

// Softmax устойчивый к переполнению softmax.
func Softmax(logits []float64) entity.ClassProbabilities {
	out := make([]float64, len(logits))
	if len(logits) == 0 {
		return out
	}
	shift := floats.Max(logits)
	for i, v := range logits {
		out[i] = math.Exp(v - shift)
	}
	floats.Scale(1/floats.Sum(out), out)
	return out
}

func finite(data []float32) bool {
	for _, v := range data {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return false
		}
	}
	return true
}

func finite64(data []float64) bool {
	for _, v := range data {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

var _ port.ClassifierFacade = (*Classifier)(nil)
