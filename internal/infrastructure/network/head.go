package network

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"

	"defect-vision/internal/domain/entity"
	"defect-vision/internal/domain/port"
)

// Activation функция активации плотного слоя
type Activation string

const (
	ActivationLinear Activation = "linear"
	ActivationReLU   Activation = "relu"
)

// Layer один дифференцируемый шаг головы над вектором признаков.
type Layer interface {
	Name() string
	Forward(x *mat.VecDense) (*mat.VecDense, error)
	// Backward по входу прямого прохода x и градиенту по выходу возвращает градиент по входу.
	Backward(x, gradOut *mat.VecDense) (*mat.VecDense, error)
}

// GlobalAveragePooling усредняет карту признаков по пространству.
type GlobalAveragePooling struct {
	name string
}

func NewGlobalAveragePooling(name string) GlobalAveragePooling {
	return GlobalAveragePooling{name: name}
}

func (p GlobalAveragePooling) Name() string { return p.name }

// Forward (1, h, w, c) → вектор длины c.
func (p GlobalAveragePooling) Forward(fm entity.FeatureMap) *mat.VecDense {
	out := mat.NewVecDense(fm.Channels, nil)
	raw := out.RawVector().Data
	for i, v := range fm.Data {
		raw[i%fm.Channels] += float64(v)
	}
	out.ScaleVec(1/float64(fm.Height*fm.Width), out)
	return out
}

// Backward распределяет градиент поровну по всем позициям.
func (p GlobalAveragePooling) Backward(grad *mat.VecDense, h, w int) entity.FeatureMap {
	c := grad.Len()
	out := entity.NewFeatureMap(h, w, c)
	scale := 1 / float64(h*w)
	for i := range out.Data {
		out.Data[i] = float32(grad.AtVec(i%c) * scale)
	}
	return out
}

// Dropout на инференсе ничего не делает ни в прямом, ни в обратном проходе.
type Dropout struct {
	name string
	Rate float64
}

func NewDropout(name string, rate float64) *Dropout {
	return &Dropout{name: name, Rate: rate}
}

func (d *Dropout) Name() string { return d.name }

func (d *Dropout) Forward(x *mat.VecDense) (*mat.VecDense, error) {
	return x, nil
}

func (d *Dropout) Backward(_, gradOut *mat.VecDense) (*mat.VecDense, error) {
	return gradOut, nil
}

// Dense полносвязный слой y = act(Kᵀx + b), ядро в раскладке Keras (in × out).
type Dense struct {
	name       string
	Kernel     *mat.Dense
	Bias       *mat.VecDense
	Activation Activation
}

// NewDense проверяет согласованность ядра и смещения.
func NewDense(name string, kernel *mat.Dense, bias *mat.VecDense, act Activation) (*Dense, error) {
	if kernel == nil || bias == nil {
		return nil, fmt.Errorf("layer %s: kernel and bias are required", name)
	}
	_, out := kernel.Dims()
	if bias.Len() != out {
		return nil, fmt.Errorf("layer %s: bias has %d values, kernel has %d outputs", name, bias.Len(), out)
	}
	switch act {
	case ActivationLinear, ActivationReLU:
	default:
		return nil, fmt.Errorf("layer %s: unsupported activation %q", name, act)
	}
	return &Dense{name: name, Kernel: kernel, Bias: bias, Activation: act}, nil
}

func (d *Dense) Name() string { return d.name }

// InputDim размер входа слоя.
func (d *Dense) InputDim() int {
	in, _ := d.Kernel.Dims()
	return in
}

// OutputDim размер выхода слоя.
func (d *Dense) OutputDim() int {
	_, out := d.Kernel.Dims()
	return out
}

func (d *Dense) preActivation(x *mat.VecDense) (*mat.VecDense, error) {
	if x.Len() != d.InputDim() {
		return nil, fmt.Errorf("layer %s: input has %d values, expected %d", d.name, x.Len(), d.InputDim())
	}
	z := mat.NewVecDense(d.OutputDim(), nil)
	z.MulVec(d.Kernel.T(), x)
	z.AddVec(z, d.Bias)
	return z, nil
}

func (d *Dense) Forward(x *mat.VecDense) (*mat.VecDense, error) {
	z, err := d.preActivation(x)
	if err != nil {
		return nil, err
	}
	if d.Activation == ActivationReLU {
		for i := 0; i < z.Len(); i++ {
			if z.AtVec(i) < 0 {
				z.SetVec(i, 0)
			}
		}
	}
	return z, nil
}

func (d *Dense) Backward(x, gradOut *mat.VecDense) (*mat.VecDense, error) {
	if gradOut.Len() != d.OutputDim() {
		return nil, fmt.Errorf("layer %s: gradient has %d values, expected %d", d.name, gradOut.Len(), d.OutputDim())
	}
	dz := mat.VecDenseCopyOf(gradOut)
	if d.Activation == ActivationReLU {
		z, err := d.preActivation(x)
		if err != nil {
			return nil, err
		}
		for i := 0; i < z.Len(); i++ {
			if z.AtVec(i) <= 0 {
				dz.SetVec(i, 0)
			}
		}
	}
	dx := mat.NewVecDense(d.InputDim(), nil)
	dx.MulVec(d.Kernel, dz)
	return dx, nil
}

// Head голова классификатора: пулинг и последовательность слоёв до логитов.
type Head struct {
	Pooling  GlobalAveragePooling
	Layers   []Layer
	channels int
	classes  int
}

// NewHead проверяет, что размерности слоёв стыкуются, и запоминает вход и выход.
func NewHead(pooling GlobalAveragePooling, layers ...Layer) (*Head, error) {
	h := &Head{Pooling: pooling, Layers: layers}

	dim := 0
	for _, l := range layers {
		dense, ok := l.(*Dense)
		if !ok {
			continue
		}
		if dim == 0 {
			h.channels = dense.InputDim()
		} else if dense.InputDim() != dim {
			return nil, fmt.Errorf("layer %s expects %d inputs, previous layer gives %d", dense.Name(), dense.InputDim(), dim)
		}
		dim = dense.OutputDim()
	}
	if dim == 0 {
		return nil, errors.New("head has no dense layers")
	}
	h.classes = dim
	return h, nil
}

// Channels число каналов карты признаков, которое ждёт голова.
func (h *Head) Channels() int { return h.channels }

// NumClasses число логитов на выходе.
func (h *Head) NumClasses() int { return h.classes }

// Logits прямой проход головы.
func (h *Head) Logits(fm entity.FeatureMap) ([]float64, error) {
	x, _, err := h.forward(fm)
	if err != nil {
		return nil, err
	}
	return append([]float64(nil), x.RawVector().Data...), nil
}

// Gradient обратный проход от логита class до карты признаков.
func (h *Head) Gradient(fm entity.FeatureMap, class int) (entity.FeatureMap, error) {
	if class < 0 || class >= h.classes {
		return entity.FeatureMap{}, fmt.Errorf("class index %d is out of range [0, %d)", class, h.classes)
	}

	logits, inputs, err := h.forward(fm)
	if err != nil {
		return entity.FeatureMap{}, err
	}

	grad := mat.NewVecDense(logits.Len(), nil)
	grad.SetVec(class, 1)
	for i := len(h.Layers) - 1; i >= 0; i-- {
		if grad, err = h.Layers[i].Backward(inputs[i], grad); err != nil {
			return entity.FeatureMap{}, err
		}
	}

	return h.Pooling.Backward(grad, fm.Height, fm.Width), nil
}

// forward возвращает логиты и вход каждого слоя для обратного прохода.
func (h *Head) forward(fm entity.FeatureMap) (*mat.VecDense, []*mat.VecDense, error) {
	if err := fm.Validate(); err != nil {
		return nil, nil, err
	}
	if fm.Channels != h.channels {
		return nil, nil, fmt.Errorf("feature map has %d channels, head expects %d", fm.Channels, h.channels)
	}

	x := h.Pooling.Forward(fm)
	inputs := make([]*mat.VecDense, len(h.Layers))
	for i, l := range h.Layers {
		inputs[i] = x
		out, err := l.Forward(x)
		if err != nil {
			return nil, nil, err
		}
		x = out
	}
	return x, inputs, nil
}

// Проверка реализации интерфейса
var _ port.ClassifierHead = (*Head)(nil)
