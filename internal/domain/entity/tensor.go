package entity

import "fmt"

// InputBatch входной батч сети: форма (1, H, W, 3), NHWC, значения пикселей 0..255
// без внешней нормализации (её выполняет сама сеть).
type InputBatch struct {
	Height int
	Width  int
	Data   []float32
}

// Shape возвращает форму батча. Размер батча всегда 1.
func (b InputBatch) Shape() []int {
	return []int{1, b.Height, b.Width, 3}
}

// Validate проверяет, что данные соответствуют ожидаемой стороне size.
func (b InputBatch) Validate(size int) error {
	if b.Height != size || b.Width != size {
		return fmt.Errorf("batch shape %v, expected [1 %d %d 3]", b.Shape(), size, size)
	}
	if len(b.Data) != b.Height*b.Width*3 {
		return fmt.Errorf("batch has %d values, expected %d", len(b.Data), b.Height*b.Width*3)
	}
	return nil
}

// FeatureMap карта признаков внутреннего слоя (или градиент по ней),
// форма (1, h, w, c), раскладка HWC.
type FeatureMap struct {
	Height   int
	Width    int
	Channels int
	Data     []float32
}

// NewFeatureMap создаёт нулевую карту заданной формы.
func NewFeatureMap(h, w, c int) FeatureMap {
	return FeatureMap{Height: h, Width: w, Channels: c, Data: make([]float32, h*w*c)}
}

func (m FeatureMap) Shape() []int {
	return []int{1, m.Height, m.Width, m.Channels}
}

// At возвращает значение в позиции (y, x, c).
func (m FeatureMap) At(y, x, c int) float32 {
	return m.Data[(y*m.Width+x)*m.Channels+c]
}

// SameShape сравнивает формы двух карт.
func (m FeatureMap) SameShape(o FeatureMap) bool {
	return m.Height == o.Height && m.Width == o.Width && m.Channels == o.Channels
}

// Validate проверяет согласованность формы и данных.
func (m FeatureMap) Validate() error {
	if m.Height <= 0 || m.Width <= 0 || m.Channels <= 0 {
		return fmt.Errorf("feature map has empty shape %v", m.Shape())
	}
	if len(m.Data) != m.Height*m.Width*m.Channels {
		return fmt.Errorf("feature map has %d values, expected %d", len(m.Data), m.Height*m.Width*m.Channels)
	}
	return nil
}

// ImportanceMap карта важности Grad-CAM (h, w) со значениями в [0, 1].
type ImportanceMap struct {
	Height int
	Width  int
	Values []float64
}

// NewImportanceMap создаёт нулевую карту.
func NewImportanceMap(h, w int) ImportanceMap {
	return ImportanceMap{Height: h, Width: w, Values: make([]float64, h*w)}
}

func (m ImportanceMap) At(y, x int) float64 {
	return m.Values[y*m.Width+x]
}

// IsZero сообщает, что карта не несёт сигнала.
func (m ImportanceMap) IsZero() bool {
	for _, v := range m.Values {
		if v != 0 {
			return false
		}
	}
	return true
}

// GradCAMResult результат Grad-CAM: нормальная карта либо вырожденная (нулевая).
// Оба варианта допустимы, вырожденный не является ошибкой.
type GradCAMResult struct {
	Map        ImportanceMap
	Degenerate bool
}
