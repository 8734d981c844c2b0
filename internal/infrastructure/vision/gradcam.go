package vision

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"defect-vision/internal/domain/entity"
)

// GradCAM строит карту важности по карте признаков A и градиенту G (одинаковой формы h×w×c):
// веса каналов равны среднему G по пространству, карта равна ReLU(A·w), делённой на максимум.
// Если максимум не положителен, возвращается нулевая карта с флагом Degenerate.
func GradCAM(activations, gradients entity.FeatureMap) (entity.GradCAMResult, error) {
	if err := activations.Validate(); err != nil {
		return entity.GradCAMResult{}, fmt.Errorf("activations: %w", err)
	}
	if err := gradients.Validate(); err != nil {
		return entity.GradCAMResult{}, fmt.Errorf("gradients: %w", err)
	}
	if !activations.SameShape(gradients) {
		return entity.GradCAMResult{}, fmt.Errorf("gradient shape %v does not match activation shape %v",
			gradients.Shape(), activations.Shape())
	}

	hw := activations.Height * activations.Width
	c := activations.Channels

	a := mat.NewDense(hw, c, widen(activations.Data))
	g := mat.NewDense(hw, c, widen(gradients.Data))

	ones := make([]float64, hw)
	for i := range ones {
		ones[i] = 1
	}

	var weights mat.VecDense
	weights.MulVec(g.T(), mat.NewVecDense(hw, ones))
	weights.ScaleVec(1/float64(hw), &weights)

	var raw mat.VecDense
	raw.MulVec(a, &weights)

	result := entity.GradCAMResult{
		Map: entity.NewImportanceMap(activations.Height, activations.Width),
	}
	values := result.Map.Values
	for i := range values {
		// NaN не проходит сравнение и остаётся нулём
		if v := raw.AtVec(i); v > 0 {
			values[i] = v
		}
	}

	peak := floats.Max(values)
	if peak <= 0 || math.IsInf(peak, 0) {
		for i := range values {
			values[i] = 0
		}
		result.Degenerate = true
		return result, nil
	}

	floats.Scale(1/peak, values)
	return result, nil
}

func widen(data []float32) []float64 {
	out := make([]float64, len(data))
	for i, v := range data {
		out[i] = float64(v)
	}
	return out
}
