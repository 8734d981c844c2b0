package port

import "defect-vision/internal/domain/entity"

// ExplanationEngine строит карту важности по активациям и градиентам
type ExplanationEngine interface {
	// Explain считает Grad-CAM, вырожденный результат не ошибка
	Explain(activations, gradients entity.FeatureMap) (entity.GradCAMResult, error)

	// Hotspot рамка самой важной области в координатах изображения width×height
	Hotspot(importance entity.ImportanceMap, width, height int) (entity.DefectArea, bool)
}
