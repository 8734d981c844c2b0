package vision

import (
	"defect-vision/internal/domain/entity"
	"defect-vision/internal/domain/port"
)

// GradCAMEngine объяснение предсказания картой Grad-CAM.
type GradCAMEngine struct {
	// HotspotThreshold порог горячей ячейки для рамки
	HotspotThreshold float64
}

func NewGradCAMEngine() *GradCAMEngine {
	return &GradCAMEngine{HotspotThreshold: DefaultHotspotThreshold}
}

func (e *GradCAMEngine) Explain(activations, gradients entity.FeatureMap) (entity.GradCAMResult, error) {
	return GradCAM(activations, gradients)
}

func (e *GradCAMEngine) Hotspot(importance entity.ImportanceMap, width, height int) (entity.DefectArea, bool) {
	return Hotspot(importance, e.HotspotThreshold, width, height)
}

var _ port.ExplanationEngine = (*GradCAMEngine)(nil)
