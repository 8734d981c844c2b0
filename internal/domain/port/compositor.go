package port

import (
	"image"

	"defect-vision/internal/domain/entity"
)

// HeatmapCompositor накладывает карту важности на изображение
type HeatmapCompositor interface {
	// Composite растягивает карту до размера изображения, раскрашивает и смешивает с коэффициентом alpha
	Composite(display *image.NRGBA, importance entity.ImportanceMap, alpha float64) (*image.NRGBA, error)

	// Encode кодирует результат без потерь
	Encode(img image.Image) ([]byte, error)
}
