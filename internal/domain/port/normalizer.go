package port

import (
	"image"

	"defect-vision/internal/domain/entity"
)

// ImageNormalizer готовит загруженное изображение к сети
type ImageNormalizer interface {
	// Normalize возвращает RGB-картинку для наложения и батч (1, S, S, 3)
	Normalize(raw []byte) (*image.NRGBA, entity.InputBatch, error)
}
