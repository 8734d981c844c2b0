package port

import (
	"context"

	"defect-vision/internal/domain/entity"
)

// DefectDescriber интерфейс описателя результата
type DefectDescriber interface {
	// Describe генерирует текстовое описание предсказания
	Describe(ctx context.Context, prediction *entity.Prediction) (*entity.Description, error)
}
