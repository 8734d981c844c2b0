package port

import (
	"context"

	"defect-vision/internal/domain/entity"
)

// FeatureExtractor первая стадия сети: всё до внутреннего слоя признаков включительно
type FeatureExtractor interface {
	// Extract прогоняет батч и возвращает карту признаков (1, h, w, c)
	Extract(ctx context.Context, batch entity.InputBatch) (entity.FeatureMap, error)
}

// ClassifierHead вторая стадия сети: голова от карты признаков до логитов классов
type ClassifierHead interface {
	// Logits считает логиты классов (до softmax)
	Logits(features entity.FeatureMap) ([]float64, error)

	// Gradient считает градиент логита класса по карте признаков
	Gradient(features entity.FeatureMap, class int) (entity.FeatureMap, error)
}

// LayeredNetwork обученная сеть, привязанная к двум опорным точкам при загрузке
type LayeredNetwork interface {
	FeatureSubgraph() FeatureExtractor
	HeadSubgraph() ClassifierHead

	// Classes упорядоченный словарь классов
	Classes() []string

	// InputSize сторона квадратного входа сети
	InputSize() int
}

// ClassifierFacade всё, что конвейеру нужно от сети
type ClassifierFacade interface {
	// Predict полный прямой проход, возвращает вероятности классов
	Predict(ctx context.Context, batch entity.InputBatch) (entity.ClassProbabilities, error)

	// ActivationsAndGradient возвращает карту признаков и градиент логита класса по ней
	ActivationsAndGradient(ctx context.Context, batch entity.InputBatch, class int) (entity.FeatureMap, entity.FeatureMap, error)

	Classes() []string
	InputSize() int
}
