package entity

import (
	"sort"
	"time"
)

// ClassProbabilities вероятности классов, индексы совпадают с DefectClasses.
type ClassProbabilities []float64

// Argmax возвращает индекс максимальной вероятности; при равенстве побеждает меньший индекс.
func (p ClassProbabilities) Argmax() int {
	best := 0
	for i := 1; i < len(p); i++ {
		if p[i] > p[best] {
			best = i
		}
	}
	return best
}

// Sum возвращает сумму вероятностей.
func (p ClassProbabilities) Sum() float64 {
	var s float64
	for _, v := range p {
		s += v
	}
	return s
}

// ByClass раскладывает вероятности по именам классов.
func (p ClassProbabilities) ByClass(classes []string) map[string]float64 {
	out := make(map[string]float64, len(classes))
	for i, name := range classes {
		if i < len(p) {
			out[name] = p[i]
		}
	}
	return out
}

// ClassScore пара класс/вероятность.
type ClassScore struct {
	Class       string  `json:"class"`
	Probability float64 `json:"probability"`
}

// Ranked возвращает классы по убыванию вероятности, равные идут в порядке словаря.
func (p ClassProbabilities) Ranked(classes []string) []ClassScore {
	out := make([]ClassScore, 0, len(classes))
	for i, name := range classes {
		if i < len(p) {
			out = append(out, ClassScore{Class: name, Probability: p[i]})
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Probability > out[j].Probability
	})
	return out
}

// PredictionRequest входные данные одного запроса.
type PredictionRequest struct {
	RequestID string // пустой означает сгенерировать новый
	ImageData []byte
	Filename  string
	Alpha     *float64 // прозрачность тепловой карты, nil означает значение по умолчанию
}

// Prediction итог одного прохода конвейера.
type Prediction struct {
	RequestID      string
	PredictedClass string
	ClassIndex     int
	Probabilities  map[string]float64
	Ranked         []ClassScore
	ExplanationPNG []byte
	Hotspot        *DefectArea // nil, если объяснение вырожденное
	Degenerate     bool
	Elapsed        time.Duration
}

// Description текстовое описание результата для пользователя.
type Description struct {
	Text string
}
