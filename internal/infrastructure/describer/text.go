package describer

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"defect-vision/internal/domain/entity"
	"defect-vision/internal/domain/port"
)

// Русские названия классов дефектов
var classTitles = map[string]string{
	"crazing":         "Сетка трещин",
	"inclusion":       "Включения",
	"patches":         "Пятна",
	"pitted_surface":  "Раковины",
	"rolled_in_scale": "Вкатанная окалина",
	"scratches":       "Царапины",
}

// TextDescriber собирает подпись к результату без внешних сервисов.
type TextDescriber struct {
	// TopN сколько альтернативных классов показать
	TopN int
}

func NewTextDescriber() *TextDescriber {
	return &TextDescriber{TopN: 2}
}

// Title возвращает русское название класса или сам класс.
func Title(class string) string {
	if t, ok := classTitles[class]; ok {
		return t
	}
	return class
}

func (d *TextDescriber) Describe(ctx context.Context, prediction *entity.Prediction) (*entity.Description, error) {
	if prediction == nil {
		return nil, errors.New("prediction is nil")
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "🔍 Дефект: %s (%s), %.1f%%\n",
		Title(prediction.PredictedClass), prediction.PredictedClass,
		100*prediction.Probabilities[prediction.PredictedClass])

	alternatives := 0
	for _, score := range prediction.Ranked {
		if score.Class == prediction.PredictedClass {
			continue
		}
		if alternatives == d.TopN {
			break
		}
		if alternatives == 0 {
			sb.WriteString("Другие варианты:\n")
		}
		fmt.Fprintf(&sb, "• %s: %.1f%%\n", Title(score.Class), 100*score.Probability)
		alternatives++
	}

	switch {
	case prediction.Degenerate:
		sb.WriteString("⚠️ Карта внимания пустая, показано исходное изображение.")
	case prediction.Hotspot != nil:
		h := prediction.Hotspot
		fmt.Fprintf(&sb, "🎯 Основная область: x=%d, y=%d, %d×%d пикс.", h.X, h.Y, h.Width, h.Height)
	}

	return &entity.Description{Text: strings.TrimRight(sb.String(), "\n")}, nil
}

var _ port.DefectDescriber = (*TextDescriber)(nil)
