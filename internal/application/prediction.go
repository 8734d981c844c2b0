package app

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"defect-vision/internal/domain/entity"
	"defect-vision/internal/domain/port"
)

// PredictionService ведёт один запрос по конвейеру
// Decoding → Predicting → Explaining → Compositing → Done.
type PredictionService struct {
	classifier port.ClassifierFacade
	normalizer port.ImageNormalizer
	explainer  port.ExplanationEngine
	compositor port.HeatmapCompositor
	alpha      float64
	log        logrus.FieldLogger
}

// NewPredictionService создаёт конвейер с прозрачностью наложения по умолчанию alpha.
func NewPredictionService(
	classifier port.ClassifierFacade,
	normalizer port.ImageNormalizer,
	explainer port.ExplanationEngine,
	compositor port.HeatmapCompositor,
	alpha float64,
	log logrus.FieldLogger,
) *PredictionService {
	return &PredictionService{
		classifier: classifier,
		normalizer: normalizer,
		explainer:  explainer,
		compositor: compositor,
		alpha:      alpha,
		log:        log,
	}
}

// Classes словарь классов модели.
func (s *PredictionService) Classes() []string {
	return s.classifier.Classes()
}

// run состояние одного прохода, на каждый вызов своё
type run struct {
	state entity.PipelineState
	log   logrus.FieldLogger
	start time.Time
	id    string
}

// Predict прогоняет изображение через конвейер. Наружу выходит только *entity.PipelineError.
func (s *PredictionService) Predict(ctx context.Context, req entity.PredictionRequest) (*entity.Prediction, error) {
	r := &run{
		state: entity.PipelineIdle,
		start: time.Now(),
		id:    req.RequestID,
	}
	if r.id == "" {
		r.id = uuid.NewString()
	}
	r.log = s.log.WithFields(logrus.Fields{"request_id": r.id, "file": req.Filename})

	alpha := s.alpha
	if req.Alpha != nil {
		alpha = *req.Alpha
	}

	// Decoding
	r.state = entity.PipelineDecoding
	display, batch, err := s.normalizer.Normalize(req.ImageData)
	if err != nil {
		return nil, s.fail(r, entity.FailureDecode, err)
	}

	// Predicting
	if err := s.enter(ctx, r, entity.PipelinePredicting); err != nil {
		return nil, err
	}
	probs, err := s.classifier.Predict(ctx, batch)
	if err != nil {
		return nil, s.fail(r, entity.FailureInference, err)
	}
	classes := s.classifier.Classes()
	if len(probs) != len(classes) {
		return nil, s.fail(r, entity.FailureInference,
			fmt.Errorf("%w: %d probabilities for %d classes", entity.ErrInference, len(probs), len(classes)))
	}
	class := probs.Argmax()

	// Explaining
	if err := s.enter(ctx, r, entity.PipelineExplaining); err != nil {
		return nil, err
	}
	acts, grads, err := s.classifier.ActivationsAndGradient(ctx, batch, class)
	if err != nil {
		return nil, s.fail(r, entity.FailureInference, err)
	}
	cam, err := s.explainer.Explain(acts, grads)
	if err != nil {
		return nil, s.fail(r, entity.FailureInference, fmt.Errorf("%w: grad-cam: %v", entity.ErrInference, err))
	}

	// Compositing
	if err := s.enter(ctx, r, entity.PipelineCompositing); err != nil {
		return nil, err
	}
	b := display.Bounds()
	var hotspot *entity.DefectArea
	if cam.Degenerate {
		// без карты важности наложение совпадает с исходной картинкой
		r.log.WithField("class", classes[class]).Warn("degenerate explanation, returning plain image")
		alpha = 0
	} else if area, ok := s.explainer.Hotspot(cam.Map, b.Dx(), b.Dy()); ok {
		hotspot = &area
	}

	overlay, err := s.compositor.Composite(display, cam.Map, alpha)
	if err != nil {
		return nil, s.fail(r, entity.FailureInference, fmt.Errorf("%w: composite: %v", entity.ErrInference, err))
	}
	encoded, err := s.compositor.Encode(overlay)
	if err != nil {
		return nil, s.fail(r, entity.FailureInference, fmt.Errorf("%w: %v", entity.ErrInference, err))
	}

	r.state = entity.PipelineDone
	elapsed := time.Since(r.start)
	r.log.WithFields(logrus.Fields{
		"class":      classes[class],
		"confidence": probs[class],
		"degenerate": cam.Degenerate,
		"elapsed":    elapsed,
	}).Info("prediction done")

	return &entity.Prediction{
		RequestID:      r.id,
		PredictedClass: classes[class],
		ClassIndex:     class,
		Probabilities:  probs.ByClass(classes),
		Ranked:         probs.Ranked(classes),
		ExplanationPNG: encoded,
		Hotspot:        hotspot,
		Degenerate:     cam.Degenerate,
		Elapsed:        elapsed,
	}, nil
}

// enter переводит проход в следующее состояние, если контекст ещё жив.
func (s *PredictionService) enter(ctx context.Context, r *run, state entity.PipelineState) error {
	r.state = state
	if err := ctx.Err(); err != nil {
		return s.fail(r, entity.FailureInference, fmt.Errorf("%w: %w", entity.ErrInference, err))
	}
	return nil
}

func (s *PredictionService) fail(r *run, kind entity.FailureKind, err error) error {
	failedAt := r.state
	r.state = entity.PipelineFailed

	r.log.WithFields(logrus.Fields{
		"state":   failedAt,
		"kind":    kind,
		"elapsed": time.Since(r.start),
	}).WithError(err).Error("prediction failed")

	return &entity.PipelineError{Kind: kind, State: failedAt, Err: err}
}
