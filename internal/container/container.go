package container

import (
	"github.com/sirupsen/logrus"

	app "defect-vision/internal/application"
	"defect-vision/internal/domain/port"
	"defect-vision/internal/infrastructure/vision"
)

// Имена реализаций компоновщика
const (
	CompositorNative = "native"
	CompositorGoCV   = "gocv"
)

type Container struct {
	UserService       *app.UserService
	PredictionService *app.PredictionService
	Describer         port.DefectDescriber
}

func New(
	userRepo port.UserRepository,
	classifier port.ClassifierFacade,
	compositor port.HeatmapCompositor,
	describer port.DefectDescriber,
	alpha float64,
	log logrus.FieldLogger,
) *Container {
	userService := app.NewUserService(userRepo)
	predictionService := app.NewPredictionService(
		classifier,
		vision.NewNormalizer(classifier.InputSize()),
		vision.NewGradCAMEngine(),
		compositor,
		alpha,
		log.WithField("component", "pipeline"),
	)

	return &Container{
		UserService:       userService,
		PredictionService: predictionService,
		Describer:         describer,
	}
}

// SelectCompositor возвращает компоновщик по имени. Без тега gocv
// вместо OpenCV используется реализация на чистом Go.
func SelectCompositor(name string, log logrus.FieldLogger) port.HeatmapCompositor {
	if name == CompositorGoCV {
		if vision.GoCVEnabled {
			return vision.NewGoCVCompositor()
		}
		log.Warn("binary is built without gocv tag, falling back to native compositor")
	}
	return vision.NewCompositor()
}
