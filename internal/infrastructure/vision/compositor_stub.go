//go:build !gocv
// +build !gocv

package vision

import (
	"errors"
	"image"

	"defect-vision/internal/domain/entity"
	"defect-vision/internal/domain/port"
)

// GoCVEnabled сообщает, собран ли пакет с OpenCV.
const GoCVEnabled = false

// GoCVCompositor заглушка без OpenCV.
type GoCVCompositor struct{}

// NewGoCVCompositor создаёт компоновщик-заглушку (без OpenCV).
func NewGoCVCompositor() *GoCVCompositor {
	return &GoCVCompositor{}
}

// Composite возвращает ошибку, если сборка без тега gocv.
func (c *GoCVCompositor) Composite(display *image.NRGBA, importance entity.ImportanceMap, alpha float64) (*image.NRGBA, error) {
	_ = display
	_ = importance
	_ = alpha
	return nil, errors.New("gocv build tag is not enabled")
}

func (c *GoCVCompositor) Encode(img image.Image) ([]byte, error) {
	return EncodePNG(img)
}

var _ port.HeatmapCompositor = (*GoCVCompositor)(nil)
