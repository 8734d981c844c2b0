//go:build gocv
// +build gocv

package vision

import (
	"fmt"
	"image"

	"github.com/disintegration/imaging"
	"gocv.io/x/gocv"

	"defect-vision/internal/domain/entity"
	"defect-vision/internal/domain/port"
)

// GoCVEnabled сообщает, собран ли пакет с OpenCV.
const GoCVEnabled = true

// GoCVCompositor накладывает тепловую карту средствами OpenCV.
type GoCVCompositor struct{}

// NewGoCVCompositor создаёт компоновщик на OpenCV.
func NewGoCVCompositor() *GoCVCompositor {
	return &GoCVCompositor{}
}

// Composite повторяет Compositor.Composite: linear resize, COLORMAP_JET и addWeighted.
func (c *GoCVCompositor) Composite(display *image.NRGBA, importance entity.ImportanceMap, alpha float64) (*image.NRGBA, error) {
	if err := checkCompositeArgs(display, importance, alpha); err != nil {
		return nil, err
	}
	b := display.Bounds()

	heat := gocv.NewMatWithSize(importance.Height, importance.Width, gocv.MatTypeCV32F)
	defer heat.Close()
	for y := 0; y < importance.Height; y++ {
		for x := 0; x < importance.Width; x++ {
			heat.SetFloatAt(y, x, float32(clamp01(importance.At(y, x))))
		}
	}

	resized := gocv.NewMat()
	defer resized.Close()
	gocv.Resize(heat, &resized, image.Pt(b.Dx(), b.Dy()), 0, 0, gocv.InterpolationLinear)

	// ConvertTo округляет, а уровни палитры усекаются как в Compositor
	levels := gocv.NewMatWithSize(b.Dy(), b.Dx(), gocv.MatTypeCV8U)
	defer levels.Close()
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			levels.SetUCharAt(y, x, level(float64(resized.GetFloatAt(y, x))))
		}
	}

	colored := gocv.NewMat()
	defer colored.Close()
	gocv.ApplyColorMap(levels, &colored, gocv.ColormapJet)

	// ImageToMatRGB отдаёт BGR, как и ApplyColorMap, поэтому каналы совпадают
	background, err := gocv.ImageToMatRGB(display)
	if err != nil {
		return nil, fmt.Errorf("display to mat: %w", err)
	}
	defer background.Close()

	blended := gocv.NewMat()
	defer blended.Close()
	gocv.AddWeighted(colored, alpha, background, 1-alpha, 0, &blended)

	img, err := blended.ToImage()
	if err != nil {
		return nil, fmt.Errorf("mat to image: %w", err)
	}

	return imaging.Clone(img), nil
}

// Encode кодирует результат в PNG.
func (c *GoCVCompositor) Encode(img image.Image) ([]byte, error) {
	return EncodePNG(img)
}

// Проверка реализации интерфейса
var _ port.HeatmapCompositor = (*GoCVCompositor)(nil)
