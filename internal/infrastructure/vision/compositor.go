package vision

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"math"

	"github.com/disintegration/imaging"
	"github.com/nfnt/resize"

	"defect-vision/internal/domain/entity"
	"defect-vision/internal/domain/port"
)

// Compositor накладывает тепловую карту на изображение средствами чистого Go.
type Compositor struct{}

// NewCompositor создаёт компоновщик без внешних зависимостей от OpenCV.
func NewCompositor() *Compositor {
	return &Compositor{}
}

// Composite возвращает alpha·JET(карта) + (1−alpha)·изображение по каналам.
// При alpha=0 результат совпадает с исходным изображением, при alpha=1 с чистой раскраской.
func (c *Compositor) Composite(display *image.NRGBA, importance entity.ImportanceMap, alpha float64) (*image.NRGBA, error) {
	if err := checkCompositeArgs(display, importance, alpha); err != nil {
		return nil, err
	}

	b := display.Bounds()
	heat, err := Colorize(importance, b.Dx(), b.Dy())
	if err != nil {
		return nil, err
	}

	out := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			src := display.PixOffset(b.Min.X+x, b.Min.Y+y)
			hot := heat.PixOffset(x, y)
			dst := out.PixOffset(x, y)
			for ch := 0; ch < 3; ch++ {
				v := alpha*float64(heat.Pix[hot+ch]) + (1-alpha)*float64(display.Pix[src+ch])
				out.Pix[dst+ch] = clampByte(v)
			}
			out.Pix[dst+3] = 0xff
		}
	}

	return out, nil
}

// Colorize растягивает карту до width×height билинейно и раскрашивает палитрой JET.
func Colorize(importance entity.ImportanceMap, width, height int) (*image.NRGBA, error) {
	levels, err := upsample(importance, width, height)
	if err != nil {
		return nil, err
	}

	out := image.NewNRGBA(image.Rect(0, 0, width, height))
	for i, level := range levels {
		c := jetLUT[level]
		out.Pix[i*4] = c.R
		out.Pix[i*4+1] = c.G
		out.Pix[i*4+2] = c.B
		out.Pix[i*4+3] = 0xff
	}
	return out, nil
}

// upsample возвращает уровни 0..255 для каждого пикселя результата.
func upsample(importance entity.ImportanceMap, width, height int) ([]uint8, error) {
	if importance.Height <= 0 || importance.Width <= 0 || len(importance.Values) != importance.Height*importance.Width {
		return nil, fmt.Errorf("importance map has invalid shape %dx%d with %d values",
			importance.Height, importance.Width, len(importance.Values))
	}
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid target size %dx%d", width, height)
	}

	src := image.NewGray16(image.Rect(0, 0, importance.Width, importance.Height))
	for y := 0; y < importance.Height; y++ {
		for x := 0; x < importance.Width; x++ {
			v := clamp01(importance.At(y, x))
			src.SetGray16(x, y, color.Gray16{Y: uint16(math.Round(v * 0xffff))})
		}
	}

	scaled := resize.Resize(uint(width), uint(height), src, resize.Bilinear)
	sb := scaled.Bounds()

	levels := make([]uint8, width*height)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			g := color.Gray16Model.Convert(scaled.At(sb.Min.X+x, sb.Min.Y+y)).(color.Gray16)
			levels[y*width+x] = level(float64(g.Y) / 0xffff)
		}
	}
	return levels, nil
}

func checkCompositeArgs(display *image.NRGBA, importance entity.ImportanceMap, alpha float64) error {
	if display == nil || display.Bounds().Empty() {
		return errors.New("display image is empty")
	}
	if math.IsNaN(alpha) || alpha < 0 || alpha > 1 {
		return fmt.Errorf("alpha %v is out of range [0, 1]", alpha)
	}
	if importance.Height <= 0 || importance.Width <= 0 {
		return fmt.Errorf("importance map has invalid shape %dx%d", importance.Height, importance.Width)
	}
	return nil
}

func (c *Compositor) Encode(img image.Image) ([]byte, error) {
	return EncodePNG(img)
}

// EncodePNG кодирует изображение в PNG без потерь.
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// level переводит важность в уровень палитры с усечением дробной части.
func level(v float64) uint8 {
	return uint8(255 * clamp01(v))
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func clampByte(v float64) uint8 {
	v = math.Round(v)
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v)
}

// Проверка реализации интерфейса
var _ port.HeatmapCompositor = (*Compositor)(nil)
