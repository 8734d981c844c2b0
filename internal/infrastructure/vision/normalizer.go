package vision

import (
	"bytes"
	"fmt"
	"image"

	"github.com/disintegration/imaging"

	"defect-vision/internal/domain/entity"
	"defect-vision/internal/domain/port"
)

// DefaultInputSize сторона входа сети
const DefaultInputSize = 224

// Normalizer превращает байты изображения в картинку для наложения и батч для сети.
type Normalizer struct {
	Size   int
	Filter imaging.ResampleFilter
}

// NewNormalizer создаёт нормализатор под квадратный вход стороной size.
func NewNormalizer(size int) *Normalizer {
	return &Normalizer{
		Size:   size,
		Filter: imaging.CatmullRom,
	}
}

// Normalize декодирует изображение, приводит к RGB и растягивает до Size×Size без учёта пропорций.
// EXIF-ориентация не применяется: сеть обучалась на пикселях в порядке хранения.
// Батч содержит те же значения 0..255, что и картинка: нормализацию делает сама сеть.
func (n *Normalizer) Normalize(raw []byte) (*image.NRGBA, entity.InputBatch, error) {
	if len(raw) == 0 {
		return nil, entity.InputBatch{}, fmt.Errorf("%w: empty image", entity.ErrDecode)
	}

	img, err := imaging.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, entity.InputBatch{}, fmt.Errorf("%w: %v", entity.ErrDecode, err)
	}
	if b := img.Bounds(); b.Dx() == 0 || b.Dy() == 0 {
		return nil, entity.InputBatch{}, fmt.Errorf("%w: image has no pixels", entity.ErrDecode)
	}

	// Альфу отбрасываем до ресайза, цвет под прозрачными пикселями сохраняется.
	rgb := imaging.Clone(img)
	for i := 3; i < len(rgb.Pix); i += 4 {
		rgb.Pix[i] = 0xff
	}

	display := imaging.Resize(rgb, n.Size, n.Size, n.Filter)

	batch := entity.InputBatch{
		Height: n.Size,
		Width:  n.Size,
		Data:   make([]float32, n.Size*n.Size*3),
	}
	for y := 0; y < n.Size; y++ {
		for x := 0; x < n.Size; x++ {
			off := display.PixOffset(x, y)
			display.Pix[off+3] = 0xff

			i := (y*n.Size + x) * 3
			batch.Data[i] = float32(display.Pix[off])
			batch.Data[i+1] = float32(display.Pix[off+1])
			batch.Data[i+2] = float32(display.Pix[off+2])
		}
	}

	return display, batch, nil
}

var _ port.ImageNormalizer = (*Normalizer)(nil)
