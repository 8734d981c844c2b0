package vision

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/require"

	"defect-vision/internal/domain/entity"
)

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func grayGradient(w, h int) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetGray(x, y, color.Gray{Y: uint8((x + y) * 255 / (w + h))})
		}
	}
	return img
}

func TestNormalize_GrayscalePNG(t *testing.T) {
	n := NewNormalizer(DefaultInputSize)

	display, batch, err := n.Normalize(encodePNG(t, grayGradient(100, 100)))
	require.NoError(t, err)
	require.Equal(t, image.Rect(0, 0, 224, 224), display.Bounds())
	require.Equal(t, []int{1, 224, 224, 3}, batch.Shape())
	require.NoError(t, batch.Validate(224))

	for y := 0; y < 224; y++ {
		for x := 0; x < 224; x++ {
			off := display.PixOffset(x, y)
			r, g, b, a := display.Pix[off], display.Pix[off+1], display.Pix[off+2], display.Pix[off+3]
			require.Equal(t, r, g)
			require.Equal(t, g, b)
			require.Equal(t, uint8(0xff), a)

			i := (y*224 + x) * 3
			require.Equal(t, float32(r), batch.Data[i])
			require.Equal(t, float32(g), batch.Data[i+1])
			require.Equal(t, float32(b), batch.Data[i+2])
		}
	}
}

func TestNormalize_IgnoresAspectRatio(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 80, 30))
	for i := range img.Pix {
		img.Pix[i] = 0x80
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: 95}))

	display, batch, err := NewNormalizer(DefaultInputSize).Normalize(buf.Bytes())
	require.NoError(t, err)
	require.Equal(t, 224, display.Bounds().Dx())
	require.Equal(t, 224, display.Bounds().Dy())
	require.Len(t, batch.Data, 224*224*3)
}

func TestNormalize_DropsAlpha(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 10, 10))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = 200, 100, 50, 0
	}

	display, _, err := NewNormalizer(16).Normalize(encodePNG(t, img))
	require.NoError(t, err)
	for i := 0; i < len(display.Pix); i += 4 {
		require.InDelta(t, 200, int(display.Pix[i]), 1)
		require.InDelta(t, 100, int(display.Pix[i+1]), 1)
		require.InDelta(t, 50, int(display.Pix[i+2]), 1)
		require.Equal(t, uint8(0xff), display.Pix[i+3])
	}
}

func TestNormalize_Deterministic(t *testing.T) {
	raw := encodePNG(t, grayGradient(57, 91))
	n := NewNormalizer(DefaultInputSize)

	d1, b1, err := n.Normalize(raw)
	require.NoError(t, err)
	d2, b2, err := n.Normalize(raw)
	require.NoError(t, err)
	require.Equal(t, d1.Pix, d2.Pix)
	require.Equal(t, b1.Data, b2.Data)
}

func TestNormalize_DecodeErrors(t *testing.T) {
	n := NewNormalizer(DefaultInputSize)

	for name, raw := range map[string][]byte{
		"empty":     nil,
		"garbage":   []byte("definitely not an image"),
		"truncated": encodePNG(t, grayGradient(20, 20))[:30],
	} {
		t.Run(name, func(t *testing.T) {
			_, _, err := n.Normalize(raw)
			require.Error(t, err)
			require.True(t, errors.Is(err, entity.ErrDecode))
		})
	}
}

// withOrientation вставляет после SOI сегмент APP1 с EXIF-тегом Orientation.
func withOrientation(t *testing.T, jpg []byte, orientation uint16) []byte {
	t.Helper()
	require.Equal(t, []byte{0xff, 0xd8}, jpg[:2])

	exif := []byte("Exif\x00\x00")
	exif = append(exif, 'M', 'M', 0x00, 0x2a, 0x00, 0x00, 0x00, 0x08) // TIFF big-endian, IFD0 по смещению 8
	exif = append(exif, 0x00, 0x01)                                     // одна запись
	exif = append(exif, 0x01, 0x12, 0x00, 0x03, 0x00, 0x00, 0x00, 0x01) // Orientation, SHORT, count 1
	exif = append(exif, byte(orientation>>8), byte(orientation), 0x00, 0x00)
	exif = append(exif, 0x00, 0x00, 0x00, 0x00) // следующего IFD нет

	size := len(exif) + 2
	out := append([]byte{}, jpg[:2]...)
	out = append(out, 0xff, 0xe1, byte(size>>8), byte(size))
	out = append(out, exif...)
	return append(out, jpg[2:]...)
}

func TestNormalize_IgnoresExifOrientation(t *testing.T) {
	// левая половина красная, правая синяя
	img := image.NewRGBA(image.Rect(0, 0, 64, 32))
	for y := 0; y < 32; y++ {
		for x := 0; x < 64; x++ {
			c := color.RGBA{R: 255, A: 255}
			if x >= 32 {
				c = color.RGBA{B: 255, A: 255}
			}
			img.SetRGBA(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: 95}))
	raw := withOrientation(t, buf.Bytes(), 6)

	// тег читается: с автоповоротом картинка стала бы 32×64
	rotated, err := imaging.Decode(bytes.NewReader(raw), imaging.AutoOrientation(true))
	require.NoError(t, err)
	require.Equal(t, image.Rect(0, 0, 32, 64), rotated.Bounds())

	display, _, err := NewNormalizer(DefaultInputSize).Normalize(raw)
	require.NoError(t, err)

	at := func(x, y int) color.NRGBA { return display.NRGBAAt(x, y) }
	require.Greater(t, at(10, 10).R, at(10, 10).B, "top-left is red")
	require.Greater(t, at(213, 10).B, at(213, 10).R, "top-right is blue")
	require.Greater(t, at(10, 213).R, at(10, 213).B, "bottom-left is red")
	require.Greater(t, at(213, 213).B, at(213, 213).R, "bottom-right is blue")
}
