package vision

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/require"

	"defect-vision/internal/domain/entity"
)

func testDisplay(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: uint8(x), G: uint8(y), B: uint8(x ^ y), A: 0xff})
		}
	}
	return img
}

func peakMap(h, w, py, px int) entity.ImportanceMap {
	m := entity.NewImportanceMap(h, w)
	m.Values[py*w+px] = 1
	return m
}

func TestJetEndpoints(t *testing.T) {
	require.Equal(t, color.NRGBA{R: 0, G: 0, B: 128, A: 0xff}, Jet(0))
	require.Equal(t, color.NRGBA{R: 128, G: 0, B: 0, A: 0xff}, Jet(255))

	mid := Jet(128)
	require.Equal(t, uint8(255), mid.G)
	require.Greater(t, mid.R, uint8(100))
	require.Greater(t, mid.B, uint8(100))
}

func TestComposite_KeepsGeometry(t *testing.T) {
	display := testDisplay(224, 224)
	out, err := NewCompositor().Composite(display, peakMap(7, 7, 3, 3), 0.4)
	require.NoError(t, err)
	require.Equal(t, display.Bounds(), out.Bounds())
}

func TestComposite_AlphaZeroIsDisplay(t *testing.T) {
	display := testDisplay(224, 224)
	out, err := NewCompositor().Composite(display, peakMap(7, 7, 1, 5), 0)
	require.NoError(t, err)
	require.Equal(t, display.Pix, out.Pix)
}

func TestComposite_AlphaOneIsColormap(t *testing.T) {
	display := testDisplay(224, 224)
	m := peakMap(7, 7, 1, 5)

	out, err := NewCompositor().Composite(display, m, 1)
	require.NoError(t, err)

	heat, err := Colorize(m, 224, 224)
	require.NoError(t, err)
	require.Equal(t, heat.Pix, out.Pix)
}

func TestComposite_BlendsPerChannel(t *testing.T) {
	display := image.NewNRGBA(image.Rect(0, 0, 4, 4))
	for i := 0; i < len(display.Pix); i += 4 {
		display.Pix[i], display.Pix[i+1], display.Pix[i+2], display.Pix[i+3] = 100, 100, 100, 0xff
	}

	out, err := NewCompositor().Composite(display, entity.NewImportanceMap(2, 2), 0.5)
	require.NoError(t, err)

	base := Jet(0)
	for i := 0; i < len(out.Pix); i += 4 {
		require.Equal(t, clampByte(0.5*float64(base.R)+50), out.Pix[i])
		require.Equal(t, clampByte(0.5*float64(base.G)+50), out.Pix[i+1])
		require.Equal(t, clampByte(0.5*float64(base.B)+50), out.Pix[i+2])
		require.Equal(t, uint8(0xff), out.Pix[i+3])
	}
}

func TestComposite_InvalidArguments(t *testing.T) {
	c := NewCompositor()
	display := testDisplay(8, 8)
	m := entity.NewImportanceMap(2, 2)

	_, err := c.Composite(display, m, 1.2)
	require.Error(t, err)
	_, err = c.Composite(display, m, -0.1)
	require.Error(t, err)
	_, err = c.Composite(nil, m, 0.4)
	require.Error(t, err)
	_, err = c.Composite(display, entity.ImportanceMap{}, 0.4)
	require.Error(t, err)
	_, err = c.Composite(display, entity.ImportanceMap{Height: 2, Width: 2, Values: []float64{1}}, 0.4)
	require.Error(t, err)
}

func TestColorize_Upsample(t *testing.T) {
	full := entity.NewImportanceMap(7, 7)
	for i := range full.Values {
		full.Values[i] = 1
	}
	heat, err := Colorize(full, 224, 224)
	require.NoError(t, err)
	for i := 0; i < len(heat.Pix); i += 4 {
		require.Equal(t, Jet(255).R, heat.Pix[i])
	}

	heat, err = Colorize(peakMap(7, 7, 2, 5), 224, 224)
	require.NoError(t, err)

	// центр горячей ячейки ярко-красный, дальний угол остаётся синим
	levels, err := upsample(peakMap(7, 7, 2, 5), 224, 224)
	require.NoError(t, err)
	require.Greater(t, levels[(2*32+16)*224+5*32+16], uint8(200))
	require.Equal(t, uint8(0), levels[0])
	require.Equal(t, Jet(0).B, heat.Pix[2])
}

func TestLevelTruncates(t *testing.T) {
	require.Equal(t, uint8(127), level(0.5))
	require.Equal(t, uint8(254), level(0.999))
	require.Equal(t, uint8(255), level(1))
	require.Equal(t, uint8(0), level(-0.2))
	require.Equal(t, uint8(255), level(3))

	half := entity.NewImportanceMap(2, 2)
	for i := range half.Values {
		half.Values[i] = 0.5
	}
	levels, err := upsample(half, 8, 8)
	require.NoError(t, err)
	for _, l := range levels {
		require.Equal(t, uint8(127), l)
	}
}

func TestEncodePNG_RoundTrip(t *testing.T) {
	out, err := NewCompositor().Composite(testDisplay(224, 224), peakMap(7, 7, 4, 4), 0.4)
	require.NoError(t, err)

	raw, err := EncodePNG(out)
	require.NoError(t, err)

	decoded, err := png.Decode(bytes.NewReader(raw))
	require.NoError(t, err)
	require.Equal(t, out.Bounds(), decoded.Bounds())
	require.Equal(t, out.Pix, imaging.Clone(decoded).Pix)
}
