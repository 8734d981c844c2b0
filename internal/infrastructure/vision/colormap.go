package vision

import (
	"image/color"

	"github.com/lucasb-eyer/go-colorful"
)

// Опорные точки классической палитры JET (синий → голубой → жёлтый → красный).
var jetStops = []struct {
	pos   float64
	color colorful.Color
}{
	{0, colorful.Color{R: 0, G: 0, B: 0.5}},
	{0.125, colorful.Color{R: 0, G: 0, B: 1}},
	{0.375, colorful.Color{R: 0, G: 1, B: 1}},
	{0.625, colorful.Color{R: 1, G: 1, B: 0}},
	{0.875, colorful.Color{R: 1, G: 0, B: 0}},
	{1, colorful.Color{R: 0.5, G: 0, B: 0}},
}

var jetLUT = buildJetLUT()

func buildJetLUT() [256]color.NRGBA {
	var lut [256]color.NRGBA
	for i := range lut {
		r, g, b := jetAt(float64(i) / 255).RGB255()
		lut[i] = color.NRGBA{R: r, G: g, B: b, A: 0xff}
	}
	return lut
}

func jetAt(t float64) colorful.Color {
	for k := 1; k < len(jetStops); k++ {
		if t <= jetStops[k].pos {
			lo, hi := jetStops[k-1], jetStops[k]
			return lo.color.BlendRgb(hi.color, (t-lo.pos)/(hi.pos-lo.pos))
		}
	}
	return jetStops[len(jetStops)-1].color
}

// Jet возвращает цвет палитры для уровня 0..255.
func Jet(level uint8) color.NRGBA {
	return jetLUT[level]
}
