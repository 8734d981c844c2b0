package vision

import "defect-vision/internal/domain/entity"

// DefaultHotspotThreshold доля максимума, начиная с которой ячейка считается горячей
const DefaultHotspotThreshold = 0.5

// Hotspot возвращает рамку вокруг ячеек карты со значением не ниже threshold
// в координатах изображения width×height. Для пустой карты ok=false.
func Hotspot(importance entity.ImportanceMap, threshold float64, width, height int) (area entity.DefectArea, ok bool) {
	if importance.Height <= 0 || importance.Width <= 0 || width <= 0 || height <= 0 {
		return entity.DefectArea{}, false
	}

	minX, minY := importance.Width, importance.Height
	maxX, maxY := -1, -1
	for y := 0; y < importance.Height; y++ {
		for x := 0; x < importance.Width; x++ {
			v := importance.At(y, x)
			if v <= 0 || v < threshold {
				continue
			}
			minX, maxX = min(minX, x), max(maxX, x)
			minY, maxY = min(minY, y), max(maxY, y)
		}
	}
	if maxX < 0 {
		return entity.DefectArea{}, false
	}

	// Ячейка (x, y) покрывает пиксели [x·W/w, (x+1)·W/w)
	x0 := minX * width / importance.Width
	y0 := minY * height / importance.Height
	x1 := (maxX + 1) * width / importance.Width
	y1 := (maxY + 1) * height / importance.Height

	return entity.DefectArea{
		X:      x0,
		Y:      y0,
		Width:  x1 - x0,
		Height: y1 - y0,
		Area:   (x1 - x0) * (y1 - y0),
	}, true
}
