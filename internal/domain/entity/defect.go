package entity

// DefectClasses фиксированный словарь классов дефектов в порядке обучения модели.
var DefectClasses = []string{
	"crazing",
	"inclusion",
	"patches",
	"pitted_surface",
	"rolled_in_scale",
	"scratches",
}

// DefectArea представляет область, на которую модель опиралась сильнее всего
type DefectArea struct {
	X      int `json:"x"`      // координата X левого верхнего угла
	Y      int `json:"y"`      // координата Y левого верхнего угла
	Width  int `json:"width"`  // ширина области в пикселях
	Height int `json:"height"` // высота области в пикселях
	Area   int `json:"area"`   // площадь области в пикселях
}

// Center возвращает координаты центра области
func (d DefectArea) Center() (x, y int) {
	return d.X + d.Width/2, d.Y + d.Height/2
}

// Contains проверяет, попадает ли точка в область
func (d DefectArea) Contains(x, y int) bool {
	return x >= d.X && x < d.X+d.Width && y >= d.Y && y < d.Y+d.Height
}
