package network

import (
	"fmt"
	"io"
	"os"

	"gonum.org/v1/gonum/mat"
	"gorgonia.org/tensor"
)

// ReadNpy читает массив float32 или float64 из потока в формате .npy.
func ReadNpy(r io.Reader) ([]int, []float64, error) {
	t := new(tensor.Dense)
	if err := t.ReadNpy(r); err != nil {
		return nil, nil, fmt.Errorf("read npy: %w", err)
	}

	shape := append([]int(nil), t.Shape()...)
	switch data := t.Data().(type) {
	case []float32:
		out := make([]float64, len(data))
		for i, v := range data {
			out[i] = float64(v)
		}
		return shape, out, nil
	case []float64:
		return shape, append([]float64(nil), data...), nil
	default:
		return nil, nil, fmt.Errorf("unsupported npy dtype %v", t.Dtype())
	}
}

func readNpyFile(path string) ([]int, []float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()

	shape, data, err := ReadNpy(f)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", path, err)
	}
	return shape, data, nil
}

// loadKernel читает ядро (in × out).
func loadKernel(path string) (*mat.Dense, error) {
	shape, data, err := readNpyFile(path)
	if err != nil {
		return nil, err
	}
	if len(shape) != 2 {
		return nil, fmt.Errorf("%s: kernel must be 2-D, got shape %v", path, shape)
	}
	return mat.NewDense(shape[0], shape[1], data), nil
}

// loadBias читает вектор смещения.
func loadBias(path string) (*mat.VecDense, error) {
	shape, data, err := readNpyFile(path)
	if err != nil {
		return nil, err
	}
	if len(shape) != 1 {
		return nil, fmt.Errorf("%s: bias must be 1-D, got shape %v", path, shape)
	}
	return mat.NewVecDense(shape[0], data), nil
}
