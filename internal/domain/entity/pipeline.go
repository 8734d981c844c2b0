package entity

import (
	"errors"
	"fmt"
)

// PipelineState состояние конвейера предсказания
type PipelineState string

const (
	PipelineIdle        PipelineState = "idle"
	PipelineDecoding    PipelineState = "decoding"
	PipelinePredicting  PipelineState = "predicting"
	PipelineExplaining  PipelineState = "explaining"
	PipelineCompositing PipelineState = "compositing"
	PipelineDone        PipelineState = "done"
	PipelineFailed      PipelineState = "failed"
)

// FailureKind класс отказа конвейера
type FailureKind string

const (
	FailureDecode    FailureKind = "DecodeError"    // ошибка входных данных пользователя
	FailureInference FailureKind = "InferenceError" // ошибка системы: сеть недоступна, форма не совпала
)

var (
	// ErrDecode изображение пустое, повреждено или в неподдерживаемом формате.
	ErrDecode = errors.New("decode error")
	// ErrInference сеть не загружена, не совпала форма тензора или упал прогон.
	ErrInference = errors.New("inference error")
)

// PipelineError единственный тип ошибки, который конвейер отдаёт наружу.
type PipelineError struct {
	Kind  FailureKind
	State PipelineState // состояние, в котором произошёл отказ
	Err   error
}

func (e *PipelineError) Error() string {
	return fmt.Sprintf("%s at %s: %v", e.Kind, e.State, e.Err)
}

func (e *PipelineError) Unwrap() error {
	return e.Err
}

// KindOf возвращает класс отказа для произвольной ошибки.
func KindOf(err error) FailureKind {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	if errors.Is(err, ErrDecode) {
		return FailureDecode
	}
	return FailureInference
}
