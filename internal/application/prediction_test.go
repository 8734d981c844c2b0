package app

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"defect-vision/internal/domain/entity"
	"defect-vision/internal/infrastructure/network"
	"defect-vision/internal/infrastructure/vision"
)

// fakeClassifier отдаёт заранее заданные вероятности, активации и градиенты.
type fakeClassifier struct {
	probs      entity.ClassProbabilities
	acts       entity.FeatureMap
	grads      entity.FeatureMap
	predictErr error
	gradErr    error

	calls     atomic.Int32
	lastClass atomic.Int32
}

func (f *fakeClassifier) Predict(ctx context.Context, batch entity.InputBatch) (entity.ClassProbabilities, error) {
	f.calls.Add(1)
	if f.predictErr != nil {
		return nil, f.predictErr
	}
	return append(entity.ClassProbabilities(nil), f.probs...), nil
}

func (f *fakeClassifier) ActivationsAndGradient(ctx context.Context, batch entity.InputBatch, class int) (entity.FeatureMap, entity.FeatureMap, error) {
	f.lastClass.Store(int32(class))
	if f.gradErr != nil {
		return entity.FeatureMap{}, entity.FeatureMap{}, f.gradErr
	}
	return f.acts, f.grads, nil
}

func (f *fakeClassifier) Classes() []string { return entity.DefectClasses }
func (f *fakeClassifier) InputSize() int    { return vision.DefaultInputSize }

// peakFeatures карта 7×7×2, в которой первый канал горит в одной ячейке.
func peakFeatures() (acts, grads entity.FeatureMap) {
	acts = entity.NewFeatureMap(7, 7, 2)
	grads = entity.NewFeatureMap(7, 7, 2)
	for i := 0; i < 7*7; i++ {
		acts.Data[i*2+1] = 0.2
		grads.Data[i*2] = 0.5
		grads.Data[i*2+1] = 0.1
	}
	acts.Data[(2*7+4)*2] = 3
	return acts, grads
}

func newFake() *fakeClassifier {
	acts, grads := peakFeatures()
	return &fakeClassifier{
		probs: entity.ClassProbabilities{0.05, 0.6, 0.1, 0.1, 0.1, 0.05},
		acts:  acts,
		grads: grads,
	}
}

func newService(c *fakeClassifier) *PredictionService {
	log, _ := test.NewNullLogger()
	return NewPredictionService(c, vision.NewNormalizer(vision.DefaultInputSize), vision.NewGradCAMEngine(),
		vision.NewCompositor(), entity.DefaultAlpha, log)
}

func grayPNG(t *testing.T, w, h int) []byte {
	t.Helper()

	img := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetGray(x, y, color.Gray{Y: uint8((x*3 + y*5) % 256)})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, imaging.Encode(&buf, img, imaging.PNG))
	return buf.Bytes()
}

func decodePNG(t *testing.T, data []byte) *image.NRGBA {
	t.Helper()

	img, err := imaging.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	return imaging.Clone(img)
}

func requirePipelineError(t *testing.T, err error, kind entity.FailureKind, state entity.PipelineState) {
	t.Helper()

	var pe *entity.PipelineError
	require.ErrorAs(t, err, &pe)
	require.Equal(t, kind, pe.Kind)
	require.Equal(t, state, pe.State)
}

func TestPredictionService_GrayscaleImage(t *testing.T) {
	svc := newService(newFake())

	pred, err := svc.Predict(context.Background(), entity.PredictionRequest{ImageData: grayPNG(t, 100, 100), Filename: "plate.png"})
	require.NoError(t, err)

	require.Equal(t, "inclusion", pred.PredictedClass)
	require.Equal(t, 1, pred.ClassIndex)
	require.Len(t, pred.Probabilities, len(entity.DefectClasses))
	require.Equal(t, "inclusion", pred.Ranked[0].Class)
	require.False(t, pred.Degenerate)
	require.NotEmpty(t, pred.RequestID)

	overlay := decodePNG(t, pred.ExplanationPNG)
	require.Equal(t, image.Rect(0, 0, 224, 224), overlay.Bounds())

	// горячая ячейка (y=2, x=4) сетки 7×7 при стороне 224 занимает пиксели [128, 160) × [64, 96)
	require.NotNil(t, pred.Hotspot)
	require.Equal(t, entity.DefectArea{X: 128, Y: 64, Width: 32, Height: 32, Area: 1024}, *pred.Hotspot)
}

func TestPredictionService_EmptyInputFailsBeforePredicting(t *testing.T) {
	fake := newFake()
	svc := newService(fake)

	_, err := svc.Predict(context.Background(), entity.PredictionRequest{})
	requirePipelineError(t, err, entity.FailureDecode, entity.PipelineDecoding)
	require.ErrorIs(t, err, entity.ErrDecode)
	require.Zero(t, fake.calls.Load())

	_, err = svc.Predict(context.Background(), entity.PredictionRequest{ImageData: []byte("not an image")})
	requirePipelineError(t, err, entity.FailureDecode, entity.PipelineDecoding)
}

func TestPredictionService_DegenerateReturnsPlainImage(t *testing.T) {
	fake := newFake()
	fake.grads = entity.NewFeatureMap(7, 7, 2)
	svc := newService(fake)
	raw := grayPNG(t, 100, 100)

	pred, err := svc.Predict(context.Background(), entity.PredictionRequest{ImageData: raw})
	require.NoError(t, err)
	require.True(t, pred.Degenerate)
	require.Nil(t, pred.Hotspot)

	display, _, err := vision.NewNormalizer(vision.DefaultInputSize).Normalize(raw)
	require.NoError(t, err)
	require.Equal(t, display.Pix, decodePNG(t, pred.ExplanationPNG).Pix)
}

func TestPredictionService_TieGoesToLowestIndex(t *testing.T) {
	fake := newFake()
	fake.probs = entity.ClassProbabilities{0.1, 0.1, 0.3, 0.3, 0.1, 0.1}
	svc := newService(fake)

	pred, err := svc.Predict(context.Background(), entity.PredictionRequest{ImageData: grayPNG(t, 32, 32)})
	require.NoError(t, err)
	require.Equal(t, 2, pred.ClassIndex)
	require.Equal(t, int32(2), fake.lastClass.Load())
}

func TestPredictionService_InferenceFailures(t *testing.T) {
	ctx := context.Background()
	raw := grayPNG(t, 40, 40)

	fake := newFake()
	fake.predictErr = errors.Join(entity.ErrInference, errors.New("session failed"))
	_, err := newService(fake).Predict(ctx, entity.PredictionRequest{ImageData: raw})
	requirePipelineError(t, err, entity.FailureInference, entity.PipelinePredicting)

	fake = newFake()
	fake.gradErr = errors.New("gradient failed")
	_, err = newService(fake).Predict(ctx, entity.PredictionRequest{ImageData: raw})
	requirePipelineError(t, err, entity.FailureInference, entity.PipelineExplaining)

	fake = newFake()
	fake.grads = entity.NewFeatureMap(3, 3, 2)
	_, err = newService(fake).Predict(ctx, entity.PredictionRequest{ImageData: raw})
	requirePipelineError(t, err, entity.FailureInference, entity.PipelineExplaining)

	fake = newFake()
	fake.probs = entity.ClassProbabilities{1}
	_, err = newService(fake).Predict(ctx, entity.PredictionRequest{ImageData: raw})
	requirePipelineError(t, err, entity.FailureInference, entity.PipelinePredicting)

	alpha := 2.0
	_, err = newService(newFake()).Predict(ctx, entity.PredictionRequest{ImageData: raw, Alpha: &alpha})
	requirePipelineError(t, err, entity.FailureInference, entity.PipelineCompositing)
}

func TestPredictionService_CancelledContext(t *testing.T) {
	fake := newFake()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newService(fake).Predict(ctx, entity.PredictionRequest{ImageData: grayPNG(t, 40, 40)})
	requirePipelineError(t, err, entity.FailureInference, entity.PipelinePredicting)
	require.ErrorIs(t, err, context.Canceled)
	require.Zero(t, fake.calls.Load())
}

func TestPredictionService_LogsFailureWithRequestID(t *testing.T) {
	log, hook := test.NewNullLogger()
	svc := NewPredictionService(newFake(), vision.NewNormalizer(vision.DefaultInputSize), vision.NewGradCAMEngine(),
		vision.NewCompositor(), entity.DefaultAlpha, log)

	_, err := svc.Predict(context.Background(), entity.PredictionRequest{RequestID: "req-1"})
	require.Error(t, err)

	entry := hook.LastEntry()
	require.Equal(t, logrus.ErrorLevel, entry.Level)
	require.Equal(t, "req-1", entry.Data["request_id"])
	require.Equal(t, entity.PipelineDecoding, entry.Data["state"])
}

func TestPredictionService_AlphaOverride(t *testing.T) {
	raw := grayPNG(t, 64, 64)
	svc := newService(newFake())

	zero := 0.0
	pred, err := svc.Predict(context.Background(), entity.PredictionRequest{ImageData: raw, Alpha: &zero})
	require.NoError(t, err)

	display, _, err := vision.NewNormalizer(vision.DefaultInputSize).Normalize(raw)
	require.NoError(t, err)
	require.Equal(t, display.Pix, decodePNG(t, pred.ExplanationPNG).Pix)
	require.False(t, pred.Degenerate)
}

func TestPredictionService_ConcurrentRunsAreIndependent(t *testing.T) {
	svc := newService(newFake())
	raw := grayPNG(t, 100, 100)

	const runs = 8
	results := make([]*entity.Prediction, runs)
	var wg sync.WaitGroup
	for i := 0; i < runs; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			pred, err := svc.Predict(context.Background(), entity.PredictionRequest{ImageData: raw})
			require.NoError(t, err)
			results[i] = pred
		}(i)
	}
	wg.Wait()

	ids := make(map[string]bool)
	for _, pred := range results {
		require.Equal(t, results[0].ExplanationPNG, pred.ExplanationPNG)
		require.Equal(t, results[0].Probabilities, pred.Probabilities)
		ids[pred.RequestID] = true
	}
	require.Len(t, ids, runs)
}

// blockExtractor усредняет пиксели блоками 32×32, вход 224 даёт карту 7×7×3.
type blockExtractor struct{}

func (blockExtractor) Extract(ctx context.Context, batch entity.InputBatch) (entity.FeatureMap, error) {
	const block = 32
	fm := entity.NewFeatureMap(batch.Height/block, batch.Width/block, 3)
	for y := 0; y < batch.Height; y++ {
		for x := 0; x < batch.Width; x++ {
			for c := 0; c < 3; c++ {
				v := batch.Data[(y*batch.Width+x)*3+c] / 255 / (block * block)
				fm.Data[((y/block)*fm.Width+x/block)*3+c] += v
			}
		}
	}
	return fm, nil
}

func TestPredictionService_ThroughNetworkClassifier(t *testing.T) {
	hidden, err := network.NewDense("dense",
		mat.NewDense(3, 4, []float64{1, -1, 0.5, 2, -0.5, 1, 1, -1, 0.5, 0.5, -2, 1}),
		mat.NewVecDense(4, []float64{0.2, 0.2, 0.2, 0.2}), network.ActivationReLU)
	require.NoError(t, err)
	out := make([]float64, 4*6)
	for i := range out {
		out[i] = float64((i*5)%9-4) / 3
	}
	predictions, err := network.NewDense("predictions", mat.NewDense(4, 6, out), mat.NewVecDense(6, nil), network.ActivationLinear)
	require.NoError(t, err)
	head, err := network.NewHead(network.NewGlobalAveragePooling("global_average_pooling2d"),
		network.NewDropout("dropout", 0.5), hidden, network.NewDropout("dropout_1", 0.3), predictions)
	require.NoError(t, err)

	meta := network.Metadata{
		Classes:   append([]string(nil), entity.DefectClasses...),
		ImageSize: 224,
		Backbone: network.BackboneSpec{
			Path:         "backbone.onnx",
			Input:        "input_1",
			Output:       "conv5_block3_out",
			InputShape:   []int64{1, 224, 224, 3},
			FeatureShape: []int64{1, 7, 7, 3},
		},
		Head: []network.LayerSpec{
			{Name: "global_average_pooling2d", Kind: network.KindGlobalAveragePooling},
			{Name: "dropout", Kind: network.KindDropout},
			{Name: "dense", Kind: network.KindDense, Activation: "relu", Kernel: "k0.npy", Bias: "b0.npy"},
			{Name: "dropout_1", Kind: network.KindDropout},
			{Name: "predictions", Kind: network.KindDense, Activation: "softmax", Kernel: "k1.npy", Bias: "b1.npy"},
		},
	}
	model, err := network.NewModel(meta, blockExtractor{}, head)
	require.NoError(t, err)

	log, _ := test.NewNullLogger()
	svc := NewPredictionService(network.NewClassifier(model, log), vision.NewNormalizer(224), vision.NewGradCAMEngine(),
		vision.NewCompositor(), entity.DefaultAlpha, log)

	pred, err := svc.Predict(context.Background(), entity.PredictionRequest{ImageData: grayPNG(t, 100, 100)})
	require.NoError(t, err)

	var sum float64
	for _, p := range pred.Probabilities {
		sum += p
	}
	require.InDelta(t, 1.0, sum, 1e-3)
	require.Contains(t, entity.DefectClasses, pred.PredictedClass)
	require.Equal(t, image.Rect(0, 0, 224, 224), decodePNG(t, pred.ExplanationPNG).Bounds())
}
