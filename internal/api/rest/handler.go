package rest

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"defect-vision/internal/domain/entity"
)

// Predictor конвейер предсказания, который обслуживает HTTP
type Predictor interface {
	Predict(ctx context.Context, req entity.PredictionRequest) (*entity.Prediction, error)
	Classes() []string
}

// RequestTimeoutHeader заголовок с таймаутом запроса в секундах
const RequestTimeoutHeader = "X-Request-Timeout"

// PredictResponse тело успешного ответа /predict
type PredictResponse struct {
	PredictedClass   string              `json:"predicted_class"`
	Probabilities    map[string]float64  `json:"probabilities"`
	Ranked           []entity.ClassScore `json:"ranked"`
	ExplanationImage string              `json:"explanation_image"` // PNG в base64
	Hotspot          *entity.DefectArea  `json:"hotspot"`
	Degenerate       bool                `json:"degenerate"`
	RequestID        string              `json:"request_id"`
	ElapsedMS        int64               `json:"elapsed_ms"`
}

// ErrorResponse тело ответа с ошибкой
type ErrorResponse struct {
	Error     string `json:"error"`
	Kind      string `json:"kind,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

type Handler struct {
	predictor Predictor
	timeout   time.Duration
	log       logrus.FieldLogger
}

func NewHandler(predictor Predictor, timeout time.Duration, log logrus.FieldLogger) *Handler {
	return &Handler{predictor: predictor, timeout: timeout, log: log}
}

// Index GET /
func (h *Handler) Index(c *gin.Context) {
	c.String(http.StatusOK, "defect-vision is running! Model loading status: Loaded")
}

// Health GET /health
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy", "classes": h.predictor.Classes()})
}

// Predict POST /predict, multipart с полем image и необязательным alpha.
func (h *Handler) Predict(c *gin.Context) {
	requestID := uuid.NewString()
	c.Header("X-Request-ID", requestID)

	file, err := c.FormFile("image")
	if err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			respondError(c, http.StatusRequestEntityTooLarge, ErrorResponse{Error: "Image file is too large", RequestID: requestID})
		case c.Request.MultipartForm != nil && len(c.Request.MultipartForm.Value["image"]) > 0:
			// часть image без имени файла
			respondError(c, http.StatusBadRequest, ErrorResponse{Error: "No selected image file", RequestID: requestID})
		default:
			respondError(c, http.StatusBadRequest, ErrorResponse{Error: "No image file provided", RequestID: requestID})
		}
		return
	}
	if file.Filename == "" {
		respondError(c, http.StatusBadRequest, ErrorResponse{Error: "No selected image file", RequestID: requestID})
		return
	}

	alpha, err := parseAlpha(c)
	if err != nil {
		respondError(c, http.StatusBadRequest, ErrorResponse{Error: err.Error(), RequestID: requestID})
		return
	}

	f, err := file.Open()
	if err != nil {
		respondError(c, http.StatusBadRequest, ErrorResponse{Error: "Failed to open uploaded file", RequestID: requestID})
		return
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		h.log.WithError(err).WithField("request_id", requestID).Warn("failed to read upload")
		respondError(c, http.StatusBadRequest, ErrorResponse{Error: "Failed to read image", RequestID: requestID})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout(c, h.timeout))
	defer cancel()

	pred, err := h.predictor.Predict(ctx, entity.PredictionRequest{
		RequestID: requestID,
		ImageData: data,
		Filename:  file.Filename,
		Alpha:     alpha,
	})
	if err != nil {
		status := http.StatusInternalServerError
		kind := entity.KindOf(err)
		if kind == entity.FailureDecode {
			status = http.StatusBadRequest
		}
		respondError(c, status, ErrorResponse{Error: err.Error(), Kind: string(kind), RequestID: requestID})
		return
	}

	c.JSON(http.StatusOK, PredictResponse{
		PredictedClass:   pred.PredictedClass,
		Probabilities:    pred.Probabilities,
		Ranked:           pred.Ranked,
		ExplanationImage: base64.StdEncoding.EncodeToString(pred.ExplanationPNG),
		Hotspot:          pred.Hotspot,
		Degenerate:       pred.Degenerate,
		RequestID:        pred.RequestID,
		ElapsedMS:        pred.Elapsed.Milliseconds(),
	})
}

func respondError(c *gin.Context, status int, body ErrorResponse) {
	c.AbortWithStatusJSON(status, body)
}

// parseAlpha читает alpha из формы или строки запроса; пустое значение означает значение по умолчанию.
func parseAlpha(c *gin.Context) (*float64, error) {
	raw := c.PostForm("alpha")
	if raw == "" {
		raw = c.Query("alpha")
	}
	if raw == "" {
		return nil, nil
	}
	alpha, err := strconv.ParseFloat(raw, 64)
	if err != nil || alpha < 0 || alpha > 1 {
		return nil, errors.New("alpha must be a number in [0, 1]")
	}
	return &alpha, nil
}

// requestTimeout берёт таймаут из заголовка, иначе значение по умолчанию.
// Заголовок может только сократить настроенный таймаут.
func requestTimeout(c *gin.Context, fallback time.Duration) time.Duration {
	if v := c.GetHeader(RequestTimeoutHeader); v != "" {
		if secs, err := strconv.ParseFloat(v, 64); err == nil && secs > 0 && secs < fallback.Seconds() {
			return time.Duration(secs * float64(time.Second))
		}
	}
	return fallback
}
