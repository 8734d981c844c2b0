package telegram

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/sirupsen/logrus"

	app "defect-vision/internal/application"
	"defect-vision/internal/container"
	"defect-vision/internal/domain/entity"
)

const (
	msgStart = `👋 Привет! Я бот для классификации дефектов стальной поверхности.

📸 Отправьте мне фото поверхности, и я назову тип дефекта и покажу, на какую область смотрела модель.

📋 Команды:
/check — начать проверку
/alpha 0.4 — прозрачность тепловой карты (от 0 до 1)
/help — справка
/cancel — отменить текущую операцию`

	msgHelp = `ℹ️ Как пользоваться ботом:

1️⃣ Отправьте фото поверхности (как фото или как файл)
2️⃣ Бот определит один из классов: сетка трещин, включения, пятна, раковины, вкатанная окалина, царапины
3️⃣ Вы получите изображение с тепловой картой и подпись с вероятностями

💡 Рекомендации:
• Снимайте участок крупно, без лишнего фона
• Фото должно быть чётким

📋 Команды:
/check — начать проверку
/alpha 0.4 — прозрачность тепловой карты
/cancel — отменить операцию`

	msgAwaitingPhoto  = "📸 Отправьте фото поверхности для проверки."
	msgCancelled      = "❌ Операция отменена. Отправьте /check для новой проверки."
	msgSendPhoto      = "📸 Пожалуйста, отправьте фото поверхности для проверки."
	msgUnknownCommand = "❓ Неизвестная команда. Используйте /help для справки."
	msgProcessing     = "⏳ Обрабатываю изображение..."
	msgBusy           = "⏳ Предыдущее изображение ещё обрабатывается."
	msgAlphaUsage     = "Укажите прозрачность от 0 до 1, например: /alpha 0.4"
	msgAlphaSet       = "✅ Прозрачность тепловой карты: %.2f"
	msgDecodeError    = "⚠️ Не удалось прочитать изображение. Пришлите PNG, JPEG или GIF."
	msgInferenceError = "⚠️ Не удалось обработать изображение. Попробуйте позже."
	msgNotAnImage     = "⚠️ Этот файл не похож на изображение."
)

// Bot представляет Telegram-бота
type Bot struct {
	api       *tgbotapi.BotAPI
	app       *container.Container
	log       logrus.FieldLogger
	client    *http.Client
	timeout   time.Duration
	maxUpload int64
}

// NewBot создаёт нового бота
func NewBot(token string, c *container.Container, timeout time.Duration, maxUpload int64, log logrus.FieldLogger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, err
	}

	log.WithField("account", api.Self.UserName).Info("telegram bot authorized")

	return &Bot{
		api:       api,
		app:       c,
		log:       log,
		client:    &http.Client{Timeout: timeout},
		timeout:   timeout,
		maxUpload: maxUpload,
	}, nil
}

// Run запускает основной цикл обработки сообщений до отмены ctx.
// Перед возвратом дожидается завершения начатых обработчиков.
func (b *Bot) Run(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)
	defer b.api.StopReceivingUpdates()

	serve(ctx, updates, b.handleMessage)
	return nil
}

// serve раздаёт сообщения обработчикам в отдельных горутинах.
// Обработчики получают контекст без отмены: начатая проверка
// завершается в пределах своего таймаута.
func serve(ctx context.Context, updates tgbotapi.UpdatesChannel, handle func(context.Context, *tgbotapi.Message)) {
	var wg sync.WaitGroup
	defer wg.Wait()

	handlerCtx := context.WithoutCancel(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			if update.Message == nil {
				continue
			}
			wg.Add(1)
			go func(msg *tgbotapi.Message) {
				defer wg.Done()
				handle(handlerCtx, msg)
			}(update.Message)
		}
	}
}

// handleMessage обрабатывает входящее сообщение
func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if msg.From == nil {
		return
	}

	// Обработка команд
	if msg.IsCommand() {
		b.handleCommand(ctx, msg)
		return
	}

	// Обработка фото и изображений, присланных файлом
	if fileID, ok := imageFileID(msg); ok {
		b.handleImage(ctx, msg, fileID)
		return
	}
	if msg.Document != nil {
		b.sendMessage(msg.Chat.ID, msgNotAnImage)
		return
	}

	// Текстовое сообщение (не команда)
	b.sendMessage(msg.Chat.ID, msgSendPhoto)
}

// handleCommand обрабатывает команды бота
func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	users := b.app.UserService
	userID, chatID := msg.From.ID, msg.Chat.ID

	var err error
	switch msg.Command() {
	case "start":
		_, err = users.Cancel(ctx, userID, chatID)
		b.sendMessage(chatID, msgStart)

	case "help":
		b.sendMessage(chatID, msgHelp)

	case "check":
		_, err = users.BeginCheck(ctx, userID, chatID)
		b.sendMessage(chatID, msgAwaitingPhoto)

	case "cancel":
		_, err = users.Cancel(ctx, userID, chatID)
		b.sendMessage(chatID, msgCancelled)

	case "alpha":
		alpha, perr := parseAlpha(msg.CommandArguments())
		if perr != nil {
			b.sendMessage(chatID, msgAlphaUsage)
			return
		}
		if _, err = users.SetAlpha(ctx, userID, chatID, alpha); err == nil {
			b.sendMessage(chatID, fmt.Sprintf(msgAlphaSet, alpha))
		}

	default:
		b.sendMessage(chatID, msgUnknownCommand)
	}

	if err != nil {
		b.log.WithError(err).WithField("command", msg.Command()).Error("failed to update user")
	}
}

// handleImage прогоняет изображение через конвейер и отвечает картинкой с подписью
func (b *Bot) handleImage(ctx context.Context, msg *tgbotapi.Message, fileID string) {
	users := b.app.UserService
	userID, chatID := msg.From.ID, msg.Chat.ID
	log := b.log.WithFields(logrus.Fields{"user_id": userID, "chat_id": chatID})

	// Устанавливаем состояние "обработка"
	user, err := users.StartProcessing(ctx, userID, chatID)
	if errors.Is(err, app.ErrBusy) {
		b.sendMessage(chatID, msgBusy)
		return
	}
	if err != nil {
		log.WithError(err).Error("failed to update user")
		return
	}
	// Возвращаем в главное меню при любом исходе
	defer func() {
		if _, err := users.Cancel(ctx, userID, chatID); err != nil {
			log.WithError(err).Error("failed to update user")
		}
	}()

	b.sendMessage(chatID, msgProcessing)

	runCtx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	imageData, err := b.downloadFile(runCtx, fileID)
	if err != nil {
		log.WithError(err).Error("failed to download image")
		b.sendMessage(chatID, msgInferenceError)
		return
	}

	alpha := user.Alpha
	pred, err := b.app.PredictionService.Predict(runCtx, entity.PredictionRequest{
		ImageData: imageData,
		Filename:  fileID,
		Alpha:     &alpha,
	})
	if err != nil {
		b.sendMessage(chatID, failureMessage(err))
		return
	}

	desc, err := b.app.Describer.Describe(runCtx, pred)
	if err != nil {
		log.WithError(err).Warn("failed to describe prediction")
		desc = &entity.Description{Text: pred.PredictedClass}
	}

	photo := tgbotapi.NewPhoto(chatID, tgbotapi.FileBytes{Name: "explanation.png", Bytes: pred.ExplanationPNG})
	photo.Caption = desc.Text
	photo.ReplyToMessageID = msg.MessageID
	if _, err := b.api.Send(photo); err != nil {
		log.WithError(err).Error("failed to send photo")
	}
}

// downloadFile скачивает файл из Telegram
func (b *Bot) downloadFile(ctx context.Context, fileID string) ([]byte, error) {
	file, err := b.api.GetFile(tgbotapi.FileConfig{FileID: fileID})
	if err != nil {
		return nil, fmt.Errorf("get file: %w", err)
	}
	if b.maxUpload > 0 && int64(file.FileSize) > b.maxUpload {
		return nil, fmt.Errorf("file is too large: %d bytes", file.FileSize)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, file.Link(b.api.Token), nil)
	if err != nil {
		return nil, fmt.Errorf("download file: %w", err)
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download file: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download file: status %s", resp.Status)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}

	return data, nil
}

// sendMessage отправляет текстовое сообщение
func (b *Bot) sendMessage(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := b.api.Send(msg); err != nil {
		b.log.WithError(err).Error("failed to send message")
	}
}

// imageFileID выбирает фото с максимальным разрешением или документ-изображение.
func imageFileID(msg *tgbotapi.Message) (string, bool) {
	if len(msg.Photo) > 0 {
		return msg.Photo[len(msg.Photo)-1].FileID, true
	}
	if msg.Document != nil && strings.HasPrefix(msg.Document.MimeType, "image/") {
		return msg.Document.FileID, true
	}
	return "", false
}

func parseAlpha(arg string) (float64, error) {
	arg = strings.ReplaceAll(strings.TrimSpace(arg), ",", ".")
	if arg == "" {
		return 0, errors.New("alpha is empty")
	}
	alpha, err := strconv.ParseFloat(arg, 64)
	if err != nil {
		return 0, err
	}
	if alpha < 0 || alpha > 1 {
		return 0, fmt.Errorf("alpha %v is out of range [0, 1]", alpha)
	}
	return alpha, nil
}

func failureMessage(err error) string {
	if entity.KindOf(err) == entity.FailureDecode {
		return msgDecodeError
	}
	return msgInferenceError
}
