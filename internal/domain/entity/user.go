package entity

import "fmt"

// UserState состояние пользователя в диалоге
type UserState string

const (
	StateMainMenu      UserState = "main_menu"      // В главном меню
	StateAwaitingPhoto UserState = "awaiting_photo" // Ожидание фото поверхности
	StateProcessing    UserState = "processing"     // Обработка изображения
)

// DefaultAlpha прозрачность тепловой карты по умолчанию
const DefaultAlpha = 0.4

// User представляет пользователя бота
type User struct {
	ID     int64     // Telegram User ID
	ChatID int64     // Telegram Chat ID
	State  UserState // Текущее состояние пользователя
	Alpha  float64   // Прозрачность тепловой карты для этого пользователя
}

// NewUser создаёт нового пользователя с начальным состоянием
func NewUser(userID, chatID int64) *User {
	return &User{
		ID:     userID,
		ChatID: chatID,
		State:  StateMainMenu,
		Alpha:  DefaultAlpha,
	}
}

// SetState обновляет состояние пользователя
func (u *User) SetState(state UserState) {
	u.State = state
}

// SetAlpha задаёт прозрачность наложения, допустимы значения из [0, 1]
func (u *User) SetAlpha(alpha float64) error {
	if alpha < 0 || alpha > 1 {
		return fmt.Errorf("alpha %.2f is out of range [0, 1]", alpha)
	}
	u.Alpha = alpha
	return nil
}
