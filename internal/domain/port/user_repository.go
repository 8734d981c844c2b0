package port

import (
	"context"

	"defect-vision/internal/domain/entity"
)

// UserRepository интерфейс хранилища сессий пользователей бота
type UserRepository interface {
	// Get возвращает копию пользователя по ID, создаёт нового если не найден
	Get(ctx context.Context, userID, chatID int64) (*entity.User, error)

	// Update атомарно изменяет пользователя функцией fn и возвращает результат
	Update(ctx context.Context, userID, chatID int64, fn func(*entity.User) error) (*entity.User, error)
}
