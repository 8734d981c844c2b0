package app

import (
	"context"
	"errors"

	"defect-vision/internal/domain/entity"
	"defect-vision/internal/domain/port"
)

// ErrBusy у пользователя уже идёт обработка изображения
var ErrBusy = errors.New("previous image is still being processed")

type UserService struct {
	repo port.UserRepository
}

func NewUserService(repo port.UserRepository) *UserService {
	return &UserService{repo: repo}
}

func (s *UserService) Get(ctx context.Context, userID, chatID int64) (*entity.User, error) {
	return s.repo.Get(ctx, userID, chatID)
}

func (s *UserService) SetState(ctx context.Context, userID, chatID int64, state entity.UserState) (*entity.User, error) {
	return s.repo.Update(ctx, userID, chatID, func(u *entity.User) error {
		u.SetState(state)
		return nil
	})
}

// BeginCheck ждём фото поверхности.
func (s *UserService) BeginCheck(ctx context.Context, userID, chatID int64) (*entity.User, error) {
	return s.SetState(ctx, userID, chatID, entity.StateAwaitingPhoto)
}

// StartProcessing помечает, что фото пользователя в работе. Второе фото
// до окончания обработки первого получает ErrBusy.
func (s *UserService) StartProcessing(ctx context.Context, userID, chatID int64) (*entity.User, error) {
	return s.repo.Update(ctx, userID, chatID, func(u *entity.User) error {
		if u.State == entity.StateProcessing {
			return ErrBusy
		}
		u.SetState(entity.StateProcessing)
		return nil
	})
}

func (s *UserService) Cancel(ctx context.Context, userID, chatID int64) (*entity.User, error) {
	return s.SetState(ctx, userID, chatID, entity.StateMainMenu)
}

// SetAlpha меняет прозрачность тепловой карты пользователя, состояние не трогает.
func (s *UserService) SetAlpha(ctx context.Context, userID, chatID int64, alpha float64) (*entity.User, error) {
	return s.repo.Update(ctx, userID, chatID, func(u *entity.User) error {
		return u.SetAlpha(alpha)
	})
}
