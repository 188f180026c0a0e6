package services

import (
	"errors"
	"strings"

	"shaka-fleet/backend/app/apperr"
	"shaka-fleet/backend/app/models"
	"shaka-fleet/backend/app/repo"

	"golang.org/x/crypto/bcrypt"
)

var ErrInvalidCredentials = errors.New("invalid credentials")

type UserService struct{ users *repo.UserRepository }

func NewUserService(users *repo.UserRepository) *UserService { return &UserService{users: users} }

// EnsureAdmin seeds the first admin account when it does not exist yet.
func (s *UserService) EnsureAdmin(username, password string) error {
	count, err := s.users.CountByUsername(username)
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}
	return s.CreateUser(username, password, models.RoleAdmin)
}

func (s *UserService) CreateUser(username, password, role string) error {
	username = strings.TrimSpace(username)
	if username == "" {
		return apperr.Validation("username", "required")
	}
	if len(password) < 6 {
		return apperr.Validation("password", "at least 6 characters")
	}
	switch role {
	case "":
		role = models.RoleOperator
	case models.RoleAdmin, models.RoleOperator:
	default:
		return apperr.Validation("role", "must be admin or operator")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	return s.users.Create(&models.User{Username: username, PasswordHash: string(hash), Role: role})
}

func (s *UserService) ValidateCredentials(username, password string) (*models.User, error) {
	u, err := s.users.FindByUsername(username)
	if err != nil {
		return nil, ErrInvalidCredentials
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return nil, ErrInvalidCredentials
	}
	return u, nil
}

func (s *UserService) List() ([]models.User, error) { return s.users.List() }
