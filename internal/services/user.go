package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"skipline-backend/internal/apperr"
	"skipline-backend/internal/contact"
	"skipline-backend/internal/models"
	"skipline-backend/internal/qrcode"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const notificationHistoryLimit = 50

// UserService handles accounts, tokens and the caller's own profile
type UserService struct {
	profiles  ProfileStore
	history   NotificationHistory
	jwtSecret string
	tokenTTL  time.Duration
	now       func() time.Time
}

// NewUserService creates a new user service
func NewUserService(profiles ProfileStore, history NotificationHistory, jwtSecret string, tokenTTL time.Duration) *UserService {
	return &UserService{
		profiles:  profiles,
		history:   history,
		jwtSecret: jwtSecret,
		tokenTTL:  tokenTTL,
		now:       time.Now,
	}
}

// RegisterRequest is the payload of a sign up
type RegisterRequest struct {
	Email    string      `json:"email" validate:"required,max=254"`
	Password string      `json:"password" validate:"required,min=6,max=72"`
	FullName string      `json:"full_name" validate:"required,max=120"`
	Role     models.Role `json:"role" validate:"required,oneof=customer business"`
	Phone    string      `json:"phone,omitempty"`
}

// LoginRequest is the payload of a sign in
type LoginRequest struct {
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// AuthResponse carries the session token and the signed in profile
type AuthResponse struct {
	Token   string          `json:"token"`
	Profile *models.Profile `json:"profile"`
}

// Register creates an account and signs it in
func (s *UserService) Register(ctx context.Context, req RegisterRequest) (*AuthResponse, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if !contact.IsValidEmail(email) {
		return nil, apperr.ErrInvalidEmail
	}
	if !req.Role.Valid() {
		return nil, apperr.ErrInvalidInput.WithMessage("role must be customer or business")
	}
	name := strings.TrimSpace(req.FullName)
	if name == "" {
		return nil, apperr.ErrMissingName
	}

	var phone string
	if req.Phone != "" {
		normalized, err := contact.Normalize(contact.MethodPhone, req.Phone)
		if err != nil {
			return nil, err
		}
		phone = normalized
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	profile := &models.Profile{
		ID:                 uuid.New().String(),
		Email:              email,
		FullName:           name,
		Role:               req.Role,
		Phone:              phone,
		EmailNotifications: true,
		SMSNotifications:   true,
		PasswordHash:       string(hash),
		CreatedAt:          s.now(),
	}
	if err := s.profiles.Create(ctx, profile); err != nil {
		return nil, err
	}

	token, err := s.GenerateJWT(profile)
	if err != nil {
		return nil, err
	}
	return &AuthResponse{Token: token, Profile: profile}, nil
}

// Login checks credentials and issues a token
func (s *UserService) Login(ctx context.Context, req LoginRequest) (*AuthResponse, error) {
	profile, err := s.profiles.GetByEmail(ctx, strings.TrimSpace(req.Email))
	if errors.Is(err, apperr.ErrProfileNotFound) {
		return nil, apperr.ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if profile.PasswordHash == "" ||
		bcrypt.CompareHashAndPassword([]byte(profile.PasswordHash), []byte(req.Password)) != nil {
		return nil, apperr.ErrInvalidCredentials
	}

	token, err := s.GenerateJWT(profile)
	if err != nil {
		return nil, err
	}
	return &AuthResponse{Token: token, Profile: profile}, nil
}

// GenerateJWT generates a JWT token for a profile
func (s *UserService) GenerateJWT(p *models.Profile) (string, error) {
	now := s.now()
	claims := jwt.MapClaims{
		"user_id": p.ID,
		"role":    string(p.Role),
		"exp":     now.Add(s.tokenTTL).Unix(),
		"iat":     now.Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString([]byte(s.jwtSecret))
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}

	return tokenString, nil
}

// ValidateJWT validates a JWT token and returns the principal it carries
func (s *UserService) ValidateJWT(tokenString string) (models.Principal, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(s.jwtSecret), nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil {
		return models.Principal{}, apperr.ErrInvalidToken.Wrap(err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return models.Principal{}, apperr.ErrInvalidToken
	}

	userID, _ := claims["user_id"].(string)
	role, _ := claims["role"].(string)
	if userID == "" || !models.Role(role).Valid() {
		return models.Principal{}, apperr.ErrInvalidToken.WithMessage("token is missing user_id or role")
	}

	return models.Principal{UserID: userID, Role: models.Role(role)}, nil
}

// Me returns the caller's profile, minting its scannable code on first visit
func (s *UserService) Me(ctx context.Context, principal models.Principal) (*models.Profile, error) {
	if !principal.Authenticated() {
		return nil, apperr.ErrUnauthorized
	}
	profile, err := s.profiles.GetByID(ctx, principal.UserID)
	if err != nil {
		return nil, err
	}
	if profile.Code != "" {
		return profile, nil
	}

	code, err := s.generateUniqueCode(ctx, profile.ID)
	if err != nil {
		return nil, err
	}
	// A concurrent visit may have stored a code first; keep that one
	profile.Code, err = s.profiles.UpdateCode(ctx, profile.ID, code)
	if err != nil {
		return nil, fmt.Errorf("failed to store profile code: %w", err)
	}
	return profile, nil
}

func (s *UserService) generateUniqueCode(ctx context.Context, profileID string) (string, error) {
	now := s.now()
	for i := 0; i < qrcode.MaxAttempts; i++ {
		code := qrcode.NewProfileCode(profileID, now.Add(time.Duration(i)*time.Millisecond))
		exists, err := s.profiles.CodeExists(ctx, code)
		if err != nil {
			return "", fmt.Errorf("failed to check code existence: %w", err)
		}
		if !exists {
			return code, nil
		}
	}
	return "", fmt.Errorf("failed to generate unique code after %d attempts", qrcode.MaxAttempts)
}

// PreferencesRequest toggles the notification channels
type PreferencesRequest struct {
	EmailNotifications *bool `json:"email_notifications" validate:"required"`
	SMSNotifications   *bool `json:"sms_notifications" validate:"required"`
}

// UpdatePreferences stores the caller's notification preferences
func (s *UserService) UpdatePreferences(ctx context.Context, principal models.Principal, req PreferencesRequest) (*models.Profile, error) {
	if !principal.Authenticated() {
		return nil, apperr.ErrUnauthorized
	}
	if req.EmailNotifications == nil || req.SMSNotifications == nil {
		return nil, apperr.ErrInvalidInput.WithMessage("both preferences are required")
	}
	if err := s.profiles.UpdatePreferences(ctx, principal.UserID, *req.EmailNotifications, *req.SMSNotifications); err != nil {
		return nil, err
	}
	return s.profiles.GetByID(ctx, principal.UserID)
}

// UpdatePushToken registers the device token used for push notifications.
// An empty token unregisters the device.
func (s *UserService) UpdatePushToken(ctx context.Context, principal models.Principal, pushToken string) error {
	if !principal.Authenticated() {
		return apperr.ErrUnauthorized
	}
	pushToken = strings.TrimSpace(pushToken)
	if pushToken == "" {
		return s.profiles.UpdatePushToken(ctx, principal.UserID, nil)
	}
	return s.profiles.UpdatePushToken(ctx, principal.UserID, &pushToken)
}

// Notifications returns the most recent delivery attempts to the caller
func (s *UserService) Notifications(ctx context.Context, principal models.Principal) ([]*models.NotificationLog, error) {
	if !principal.Authenticated() {
		return nil, apperr.ErrUnauthorized
	}
	logs, err := s.history.ListByUser(ctx, principal.UserID, notificationHistoryLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}
	if logs == nil {
		logs = []*models.NotificationLog{}
	}
	return logs, nil
}
