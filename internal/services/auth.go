package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	qerrors "quiz-session-backend/internal/errors"
	"quiz-session-backend/internal/models"
)

const tokenTTL = 24 * time.Hour

var errInvalidCredentials = qerrors.AccessDeniedError{Reason: "invalid credentials"}

type AuthService struct {
	db        *gorm.DB
	jwtSecret []byte
}

func NewAuthService(db *gorm.DB, jwtSecret string) *AuthService {
	return &AuthService{db: db, jwtSecret: []byte(jwtSecret)}
}

// HostSession is handed to a host after register or login.
type HostSession struct {
	Token     string
	ExpiresAt time.Time
	Host      models.Host
}

type hostClaims struct {
	HostID uint `json:"host_id"`
	jwt.RegisteredClaims
}

func (s *AuthService) Register(ctx context.Context, username, password string) (*HostSession, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, qerrors.ValidationError{Field: "username", Message: "is required"}
	}
	if len(password) < 6 {
		return nil, qerrors.ValidationError{Field: "password", Message: "must be at least 6 characters"}
	}

	db := s.db.WithContext(ctx)
	var existing models.Host
	err := db.Where("username = ?", username).First(&existing).Error
	if err == nil {
		return nil, qerrors.ValidationError{Field: "username", Message: "already taken"}
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, qerrors.DatabaseError{Operation: "register", Err: err}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	host := models.Host{
		Username:     username,
		PasswordHash: string(hash),
	}
	if err := db.Create(&host).Error; err != nil {
		if isDuplicateKey(err) {
			return nil, qerrors.ValidationError{Field: "username", Message: "already taken"}
		}
		return nil, qerrors.DatabaseError{Operation: "register", Err: err}
	}

	return s.issue(host)
}

// Login checks the password and issues a fresh token. Unknown users and wrong
// passwords fail the same way.
func (s *AuthService) Login(ctx context.Context, username, password string) (*HostSession, error) {
	var host models.Host
	err := s.db.WithContext(ctx).Where("username = ?", strings.TrimSpace(username)).First(&host).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errInvalidCredentials
	}
	if err != nil {
		return nil, qerrors.DatabaseError{Operation: "login", Err: err}
	}

	if err := bcrypt.CompareHashAndPassword([]byte(host.PasswordHash), []byte(password)); err != nil {
		return nil, errInvalidCredentials
	}
	return s.issue(host)
}

// GetHost returns the host account behind a validated token.
func (s *AuthService) GetHost(ctx context.Context, hostID uint) (*models.Host, error) {
	var host models.Host
	err := s.db.WithContext(ctx).First(&host, hostID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, qerrors.NotFoundError{Resource: "host"}
	}
	if err != nil {
		return nil, qerrors.DatabaseError{Operation: "get_host", Err: err}
	}
	return &host, nil
}

func (s *AuthService) issue(host models.Host) (*HostSession, error) {
	token, expiresAt, err := s.signToken(host.ID, time.Now())
	if err != nil {
		return nil, err
	}
	return &HostSession{Token: token, ExpiresAt: expiresAt, Host: host}, nil
}

func (s *AuthService) signToken(hostID uint, now time.Time) (string, time.Time, error) {
	expiresAt := now.Add(tokenTTL)
	claims := hostClaims{
		HostID: hostID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.jwtSecret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

func (s *AuthService) ValidateToken(tokenString string) (uint, error) {
	var claims hostClaims
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return s.jwtSecret, nil
	})
	if err != nil || !token.Valid {
		return 0, qerrors.AccessDeniedError{Reason: "invalid token"}
	}
	if claims.HostID == 0 {
		return 0, qerrors.AccessDeniedError{Reason: "invalid host_id in token"}
	}
	return claims.HostID, nil
}

func isDuplicateKey(err error) bool {
	return errors.Is(err, gorm.ErrDuplicatedKey) ||
		strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "duplicate key value")
}
