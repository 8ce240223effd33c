package services

import (
	"errors"
	"time"

	"coachmeet/internal/core/domain"
	"coachmeet/pkg/validation"

	"github.com/golang-jwt/jwt/v5"
)

// MeetingClaims is the payload of a meeting access token issued by the
// marketplace backend.
type MeetingClaims struct {
	MeetingID     domain.MeetingID     `json:"meeting_id"`
	ParticipantID domain.ParticipantID `json:"participant_id"`
	Name          string               `json:"name"`
	IsHost        bool                 `json:"is_host"`
	jwt.RegisteredClaims
}

// TokenService validates meeting access tokens before a session is allowed
// to join.
type TokenService interface {
	ValidateToken(tokenString string) (*MeetingClaims, error)
	ValidateForMeeting(tokenString string, meetingID domain.MeetingID) (*MeetingClaims, error)
}

type tokenService struct {
	jwtSecret []byte
	leeway    time.Duration
}

func NewTokenService(jwtSecret string, leeway time.Duration) TokenService {
	return &tokenService{
		jwtSecret: []byte(jwtSecret),
		leeway:    leeway,
	}
}

func (s *tokenService) ValidateToken(tokenString string) (*MeetingClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &MeetingClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, domain.ErrInvalidToken
		}
		return s.jwtSecret, nil
	}, jwt.WithLeeway(s.leeway))

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, domain.ErrExpiredToken
		}
		return nil, domain.ErrInvalidToken
	}

	claims, ok := token.Claims.(*MeetingClaims)
	if !ok || !token.Valid {
		return nil, domain.ErrInvalidToken
	}
	if err := validation.ValidateMeetingID(string(claims.MeetingID)); err != nil {
		return nil, domain.ErrInvalidToken
	}
	if err := validation.ValidateParticipantID(string(claims.ParticipantID)); err != nil {
		return nil, domain.ErrInvalidToken
	}
	return claims, nil
}

func (s *tokenService) ValidateForMeeting(tokenString string, meetingID domain.MeetingID) (*MeetingClaims, error) {
	claims, err := s.ValidateToken(tokenString)
	if err != nil {
		return nil, err
	}
	if claims.MeetingID != meetingID {
		return nil, domain.ErrTokenMeetingMismatch
	}
	return claims, nil
}
