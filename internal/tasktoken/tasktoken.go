// Package tasktoken issues and validates the signed credential an agent
// presents when acting under a delegation. The token binds agent, task,
// and delegator together and expires exactly when the task does, so a
// leaked token carries no authority past the delegation's own bound.
package tasktoken

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"delego/internal/delegation/models"
	"delego/pkg/domain"
	dErrors "delego/pkg/domain-errors"
)

// Claims carried by a task token.
type Claims struct {
	TaskID      string `json:"task_id"`
	AgentID     string `json:"agent_id"`
	PrincipalID string `json:"principal_id"`
	jwt.RegisteredClaims
}

// Service signs and validates task tokens with a shared HMAC key.
type Service struct {
	signingKey []byte
	issuer     string
	audience   string
	clock      func() time.Time
}

// Option configures the Service.
type Option func(*Service)

// WithClock sets the time source for testability.
func WithClock(clock func() time.Time) Option {
	return func(s *Service) {
		if clock != nil {
			s.clock = clock
		}
	}
}

func New(signingKey string, issuer string, audience string, opts ...Option) *Service {
	s := &Service{
		signingKey: []byte(signingKey),
		issuer:     issuer,
		audience:   audience,
		clock:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Issue signs a token for the task's agent. The token expires with the
// task; a task without an expiry cannot be tokenized.
func (s *Service) Issue(task *models.Task) (string, error) {
	if task.ExpiresAt.IsZero() {
		return "", dErrors.New(dErrors.CodeInvalidInput, "task has no expiry")
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		TaskID:      task.ID.String(),
		AgentID:     task.Agent.String(),
		PrincipalID: task.Delegator.String(),
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(task.ExpiresAt),
			IssuedAt:  jwt.NewNumericDate(s.clock()),
			Issuer:    s.issuer,
			Audience:  []string{s.audience},
			Subject:   task.Agent.String(),
			ID:        uuid.NewString(),
		},
	})
	return token.SignedString(s.signingKey)
}

// Identity is the verified binding a token proves.
type Identity struct {
	AgentID     domain.AgentID
	TaskID      domain.TaskID
	PrincipalID domain.PrincipalID
}

// Validate parses and verifies a token, returning the identity it binds.
// Expired and malformed tokens both come back as CodeUnauthorized.
func (s *Service) Validate(tokenString string) (*Identity, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenUnverifiable
		}
		return s.signingKey, nil
	}, jwt.WithTimeFunc(s.clock), jwt.WithIssuer(s.issuer), jwt.WithAudience(s.audience))

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, dErrors.New(dErrors.CodeUnauthorized, "token has expired")
		}
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid token")
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid token claims")
	}

	taskID, err := domain.ParseTaskID(claims.TaskID)
	if err != nil {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid token claims")
	}

	return &Identity{
		AgentID:     domain.AgentID(claims.AgentID),
		TaskID:      taskID,
		PrincipalID: domain.PrincipalID(claims.PrincipalID),
	}, nil
}
