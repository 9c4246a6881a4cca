package services

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"

	"github.com/javajoker/revshare-backend/internal/config"
	"github.com/javajoker/revshare-backend/internal/models"
	"github.com/javajoker/revshare-backend/internal/utils"
)

type AuthServiceTestSuite struct {
	serviceSuite
	auth *AuthService
}

func TestAuthServiceTestSuite(t *testing.T) {
	suite.Run(t, new(AuthServiceTestSuite))
}

func (s *AuthServiceTestSuite) SetupTest() {
	s.serviceSuite.SetupTest()
	s.auth = NewAuthService(s.db, &config.Config{JWT: config.JWTConfig{AccessTokenTTL: 2}})
}

func (s *AuthServiceTestSuite) register(username, email string) (*AuthResponse, error) {
	return s.auth.Register(s.ctx, &RegisterRequest{
		Username: username,
		Email:    email,
		Password: "Password123",
	})
}

func (s *AuthServiceTestSuite) TestRegisterIssuesToken() {
	resp, err := s.register("alice", "Alice@Example.com")
	s.Require().NoError(err)

	assert.Equal(s.T(), "alice@example.com", resp.User.Email)
	assert.Equal(s.T(), "Bearer", resp.TokenType)
	assert.Equal(s.T(), 7200, resp.ExpiresIn)

	claims, err := utils.ValidateJWT(resp.AccessToken)
	s.Require().NoError(err)
	assert.Equal(s.T(), resp.User.ID.String(), claims.UserID)
	assert.Equal(s.T(), "alice@example.com", claims.Email)
}

func (s *AuthServiceTestSuite) TestRegisterRejectsDuplicates() {
	_, err := s.register("alice", "alice@example.com")
	s.Require().NoError(err)

	_, err = s.register("alice2", "ALICE@example.com")
	assert.True(s.T(), utils.HasCode(err, utils.CodeDuplicate))

	_, err = s.register("alice", "other@example.com")
	assert.True(s.T(), utils.HasCode(err, utils.CodeDuplicate))
}

func (s *AuthServiceTestSuite) TestRegisterValidatesInput() {
	_, err := s.auth.Register(s.ctx, &RegisterRequest{
		Username: "a!",
		Email:    "not-an-email",
		Password: "weak",
	})
	assert.True(s.T(), utils.HasCode(err, utils.CodeValidationFailed))
}

func (s *AuthServiceTestSuite) TestLogin() {
	registered, err := s.register("alice", "alice@example.com")
	s.Require().NoError(err)

	resp, err := s.auth.Login(s.ctx, &LoginRequest{Email: "ALICE@example.com", Password: "Password123"})
	s.Require().NoError(err)
	assert.Equal(s.T(), registered.User.ID, resp.User.ID)
	assert.NotNil(s.T(), resp.User.LastLoginAt)

	_, err = s.auth.Login(s.ctx, &LoginRequest{Email: "alice@example.com", Password: "Password124"})
	assert.True(s.T(), errors.Is(err, ErrInvalidCredentials))

	_, err = s.auth.Login(s.ctx, &LoginRequest{Email: "nobody@example.com", Password: "Password123"})
	assert.True(s.T(), errors.Is(err, ErrInvalidCredentials))
}

func (s *AuthServiceTestSuite) TestSuspendedAccountCannotLogin() {
	registered, err := s.register("alice", "alice@example.com")
	s.Require().NoError(err)
	s.Require().NoError(s.db.Model(&models.User{}).
		Where("id = ?", registered.User.ID).
		Update("status", models.UserStatusSuspended).Error)

	_, err = s.auth.Login(s.ctx, &LoginRequest{Email: "alice@example.com", Password: "Password123"})
	assert.True(s.T(), errors.Is(err, ErrAccountSuspended))

	user, err := s.auth.GetUserByID(s.ctx, registered.User.ID)
	s.Require().NoError(err)
	assert.Equal(s.T(), models.UserStatusSuspended, user.Status)
}
