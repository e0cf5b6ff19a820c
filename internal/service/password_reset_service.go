package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"autoshop-api/internal/mailer"
	"autoshop-api/internal/model"
	"autoshop-api/pkg/apierror"
)

// ResetRequestedMessage is returned for every forgot-password call so the
// response never reveals whether the account exists.
const ResetRequestedMessage = "If an account with that email exists, a password reset link has been sent"

const mailTimeout = 30 * time.Second

type resetTokenStore interface {
	Replace(ctx context.Context, userID uint, token string, expiresAt time.Time) (model.PasswordResetToken, error)
	FindUnused(ctx context.Context, token string) (model.PasswordResetToken, error)
	Delete(ctx context.Context, id uint) error
	Consume(ctx context.Context, record model.PasswordResetToken, passwordHash string) error
}

type emailLookup interface {
	FindByEmail(ctx context.Context, email string) (model.User, error)
}

type ResetOptions struct {
	FrontendURL string
	TTL         time.Duration
	// ExposeURL returns the reset link in the response; never set in production.
	ExposeURL bool
}

// ResetRequest is what a forgot-password call hands back. UserID is zero when
// no account matched and is only meant for auditing.
type ResetRequest struct {
	Message  string
	ResetURL string
	UserID   uint
}

type PasswordResetService struct {
	users  emailLookup
	resets resetTokenStore
	auth   *AuthService
	mailer mailer.Mailer
	opts   ResetOptions
	now    func() time.Time
	wg     sync.WaitGroup

	// stored is closed once the most recent dispatch has written its token.
	// Each dispatch waits on its predecessor so writes land in request order.
	mu     sync.Mutex
	stored chan struct{}
}

func NewPasswordResetService(users emailLookup, resets resetTokenStore, auth *AuthService, m mailer.Mailer, opts ResetOptions) *PasswordResetService {
	if opts.TTL <= 0 {
		opts.TTL = time.Hour
	}
	opts.FrontendURL = strings.TrimRight(opts.FrontendURL, "/")

	return &PasswordResetService{
		users:  users,
		resets: resets,
		auth:   auth,
		mailer: m,
		opts:   opts,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (s *PasswordResetService) RequestReset(ctx context.Context, email string) (ResetRequest, error) {
	result := ResetRequest{Message: ResetRequestedMessage}

	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return result, nil
	}

	user, err := s.users.FindByEmail(ctx, email)
	if errors.Is(err, model.ErrUserNotFound) {
		return result, nil
	}
	if err != nil {
		return ResetRequest{}, err
	}

	token, err := RandomHex(32)
	if err != nil {
		return ResetRequest{}, err
	}

	link := s.opts.FrontendURL + "/reset-password?token=" + url.QueryEscape(token)
	s.dispatch(user, token, link)

	result.UserID = user.ID
	if s.opts.ExposeURL {
		result.ResetURL = link
	}
	return result, nil
}

// dispatch stores the token and sends the email in the background, so a known
// address answers as fast as an unknown one.
func (s *PasswordResetService) dispatch(user model.User, token string, link string) {
	expiresAt := s.now().Add(s.opts.TTL)
	msg := mailer.Message{
		To:      user.Email,
		Subject: "Password reset",
		Body: fmt.Sprintf("Hello %s,\n\nUse the link below to choose a new password. It expires in %s.\n\n%s\n\nIf you did not ask for this, ignore this email.\n",
			user.Username, s.opts.TTL, link),
	}

	s.mu.Lock()
	prev := s.stored
	stored := make(chan struct{})
	s.stored = stored
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), mailTimeout)
		defer cancel()

		if prev != nil {
			<-prev
		}
		_, err := s.resets.Replace(ctx, user.ID, token, expiresAt)
		close(stored)
		if err != nil {
			slog.Error("store password reset token", "user_id", user.ID, "error", err)
			return
		}

		d := s.mailer.Send(ctx, msg)
		if d.Outcome == mailer.Failed {
			slog.Warn("password reset email failed", "user_id", user.ID, "error", d.Err)
			return
		}
		slog.Info("password reset email dispatched", "user_id", user.ID, "outcome", d.Outcome.String())
	}()
}

// Wait blocks until every pending token write and reset email has finished.
func (s *PasswordResetService) Wait() {
	s.wg.Wait()
}

// ResetPassword consumes a reset token and returns the owning user id.
func (s *PasswordResetService) ResetPassword(ctx context.Context, token string, newPassword string) (uint, error) {
	token = strings.TrimSpace(token)
	if token == "" || newPassword == "" {
		return 0, apierror.BadRequest("token and newPassword are required", nil)
	}
	if err := ValidatePassword(newPassword, "newPassword"); err != nil {
		return 0, err
	}

	record, err := s.resets.FindUnused(ctx, token)
	if errors.Is(err, model.ErrTokenNotFound) {
		return 0, invalidResetToken()
	}
	if err != nil {
		return 0, err
	}

	if !s.now().Before(record.ExpiresAt) {
		if err := s.resets.Delete(ctx, record.ID); err != nil {
			return 0, err
		}
		return 0, invalidResetToken()
	}

	hash, err := s.auth.HashPassword(newPassword)
	if err != nil {
		return 0, err
	}

	if err := s.resets.Consume(ctx, record, hash); err != nil {
		if errors.Is(err, model.ErrTokenNotFound) || errors.Is(err, model.ErrUserNotFound) {
			return 0, invalidResetToken()
		}
		return 0, err
	}

	if err := s.auth.DeleteAllUserTokens(ctx, record.UserID); err != nil {
		return 0, err
	}

	return record.UserID, nil
}

func invalidResetToken() error {
	return apierror.BadRequest("Invalid or expired reset token", nil)
}
