package user

import (
	"context"

	"github.com/nuruedu/nuru/core"
	"github.com/nuruedu/nuru/core/ratelimit"
)

type serviceMock struct {
	service
}

// NewServiceMock returns a Service whose mail dispatches run synchronously.
func NewServiceMock(repo Repository, mailSvc core.EmailService) Service {
	return &serviceMock{
		service: service{
			repo:    repo,
			mailSvc: mailSvc,
			logger:  nopLogger{},
			conf:    core.Conf,
			window: ratelimit.Window{
				Max:  core.Conf.VerificationMaxAttempts,
				Span: core.Conf.VerificationAttemptWindow,
			},
		},
	}
}

func (svc *serviceMock) RequestPasswordReset(ctx context.Context, email string) error {
	usr, err := svc.GetByEmail(ctx, email)
	if err != nil {
		return err
	}
	// run synchronously
	svc.sendPasswordResetMail(usr)
	return nil
}

type nopLogger struct{}

func (nopLogger) Enable(enabled bool)                   {}
func (nopLogger) Debug(msg string, args ...interface{}) {}
func (nopLogger) Info(msg string, args ...interface{})  {}
func (nopLogger) Warn(msg string, args ...interface{})  {}
func (nopLogger) Error(msg string, args ...interface{}) {}
func (nopLogger) Fatal(msg string, args ...interface{}) {}
