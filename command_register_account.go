package auth

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

// RegisterAccountMessage asks for a new marketplace account.
type RegisterAccountMessage struct {
	Request RegistrationRequest
	// Result is filled in by the handler once an identity exists.
	Result *RegistrationResult
}

func (e RegisterAccountMessage) Type() string { return "account.register" }

// RegisterAccountHandler runs account registration as a command.
type RegisterAccountHandler struct {
	provisioner *Provisioner
	timeout     time.Duration
}

// NewRegisterAccountHandler returns a handler that registers through provisioner.
func NewRegisterAccountHandler(provisioner *Provisioner) *RegisterAccountHandler {
	return &RegisterAccountHandler{
		provisioner: provisioner,
		timeout:     time.Second * 10,
	}
}

func (h *RegisterAccountHandler) Execute(ctx context.Context, event *RegisterAccountMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during account registration",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *RegisterAccountHandler) execute(ctx context.Context, event *RegisterAccountMessage) error {
	if event == nil {
		return validationError("request", "is required")
	}

	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	result, err := h.provisioner.Register(ctx, event.Request)
	event.Result = result
	return err
}
