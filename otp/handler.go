package otp

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prsuperstar/superstar/session"
)

const (
	// DefaultCooldown is the wait between successful resends.
	DefaultCooldown = 60 * time.Second

	// MsgCodeSent is shown after a resend when the server sends no message.
	MsgCodeSent = "New code sent!"
)

// Verifier is the part of the session store the handler drives.
// *session.Store implements it.
type Verifier interface {
	VerifyOTP(ctx context.Context, code string) (*session.Identity, error)
	ResendOTP(ctx context.Context) (*session.ResendResult, error)
	CancelOTP(ctx context.Context)
}

// Result reports what an input event led to.
type Result struct {
	// Submitted is set when the event sent a verification request.
	Submitted bool
	// Identity is set when verification succeeded.
	Identity *session.Identity
	// Err carries the message to show when verification failed.
	Err error
}

// ResendResult reports the outcome of Resend.
type ResendResult struct {
	// Sent is false when the resend was suppressed (cooldown, in flight, closed).
	Sent        bool
	Message     string
	MaskedEmail string
}

// View is a copy of the handler state for rendering.
type View struct {
	Digits    [Length]string
	Focus     int
	Complete  bool
	Verifying bool
	Resending bool
	Cooldown  int
	CanResend bool
	Closed    bool
}

// Handler owns the code being entered for one pending challenge. Input
// events arriving while a verification is in flight or after Close are
// ignored, and results that arrive after Close are not applied.
type Handler struct {
	api      Verifier
	logger   *slog.Logger
	cooldown int
	ticks    TickSource
	onTick   func(int)

	mu        sync.Mutex
	code      Code
	focus     int
	verifying bool
	resending bool
	closed    bool
	countdown *Countdown
}

// Option configures a Handler.
type Option func(*Handler)

// WithCooldown overrides DefaultCooldown. It is rounded down to whole seconds.
func WithCooldown(d time.Duration) Option {
	return func(h *Handler) {
		h.cooldown = int(d / time.Second)
	}
}

// WithTickSource replaces the ticker that drives the resend countdown.
func WithTickSource(ts TickSource) Option {
	return func(h *Handler) {
		h.ticks = ts
	}
}

// WithTickHandler registers fn to run on every countdown tick.
func WithTickHandler(fn func(remaining int)) Option {
	return func(h *Handler) {
		h.onTick = fn
	}
}

// WithLogger sets the diagnostics logger.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Handler) {
		h.logger = logger
	}
}

// NewHandler returns a Handler with an empty code and focus on position 0.
func NewHandler(api Verifier, opts ...Option) *Handler {
	h := &Handler{
		api:      api,
		cooldown: int(DefaultCooldown / time.Second),
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.logger == nil {
		h.logger = slog.New(slog.DiscardHandler)
	}
	h.logger = h.logger.With("component", "otp")
	h.countdown = NewCountdown(h.ticks, h.onTick)
	return h
}

// View returns the current state.
func (h *Handler) View() View {
	h.mu.Lock()
	defer h.mu.Unlock()
	cooldown := h.countdown.Remaining()
	return View{
		Digits:    h.code.Digits(),
		Focus:     h.focus,
		Complete:  h.code.Complete(),
		Verifying: h.verifying,
		Resending: h.resending,
		Cooldown:  cooldown,
		CanResend: !h.closed && !h.resending && cooldown == 0,
		Closed:    h.closed,
	}
}

// busyLocked reports whether input must be ignored.
func (h *Handler) busyLocked() bool {
	return h.closed || h.verifying
}

// Input applies a change to position index. An empty value clears the
// position; a single digit fills it and advances focus; anything else is
// ignored. Filling the last empty position submits the code.
func (h *Handler) Input(ctx context.Context, index int, value string) Result {
	h.mu.Lock()
	if h.busyLocked() || index < 0 || index >= Length {
		h.mu.Unlock()
		return Result{}
	}
	if value == "" {
		h.code.Unset(index)
		h.mu.Unlock()
		return Result{}
	}
	if !singleDigit(value) {
		h.mu.Unlock()
		return Result{}
	}
	h.code.Set(index, value[0])
	if index < Length-1 {
		h.focus = index + 1
	}
	return h.submitLocked(ctx)
}

// Backspace clears position index, or moves focus back when it is already
// empty.
func (h *Handler) Backspace(index int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.busyLocked() || index < 0 || index >= Length {
		return
	}
	if h.code.Filled(index) {
		h.code.Unset(index)
		h.focus = index
		return
	}
	if index > 0 {
		h.focus = index - 1
	}
}

// Paste replaces the code with the digits found in text. Focus moves past
// the last pasted digit (or to the last position); six digits submit.
func (h *Handler) Paste(ctx context.Context, text string) Result {
	digits := ExtractDigits(text)

	h.mu.Lock()
	if h.busyLocked() || digits == "" {
		h.mu.Unlock()
		return Result{}
	}
	h.code.Reset()
	for i := 0; i < len(digits); i++ {
		h.code.Set(i, digits[i])
	}
	h.focus = min(len(digits), Length-1)
	if len(digits) != Length {
		h.mu.Unlock()
		return Result{}
	}
	return h.submitLocked(ctx)
}

// Submit verifies the code as entered. An incomplete code fails locally.
func (h *Handler) Submit(ctx context.Context) Result {
	h.mu.Lock()
	if h.busyLocked() {
		h.mu.Unlock()
		return Result{}
	}
	if !h.code.Complete() {
		h.mu.Unlock()
		return Result{Err: &session.OpError{Op: "verify_otp", Message: session.MsgIncompleteCode, Err: session.ErrValidation}}
	}
	return h.submitLocked(ctx)
}

// submitLocked sends the code when it is complete and no verification is in
// flight. It is entered with h.mu held and releases it.
func (h *Handler) submitLocked(ctx context.Context) Result {
	if !h.code.Complete() || h.verifying {
		h.mu.Unlock()
		return Result{}
	}
	code := h.code.String()
	h.verifying = true
	h.mu.Unlock()

	identity, err := h.api.VerifyOTP(ctx, code)

	h.mu.Lock()
	h.verifying = false
	res := Result{Submitted: true, Identity: identity, Err: err}
	if h.closed {
		h.mu.Unlock()
		return res
	}
	if err != nil {
		h.logger.Debug("verification failed", "error", err)
		h.code.Reset()
		h.focus = 0
		h.mu.Unlock()
		return res
	}
	h.mu.Unlock()
	h.countdown.Stop()
	return res
}

// Resend requests a new code. It does nothing while a resend is in flight,
// while the cooldown is running, or after Close. Success clears the code,
// refocuses position 0 and restarts the cooldown.
func (h *Handler) Resend(ctx context.Context) (ResendResult, error) {
	h.mu.Lock()
	if h.closed || h.resending || h.countdown.Remaining() > 0 {
		h.mu.Unlock()
		return ResendResult{}, nil
	}
	h.resending = true
	h.mu.Unlock()

	res, err := h.api.ResendOTP(ctx)

	h.mu.Lock()
	h.resending = false
	if err != nil {
		h.mu.Unlock()
		return ResendResult{}, err
	}
	out := ResendResult{Sent: true, Message: res.Message, MaskedEmail: res.MaskedEmail}
	if out.Message == "" {
		out.Message = MsgCodeSent
	}
	if h.closed {
		h.mu.Unlock()
		return out, nil
	}
	h.code.Reset()
	h.focus = 0
	h.mu.Unlock()

	// The countdown's tick handler may call back into View, so it is
	// started without h.mu held.
	h.countdown.Start(h.cooldown)
	h.mu.Lock()
	closed := h.closed
	h.mu.Unlock()
	if closed {
		h.countdown.Stop()
	}
	return out, nil
}

// Back abandons the challenge: local digits are cleared, the countdown is
// stopped and the store's pending challenge is cancelled.
func (h *Handler) Back(ctx context.Context) {
	h.mu.Lock()
	h.code.Reset()
	h.focus = 0
	h.mu.Unlock()
	h.Close()
	h.api.CancelOTP(ctx)
}

// Close stops the countdown and makes the handler ignore further events.
// It is idempotent.
func (h *Handler) Close() {
	h.mu.Lock()
	h.closed = true
	h.mu.Unlock()
	h.countdown.Stop()
}
