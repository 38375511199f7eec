package session

import "errors"

var (
	// ErrValidation marks a failure detected locally before any request was sent.
	ErrValidation = errors.New("validation failed")
	// ErrNoPendingVerification is returned by VerifyOTP and ResendOTP when no
	// OTP challenge is outstanding.
	ErrNoPendingVerification = errors.New("no pending verification")
	// ErrRequestInFlight rejects a login, verification or restore started
	// while another one has not finished.
	ErrRequestInFlight = errors.New("request already in flight")
	// ErrSuperseded is returned when the session changed (cancel, logout,
	// another login) while a request was outstanding; its result is dropped.
	ErrSuperseded = errors.New("session changed while request was in flight")
)

// Messages shown when the server supplies none.
const (
	MsgLoginFailed          = "Login failed"
	MsgVerificationFailed   = "Verification failed"
	MsgResendFailed         = "Failed to resend code"
	MsgPasswordChangeFailed = "Password change failed"
	MsgRequestFailed        = "Request failed"
	MsgUnexpectedResponse   = "Unexpected response from server"
	MsgNoPending            = "No pending verification. Please login again."
	MsgMissingCredentials   = "Please enter username and password"
	MsgIncompleteCode       = "Please enter the complete 6-digit code"
	MsgInFlight             = "Please wait for the current request to finish"
	MsgSuperseded           = "Session changed, please try again"
)

// OpError is returned by every Store operation that fails. Error returns the
// message meant for the user; the cause is available through errors.Is/As.
type OpError struct {
	Op      string
	Message string
	Err     error
}

func (e *OpError) Error() string {
	return e.Message
}

func (e *OpError) Unwrap() error {
	return e.Err
}

func opError(op, msg string, err error) *OpError {
	return &OpError{Op: op, Message: msg, Err: err}
}
