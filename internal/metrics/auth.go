package metrics

import "time"

// Outcome labels for RegistrationsTotal and LoginsTotal.
const (
	ResultSuccess     = "success"
	ResultInvalid     = "invalid"
	ResultDuplicate   = "duplicate"
	ResultBadPassword = "bad_credentials"
	ResultRateLimited = "rate_limited"
	ResultError       = "error"
)

// TokenVerified records a token verification outcome.
func TokenVerified(result string) {
	TokenVerificationsTotal.WithLabelValues(result).Inc()
}

// RegistrationRecorded records a registration attempt.
func RegistrationRecorded(result string) {
	RegistrationsTotal.WithLabelValues(result).Inc()
}

// LoginRecorded records a login attempt.
func LoginRecorded(result string) {
	LoginsTotal.WithLabelValues(result).Inc()
}

// PasswordHashObserved records how long a bcrypt operation took.
func PasswordHashObserved(op string, d time.Duration) {
	PasswordHashDuration.WithLabelValues(op).Observe(d.Seconds())
}
