package accounts

import "time"

// ActivationKeyExpired checks if an activation key can no longer be used.
//
// The key is expired when it holds ActivatedSentinel or when now is at or
// beyond createdAt plus the activation window. The sentinel wins over the
// clock: a consumed key is invalid even inside the window.
func ActivationKeyExpired(key string, createdAt, now time.Time, activationDays int) bool {
	if key == ActivatedSentinel {
		return true
	}
	return !now.Before(createdAt.AddDate(0, 0, activationDays))
}

// ConfirmationKeyExpired checks if an email confirmation key can no longer
// be used. A missing issuance timestamp means no change is in flight and
// counts as expired.
func ConfirmationKeyExpired(issuedAt *time.Time, now time.Time, confirmationDays int) bool {
	if issuedAt == nil {
		return true
	}
	return !now.Before(issuedAt.AddDate(0, 0, confirmationDays))
}
