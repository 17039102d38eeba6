package jobs

import (
	"fmt"
	"net/http"
	"regexp"
)

// uuidRegex matches UUID v4 format: 8-4-4-4-12 lowercase hex with dashes.
var uuidRegex = regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)

// ValidateUserID rejects anything that is not a lowercase UUID.
func ValidateUserID(id string) error {
	if !uuidRegex.MatchString(id) {
		return fmt.Errorf("invalid userId: must be a UUID (e.g., a1b2c3d4-e5f6-7890-abcd-ef1234567890)")
	}
	return nil
}

// ValidateBookID rejects anything that is not a lowercase UUID.
func ValidateBookID(id string) error {
	if !uuidRegex.MatchString(id) {
		return fmt.Errorf("invalid bookId: must be a UUID")
	}
	return nil
}

// UserIDFromRequest extracts and validates the caller's userId. GET and
// DELETE requests carry it as a query parameter; POST bodies carry their
// own copy, validated by the handler after decoding.
func UserIDFromRequest(r *http.Request) (string, error) {
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		return "", fmt.Errorf("userId is required")
	}
	if err := ValidateUserID(userID); err != nil {
		return "", err
	}
	return userID, nil
}
