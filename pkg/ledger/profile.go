package ledger

import (
	"context"
	"fmt"
	"strings"
	"time"
)

const dateOfBirthLayout = "2006-01-02"

var (
	allowedGenders   = []string{"male", "female", "non-binary", "prefer-not-to-say"}
	allowedUserTypes = []string{"find-room", "find-roommate", "both"}
)

// Profile holds the personal details stored on an account.
type Profile struct {
	UserID      UserID
	FullName    string
	Phone       string
	Gender      string
	Occupation  string
	Bio         string
	DateOfBirth string
	UserType    string
}

// NewProfile joins first and last name into the required full name and validates optional fields.
func NewProfile(userID UserID, firstName, lastName, phone, gender, occupation, bio, dateOfBirth, userType string) (Profile, error) {
	if userID.IsZero() {
		return Profile{}, fmt.Errorf("%w: empty value", ErrInvalidUserID)
	}
	fullName := strings.TrimSpace(strings.TrimSpace(firstName) + " " + strings.TrimSpace(lastName))
	if fullName == "" {
		return Profile{}, fmt.Errorf("%w: full name is required", ErrInvalidProfile)
	}
	profile := Profile{
		UserID:      userID,
		FullName:    fullName,
		Phone:       strings.TrimSpace(phone),
		Gender:      strings.ToLower(strings.TrimSpace(gender)),
		Occupation:  strings.TrimSpace(occupation),
		Bio:         strings.TrimSpace(bio),
		DateOfBirth: strings.TrimSpace(dateOfBirth),
		UserType:    strings.ToLower(strings.TrimSpace(userType)),
	}
	if profile.Gender != "" && !contains(allowedGenders, profile.Gender) {
		return Profile{}, fmt.Errorf("%w: unsupported gender %q", ErrInvalidProfile, gender)
	}
	if profile.UserType != "" && !contains(allowedUserTypes, profile.UserType) {
		return Profile{}, fmt.Errorf("%w: unsupported user type %q", ErrInvalidProfile, userType)
	}
	if profile.DateOfBirth != "" {
		if _, err := time.Parse(dateOfBirthLayout, profile.DateOfBirth); err != nil {
			return Profile{}, fmt.Errorf("%w: date of birth must be YYYY-MM-DD", ErrInvalidProfile)
		}
	}
	return profile, nil
}

// ProfileStore upserts profile details keyed by user id.
type ProfileStore interface {
	UpsertProfile(ctx context.Context, profile Profile) error
}

func contains(values []string, candidate string) bool {
	for _, value := range values {
		if value == candidate {
			return true
		}
	}
	return false
}
