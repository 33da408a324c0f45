// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

package auth

import (
	"strings"
	"unicode/utf8"
)

// Field length constraints. Lengths are counted in runes and must be
// strictly greater than the minimum.
const (
	MinUsernameLength = 5
	MinPasswordLength = 5
	MinEmailLength    = 5
)

// ValidateUsername checks the username length rule.
// Returns nil if the username is acceptable.
func ValidateUsername(username string) *FieldError {
	if utf8.RuneCountInString(username) <= MinUsernameLength {
		return &FieldError{Field: FieldUsername, Message: MsgUsernameTooShort}
	}
	return nil
}

// ValidatePassword checks the password length rule and reports a violation
// under the given field name.
func ValidatePassword(field, password string) *FieldError {
	if utf8.RuneCountInString(password) <= MinPasswordLength {
		return &FieldError{Field: field, Message: MsgPasswordTooShort}
	}
	return nil
}

// ValidateEmail checks that an email contains "@" and is long enough.
func ValidateEmail(email string) *FieldError {
	if !strings.Contains(email, "@") || utf8.RuneCountInString(email) <= MinEmailLength {
		return &FieldError{Field: FieldEmail, Message: MsgInvalidEmail}
	}
	return nil
}

// Validator applies the field rules to use case input.
//
// With Aggregate false (the default) it reports only the first violation,
// in the order email, username, password. With Aggregate true it reports
// every violation in that order.
type Validator struct {
	Aggregate bool
}

// Registration validates registration input. The email rule only applies
// when an email was supplied.
func (v Validator) Registration(in RegisterInput) []FieldError {
	checks := make([]*FieldError, 0, 3)
	if in.Email != "" {
		checks = append(checks, ValidateEmail(in.Email))
	}
	checks = append(checks,
		ValidateUsername(in.Username),
		ValidatePassword(FieldPassword, in.Password),
	)
	return v.collect(checks...)
}

// NewPassword validates the replacement password of a reset.
func (v Validator) NewPassword(password string) []FieldError {
	return v.collect(ValidatePassword(FieldNewPassword, password))
}

func (v Validator) collect(checks ...*FieldError) []FieldError {
	var errs []FieldError
	for _, fe := range checks {
		if fe == nil {
			continue
		}
		errs = append(errs, *fe)
		if !v.Aggregate {
			break
		}
	}
	return errs
}
