package services

import (
	"errors"
	"regexp"
	"unicode"

	"github.com/dmitrijs2005/authgate/internal/cryptox"
	"github.com/go-playground/validator/v10"
)

// ValidationError is an input error whose message is safe to show to users.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// RegisterInput is the registration request after transport decoding.
// Username is optional and derived from the email when empty.
type RegisterInput struct {
	Email     string `validate:"required,email,max=254"`
	Username  string `validate:"omitempty,username"`
	Password  string `validate:"required,min=8,max=72,password_bytes,password"`
	FirstName string `validate:"max=100"`
	LastName  string `validate:"max=100"`
}

// LoginInput accepts either an email address or a username as Identifier.
type LoginInput struct {
	Identifier string `validate:"required,max=254"`
	Password   string `validate:"required,max=72"`
}

var usernameRe = regexp.MustCompile(`^[a-zA-Z0-9_.-]{3,32}$`)

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("password", validatePassword)
	// max counts runes; bcrypt limits bytes
	_ = v.RegisterValidation("password_bytes", func(fl validator.FieldLevel) bool {
		return !cryptox.IsPasswordTooLong(fl.Field().String())
	})
	_ = v.RegisterValidation("username", func(fl validator.FieldLevel) bool {
		return usernameRe.MatchString(fl.Field().String())
	})
	return v
}

// validatePassword requires an upper-case letter, a digit and a symbol.
func validatePassword(fl validator.FieldLevel) bool {
	var upper, digit, special bool
	for _, r := range fl.Field().String() {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsDigit(r):
			digit = true
		case !unicode.IsLetter(r) && !unicode.IsSpace(r):
			special = true
		}
	}
	return upper && digit && special
}

var messages = map[string]string{
	"Email.required":          "Email is required",
	"Email.email":             "Invalid email address",
	"Email.max":               "Email is too long",
	"Username.username":       "Username must be 3-32 characters: letters, digits, '.', '_' or '-'",
	"Password.required":       "Password is required",
	"Password.min":            "Password must be at least 8 characters",
	"Password.max":            "Password must be at most 72 characters",
	"Password.password_bytes": "Password is too long",
	"Password.password":       "Password must contain an uppercase letter, a number and a special character",
	"FirstName.max":           "First name is too long",
	"LastName.max":            "Last name is too long",
	"Identifier.required":     "Email or username is required",
	"Identifier.max":          "Email or username is too long",
}

// validateStruct returns the first failed rule as a *ValidationError.
func (s *AuthService) validateStruct(in any) error {
	err := s.validate.Struct(in)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return &ValidationError{Message: "Invalid input"}
	}

	fe := verrs[0]
	msg, ok := messages[fe.Field()+"."+fe.Tag()]
	if !ok {
		msg = "Invalid " + fe.Field()
	}
	return &ValidationError{Field: fe.Field(), Message: msg}
}
