// Package validate holds the two RSVP form checks: a loose one run on every
// edit for inline feedback, and a strict one that gates submission.
package validate

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"

	"wedding-rsvp/internal/models"
)

const (
	MinNameLength = 2
	MaxNameLength = 100
)

// Field names used as FieldErrors keys.
const (
	FieldAttendance        = "isAttending"
	FieldGuestName         = "guestName"
	FieldEmail             = "email"
	FieldMealChoice        = "mealChoice"
	FieldPlusOneMealChoice = "plusOneMealChoice"
)

var emailRegexp = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

var structValidator = newStructValidator()

// newStructValidator reports fields by their JSON names.
func newStructValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// FieldErrors maps a form field to a human readable problem.
type FieldErrors map[string]string

// Empty reports no errors.
func (e FieldErrors) Empty() bool { return len(e) == 0 }

// Fields returns the names of the failing fields.
func (e FieldErrors) Fields() []string {
	fields := make([]string, 0, len(e))
	for f := range e {
		fields = append(fields, f)
	}
	return fields
}

// IsEmail requires a dotted domain on top of RFC 5322 address syntax.
func IsEmail(s string) bool {
	s = strings.TrimSpace(s)
	return emailRegexp.MatchString(s) && structValidator.Var(s, "email") == nil
}

// Patch checks the size limits of an incoming edit.
func Patch(p models.FormPatch) FieldErrors {
	errs := FieldErrors{}
	err := structValidator.Struct(p)
	if err == nil {
		return errs
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		errs["_"] = err.Error()
		return errs
	}
	for _, fe := range verrs {
		switch fe.Tag() {
		case "max":
			errs[fe.Field()] = fmt.Sprintf("Must be at most %s characters", fe.Param())
		default:
			errs[fe.Field()] = "Invalid value"
		}
	}
	return errs
}

// Realtime validates what can be judged while the guest is still typing.
func Realtime(f models.FormData) FieldErrors {
	errs := FieldErrors{}

	if f.IsAttending == nil {
		errs[FieldAttendance] = "Please let us know if you can attend"
	}

	name := strings.TrimSpace(f.GuestName)
	switch n := utf8.RuneCountInString(name); {
	case n == 0:
		errs[FieldGuestName] = "Please enter your name"
	case n < MinNameLength:
		errs[FieldGuestName] = "Name must be at least 2 characters"
	case n > MaxNameLength:
		errs[FieldGuestName] = "Name must be at most 100 characters"
	}

	if f.WantsEmailConfirmation {
		email := strings.TrimSpace(f.Email)
		if email == "" {
			errs[FieldEmail] = "Please enter an email address for your confirmation"
		} else if !IsEmail(email) {
			errs[FieldEmail] = "Please enter a valid email address"
		}
	}

	return errs
}

// Submit is Realtime plus the requirements deferred to the moment of
// submission: a meal when attending, and a meal for a named plus-one.
// A missing address with email confirmation requested does not block; the
// organizers are told instead. A malformed address still does.
func Submit(f models.FormData) FieldErrors {
	errs := Realtime(f)
	if f.WantsEmailConfirmation && strings.TrimSpace(f.Email) == "" {
		delete(errs, FieldEmail)
	}

	if f.Attending() && strings.TrimSpace(f.MealChoice) == "" {
		errs[FieldMealChoice] = "Please choose a meal"
	}
	if strings.TrimSpace(f.PlusOneName) != "" && strings.TrimSpace(f.PlusOneMealChoice) == "" {
		errs[FieldPlusOneMealChoice] = "Please choose a meal for your plus-one"
	}

	return errs
}

// CanSubmit is the gate for enabling the submit action: attendance chosen
// and a name entered.
func CanSubmit(f models.FormData) bool {
	return f.IsAttending != nil && strings.TrimSpace(f.GuestName) != ""
}

// Progress returns the share of meaningfully filled fields, in steps of 20.
// The conditional items only count once attendance is answered, so a blank
// form is at zero.
func Progress(f models.FormData) int {
	filled := 0
	if strings.TrimSpace(f.GuestName) != "" {
		filled++
	}
	if f.IsAttending == nil {
		return filled * 20
	}
	filled++
	if !f.WantsEmailConfirmation || strings.TrimSpace(f.Email) != "" {
		filled++
	}
	if !f.Attending() || strings.TrimSpace(f.MealChoice) != "" {
		filled++
	}
	if strings.TrimSpace(f.PlusOneName) == "" || strings.TrimSpace(f.PlusOneMealChoice) != "" {
		filled++
	}
	return filled * 20
}
