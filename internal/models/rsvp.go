package models

import "time"

// Submission is one guest's stored RSVP response.
type Submission struct {
	ID                         int64     `json:"id,omitempty"`
	SubmissionID               string    `json:"submission_id"`
	Token                      string    `json:"guest_token"`
	GuestName                  string    `json:"guest_name"`
	Email                      string    `json:"email_address,omitempty"`
	WhatsAppNumber             string    `json:"whatsapp_number,omitempty"`
	IsAttending                bool      `json:"attending"`
	MealChoice                 string    `json:"meal_choice,omitempty"`
	DietaryRestrictions        string    `json:"dietary_restrictions,omitempty"`
	PlusOneName                string    `json:"plus_one_name,omitempty"`
	PlusOneMealChoice          string    `json:"plus_one_meal_choice,omitempty"`
	PlusOneDietaryRestrictions string    `json:"plus_one_dietary_restrictions,omitempty"`
	WantsEmailConfirmation     bool      `json:"wants_email_confirmation"`
	WantsWhatsAppConfirmation  bool      `json:"wants_whatsapp_confirmation"`
	SpecialRequests            string    `json:"special_requests,omitempty"`
	EmailSent                  bool      `json:"email_sent"`
	WhatsAppSent               bool      `json:"whatsapp_sent"`
	Standalone                 bool      `json:"standalone"`
	SubmittedAt                time.Time `json:"submitted_at"`
	UpdatedAt                  time.Time `json:"updated_at,omitempty"`
}

// HasPlusOne reports whether a companion was named.
func (s Submission) HasPlusOne() bool {
	return s.PlusOneName != ""
}

// FormData is the in-progress draft of an RSVP. IsAttending is nil until
// the guest picks an answer.
type FormData struct {
	GuestName                  string `json:"guestName"`
	Email                      string `json:"email"`
	WhatsAppNumber             string `json:"whatsappNumber"`
	IsAttending                *bool  `json:"isAttending"`
	MealChoice                 string `json:"mealChoice"`
	DietaryRestrictions        string `json:"dietaryRestrictions"`
	PlusOneName                string `json:"plusOneName"`
	PlusOneMealChoice          string `json:"plusOneMealChoice"`
	PlusOneDietaryRestrictions string `json:"plusOneDietaryRestrictions"`
	WantsEmailConfirmation     bool   `json:"wantsEmailConfirmation"`
	WantsWhatsAppConfirmation  bool   `json:"wantsWhatsAppConfirmation"`
	SpecialRequests            string `json:"specialRequests"`
}

// DefaultFormData returns the empty form every session starts from.
func DefaultFormData() FormData {
	return FormData{}
}

// Attending reports a definite yes.
func (f FormData) Attending() bool {
	return f.IsAttending != nil && *f.IsAttending
}

// FormPatch is a partial form update. Nil fields are left untouched.
type FormPatch struct {
	GuestName                  *string `json:"guestName,omitempty" validate:"omitempty,max=200"`
	Email                      *string `json:"email,omitempty" validate:"omitempty,max=254"`
	WhatsAppNumber             *string `json:"whatsappNumber,omitempty" validate:"omitempty,max=32"`
	IsAttending                *bool   `json:"isAttending,omitempty"`
	ClearAttendance            bool    `json:"clearAttendance,omitempty"`
	MealChoice                 *string `json:"mealChoice,omitempty" validate:"omitempty,max=100"`
	DietaryRestrictions        *string `json:"dietaryRestrictions,omitempty" validate:"omitempty,max=1000"`
	PlusOneName                *string `json:"plusOneName,omitempty" validate:"omitempty,max=200"`
	PlusOneMealChoice          *string `json:"plusOneMealChoice,omitempty" validate:"omitempty,max=100"`
	PlusOneDietaryRestrictions *string `json:"plusOneDietaryRestrictions,omitempty" validate:"omitempty,max=1000"`
	WantsEmailConfirmation     *bool   `json:"wantsEmailConfirmation,omitempty"`
	WantsWhatsAppConfirmation  *bool   `json:"wantsWhatsAppConfirmation,omitempty"`
	SpecialRequests            *string `json:"specialRequests,omitempty" validate:"omitempty,max=2000"`
}

// ApplyTo writes the set fields of p onto f.
func (p FormPatch) ApplyTo(f *FormData) {
	setString := func(dst *string, src *string) {
		if src != nil {
			*dst = *src
		}
	}
	setBool := func(dst *bool, src *bool) {
		if src != nil {
			*dst = *src
		}
	}

	setString(&f.GuestName, p.GuestName)
	setString(&f.Email, p.Email)
	setString(&f.WhatsAppNumber, p.WhatsAppNumber)
	setString(&f.MealChoice, p.MealChoice)
	setString(&f.DietaryRestrictions, p.DietaryRestrictions)
	setString(&f.PlusOneName, p.PlusOneName)
	setString(&f.PlusOneMealChoice, p.PlusOneMealChoice)
	setString(&f.PlusOneDietaryRestrictions, p.PlusOneDietaryRestrictions)
	setString(&f.SpecialRequests, p.SpecialRequests)
	setBool(&f.WantsEmailConfirmation, p.WantsEmailConfirmation)
	setBool(&f.WantsWhatsAppConfirmation, p.WantsWhatsAppConfirmation)

	if p.ClearAttendance {
		f.IsAttending = nil
	} else if p.IsAttending != nil {
		v := *p.IsAttending
		f.IsAttending = &v
	}
}

// Draft is the locally cached snapshot of a form, keyed by token.
type Draft struct {
	Data         FormData  `json:"data"`
	Submitted    bool      `json:"submitted"`
	SubmissionID string    `json:"submission_id,omitempty"`
	SavedAt      time.Time `json:"saved_at"`
}
