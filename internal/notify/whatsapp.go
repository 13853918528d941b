package notify

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"wedding-rsvp/internal/models"
)

var nonDigits = regexp.MustCompile(`\D`)

// WhatsAppLink builds a wa.me deep link that opens a chat with number and
// a prefilled message. It is never sent by the server.
func WhatsAppLink(number, message string) (string, error) {
	digits := nonDigits.ReplaceAllString(number, "")
	if digits == "" {
		return "", fmt.Errorf("no digits in WhatsApp number")
	}
	// match encodeURIComponent: spaces as %20, not +
	text := strings.ReplaceAll(url.QueryEscape(message), "+", "%20")
	return "https://wa.me/" + digits + "?text=" + text, nil
}

// ConfirmationMessage is the text offered to the guest for their WhatsApp
// confirmation.
func ConfirmationMessage(sub models.Submission, w WeddingDetails) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Hi! This is %s confirming my RSVP", sub.GuestName)
	if w.BrideName != "" || w.GroomName != "" {
		fmt.Fprintf(&b, " for the wedding of %s & %s", w.BrideName, w.GroomName)
	}
	b.WriteString(".\n")
	if sub.IsAttending {
		b.WriteString("I will be attending.")
		if sub.MealChoice != "" {
			fmt.Fprintf(&b, "\nMeal: %s", sub.MealChoice)
		}
		if sub.DietaryRestrictions != "" {
			fmt.Fprintf(&b, "\nDietary: %s", sub.DietaryRestrictions)
		}
		if sub.PlusOneName != "" {
			fmt.Fprintf(&b, "\nPlus one: %s (%s)", sub.PlusOneName, sub.PlusOneMealChoice)
		}
	} else {
		b.WriteString("Unfortunately I can't make it.")
	}
	if sub.SubmissionID != "" {
		fmt.Fprintf(&b, "\nReference: %s", sub.SubmissionID)
	}
	return b.String()
}

// Organizers fans a notice out to every configured channel.
type Organizers []OrganizerNotifier

// NotifyOrganizers implements OrganizerNotifier. It succeeds if any channel
// succeeds and reports every failure otherwise.
func (o Organizers) NotifyOrganizers(ctx context.Context, n Notice) error {
	if len(o) == 0 {
		return fmt.Errorf("no organizer channels configured")
	}
	var errs []error
	for _, ch := range o {
		if err := ch.NotifyOrganizers(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) == len(o) {
		return errors.Join(errs...)
	}
	return nil
}
