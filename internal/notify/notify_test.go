package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wedding-rsvp/internal/models"
)

func testSubmission() models.Submission {
	return models.Submission{
		SubmissionID: "sub-1",
		Token:        "john-doe-k3x9p2ma",
		GuestName:    "John Doe",
		IsAttending:  true,
		MealChoice:   "fish",
	}
}

func TestEmailJSSendConfirmation(t *testing.T) {
	var got emailJSRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	e := NewEmailJS(EmailJSConfig{
		Endpoint:   srv.URL,
		ServiceID:  "service_x",
		TemplateID: "template_guest",
		PublicKey:  "pk",
	}, srv.Client(), zerolog.Nop())

	err := e.SendConfirmation(context.Background(), Confirmation{
		To:         "john@example.com",
		Submission: testSubmission(),
		Wedding:    WeddingDetails{BrideName: "Anna", GroomName: "David"},
	})
	require.NoError(t, err)

	assert.Equal(t, "service_x", got.ServiceID)
	assert.Equal(t, "template_guest", got.TemplateID)
	assert.Equal(t, "pk", got.UserID)
	assert.Equal(t, "john@example.com", got.TemplateParams["to_email"])
	assert.Equal(t, "John Doe", got.TemplateParams["guest_name"])
	assert.Equal(t, "Attending", got.TemplateParams["attendance"])
	assert.Equal(t, "fish", got.TemplateParams["meal_choice"])
	assert.Equal(t, "-", got.TemplateParams["dietary"])
	assert.Equal(t, "Anna & David", got.TemplateParams["couple_names"])
}

func TestEmailJSErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte("The template ID is invalid"))
	}))
	defer srv.Close()

	e := NewEmailJS(EmailJSConfig{Endpoint: srv.URL}, srv.Client(), zerolog.Nop())

	err := e.SendConfirmation(context.Background(), Confirmation{To: "a@b.co", Submission: testSubmission()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
	assert.Contains(t, err.Error(), "template ID is invalid")

	assert.Error(t, e.SendConfirmation(context.Background(), Confirmation{Submission: testSubmission()}))
	assert.Error(t, e.NotifyOrganizers(context.Background(), Notice{Submission: testSubmission()}))
}

func TestEmailJSNotifyOrganizersUsesOrganizerTemplate(t *testing.T) {
	var got emailJSRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
	}))
	defer srv.Close()

	e := NewEmailJS(EmailJSConfig{
		Endpoint:            srv.URL,
		TemplateID:          "template_guest",
		OrganizerTemplateID: "template_org",
		OrganizerEmails:     []string{"a@x.io", "b@x.io"},
	}, srv.Client(), zerolog.Nop())

	require.NoError(t, e.NotifyOrganizers(context.Background(), Notice{
		Subject:    "No email on file",
		Body:       "John Doe asked for a confirmation email but left no address.",
		Submission: testSubmission(),
	}))
	assert.Equal(t, "template_org", got.TemplateID)
	assert.Equal(t, "a@x.io,b@x.io", got.TemplateParams["to_email"])
	assert.Equal(t, "No email on file", got.TemplateParams["subject"])
}

func TestWhatsAppLink(t *testing.T) {
	link, err := WhatsAppLink("+972 (50) 123-4567", "Hi there & see you!")
	require.NoError(t, err)
	assert.Equal(t, "https://wa.me/972501234567?text=Hi%20there%20%26%20see%20you%21", link)

	_, err = WhatsAppLink("n/a", "hi")
	assert.Error(t, err)
}

func TestConfirmationMessage(t *testing.T) {
	sub := testSubmission()
	sub.PlusOneName = "Jane Doe"
	sub.PlusOneMealChoice = "beef"
	msg := ConfirmationMessage(sub, WeddingDetails{BrideName: "Anna", GroomName: "David"})
	assert.Contains(t, msg, "John Doe confirming my RSVP for the wedding of Anna & David")
	assert.Contains(t, msg, "Meal: fish")
	assert.Contains(t, msg, "Plus one: Jane Doe (beef)")
	assert.Contains(t, msg, "Reference: sub-1")

	sub.IsAttending = false
	assert.Contains(t, ConfirmationMessage(sub, WeddingDetails{}), "can't make it")
}

type stubNotifier struct {
	err   error
	calls int
}

func (s *stubNotifier) NotifyOrganizers(context.Context, Notice) error {
	s.calls++
	return s.err
}

func TestOrganizersFanOut(t *testing.T) {
	ok := &stubNotifier{}
	bad := &stubNotifier{err: errors.New("down")}

	require.NoError(t, Organizers{bad, ok}.NotifyOrganizers(context.Background(), Notice{}))
	assert.Equal(t, 1, ok.calls)
	assert.Equal(t, 1, bad.calls)

	err := Organizers{bad, &stubNotifier{err: errors.New("also down")}}.NotifyOrganizers(context.Background(), Notice{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "down")
	assert.Contains(t, err.Error(), "also down")

	assert.Error(t, Organizers{}.NotifyOrganizers(context.Background(), Notice{}))
}
