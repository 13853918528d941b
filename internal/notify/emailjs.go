// Package notify sends RSVP confirmations to guests and notices to the
// organizers.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"wedding-rsvp/internal/models"
)

// DefaultEmailJSEndpoint is the EmailJS REST send endpoint.
const DefaultEmailJSEndpoint = "https://api.emailjs.com/api/v1.0/email/send"

// Confirmation is a guest-facing confirmation email.
type Confirmation struct {
	To         string
	Submission models.Submission
	Wedding    WeddingDetails
}

// Notice tells the organizers about a submission that needs attention.
type Notice struct {
	Subject    string
	Body       string
	Submission models.Submission
}

// WeddingDetails are the event facts quoted in messages.
type WeddingDetails struct {
	Date      string
	Location  string
	BrideName string
	GroomName string
}

// Mailer sends guest confirmations.
type Mailer interface {
	SendConfirmation(ctx context.Context, c Confirmation) error
}

// OrganizerNotifier delivers notices to the organizers.
type OrganizerNotifier interface {
	NotifyOrganizers(ctx context.Context, n Notice) error
}

// EmailJSConfig holds the EmailJS account ids.
type EmailJSConfig struct {
	Endpoint            string
	ServiceID           string
	TemplateID          string
	OrganizerTemplateID string
	PublicKey           string
	PrivateKey          string
	OrganizerEmails     []string
}

// EmailJS sends template emails through the EmailJS REST API.
type EmailJS struct {
	cfg    EmailJSConfig
	client *http.Client
	log    zerolog.Logger
}

// NewEmailJS creates a client. A nil httpClient gets a 10 second timeout.
func NewEmailJS(cfg EmailJSConfig, httpClient *http.Client, log zerolog.Logger) *EmailJS {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEmailJSEndpoint
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &EmailJS{
		cfg:    cfg,
		client: httpClient,
		log:    log.With().Str("component", "EmailJS").Logger(),
	}
}

type emailJSRequest struct {
	ServiceID      string            `json:"service_id"`
	TemplateID     string            `json:"template_id"`
	UserID         string            `json:"user_id"`
	AccessToken    string            `json:"accessToken,omitempty"`
	TemplateParams map[string]string `json:"template_params"`
}

// TemplateParams renders the variables shared by both templates.
func TemplateParams(sub models.Submission, w WeddingDetails) map[string]string {
	attendance := "Not attending"
	if sub.IsAttending {
		attendance = "Attending"
	}
	params := map[string]string{
		"guest_name":          sub.GuestName,
		"guest_token":         sub.Token,
		"attendance":          attendance,
		"meal_choice":         orDash(sub.MealChoice),
		"dietary":             orDash(sub.DietaryRestrictions),
		"plus_one_name":       orDash(sub.PlusOneName),
		"plus_one_meal":       orDash(sub.PlusOneMealChoice),
		"plus_one_dietary":    orDash(sub.PlusOneDietaryRestrictions),
		"special_requests":    orDash(sub.SpecialRequests),
		"submission_id":       sub.SubmissionID,
		"wedding_date":        w.Date,
		"wedding_location":    w.Location,
		"couple_names":        strings.TrimSpace(w.BrideName + " & " + w.GroomName),
		"guest_whatsapp":      orDash(sub.WhatsAppNumber),
		"guest_email_address": orDash(sub.Email),
	}
	return params
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}

// SendConfirmation implements Mailer.
func (e *EmailJS) SendConfirmation(ctx context.Context, c Confirmation) error {
	if c.To == "" {
		return fmt.Errorf("no recipient address")
	}
	params := TemplateParams(c.Submission, c.Wedding)
	params["to_email"] = c.To
	params["to_name"] = c.Submission.GuestName
	return e.send(ctx, e.cfg.TemplateID, params)
}

// NotifyOrganizers implements OrganizerNotifier.
func (e *EmailJS) NotifyOrganizers(ctx context.Context, n Notice) error {
	if len(e.cfg.OrganizerEmails) == 0 {
		return fmt.Errorf("no organizer emails configured")
	}
	template := e.cfg.OrganizerTemplateID
	if template == "" {
		template = e.cfg.TemplateID
	}
	params := TemplateParams(n.Submission, WeddingDetails{})
	params["to_email"] = strings.Join(e.cfg.OrganizerEmails, ",")
	params["subject"] = n.Subject
	params["message"] = n.Body
	return e.send(ctx, template, params)
}

func (e *EmailJS) send(ctx context.Context, templateID string, params map[string]string) error {
	body, err := json.Marshal(emailJSRequest{
		ServiceID:      e.cfg.ServiceID,
		TemplateID:     templateID,
		UserID:         e.cfg.PublicKey,
		AccessToken:    e.cfg.PrivateKey,
		TemplateParams: params,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal email: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("email provider returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	e.log.Debug().Str("template", templateID).Msg("Email sent")
	return nil
}
