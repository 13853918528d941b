// Package whatsapp sends invitations and organizer notices from a linked
// WhatsApp account.
package whatsapp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"github.com/skip2/go-qrcode"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"

	"wedding-rsvp/internal/notify"
)

var (
	// ErrNotLinked is returned when sending before a device has been paired.
	ErrNotLinked = errors.New("whatsapp device is not linked")
	// ErrNotOnWhatsApp is returned when the recipient has no account.
	ErrNotOnWhatsApp = errors.New("number is not registered on WhatsApp")
)

type Config struct {
	DataDir         string
	OrganizerPhones []string
}

// Invitation is the message sent to a guest with their personal RSVP link.
type Invitation struct {
	Phone    string
	Name     string
	RSVPLink string
	Wedding  notify.WeddingDetails
}

type Service struct {
	client *whatsmeow.Client
	cfg    Config
	log    zerolog.Logger
}

// NewService opens the device store under cfg.DataDir.
func NewService(ctx context.Context, cfg Config, log zerolog.Logger) (*Service, error) {
	container, err := sqlstore.New(ctx, "sqlite3", fmt.Sprintf("file:%s/whatsmeow.db?_foreign_keys=on", cfg.DataDir), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create database: %w", err)
	}

	deviceStore, err := container.GetFirstDevice(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get device: %w", err)
	}

	client := whatsmeow.NewClient(deviceStore, nil)

	service := &Service{
		client: client,
		cfg:    cfg,
		log:    log.With().Str("component", "WhatsApp").Logger(),
	}
	client.AddEventHandler(service.eventHandler)

	return service, nil
}

// NormalizePhoneNumber strips formatting and converts local Israeli numbers
// (05XXXXXXXX) to the 972 country code.
func NormalizePhoneNumber(phoneNumber string) string {
	phoneNumber = strings.NewReplacer("+", "", " ", "", "-", "", "(", "", ")", "").Replace(phoneNumber)

	if strings.HasPrefix(phoneNumber, "0") && len(phoneNumber) == 10 {
		phoneNumber = "972" + phoneNumber[1:]
	}
	if strings.HasPrefix(phoneNumber, "9720") {
		phoneNumber = "972" + phoneNumber[4:]
	}
	return phoneNumber
}

// Linked reports whether the device store holds a paired session.
func (s *Service) Linked() bool {
	return s.client.Store.ID != nil
}

// Connect connects to WhatsApp. An unpaired device prints pairing QR codes
// to out until the phone scans one.
func (s *Service) Connect(ctx context.Context, out io.Writer) error {
	if s.Linked() {
		if err := s.client.Connect(); err != nil {
			return fmt.Errorf("failed to connect: %w", err)
		}
		return nil
	}

	qrChan, _ := s.client.GetQRChannel(ctx)
	if err := s.client.Connect(); err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	for evt := range qrChan {
		if evt.Event != "code" {
			s.log.Info().Str("event", evt.Event).Msg("Login event")
			continue
		}
		q, err := qrcode.New(evt.Code, qrcode.Medium)
		if err != nil {
			fmt.Fprintf(out, "QR Code: %s\n", evt.Code)
			continue
		}
		fmt.Fprintln(out, "\n"+q.ToSmallString(false))
		fmt.Fprintln(out, "Scan the QR code above in WhatsApp > Settings > Linked Devices > Link a Device")
	}
	return nil
}

// Disconnect disconnects from WhatsApp
func (s *Service) Disconnect() {
	s.client.Disconnect()
}

// InvitationMessage renders the invitation text.
func InvitationMessage(inv Invitation) string {
	w := inv.Wedding
	var b strings.Builder
	fmt.Fprintf(&b, "🎉 *Wedding Invitation*\n\nDear %s,\n\n", inv.Name)
	fmt.Fprintf(&b, "You are cordially invited to celebrate the wedding of\n\n*%s* & *%s*\n\n", w.BrideName, w.GroomName)
	if w.Date != "" {
		fmt.Fprintf(&b, "📅 Date: %s\n", w.Date)
	}
	if w.Location != "" {
		fmt.Fprintf(&b, "📍 Location: %s\n", w.Location)
	}
	fmt.Fprintf(&b, "\nPlease let us know if you can make it:\n%s", inv.RSVPLink)
	return b.String()
}

// SendInvitation sends the guest their personal RSVP link.
func (s *Service) SendInvitation(ctx context.Context, inv Invitation) error {
	return s.SendText(ctx, inv.Phone, InvitationMessage(inv))
}

// NotifyOrganizers sends n to every configured organizer phone.
func (s *Service) NotifyOrganizers(ctx context.Context, n notify.Notice) error {
	if len(s.cfg.OrganizerPhones) == 0 {
		return fmt.Errorf("no organizer phones configured")
	}
	text := fmt.Sprintf("*%s*\n\n%s", n.Subject, n.Body)
	var errs []error
	for _, phone := range s.cfg.OrganizerPhones {
		if err := s.SendText(ctx, phone, text); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// SendText sends a plain text message after checking the number is on
// WhatsApp.
func (s *Service) SendText(ctx context.Context, phoneNumber, message string) error {
	if !s.Linked() {
		return ErrNotLinked
	}
	phoneNumber = NormalizePhoneNumber(phoneNumber)

	resp, err := s.client.IsOnWhatsApp(ctx, []string{"+" + phoneNumber})
	if err != nil {
		return fmt.Errorf("failed to verify number on WhatsApp: %w", err)
	}
	if len(resp) == 0 || !resp[0].IsIn {
		return ErrNotOnWhatsApp
	}
	jid := resp[0].JID

	s.log.Debug().Msg("Sending message")

	sent, err := s.client.SendMessage(ctx, jid, &waE2E.Message{
		Conversation: &message,
	})
	if err != nil {
		if strings.Contains(err.Error(), "unknown server") || strings.Contains(err.Error(), "can't send message") {
			return fmt.Errorf("failed to send message, the recipient may need to be in your contacts: %w", err)
		}
		return fmt.Errorf("failed to send message: %w", err)
	}

	s.log.Info().Str("id", string(sent.ID)).Msg("Message sent")
	return nil
}

// JIDFor builds the user JID for a phone number without a network lookup.
func JIDFor(phoneNumber string) types.JID {
	return types.NewJID(NormalizePhoneNumber(phoneNumber), types.DefaultUserServer)
}

func (s *Service) eventHandler(evt interface{}) {
	switch evt := evt.(type) {
	case *events.Message:
		if evt.Info.IsFromMe {
			return
		}
		s.log.Debug().Str("id", string(evt.Info.ID)).Msg("Received message")
	case *events.Connected:
		s.log.Info().Msg("Connected to WhatsApp")
	case *events.Disconnected:
		s.log.Info().Msg("Disconnected from WhatsApp")
	case *events.LoggedOut:
		s.log.Info().Msg("Logged out from WhatsApp")
	}
}
