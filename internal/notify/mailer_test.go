package notify

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/wneessen/go-mail"
)

// recordingSender keeps every message instead of dialing SMTP
type recordingSender struct {
	sent []*mail.Msg
	err  error
}

func (r *recordingSender) DialAndSendWithContext(_ context.Context, msgs ...*mail.Msg) error {
	if r.err != nil {
		return r.err
	}
	r.sent = append(r.sent, msgs...)
	return nil
}

var jpegHeader = []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10, 'J', 'F', 'I', 'F'}

func TestNotify_AttachesBothImages(t *testing.T) {
	sender := &recordingSender{}
	m := NewMailer(sender, "yard@example.com", "owner@example.com", nil)

	err := m.Notify(context.Background(), Upload{
		PlateNumber: "MH12AB1234",
		ScrapClass:  "HMS 1",
		Recipients:  []string{"Owner@example.com", "manager@example.com"},
		Images: []Attachment{
			{Filename: "truck.jpg", Data: jpegHeader},
			{Filename: "plate.jpg", Data: jpegHeader},
		},
	})
	if err != nil {
		t.Fatalf("Notify() error = %v", err)
	}
	if len(sender.sent) != 1 {
		t.Fatalf("sent %d messages, want 1", len(sender.sent))
	}

	msg := sender.sent[0]
	if to := msg.GetTo(); len(to) != 2 {
		t.Errorf("To = %v, want owner and manager once each", to)
	}

	var buf bytes.Buffer
	if _, err := msg.WriteTo(&buf); err != nil {
		t.Fatal(err)
	}
	raw := buf.String()
	for _, want := range []string{"New Scrap Upload - Truck: MH12AB1234", "truck.jpg", "plate.jpg", "image/jpeg", "HMS 1"} {
		if !strings.Contains(raw, want) {
			t.Errorf("message missing %q", want)
		}
	}
}

func TestCompose_UnknownPlateAndNoRecipient(t *testing.T) {
	m := NewMailer(&recordingSender{}, "yard@example.com", "", nil)

	if _, err := m.Compose(Upload{}); !errors.Is(err, ErrNoRecipient) {
		t.Errorf("Compose() = %v, want ErrNoRecipient", err)
	}

	msg, err := m.Compose(Upload{Recipients: []string{"o@example.com"}})
	if err != nil {
		t.Fatal(err)
	}
	if subj := msg.GetGenHeader(mail.HeaderSubject); len(subj) != 1 || subj[0] != "New Scrap Upload - Truck: Unknown" {
		t.Errorf("subject = %v", subj)
	}
}

func TestNotify_SendError(t *testing.T) {
	m := NewMailer(&recordingSender{err: errors.New("relay down")}, "yard@example.com", "o@example.com", nil)
	if err := m.Notify(context.Background(), Upload{PlateNumber: "X"}); err == nil {
		t.Error("Notify() should surface the send error")
	}
}
