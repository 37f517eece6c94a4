package retrieve

import (
	"context"
	"errors"
	"testing"

	"github.com/mailsift/mailsift/internal/gmail"
	testemail "github.com/mailsift/mailsift/internal/testutil/email"
)

func TestLookup_Get(t *testing.T) {
	mock := gmail.NewMockAPI()
	testemail.Seed(mock, "m1")
	l := NewLookup(mock, nil)

	msg, err := l.Get(context.Background(), "m1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if msg == nil || msg.Subject != "msg m1" {
		t.Fatalf("Get = %+v, want subject %q", msg, "msg m1")
	}

	msg, err = l.Get(context.Background(), "missing")
	if err != nil {
		t.Fatalf("Get(missing): %v", err)
	}
	if msg != nil {
		t.Errorf("Get(missing) = %+v, want nil", msg)
	}
}

func TestLookup_GetEmptyID(t *testing.T) {
	l := NewLookup(gmail.NewMockAPI(), nil)
	_, err := l.Get(context.Background(), " ")
	assertValidationError(t, err)
}

func TestLookup_GetParseError(t *testing.T) {
	mock := gmail.NewMockAPI()
	testemail.Seed(mock, "bad")
	l := NewLookup(mock, failingParser("bad"))

	if _, err := l.Get(context.Background(), "bad"); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestLookup_FindByMessageID(t *testing.T) {
	mock := gmail.NewMockAPI()
	raw := testemail.Raw("m7", testemail.Options{
		Subject: "hello",
		Headers: map[string]string{"Message-ID": "<abc@example.com>"},
	})
	mock.SetupMessages(raw)
	mock.QueryResults["rfc822msgid:abc@example.com"] = []string{"m7"}
	l := NewLookup(mock, nil)

	msg, err := l.FindByMessageID(context.Background(), "<abc@example.com>")
	if err != nil {
		t.Fatalf("FindByMessageID: %v", err)
	}
	if msg == nil || msg.ID != "m7" || msg.MessageID != "abc@example.com" {
		t.Fatalf("FindByMessageID = %+v", msg)
	}

	calls := mock.ListCallsSnapshot()
	if len(calls) != 1 || calls[0].MaxResults != 1 {
		t.Errorf("list calls = %+v, want one call with MaxResults 1", calls)
	}
}

func TestLookup_FindByMessageIDNotFound(t *testing.T) {
	l := NewLookup(gmail.NewMockAPI(), nil)

	msg, err := l.FindByMessageID(context.Background(), "nobody@example.com")
	if err != nil {
		t.Fatalf("FindByMessageID: %v", err)
	}
	if msg != nil {
		t.Errorf("FindByMessageID = %+v, want nil", msg)
	}
}

func TestLookup_FindByMessageIDErrors(t *testing.T) {
	l := NewLookup(gmail.NewMockAPI(), nil)
	_, err := l.FindByMessageID(context.Background(), "<>")
	assertValidationError(t, err)

	mock := gmail.NewMockAPI()
	listErr := errors.New("boom")
	mock.ListMessagesError = listErr
	l = NewLookup(mock, nil)
	if _, err := l.FindByMessageID(context.Background(), "x@y"); !errors.Is(err, listErr) {
		t.Errorf("err = %v, want %v", err, listErr)
	}
}
