package conversation

import (
	"fmt"
	"testing"

	"github.com/quailyquaily/peergate/internal/secretbox"
)

func TestKey(t *testing.T) {
	t.Parallel()

	if got := Key("bot1", "5551234567@c.us"); got != "bot1_5551234567@c.us" {
		t.Fatalf("Key() = %q", got)
	}
}

func TestTrim(t *testing.T) {
	t.Parallel()

	msgs := []Message{
		{Role: RoleUser, Content: "a"},
		{Role: RoleAssistant, Content: "b"},
		{Role: RoleUser, Content: "c"},
	}
	got := Trim(msgs, 2)
	if len(got) != 2 || got[0].Content != "b" || got[1].Content != "c" {
		t.Fatalf("Trim() = %+v", got)
	}
	if got := Trim(msgs, 0); len(got) != 3 {
		t.Fatalf("Trim(0) dropped messages: %+v", got)
	}
	if got := Trim(msgs, 5); len(got) != 3 {
		t.Fatalf("Trim(5) = %+v", got)
	}
}

func TestStoreLoadMissingReturnsFreshRecord(t *testing.T) {
	t.Parallel()

	store := NewStore(t.TempDir(), nil)
	rec, err := store.Load("bot1_5551234567@c.us")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if rec.Key != "bot1_5551234567@c.us" {
		t.Fatalf("Load() key = %q", rec.Key)
	}
	if rec.Messages == nil || len(rec.Messages) != 0 {
		t.Fatalf("Load() messages = %+v", rec.Messages)
	}
	if rec.CreatedAt.IsZero() {
		t.Fatalf("Load() fresh record has zero CreatedAt")
	}
}

func TestStoreRoundTrip(t *testing.T) {
	t.Parallel()

	sealer, err := secretbox.New("test-secret")
	if err != nil {
		t.Fatalf("secretbox.New() error = %v", err)
	}
	store := NewStore(t.TempDir(), sealer)

	key := Key("bot1", "5551234567@c.us")
	rec, err := store.Load(key)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	rec.Messages = append(rec.Messages,
		Message{Role: RoleUser, Content: "hello"},
		Message{Role: RoleAssistant, Content: "hi there"},
	)
	if err := store.Save(rec, 20); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	got, err := store.Load(key)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(got.Messages) != 2 {
		t.Fatalf("Load() messages = %+v", got.Messages)
	}
	if got.Messages[0].Role != RoleUser || got.Messages[0].Content != "hello" {
		t.Fatalf("first message = %+v", got.Messages[0])
	}
	if got.Messages[1].Role != RoleAssistant || got.Messages[1].Content != "hi there" {
		t.Fatalf("second message = %+v", got.Messages[1])
	}
}

func TestStoreSaveEnforcesWindow(t *testing.T) {
	t.Parallel()

	store := NewStore(t.TempDir(), nil)
	key := Key("bot1", "5551234567@c.us")

	rec, err := store.Load(key)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	for i := 0; i < 15; i++ {
		rec.Messages = append(rec.Messages,
			Message{Role: RoleUser, Content: fmt.Sprintf("q%d", i)},
			Message{Role: RoleAssistant, Content: fmt.Sprintf("a%d", i)},
		)
		if err := store.Save(rec, 20); err != nil {
			t.Fatalf("Save() error = %v", err)
		}
		rec, err = store.Load(key)
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}
		if len(rec.Messages) > 20 {
			t.Fatalf("window exceeded after turn %d: %d messages", i, len(rec.Messages))
		}
	}
	// The oldest turns fall off; the newest survive in order.
	last := rec.Messages[len(rec.Messages)-1]
	if last.Role != RoleAssistant || last.Content != "a14" {
		t.Fatalf("last message = %+v", last)
	}
	first := rec.Messages[0]
	if first.Content == "q0" {
		t.Fatalf("oldest turn was not trimmed")
	}
}

func TestStoreDeleteIdempotent(t *testing.T) {
	t.Parallel()

	store := NewStore(t.TempDir(), nil)
	key := Key("bot1", "5551234567@c.us")
	rec, _ := store.Load(key)
	rec.Messages = append(rec.Messages, Message{Role: RoleUser, Content: "hello"})
	if err := store.Save(rec, 20); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	found, err := store.Exists(key)
	if err != nil || !found {
		t.Fatalf("Exists() = %v, %v", found, err)
	}
	if err := store.Delete(key); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if err := store.Delete(key); err != nil {
		t.Fatalf("second Delete() error = %v", err)
	}
	if found, _ := store.Exists(key); found {
		t.Fatalf("record still exists after Delete()")
	}
}
