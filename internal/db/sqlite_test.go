package db

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/zenith-chat/zenith/internal/models"
)

func openTestDB(t *testing.T, name string) *Database {
	t.Helper()
	d, err := New("file:" + name + "?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })
	return d
}

func TestUsers_CreateAndLookup(t *testing.T) {
	d := openTestDB(t, "users")
	ctx := context.Background()

	u, err := d.CreateUser(ctx, "alice", "hash1")
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	if u.ID == 0 || u.Username != "alice" {
		t.Fatalf("unexpected created user: %+v", u)
	}

	got, err := d.GetUserByUsername(ctx, "alice")
	if err != nil || got == nil || got.ID != u.ID || got.PasswordHash != "hash1" {
		t.Fatalf("get by username: %v %+v", err, got)
	}

	missing, err := d.GetUserByUsername(ctx, "nobody")
	if err != nil || missing != nil {
		t.Fatalf("expected nil for missing user, got %v %+v", err, missing)
	}

	// Second registration of the same username must fail.
	if _, err := d.CreateUser(ctx, "alice", "hash2"); !errors.Is(err, ErrUsernameTaken) {
		t.Fatalf("expected ErrUsernameTaken, got %v", err)
	}

	// The first registration is untouched.
	got, err = d.GetUserByUsername(ctx, "alice")
	if err != nil || got == nil || got.PasswordHash != "hash1" {
		t.Fatalf("original user changed: %v %+v", err, got)
	}
}

func TestConversations_ListNewestFirst(t *testing.T) {
	d := openTestDB(t, "convlist")
	ctx := context.Background()

	u, err := d.CreateUser(ctx, "alice", "h")
	if err != nil {
		t.Fatalf("create user: %v", err)
	}

	var ids []int64
	for i := 0; i < 3; i++ {
		conv, err := d.CreateConversation(ctx, u.ID, fmt.Sprintf("chat %d", i))
		if err != nil {
			t.Fatalf("create conversation: %v", err)
		}
		ids = append(ids, conv.ID)
	}

	list, err := d.ListConversations(ctx, u.ID)
	if err != nil {
		t.Fatalf("list conversations: %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("expected 3 conversations, got %d", len(list))
	}
	// Most recently created first, even when created within the same second.
	for i := 0; i < 3; i++ {
		if list[i].ID != ids[2-i] {
			t.Fatalf("wrong order: got %v want %v first", list[i].ID, ids[2-i])
		}
	}

	// Scoped to the owner.
	other, err := d.CreateUser(ctx, "bob", "h")
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	otherList, err := d.ListConversations(ctx, other.ID)
	if err != nil || len(otherList) != 0 {
		t.Fatalf("expected empty list for other user, got %v %v", err, otherList)
	}
}

func TestConversations_Rename(t *testing.T) {
	d := openTestDB(t, "convrename")
	ctx := context.Background()

	u, _ := d.CreateUser(ctx, "alice", "h")
	conv, err := d.CreateConversation(ctx, u.ID, "original")
	if err != nil {
		t.Fatalf("create conversation: %v", err)
	}

	for _, bad := range []string{"", "   "} {
		if err := d.RenameConversation(ctx, conv.ID, bad); !errors.Is(err, ErrEmptyName) {
			t.Fatalf("rename %q: expected ErrEmptyName, got %v", bad, err)
		}
		got, err := d.GetConversation(ctx, conv.ID)
		if err != nil || got.Name != "original" {
			t.Fatalf("name changed after rejected rename: %v %+v", err, got)
		}
	}

	if err := d.RenameConversation(ctx, conv.ID, "renamed"); err != nil {
		t.Fatalf("rename: %v", err)
	}
	got, err := d.GetConversation(ctx, conv.ID)
	if err != nil || got.Name != "renamed" {
		t.Fatalf("rename not applied: %v %+v", err, got)
	}
}

func TestMessages_OrderPreserved(t *testing.T) {
	d := openTestDB(t, "msgorder")
	ctx := context.Background()

	u, _ := d.CreateUser(ctx, "alice", "h")
	conv, _ := d.CreateConversation(ctx, u.ID, "chat")

	want := []models.Message{
		{ConvID: conv.ID, Role: models.RoleUser, Content: "Hello"},
		{ConvID: conv.ID, Role: models.RoleAssistant, Content: "Hi there"},
		{ConvID: conv.ID, Role: models.RoleUser, Content: "  spaced  \n"},
		{ConvID: conv.ID, Role: models.RoleAssistant, Content: "ok"},
	}
	for i := range want {
		msg := want[i]
		if err := d.SaveMessage(ctx, &msg); err != nil {
			t.Fatalf("save message %d: %v", i, err)
		}
		if msg.ID == 0 {
			t.Fatalf("message %d id not filled", i)
		}
	}

	got, err := d.ListMessages(ctx, conv.ID)
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("expected %d messages, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i].Role != want[i].Role || got[i].Content != want[i].Content {
			t.Fatalf("message %d mismatch: got %+v want %+v", i, got[i], want[i])
		}
	}
}

func TestConversations_DeleteCascades(t *testing.T) {
	d := openTestDB(t, "convdelete")
	ctx := context.Background()

	u, _ := d.CreateUser(ctx, "alice", "h")
	conv, _ := d.CreateConversation(ctx, u.ID, "doomed")
	keep, _ := d.CreateConversation(ctx, u.ID, "kept")

	for _, content := range []string{"one", "two"} {
		if err := d.SaveMessage(ctx, &models.Message{ConvID: conv.ID, Role: models.RoleUser, Content: content}); err != nil {
			t.Fatalf("save message: %v", err)
		}
	}
	if err := d.SaveMessage(ctx, &models.Message{ConvID: keep.ID, Role: models.RoleUser, Content: "stays"}); err != nil {
		t.Fatalf("save message: %v", err)
	}

	if err := d.DeleteConversation(ctx, conv.ID); err != nil {
		t.Fatalf("delete conversation: %v", err)
	}

	msgs, err := d.ListMessages(ctx, conv.ID)
	if err != nil || len(msgs) != 0 {
		t.Fatalf("messages not cascaded: %v %v", err, msgs)
	}
	list, err := d.ListConversations(ctx, u.ID)
	if err != nil || len(list) != 1 || list[0].ID != keep.ID {
		t.Fatalf("conversation row not removed: %v %v", err, list)
	}
	kept, err := d.ListMessages(ctx, keep.ID)
	if err != nil || len(kept) != 1 {
		t.Fatalf("unrelated messages touched: %v %v", err, kept)
	}

	// Deleting an id that no longer exists is a no-op.
	if err := d.DeleteConversation(ctx, conv.ID); err != nil {
		t.Fatalf("second delete should be a no-op: %v", err)
	}
}
