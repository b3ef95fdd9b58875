package sqlite

import (
	"context"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	st, err := New(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func seedUser(t *testing.T, st *SQLiteStore, username string) int64 {
	t.Helper()
	user, err := st.CreateUser(context.Background(), username, "hash")
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	return user.ID
}

func TestInsertMessageAssignsIncreasingIDs(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	author := seedUser(t, st, "alice")

	first, err := st.InsertMessage(ctx, 5, author, "one", nil)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	second, err := st.InsertMessage(ctx, 5, author, "two", nil)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	if first.ID <= 0 || second.ID <= first.ID {
		t.Fatalf("expected increasing ids, got %d then %d", first.ID, second.ID)
	}
	if first.ChannelID != 5 || first.AuthorID != author || first.Content != "one" {
		t.Fatalf("unexpected canonical record %+v", first)
	}
	if first.CreatedAt.IsZero() {
		t.Fatal("expected server-assigned timestamp")
	}
}

func TestThreadReplyBumpsParentCount(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	author := seedUser(t, st, "alice")

	parent, err := st.InsertMessage(ctx, 5, author, "root", nil)
	if err != nil {
		t.Fatalf("insert parent: %v", err)
	}
	for i := 0; i < 2; i++ {
		if _, err := st.InsertMessage(ctx, 5, author, "reply", &parent.ID); err != nil {
			t.Fatalf("insert reply: %v", err)
		}
	}

	msgs, err := st.ListMessages(ctx, 5, 10, nil)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	for _, msg := range msgs {
		if msg.ID == parent.ID && msg.ReplyCount != 2 {
			t.Fatalf("expected reply_count 2, got %d", msg.ReplyCount)
		}
		if msg.ParentID != nil && *msg.ParentID != parent.ID {
			t.Fatalf("unexpected parent %v", msg.ParentID)
		}
	}
}

func TestListMessagesPaginatesNewestFirst(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	author := seedUser(t, st, "alice")

	var ids []int64
	for i := 0; i < 5; i++ {
		msg, err := st.InsertMessage(ctx, 5, author, "msg", nil)
		if err != nil {
			t.Fatalf("insert: %v", err)
		}
		ids = append(ids, msg.ID)
	}
	// A message in another channel must not leak into the page.
	if _, err := st.InsertMessage(ctx, 9, author, "elsewhere", nil); err != nil {
		t.Fatalf("insert: %v", err)
	}

	page, err := st.ListMessages(ctx, 5, 2, nil)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(page) != 2 || page[0].ID != ids[4] || page[1].ID != ids[3] {
		t.Fatalf("unexpected first page: %+v", page)
	}

	older, err := st.ListMessages(ctx, 5, 10, &page[1].ID)
	if err != nil {
		t.Fatalf("list older: %v", err)
	}
	if len(older) != 3 || older[0].ID != ids[2] {
		t.Fatalf("unexpected older page: %+v", older)
	}
}

func TestMarkReadOnlyMovesForward(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	user := seedUser(t, st, "alice")

	if err := st.MarkRead(ctx, user, 5, 40, time.Now()); err != nil {
		t.Fatalf("mark read: %v", err)
	}
	// A stale mark from a lagging tab must not move the position backwards.
	if err := st.MarkRead(ctx, user, 5, 30, time.Now()); err != nil {
		t.Fatalf("mark read: %v", err)
	}

	mark, err := st.GetReadMark(ctx, user, 5)
	if err != nil {
		t.Fatalf("get read mark: %v", err)
	}
	if mark == nil || mark.MessageID != 40 {
		t.Fatalf("expected mark at 40, got %+v", mark)
	}

	if err := st.MarkRead(ctx, user, 5, 50, time.Now()); err != nil {
		t.Fatalf("mark read: %v", err)
	}
	mark, err = st.GetReadMark(ctx, user, 5)
	if err != nil {
		t.Fatalf("get read mark: %v", err)
	}
	if mark.MessageID != 50 {
		t.Fatalf("expected mark advanced to 50, got %d", mark.MessageID)
	}
}

func TestGetReadMarkMissingIsNil(t *testing.T) {
	st := newTestStore(t)

	mark, err := st.GetReadMark(context.Background(), 1, 5)
	if err != nil {
		t.Fatalf("get read mark: %v", err)
	}
	if mark != nil {
		t.Fatalf("expected nil mark, got %+v", mark)
	}
}

func TestSetUserOnlineStampsLastSeen(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	user := seedUser(t, st, "alice")

	if err := st.SetUserOnline(ctx, user, true); err != nil {
		t.Fatalf("set online: %v", err)
	}
	got, err := st.GetUserByID(ctx, user)
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if !got.IsOnline {
		t.Fatal("expected user online")
	}

	if err := st.SetUserOnline(ctx, user, false); err != nil {
		t.Fatalf("set offline: %v", err)
	}
	got, err = st.GetUserByID(ctx, user)
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if got.IsOnline {
		t.Fatal("expected user offline")
	}
	if got.LastSeenAt.IsZero() {
		t.Fatal("expected last_seen_at stamped on the offline edge")
	}
}
