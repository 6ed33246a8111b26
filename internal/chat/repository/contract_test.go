package repository

import (
	"context"
	"sync"
	"testing"
	"time"

	"realtime_chat_service/internal/chat/domain"
	errprocess "realtime_chat_service/pkg/err"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 每個實作共用的行為測試; memory 直接跑, redis / mongo / postgres 在 integration tag 下跑

const eventually = 2 * time.Second

func uniq(prefix string) string {
	return prefix + "-" + uuid.NewString()[:8]
}

func roomContract(t *testing.T, rooms RoomRepository) {
	ctx := context.Background()
	groupID := uniq("group")
	alice, bob := uniq("alice"), uniq("bob")

	require.NoError(t, rooms.CreateRoom(ctx, &domain.Room{
		ID: groupID, Kind: domain.RoomKindGroup, Members: []string{alice},
		Admins: []string{alice}, JoinMode: domain.JoinModeOpen, CreatedBy: alice, CreatedAt: time.Now(),
	}))

	_, err := rooms.GetRoom(ctx, uniq("missing"))
	assert.ErrorIs(t, err, errprocess.ErrNotFound)

	require.NoError(t, rooms.AddMember(ctx, groupID, bob))
	require.NoError(t, rooms.AddMember(ctx, groupID, bob))
	members, err := rooms.GetMembers(ctx, groupID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{alice, bob}, members)

	require.NoError(t, rooms.RemoveMember(ctx, groupID, bob))
	room, err := rooms.GetRoom(ctx, groupID)
	require.NoError(t, err)
	assert.False(t, room.IsMember(bob))
	assert.True(t, room.WasMember(bob))

	// 重新加入清掉 former
	require.NoError(t, rooms.AddMember(ctx, groupID, bob))
	room, err = rooms.GetRoom(ctx, groupID)
	require.NoError(t, err)
	assert.True(t, room.IsMember(bob))
	assert.NotContains(t, room.FormerMembers, bob)

	directID := uniq("direct")
	require.NoError(t, rooms.CreateRoom(ctx, &domain.Room{
		ID: directID, Kind: domain.RoomKindDirect, Members: []string{alice, bob}, CreatedBy: alice, CreatedAt: time.Now(),
	}))
	found, err := rooms.FindDirectRoom(ctx, bob, alice)
	require.NoError(t, err)
	assert.Equal(t, directID, found.ID)

	_, err = rooms.FindDirectRoom(ctx, alice, uniq("stranger"))
	assert.ErrorIs(t, err, errprocess.ErrNotFound)
}

func messageContract(t *testing.T, messages MessageRepository) {
	ctx := context.Background()
	roomID := uniq("room")

	seq, err := messages.LatestSeq(ctx, roomID)
	require.NoError(t, err)
	assert.Zero(t, seq)

	var wg sync.WaitGroup
	seqs := make(chan int64, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m, err := messages.AppendMessage(ctx, &domain.Message{RoomID: roomID, Type: domain.MessageText, SenderID: "alice", Content: "hi", CreatedAt: time.Now()})
			if assert.NoError(t, err) {
				seqs <- m.Seq
			}
		}()
	}
	wg.Wait()
	close(seqs)
	seen := make(map[int64]bool)
	for s := range seqs {
		assert.False(t, seen[s], "seq %d assigned twice", s)
		seen[s] = true
	}
	for s := int64(1); s <= 20; s++ {
		assert.True(t, seen[s], "seq %d missing", s)
	}

	first, err := messages.AppendMessage(ctx, &domain.Message{RoomID: roomID, Type: domain.MessageText, SenderID: "bob", Content: "once", Nonce: "n-1", CreatedAt: time.Now()})
	require.NoError(t, err)
	again, err := messages.AppendMessage(ctx, &domain.Message{RoomID: roomID, Type: domain.MessageText, SenderID: "bob", Content: "once", Nonce: "n-1", CreatedAt: time.Now()})
	require.NoError(t, err)
	assert.Equal(t, int64(21), first.Seq)
	assert.Equal(t, first.Seq, again.Seq)

	edited, err := messages.MarkEdited(ctx, roomID, first.Seq, "twice", time.Now())
	require.NoError(t, err)
	assert.Equal(t, "twice", edited.Content)
	assert.Equal(t, 1, edited.Revision)
	assert.NotNil(t, edited.EditedAt)

	deleted, err := messages.MarkDeleted(ctx, roomID, first.Seq, time.Now())
	require.NoError(t, err)
	assert.True(t, deleted.Deleted)
	assert.Empty(t, deleted.Content)
	assert.Equal(t, 2, deleted.Revision)

	_, err = messages.MarkEdited(ctx, roomID, first.Seq, "back", time.Now())
	assert.ErrorIs(t, err, errprocess.ErrNotFound)
	_, err = messages.MarkDeleted(ctx, roomID, 999, time.Now())
	assert.ErrorIs(t, err, errprocess.ErrNotFound)

	// 刪除後序號不重用
	next, err := messages.AppendMessage(ctx, &domain.Message{RoomID: roomID, Type: domain.MessageText, SenderID: "bob", Content: "after", CreatedAt: time.Now()})
	require.NoError(t, err)
	assert.Equal(t, int64(22), next.Seq)

	page, err := messages.ListMessages(ctx, roomID, 0, 5)
	require.NoError(t, err)
	require.Len(t, page, 5)
	assert.Equal(t, int64(18), page[0].Seq)
	assert.Equal(t, int64(22), page[4].Seq)

	older, err := messages.ListMessages(ctx, roomID, 18, 3)
	require.NoError(t, err)
	require.Len(t, older, 3)
	assert.Equal(t, []int64{15, 16, 17}, []int64{older[0].Seq, older[1].Seq, older[2].Seq})

	latest, err := messages.LatestSeq(ctx, roomID)
	require.NoError(t, err)
	assert.Equal(t, int64(22), latest)

	// 相同 client_msg_id 不同發送者各自佔一個序號
	other := uniq("room")
	mine, err := messages.AppendMessage(ctx, &domain.Message{RoomID: other, Type: domain.MessageText, SenderID: "alice", Content: "from alice", Nonce: "1", CreatedAt: time.Now()})
	require.NoError(t, err)
	theirs, err := messages.AppendMessage(ctx, &domain.Message{RoomID: other, Type: domain.MessageText, SenderID: "bob", Content: "from bob", Nonce: "1", CreatedAt: time.Now()})
	require.NoError(t, err)
	assert.Equal(t, int64(1), mine.Seq)
	assert.Equal(t, int64(2), theirs.Seq)
	assert.Equal(t, "bob", theirs.SenderID)
	assert.Equal(t, "from bob", theirs.Content)

	withFile, err := messages.AppendMessage(ctx, &domain.Message{
		RoomID: other, Type: domain.MessageAttachment, SenderID: "alice", CreatedAt: time.Now(),
		Attachment: &domain.Attachment{ID: uniq("att"), RoomID: other, UploaderID: "alice", Filename: "a.png", Locator: "u/a.png", Category: domain.CategoryImage},
	})
	require.NoError(t, err)
	require.NotNil(t, withFile.Attachment)
	require.NotNil(t, withFile.Attachment.MessageSeq)
	assert.Equal(t, withFile.Seq, *withFile.Attachment.MessageSeq)
	history, err := messages.GetMessage(ctx, other, withFile.Seq)
	require.NoError(t, err)
	require.NotNil(t, history.Attachment)
	require.NotNil(t, history.Attachment.MessageSeq)
	assert.Equal(t, withFile.Seq, *history.Attachment.MessageSeq)
}

// presenceContract expire must make every entry registered so far stale
func presenceContract(t *testing.T, p PresenceRegistry, expire func()) {
	ctx := context.Background()
	roomID := uniq("room")
	alice, bob := uniq("alice"), uniq("bob")

	require.NoError(t, p.Register(ctx, alice, roomID, "c1"))
	require.NoError(t, p.Register(ctx, alice, roomID, "c2"))
	require.NoError(t, p.Register(ctx, bob, roomID, "c3"))

	online, err := p.OnlineUsers(ctx, roomID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{alice, bob}, online)

	rooms, err := p.RoomsOf(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, []string{roomID}, rooms)

	stillThere, err := p.Unregister(ctx, alice, roomID, "c1")
	require.NoError(t, err)
	assert.True(t, stillThere)
	stillThere, err = p.Unregister(ctx, alice, roomID, "c2")
	require.NoError(t, err)
	assert.False(t, stillThere)

	present, err := p.IsPresent(ctx, alice, roomID)
	require.NoError(t, err)
	assert.False(t, present)

	expire()

	present, err = p.IsPresent(ctx, bob, roomID)
	require.NoError(t, err)
	assert.False(t, present)

	gone, err := p.Purge(ctx, roomID)
	require.NoError(t, err)
	assert.Equal(t, []string{bob}, gone)

	// 第二次 purge 不會重複回報
	gone, err = p.Purge(ctx, roomID)
	require.NoError(t, err)
	assert.Empty(t, gone)
}

func notificationContract(t *testing.T, repo NotificationRepository) {
	ctx := context.Background()
	bob := uniq("bob")
	base := time.Now().Add(-time.Hour).UTC().Truncate(time.Millisecond)

	newN := func(i int, source string) *domain.Notification {
		return &domain.Notification{
			ID: uniq("n"), RecipientID: bob, Kind: domain.NotificationMessage,
			RoomID: "room-1", ActorID: "alice", SourceKey: source, MessageSeq: int64(i),
			Title: "alice", Preview: "hi", CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}
	}

	first := newN(1, "room-1:1:message")
	created, err := repo.CreateNotification(ctx, first)
	require.NoError(t, err)
	assert.True(t, created)

	created, err = repo.CreateNotification(ctx, newN(1, "room-1:1:message"))
	require.NoError(t, err)
	assert.False(t, created, "same source creates once")

	second := newN(2, "room-1:2:message")
	_, err = repo.CreateNotification(ctx, second)
	require.NoError(t, err)

	list, err := repo.ListNotifications(ctx, bob, 10)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, second.ID, list[0].ID, "newest first")

	n, err := repo.CountUnread(ctx, bob)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	err = repo.MarkNotificationRead(ctx, first.ID, "alice", time.Now())
	assert.Equal(t, errprocess.NotOwner, errprocess.KindOf(err))
	err = repo.MarkNotificationRead(ctx, uniq("missing"), bob, time.Now())
	assert.ErrorIs(t, err, errprocess.ErrNotFound)

	require.NoError(t, repo.MarkNotificationRead(ctx, first.ID, bob, time.Now()))
	require.NoError(t, repo.MarkNotificationRead(ctx, first.ID, bob, time.Now()))
	got, err := repo.GetNotification(ctx, first.ID)
	require.NoError(t, err)
	assert.True(t, got.Read)
	assert.NotNil(t, got.ReadAt)

	updated, err := repo.MarkAllRead(ctx, bob, time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(1), updated)

	n, err = repo.CountUnread(ctx, bob)
	require.NoError(t, err)
	assert.Zero(t, n)

	purged, err := repo.DeleteReadBefore(ctx, base.Add(90*time.Second))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, purged, int64(1))
	_, err = repo.GetNotification(ctx, first.ID)
	assert.ErrorIs(t, err, errprocess.ErrNotFound)
	_, err = repo.GetNotification(ctx, second.ID)
	assert.NoError(t, err)
}

func attachmentContract(t *testing.T, repo AttachmentRepository) {
	ctx := context.Background()
	att := &domain.Attachment{
		ID: uniq("att"), RoomID: "room-1", UploaderID: "alice", Filename: "cat.png",
		MediaType: "image/png", Category: domain.CategoryImage, Size: 1024,
		Locator: "u/cat.png", CreatedAt: time.Now().UTC().Truncate(time.Millisecond),
	}
	require.NoError(t, repo.CreateAttachment(ctx, att))

	got, err := repo.GetAttachment(ctx, att.ID)
	require.NoError(t, err)
	assert.Nil(t, got.MessageSeq)
	assert.Equal(t, "cat.png", got.Filename)

	require.NoError(t, repo.LinkAttachment(ctx, att.ID, 7))
	got, err = repo.GetAttachment(ctx, att.ID)
	require.NoError(t, err)
	require.NotNil(t, got.MessageSeq)
	assert.Equal(t, int64(7), *got.MessageSeq)

	assert.ErrorIs(t, repo.LinkAttachment(ctx, uniq("missing"), 1), errprocess.ErrNotFound)
	_, err = repo.GetAttachment(ctx, uniq("missing"))
	assert.ErrorIs(t, err, errprocess.ErrNotFound)
}

type pubSub interface {
	EventBus
	NotificationChannel
}

func receive[T any](t *testing.T, sub Subscription[T]) T {
	t.Helper()
	select {
	case v, ok := <-sub.C():
		require.True(t, ok, "subscription closed")
		return v
	case <-time.After(eventually):
		t.Fatal("nothing received")
		var zero T
		return zero
	}
}

func pubSubContract(t *testing.T, ps pubSub) {
	ctx := context.Background()
	roomID, other := uniq("room"), uniq("room")

	sub, err := ps.Subscribe(ctx, roomID)
	require.NoError(t, err)
	defer sub.Close()
	all, err := ps.SubscribeAll(ctx)
	require.NoError(t, err)
	defer all.Close()

	for i := int64(1); i <= 3; i++ {
		ev := domain.NewMessageEvent(domain.EventMessage, "alice", &domain.Message{RoomID: roomID, Seq: i, Content: "m"}, time.Now())
		require.NoError(t, ps.Publish(ctx, roomID, ev))
	}
	require.NoError(t, ps.Publish(ctx, other, domain.NewTypingEvent(other, "bob", true, time.Now())))

	for i := int64(1); i <= 3; i++ {
		ev := receive(t, sub)
		assert.Equal(t, i, ev.Seq, "room order")
	}
	kinds := map[domain.EventKind]int{}
	for i := 0; i < 4; i++ {
		kinds[receive(t, all).Kind]++
	}
	assert.Equal(t, 3, kinds[domain.EventMessage])
	assert.Equal(t, 1, kinds[domain.EventTyping])

	bob := uniq("bob")
	notes, err := ps.SubscribeNotifications(ctx, bob)
	require.NoError(t, err)
	require.NoError(t, ps.PublishNotification(ctx, bob, domain.Notification{ID: "n-1", RecipientID: bob}))
	assert.Equal(t, "n-1", receive(t, notes).ID)

	require.NoError(t, notes.Close())
	require.NoError(t, notes.Close())
	_, ok := <-notes.C()
	assert.False(t, ok)
}
