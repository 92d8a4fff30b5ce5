package services_test

import (
	"sync"
	"testing"

	"social_backend/internal/models"
	chatmodels "social_backend/internal/models/chat"
	"social_backend/internal/repositories"
	"social_backend/internal/services"
	"social_backend/internal/services/dto"
	"social_backend/pkg/apperrors"
	"social_backend/test/helpers"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type fixture struct {
	db    *gorm.DB
	svc   services.ChatService
	alice *models.Profile
	bob   *models.Profile
	carol *models.Profile
}

func newFixture(t *testing.T, cfg services.ChatConfig) *fixture {
	t.Helper()
	clock := helpers.NewClock()
	db := helpers.NewTestDB(t, clock)
	cfg.Now = clock.Now

	return &fixture{
		db:    db,
		svc:   services.NewChatService(repositories.NewChatRepository(), repositories.NewProfileRepository(), nil, cfg),
		alice: helpers.SeedProfile(t, db, 101, "alice"),
		bob:   helpers.SeedProfile(t, db, 102, "bob"),
		carol: helpers.SeedProfile(t, db, 103, "carol"),
	}
}

func (f *fixture) direct(t *testing.T, from, to *models.Profile) *dto.ChatResponse {
	t.Helper()
	c, err := f.svc.CreateChat(f.db, from.UserID, &dto.CreateChatRequest{ParticipantIDs: []uint{to.ID}})
	require.NoError(t, err)
	return c
}

func (f *fixture) group(t *testing.T, owner *models.Profile, title string, members ...*models.Profile) *dto.ChatResponse {
	t.Helper()
	ids := make([]uint, 0, len(members))
	for _, m := range members {
		ids = append(ids, m.ID)
	}
	c, err := f.svc.CreateChat(f.db, owner.UserID, &dto.CreateChatRequest{IsGroup: true, ParticipantIDs: ids, Title: &title})
	require.NoError(t, err)
	return c
}

func (f *fixture) send(t *testing.T, from *models.Profile, chatID uint, text string) *dto.MessageResponse {
	t.Helper()
	msg, err := f.svc.SendMessage(f.db, from.UserID, chatID, &dto.SendMessageRequest{Text: &text})
	require.NoError(t, err)
	return msg
}

func (f *fixture) unread(t *testing.T, p *models.Profile, chatID uint) int64 {
	t.Helper()
	n, err := f.svc.GetUnreadCount(f.db, p.UserID, chatID)
	require.NoError(t, err)
	return n
}

func strPtr(s string) *string { return &s }

// --- chats ---

func TestCreateChat_DirectIsIdempotentInEitherOrder(t *testing.T) {
	f := newFixture(t, services.ChatConfig{})

	first := f.direct(t, f.alice, f.bob)
	again := f.direct(t, f.alice, f.bob)
	reverse := f.direct(t, f.bob, f.alice)

	assert.Equal(t, first.ID, again.ID)
	assert.Equal(t, first.ID, reverse.ID)
	assert.False(t, first.IsGroup)
	assert.Len(t, first.Participants, 2)

	var count int64
	require.NoError(t, f.db.Model(&chatmodels.Chat{}).Count(&count).Error)
	assert.EqualValues(t, 1, count)
}

func TestCreateChat_DirectConcurrentRequestsShareOneChat(t *testing.T) {
	f := newFixture(t, services.ChatConfig{})

	const workers = 8
	ids := make([]uint, workers)
	errs := make([]error, workers)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			from, to := f.alice, f.bob
			if i%2 == 1 {
				from, to = f.bob, f.alice
			}
			c, err := f.svc.CreateChat(f.db, from.UserID, &dto.CreateChatRequest{ParticipantIDs: []uint{to.ID}})
			errs[i] = err
			if err == nil {
				ids[i] = c.ID
			}
		}(i)
	}
	wg.Wait()

	for i := 0; i < workers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, ids[0], ids[i])
	}
	var count int64
	require.NoError(t, f.db.Model(&chatmodels.Chat{}).Count(&count).Error)
	assert.EqualValues(t, 1, count)
}

func TestCreateChat_DirectValidation(t *testing.T) {
	f := newFixture(t, services.ChatConfig{})

	tests := []struct {
		name string
		ids  []uint
		want *apperrors.AppError
	}{
		{"no target", []uint{}, apperrors.ErrDirectChatCardinality},
		{"two targets", []uint{f.bob.ID, f.carol.ID}, apperrors.ErrDirectChatCardinality},
		{"self", []uint{f.alice.ID}, apperrors.ErrDirectChatWithSelf},
		{"unknown profile", []uint{9999}, apperrors.ErrProfileNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.CreateChat(f.db, f.alice.UserID, &dto.CreateChatRequest{ParticipantIDs: tt.ids})
			assert.ErrorIs(t, err, tt.want)
		})
	}

	t.Run("requester without profile", func(t *testing.T) {
		_, err := f.svc.CreateChat(f.db, 555, &dto.CreateChatRequest{ParticipantIDs: []uint{f.bob.ID}})
		assert.ErrorIs(t, err, apperrors.ErrProfileNotFound)
	})
}

func TestCreateChat_GroupCreatorIsAdmin(t *testing.T) {
	f := newFixture(t, services.ChatConfig{})

	c := f.group(t, f.alice, "Weekend", f.bob, f.carol, f.bob)
	assert.True(t, c.IsGroup)
	require.Len(t, c.Participants, 3)

	admins := map[uint]bool{}
	for _, p := range c.Participants {
		admins[p.ProfileID] = p.IsAdmin
	}
	assert.True(t, admins[f.alice.ID])
	assert.False(t, admins[f.bob.ID])
	assert.False(t, admins[f.carol.ID])
}

func TestCreateChat_GroupRejectsUnknownAndLonelyGroups(t *testing.T) {
	f := newFixture(t, services.ChatConfig{})

	_, err := f.svc.CreateChat(f.db, f.alice.UserID, &dto.CreateChatRequest{
		IsGroup:        true,
		ParticipantIDs: []uint{f.bob.ID, 777, 888},
	})
	appErr, ok := apperrors.AsAppError(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.CodeNotFound, appErr.Code)
	assert.Equal(t, map[string][]uint{"missingIds": {777, 888}}, appErr.Details)

	_, err = f.svc.CreateChat(f.db, f.alice.UserID, &dto.CreateChatRequest{
		IsGroup:        true,
		ParticipantIDs: []uint{f.alice.ID},
	})
	assert.ErrorIs(t, err, apperrors.ErrGroupChatTooSmall)

	var count int64
	require.NoError(t, f.db.Model(&chatmodels.Chat{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestGetUserChats_OrderedByLastActivity(t *testing.T) {
	f := newFixture(t, services.ChatConfig{})

	dm := f.direct(t, f.alice, f.bob)
	grp := f.group(t, f.alice, "Team", f.carol)

	page, err := f.svc.GetUserChats(f.db, f.alice.UserID, 1, 10)
	require.NoError(t, err)
	require.Len(t, page.Data, 2)
	assert.EqualValues(t, 2, page.Total)
	assert.Equal(t, grp.ID, page.Data[0].ID)

	f.send(t, f.bob, dm.ID, "ping")

	page, err = f.svc.GetUserChats(f.db, f.alice.UserID, 1, 10)
	require.NoError(t, err)
	require.Len(t, page.Data, 2)
	assert.Equal(t, dm.ID, page.Data[0].ID)
	require.NotNil(t, page.Data[0].LastMessage)
	assert.Equal(t, "ping", *page.Data[0].LastMessage.Text)
	assert.EqualValues(t, 1, page.Data[0].UnreadCount)

	// Pagination and limit clamping.
	page, err = f.svc.GetUserChats(f.db, f.alice.UserID, 2, 1)
	require.NoError(t, err)
	require.Len(t, page.Data, 1)
	assert.Equal(t, grp.ID, page.Data[0].ID)

	page, err = f.svc.GetUserChats(f.db, f.alice.UserID, 0, 1000)
	require.NoError(t, err)
	assert.Equal(t, 1, page.Page)
	assert.Equal(t, 100, page.Limit)
}

func TestGetChatDetails(t *testing.T) {
	f := newFixture(t, services.ChatConfig{})
	dm := f.direct(t, f.alice, f.bob)
	f.send(t, f.alice, dm.ID, "one")
	f.send(t, f.bob, dm.ID, "two")

	details, err := f.svc.GetChatDetails(f.db, f.bob.UserID, dm.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 2, details.MessageCount)
	assert.Len(t, details.Participants, 2)

	_, err = f.svc.GetChatDetails(f.db, f.carol.UserID, dm.ID)
	assert.ErrorIs(t, err, apperrors.ErrNotParticipant)

	_, err = f.svc.GetChatDetails(f.db, f.alice.UserID, 4242)
	assert.ErrorIs(t, err, apperrors.ErrChatNotFound)
}

func TestSearchChats(t *testing.T) {
	f := newFixture(t, services.ChatConfig{})
	dm := f.direct(t, f.alice, f.bob)
	grp := f.group(t, f.alice, "Weekend Plans", f.carol)

	byTitle, err := f.svc.SearchChats(f.db, f.alice.UserID, "weekend")
	require.NoError(t, err)
	require.Len(t, byTitle, 1)
	assert.Equal(t, grp.ID, byTitle[0].ID)

	byName, err := f.svc.SearchChats(f.db, f.alice.UserID, "BOB")
	require.NoError(t, err)
	require.Len(t, byName, 1)
	assert.Equal(t, dm.ID, byName[0].ID)

	// Other users' chats are never searched.
	none, err := f.svc.SearchChats(f.db, f.bob.UserID, "weekend")
	require.NoError(t, err)
	assert.Empty(t, none)

	_, err = f.svc.SearchChats(f.db, f.alice.UserID, "   ")
	assert.True(t, apperrors.HasCode(err, apperrors.CodeValidationFailed))
}

func TestDeleteChat(t *testing.T) {
	f := newFixture(t, services.ChatConfig{})

	t.Run("either direct participant may delete", func(t *testing.T) {
		dm := f.direct(t, f.alice, f.bob)
		f.send(t, f.alice, dm.ID, "bye")

		require.NoError(t, f.svc.DeleteChat(f.db, f.bob.UserID, dm.ID))

		_, err := f.svc.GetChatDetails(f.db, f.alice.UserID, dm.ID)
		assert.ErrorIs(t, err, apperrors.ErrChatNotFound)

		var msgs int64
		require.NoError(t, f.db.Model(&chatmodels.Message{}).Where("chat_id = ?", dm.ID).Count(&msgs).Error)
		assert.Zero(t, msgs)
	})

	t.Run("only group admins", func(t *testing.T) {
		grp := f.group(t, f.alice, "Admins only", f.bob)

		err := f.svc.DeleteChat(f.db, f.bob.UserID, grp.ID)
		assert.ErrorIs(t, err, apperrors.ErrNotChatAdmin)

		err = f.svc.DeleteChat(f.db, f.carol.UserID, grp.ID)
		assert.ErrorIs(t, err, apperrors.ErrNotParticipant)

		require.NoError(t, f.svc.DeleteChat(f.db, f.alice.UserID, grp.ID))
	})
}

// --- participants ---

func TestAddParticipants(t *testing.T) {
	f := newFixture(t, services.ChatConfig{})
	dave := helpers.SeedProfile(t, f.db, 104, "dave")
	grp := f.group(t, f.alice, "Growing", f.bob)

	added, err := f.svc.AddParticipants(f.db, f.alice.UserID, grp.ID, []uint{f.carol.ID, f.bob.ID, dave.ID})
	require.NoError(t, err)
	assert.Equal(t, 2, added)

	participants, err := f.svc.GetParticipants(f.db, f.carol.UserID, grp.ID)
	require.NoError(t, err)
	assert.Len(t, participants, 4)

	_, err = f.svc.AddParticipants(f.db, f.bob.UserID, grp.ID, []uint{dave.ID})
	assert.ErrorIs(t, err, apperrors.ErrNotChatAdmin)

	_, err = f.svc.AddParticipants(f.db, f.alice.UserID, grp.ID, []uint{31337})
	assert.True(t, apperrors.HasCode(err, apperrors.CodeNotFound))

	dm := f.direct(t, f.alice, f.bob)
	_, err = f.svc.AddParticipants(f.db, f.alice.UserID, dm.ID, []uint{f.carol.ID})
	assert.ErrorIs(t, err, apperrors.ErrGroupChatNotFound)
}

func TestLeaveAndMute(t *testing.T) {
	f := newFixture(t, services.ChatConfig{})
	grp := f.group(t, f.alice, "Quiet", f.bob, f.carol)

	require.NoError(t, f.svc.MuteChat(f.db, f.bob.UserID, grp.ID))
	details, err := f.svc.GetChatDetails(f.db, f.bob.UserID, grp.ID)
	require.NoError(t, err)
	assert.True(t, details.IsMuted)

	require.NoError(t, f.svc.UnmuteChat(f.db, f.bob.UserID, grp.ID))
	details, err = f.svc.GetChatDetails(f.db, f.bob.UserID, grp.ID)
	require.NoError(t, err)
	assert.False(t, details.IsMuted)

	require.NoError(t, f.svc.LeaveChat(f.db, f.carol.UserID, grp.ID))
	assert.ErrorIs(t, f.svc.CheckParticipant(f.db, f.carol.UserID, grp.ID), apperrors.ErrNotParticipant)
	assert.ErrorIs(t, f.svc.LeaveChat(f.db, f.carol.UserID, grp.ID), apperrors.ErrNotParticipant)

	audience, err := f.svc.ChatAudience(f.db, grp.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []uint{f.alice.UserID, f.bob.UserID}, audience)
}

func TestLeaveChat_DirectChatKeepsBothMembers(t *testing.T) {
	f := newFixture(t, services.ChatConfig{AllowAutoJoin: true})
	dm := f.direct(t, f.alice, f.bob)

	assert.ErrorIs(t, f.svc.LeaveChat(f.db, f.alice.UserID, dm.ID), apperrors.ErrLeaveDirectChat)
	assert.ErrorIs(t, f.svc.LeaveChat(f.db, f.carol.UserID, dm.ID), apperrors.ErrNotParticipant)
	assert.ErrorIs(t, f.svc.LeaveChat(f.db, f.alice.UserID, 9999), apperrors.ErrChatNotFound)

	// Re-opening the pair still lands on a chat alice can use.
	again := f.direct(t, f.alice, f.bob)
	assert.Equal(t, dm.ID, again.ID)
	require.NoError(t, f.svc.CheckParticipant(f.db, f.alice.UserID, dm.ID))
	f.send(t, f.alice, dm.ID, "still here")

	audience, err := f.svc.ChatAudience(f.db, dm.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []uint{f.alice.UserID, f.bob.UserID}, audience)
}

// --- messages ---

func TestSendMessage_Validation(t *testing.T) {
	f := newFixture(t, services.ChatConfig{})
	dm := f.direct(t, f.alice, f.bob)

	_, err := f.svc.SendMessage(f.db, f.alice.UserID, dm.ID, &dto.SendMessageRequest{Text: strPtr("  ")})
	assert.ErrorIs(t, err, apperrors.ErrEmptyMessage)

	_, err = f.svc.SendMessage(f.db, f.alice.UserID, dm.ID, &dto.SendMessageRequest{
		MediaURL:  strPtr("https://cdn.example.com/a.bin"),
		MediaType: strPtr("hologram"),
	})
	assert.ErrorIs(t, err, apperrors.ErrInvalidMediaType)

	_, err = f.svc.SendMessage(f.db, f.carol.UserID, dm.ID, &dto.SendMessageRequest{Text: strPtr("let me in")})
	assert.ErrorIs(t, err, apperrors.ErrNotParticipant)

	_, err = f.svc.SendMessage(f.db, f.alice.UserID, 999, &dto.SendMessageRequest{Text: strPtr("void")})
	assert.ErrorIs(t, err, apperrors.ErrChatNotFound)

	media, err := f.svc.SendMessage(f.db, f.alice.UserID, dm.ID, &dto.SendMessageRequest{
		MediaURL: strPtr("https://cdn.example.com/a.bin"),
	})
	require.NoError(t, err)
	require.NotNil(t, media.MediaType)
	assert.Equal(t, "file", *media.MediaType)
	assert.Nil(t, media.Text)
}

func TestSendMessage_SenderHasReadOwnMessage(t *testing.T) {
	f := newFixture(t, services.ChatConfig{})
	dm := f.direct(t, f.alice, f.bob)

	msg := f.send(t, f.alice, dm.ID, "hello")
	assert.Equal(t, f.alice.ID, msg.SenderID)
	assert.Equal(t, f.alice.UserID, msg.SenderUserID)
	assert.Equal(t, "alice", msg.SenderName)
	require.Len(t, msg.ReadBy, 1)
	assert.Equal(t, f.alice.ID, msg.ReadBy[0].ID)

	assert.Zero(t, f.unread(t, f.alice, dm.ID))
	assert.EqualValues(t, 1, f.unread(t, f.bob, dm.ID))
}

func TestSendMessage_AutoJoin(t *testing.T) {
	t.Run("enabled joins groups only", func(t *testing.T) {
		f := newFixture(t, services.ChatConfig{AllowAutoJoin: true})
		grp := f.group(t, f.alice, "Open", f.bob)
		dm := f.direct(t, f.alice, f.bob)

		f.send(t, f.carol, grp.ID, "hi all")
		assert.NoError(t, f.svc.CheckParticipant(f.db, f.carol.UserID, grp.ID))

		_, err := f.svc.SendMessage(f.db, f.carol.UserID, dm.ID, &dto.SendMessageRequest{Text: strPtr("hi")})
		assert.ErrorIs(t, err, apperrors.ErrNotParticipant)
	})

	t.Run("disabled", func(t *testing.T) {
		f := newFixture(t, services.ChatConfig{AllowAutoJoin: false})
		grp := f.group(t, f.alice, "Closed", f.bob)

		_, err := f.svc.SendMessage(f.db, f.carol.UserID, grp.ID, &dto.SendMessageRequest{Text: strPtr("hi")})
		assert.ErrorIs(t, err, apperrors.ErrNotParticipant)
	})
}

func TestReplyMessage(t *testing.T) {
	f := newFixture(t, services.ChatConfig{})
	dm := f.direct(t, f.alice, f.bob)
	question := f.send(t, f.alice, dm.ID, "lunch?")

	reply, err := f.svc.ReplyMessage(f.db, f.bob.UserID, dm.ID, question.ID, "sure")
	require.NoError(t, err)
	require.NotNil(t, reply.ReplyToID)
	assert.Equal(t, question.ID, *reply.ReplyToID)
	require.NotNil(t, reply.ReplyTo)
	assert.Equal(t, "lunch?", *reply.ReplyTo.Text)
	assert.Equal(t, "alice", reply.ReplyTo.SenderName)

	_, err = f.svc.ReplyMessage(f.db, f.bob.UserID, dm.ID, 4040, "to nothing")
	assert.ErrorIs(t, err, apperrors.ErrReplyTargetNotFound)
}

func TestGetChatMessages_PagesNewestFirstInChronologicalOrder(t *testing.T) {
	f := newFixture(t, services.ChatConfig{})
	dm := f.direct(t, f.alice, f.bob)
	for _, text := range []string{"1", "2", "3", "4", "5"} {
		f.send(t, f.alice, dm.ID, text)
	}

	texts := func(page *dto.PageResponse[dto.MessageResponse]) []string {
		out := make([]string, 0, len(page.Data))
		for _, m := range page.Data {
			out = append(out, *m.Text)
		}
		return out
	}

	first, err := f.svc.GetChatMessages(f.db, f.bob.UserID, dm.ID, 1, 2)
	require.NoError(t, err)
	assert.EqualValues(t, 5, first.Total)
	assert.Equal(t, []string{"4", "5"}, texts(first))

	last, err := f.svc.GetChatMessages(f.db, f.bob.UserID, dm.ID, 3, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"1"}, texts(last))

	_, err = f.svc.GetChatMessages(f.db, f.carol.UserID, dm.ID, 1, 2)
	assert.ErrorIs(t, err, apperrors.ErrNotParticipant)
}

func TestEditMessage(t *testing.T) {
	f := newFixture(t, services.ChatConfig{})
	dm := f.direct(t, f.alice, f.bob)
	msg := f.send(t, f.alice, dm.ID, "helo")

	edited, err := f.svc.EditMessage(f.db, f.alice.UserID, msg.ID, "hello")
	require.NoError(t, err)
	assert.Equal(t, "hello", *edited.Text)
	assert.True(t, edited.IsEdited)
	assert.Equal(t, 1, edited.EditCount)
	assert.True(t, edited.UpdatedAt.After(msg.UpdatedAt))

	edited, err = f.svc.EditMessage(f.db, f.alice.UserID, msg.ID, "hello!")
	require.NoError(t, err)
	assert.Equal(t, 2, edited.EditCount)

	_, err = f.svc.EditMessage(f.db, f.bob.UserID, msg.ID, "hijack")
	assert.ErrorIs(t, err, apperrors.ErrNotMessageOwner)

	_, err = f.svc.EditMessage(f.db, f.alice.UserID, msg.ID, " ")
	assert.ErrorIs(t, err, apperrors.ErrEmptyMessage)

	_, err = f.svc.EditMessage(f.db, f.alice.UserID, 9999, "ghost")
	assert.ErrorIs(t, err, apperrors.ErrMessageNotFound)

	_, err = f.svc.DeleteMessage(f.db, f.alice.UserID, msg.ID)
	require.NoError(t, err)
	_, err = f.svc.EditMessage(f.db, f.alice.UserID, msg.ID, "resurrect")
	assert.ErrorIs(t, err, apperrors.ErrMessageDeleted)
}

func TestDeleteMessage_IsSoftAndIdempotent(t *testing.T) {
	f := newFixture(t, services.ChatConfig{})
	dm := f.direct(t, f.alice, f.bob)
	msg, err := f.svc.SendMessage(f.db, f.alice.UserID, dm.ID, &dto.SendMessageRequest{
		Text:      strPtr("look"),
		MediaURL:  strPtr("https://cdn.example.com/cat.png"),
		MediaType: strPtr("image"),
	})
	require.NoError(t, err)

	_, err = f.svc.DeleteMessage(f.db, f.bob.UserID, msg.ID)
	assert.ErrorIs(t, err, apperrors.ErrNotMessageOwner)

	deleted, err := f.svc.DeleteMessage(f.db, f.alice.UserID, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, msg.ID, deleted.ID)
	assert.True(t, deleted.IsDeleted)
	assert.Equal(t, chatmodels.DeletedPlaceholder, *deleted.Text)
	assert.Nil(t, deleted.MediaURL)
	require.NotNil(t, deleted.DeletedAt)

	again, err := f.svc.DeleteMessage(f.db, f.alice.UserID, msg.ID)
	require.NoError(t, err)
	assert.True(t, again.DeletedAt.Equal(*deleted.DeletedAt))

	page, err := f.svc.GetChatMessages(f.db, f.bob.UserID, dm.ID, 1, 10)
	require.NoError(t, err)
	require.Len(t, page.Data, 1)
	assert.True(t, page.Data[0].IsDeleted)
}

func TestForwardMessage(t *testing.T) {
	f := newFixture(t, services.ChatConfig{})
	src := f.direct(t, f.alice, f.bob)
	dst := f.group(t, f.bob, "Elsewhere", f.carol)
	original := f.send(t, f.alice, src.ID, "news")

	fwd, err := f.svc.ForwardMessage(f.db, f.bob.UserID, dst.ID, original.ID)
	require.NoError(t, err)
	assert.Equal(t, dst.ID, fwd.ChatID)
	assert.Equal(t, f.bob.ID, fwd.SenderID)
	assert.True(t, fwd.IsForwarded)
	assert.Equal(t, "news", *fwd.Text)
	assert.NotEqual(t, original.ID, fwd.ID)

	// Carol cannot see the source chat.
	_, err = f.svc.ForwardMessage(f.db, f.carol.UserID, dst.ID, original.ID)
	assert.ErrorIs(t, err, apperrors.ErrNotParticipant)

	_, err = f.svc.ForwardMessage(f.db, f.bob.UserID, dst.ID, 9999)
	assert.ErrorIs(t, err, apperrors.ErrMessageNotFound)

	_, err = f.svc.DeleteMessage(f.db, f.alice.UserID, original.ID)
	require.NoError(t, err)
	_, err = f.svc.ForwardMessage(f.db, f.bob.UserID, dst.ID, original.ID)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeInvalidOperation))
}

// --- receipts ---

func TestMarkRead_CursorIsMonotonic(t *testing.T) {
	f := newFixture(t, services.ChatConfig{})
	dm := f.direct(t, f.alice, f.bob)
	m1 := f.send(t, f.bob, dm.ID, "one")
	m2 := f.send(t, f.bob, dm.ID, "two")
	f.send(t, f.bob, dm.ID, "three")

	assert.EqualValues(t, 3, f.unread(t, f.alice, dm.ID))

	receipt, err := f.svc.MarkRead(f.db, f.alice.UserID, dm.ID, m2.ID)
	require.NoError(t, err)
	assert.True(t, receipt.Inserted)
	assert.Equal(t, f.alice.UserID, receipt.ReaderUserID)
	assert.EqualValues(t, 1, f.unread(t, f.alice, dm.ID))

	// Reading an older message records the receipt but keeps the cursor.
	receipt, err = f.svc.MarkRead(f.db, f.alice.UserID, dm.ID, m1.ID)
	require.NoError(t, err)
	assert.True(t, receipt.Inserted)
	assert.EqualValues(t, 1, f.unread(t, f.alice, dm.ID))

	participants, err := f.svc.GetParticipants(f.db, f.alice.UserID, dm.ID)
	require.NoError(t, err)
	for _, p := range participants {
		if p.ProfileID == f.alice.ID {
			require.NotNil(t, p.LastReadAt)
			assert.True(t, p.LastReadAt.Equal(m2.CreatedAt), "cursor %v, want %v", p.LastReadAt, m2.CreatedAt)
		}
	}
}

func TestMarkRead_IsIdempotent(t *testing.T) {
	f := newFixture(t, services.ChatConfig{})
	dm := f.direct(t, f.alice, f.bob)
	msg := f.send(t, f.bob, dm.ID, "hi")

	first, err := f.svc.MarkRead(f.db, f.alice.UserID, dm.ID, msg.ID)
	require.NoError(t, err)
	assert.True(t, first.Inserted)

	second, err := f.svc.MarkRead(f.db, f.alice.UserID, dm.ID, msg.ID)
	require.NoError(t, err)
	assert.False(t, second.Inserted)

	var reads int64
	require.NoError(t, f.db.Model(&chatmodels.MessageRead{}).
		Where("message_id = ? AND reader_id = ?", msg.ID, f.alice.ID).Count(&reads).Error)
	assert.EqualValues(t, 1, reads)

	// Own messages are never re-marked.
	own, err := f.svc.MarkRead(f.db, f.bob.UserID, dm.ID, msg.ID)
	require.NoError(t, err)
	assert.False(t, own.Inserted)
}

func TestMarkRead_Errors(t *testing.T) {
	f := newFixture(t, services.ChatConfig{})
	dm := f.direct(t, f.alice, f.bob)
	other := f.direct(t, f.alice, f.carol)
	msg := f.send(t, f.bob, dm.ID, "hi")

	_, err := f.svc.MarkRead(f.db, f.alice.UserID, other.ID, msg.ID)
	assert.ErrorIs(t, err, apperrors.ErrMessageNotFound)

	_, err = f.svc.MarkRead(f.db, f.carol.UserID, dm.ID, msg.ID)
	assert.ErrorIs(t, err, apperrors.ErrNotParticipant)

	_, err = f.svc.MarkRead(f.db, f.alice.UserID, dm.ID, 12345)
	assert.ErrorIs(t, err, apperrors.ErrMessageNotFound)
}

func TestMarkAllRead(t *testing.T) {
	f := newFixture(t, services.ChatConfig{})
	grp := f.group(t, f.alice, "Busy", f.bob, f.carol)
	f.send(t, f.bob, grp.ID, "b1")
	f.send(t, f.carol, grp.ID, "c1")
	f.send(t, f.alice, grp.ID, "a1")
	f.send(t, f.bob, grp.ID, "b2")

	// alice's own message advanced her cursor past b1 and c1.
	assert.EqualValues(t, 1, f.unread(t, f.alice, grp.ID))
	assert.EqualValues(t, 3, f.unread(t, f.carol, grp.ID))

	result, err := f.svc.MarkAllRead(f.db, f.carol.UserID, grp.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, result.Count)
	assert.Equal(t, f.carol.UserID, result.ReaderUserID)
	assert.Zero(t, f.unread(t, f.carol, grp.ID))

	result, err = f.svc.MarkAllRead(f.db, f.carol.UserID, grp.ID)
	require.NoError(t, err)
	assert.Zero(t, result.Count)

	_, err = f.svc.MarkAllRead(f.db, 999, grp.ID)
	assert.ErrorIs(t, err, apperrors.ErrProfileNotFound)
}

func TestGetUnreadCount_NonParticipantIsZero(t *testing.T) {
	f := newFixture(t, services.ChatConfig{})
	dm := f.direct(t, f.alice, f.bob)
	f.send(t, f.alice, dm.ID, "secret")

	assert.Zero(t, f.unread(t, f.carol, dm.ID))
}

func TestMarkLatestRead(t *testing.T) {
	f := newFixture(t, services.ChatConfig{})
	dm := f.direct(t, f.alice, f.bob)

	receipt, err := f.svc.MarkLatestRead(f.db, f.alice.UserID, dm.ID)
	require.NoError(t, err)
	assert.Nil(t, receipt, "empty chat")

	f.send(t, f.alice, dm.ID, "mine")
	receipt, err = f.svc.MarkLatestRead(f.db, f.alice.UserID, dm.ID)
	require.NoError(t, err)
	assert.Nil(t, receipt, "own message")

	last := f.send(t, f.bob, dm.ID, "theirs")
	receipt, err = f.svc.MarkLatestRead(f.db, f.alice.UserID, dm.ID)
	require.NoError(t, err)
	require.NotNil(t, receipt)
	assert.Equal(t, last.ID, receipt.MessageID)
	assert.Zero(t, f.unread(t, f.alice, dm.ID))

	_, err = f.svc.MarkLatestRead(f.db, f.carol.UserID, dm.ID)
	assert.ErrorIs(t, err, apperrors.ErrNotParticipant)
}

func TestMarkDelivered(t *testing.T) {
	f := newFixture(t, services.ChatConfig{})
	dm := f.direct(t, f.alice, f.bob)
	msg := f.send(t, f.alice, dm.ID, "knock")
	assert.False(t, msg.IsDelivered)

	// The sender's own ack does not flip the flag.
	_, err := f.svc.MarkDelivered(f.db, f.alice.UserID, dm.ID, msg.ID)
	require.NoError(t, err)

	receipt, err := f.svc.MarkDelivered(f.db, f.bob.UserID, dm.ID, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, f.alice.UserID, receipt.SenderUserID)
	assert.Equal(t, f.bob.UserID, receipt.UserID)

	page, err := f.svc.GetChatMessages(f.db, f.alice.UserID, dm.ID, 1, 10)
	require.NoError(t, err)
	require.Len(t, page.Data, 1)
	assert.True(t, page.Data[0].IsDelivered)
}
