package repository

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/noah-isme/teamhub-realtime/internal/models"
)

func setupTestDB(t *testing.T, models ...interface{}) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(models...))
	return db
}

func seedMessages(t *testing.T, db *gorm.DB, roomType models.RoomType, roomID string, n int, base time.Time) []models.ChatMessage {
	t.Helper()
	out := make([]models.ChatMessage, 0, n)
	for i := 0; i < n; i++ {
		message := models.ChatMessage{
			Content:     fmt.Sprintf("message %d", i),
			RoomID:      roomID,
			RoomType:    roomType,
			MessageType: models.MessageTypeMessage,
			AuthorID:    "u1",
			AuthorName:  "Ana",
			// Pairs share a timestamp so ordering must fall back to id.
			CreatedAt: base.Add(time.Duration(i/2) * time.Second),
		}
		require.NoError(t, db.Create(&message).Error)
		out = append(out, message)
	}
	return out
}

func TestChatRepositoryPaginatesBackwardsWithoutGapsOrOverlap(t *testing.T) {
	db := setupTestDB(t, &models.ChatMessage{})
	repo := NewChatRepository(db)
	ctx := context.Background()

	seeded := seedMessages(t, db, models.RoomTypeTask, "42", 7, time.Now().Add(-time.Hour))
	seedMessages(t, db, models.RoomTypeTeam, "42", 3, time.Now().Add(-time.Hour))

	var collected []models.ChatMessage
	for offset := 0; ; offset += 3 {
		page, err := repo.ListByRoom(ctx, models.RoomTypeTask, "42", 3, offset)
		require.NoError(t, err)
		if len(page) == 0 {
			break
		}
		for i := 1; i < len(page); i++ {
			require.Less(t, page[i-1].ID, page[i].ID, "page must be ascending")
		}
		collected = append(page, collected...)
	}

	require.Len(t, collected, len(seeded))
	for i := range seeded {
		require.Equal(t, seeded[i].ID, collected[i].ID)
	}
}

func TestChatRepositoryNewestFirstWindow(t *testing.T) {
	db := setupTestDB(t, &models.ChatMessage{})
	repo := NewChatRepository(db)
	ctx := context.Background()

	seeded := seedMessages(t, db, models.RoomTypeTeam, "1", 5, time.Now())

	latest, err := repo.ListByRoom(ctx, models.RoomTypeTeam, "1", 1, 0)
	require.NoError(t, err)
	require.Len(t, latest, 1)
	require.Equal(t, seeded[4].ID, latest[0].ID)

	all, err := repo.ListByRoom(ctx, models.RoomTypeTeam, "1", 0, 0)
	require.NoError(t, err)
	require.Len(t, all, 5)

	count, err := repo.CountByRoom(ctx, models.RoomTypeTeam, "1")
	require.NoError(t, err)
	require.Equal(t, int64(5), count)
}

func TestChatRepositoryDeleteOlderThan(t *testing.T) {
	db := setupTestDB(t, &models.ChatMessage{})
	repo := NewChatRepository(db)
	ctx := context.Background()

	seedMessages(t, db, models.RoomTypeTask, "9", 2, time.Now().Add(-48*time.Hour))
	seedMessages(t, db, models.RoomTypeTask, "9", 2, time.Now())

	deleted, err := repo.DeleteOlderThan(ctx, time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	require.Equal(t, int64(2), deleted)

	count, err := repo.CountByRoom(ctx, models.RoomTypeTask, "9")
	require.NoError(t, err)
	require.Equal(t, int64(2), count)
}

func TestNotificationRepositoryPagingAndReadState(t *testing.T) {
	db := setupTestDB(t, &models.Notification{})
	repo := NewNotificationRepository(db)
	ctx := context.Background()

	batch := make([]models.Notification, 0, 5)
	for i := 0; i < 5; i++ {
		batch = append(batch, models.Notification{
			Type:         "MENTION",
			Title:        fmt.Sprintf("title %d", i),
			Message:      "hello",
			TargetUserID: "u1",
		})
	}
	require.NoError(t, repo.CreateBatch(ctx, batch))
	require.NoError(t, repo.Create(ctx, &models.Notification{Type: "MENTION", Title: "other", TargetUserID: "u2"}))

	items, total, err := repo.FindPage(ctx, NotificationFilter{UserID: "u1", Page: 2, PageSize: 2})
	require.NoError(t, err)
	require.Equal(t, int64(5), total)
	require.Len(t, items, 2)

	var first models.Notification
	require.NoError(t, db.Where("target_user_id = ?", "u1").Order("id ASC").First(&first).Error)

	updated, err := repo.MarkRead(ctx, first.ID, "u1")
	require.NoError(t, err)
	require.NotNil(t, updated)
	require.True(t, updated.Read)

	again, err := repo.MarkRead(ctx, first.ID, "u1")
	require.NoError(t, err)
	require.True(t, again.Read)

	missing, err := repo.MarkRead(ctx, 9999, "u1")
	require.NoError(t, err)
	require.Nil(t, missing)

	foreign, err := repo.MarkRead(ctx, first.ID, "u2")
	require.NoError(t, err)
	require.Nil(t, foreign)

	unread, total, err := repo.FindPage(ctx, NotificationFilter{UserID: "u1", UnreadOnly: true})
	require.NoError(t, err)
	require.Equal(t, int64(4), total)
	require.Len(t, unread, 4)

	flipped, err := repo.MarkAllRead(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, int64(4), flipped)

	count, err := repo.UnreadCount(ctx, "u1")
	require.NoError(t, err)
	require.Zero(t, count)

	flipped, err = repo.MarkAllRead(ctx, "u1")
	require.NoError(t, err)
	require.Zero(t, flipped)

	otherCount, err := repo.UnreadCount(ctx, "u2")
	require.NoError(t, err)
	require.Equal(t, int64(1), otherCount)
}

func TestMemberRepositoryUpsertAndOrder(t *testing.T) {
	db := setupTestDB(t, &models.RoomMember{})
	repo := NewMemberRepository(db)
	ctx := context.Background()

	require.NoError(t, repo.Upsert(ctx, &models.RoomMember{RoomType: models.RoomTypeTeam, RoomID: "1", UserID: "u2", Name: "Bo", Position: 2}))
	require.NoError(t, repo.Upsert(ctx, &models.RoomMember{RoomType: models.RoomTypeTeam, RoomID: "1", UserID: "u1", Name: "Ana", Position: 1}))
	require.NoError(t, repo.Upsert(ctx, &models.RoomMember{RoomType: models.RoomTypeTeam, RoomID: "1", UserID: "u2", Name: "Bob", Email: "bob@example.com", Position: 2}))
	require.NoError(t, repo.Upsert(ctx, &models.RoomMember{RoomType: models.RoomTypeTask, RoomID: "1", UserID: "u3", Name: "Cy"}))

	members, err := repo.ListByRoom(ctx, models.RoomTypeTeam, "1")
	require.NoError(t, err)
	require.Len(t, members, 2)
	require.Equal(t, "u1", members[0].UserID)
	require.Equal(t, "Bob", members[1].Name)
	require.Equal(t, "bob@example.com", members[1].Email)
}
