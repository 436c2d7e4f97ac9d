package store

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
	"nexuschat/pkg/domain"
)

func newMockStore(t *testing.T) (*GormStore, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })
	gdb, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	return &GormStore{db: gdb}, mock
}

func TestGormStoreCountUnread(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(`SELECT count\(\*\) FROM "messages" WHERE sender_id = \$1 AND receiver_id = \$2 AND is_read = \$3`).
		WithArgs(int64(1), int64(2), false).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))

	n, err := s.CountUnread(context.Background(), 1, 2)
	require.NoError(t, err)
	require.Equal(t, int64(3), n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGormStoreHistoryReturnsBothDirections(t *testing.T) {
	s, mock := newMockStore(t)
	t0 := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{"id", "sender_id", "receiver_id", "content", "timestamp", "is_read"}).
		AddRow(int64(1), int64(1), int64(2), "hi", t0, true).
		AddRow(int64(2), int64(2), int64(1), "hey", t0.Add(time.Second), false)
	mock.ExpectQuery(`SELECT \* FROM "messages" WHERE \(sender_id = \$1 AND receiver_id = \$2\) OR \(sender_id = \$3 AND receiver_id = \$4\) ORDER BY "timestamp","id"`).
		WithArgs(int64(1), int64(2), int64(2), int64(1)).
		WillReturnRows(rows)

	msgs, err := s.History(context.Background(), 1, 2)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	require.Equal(t, "hi", msgs[0].Content)
	require.True(t, msgs[0].IsRead)
	require.Equal(t, int64(2), msgs[1].SenderID)
	require.True(t, msgs[1].Timestamp.After(msgs[0].Timestamp))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGormStoreSaveMessageReturnsGeneratedID(t *testing.T) {
	s, mock := newMockStore(t)
	ts := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO "messages" \("sender_id","receiver_id","content","timestamp","is_read"\) VALUES \(\$1,\$2,\$3,\$4,\$5\) RETURNING "id"`).
		WithArgs(int64(1), int64(2), "hello", ts, false).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(17)))
	mock.ExpectCommit()

	saved, err := s.SaveMessage(context.Background(), domain.Message{ID: 99, SenderID: 1, ReceiverID: 2, Content: "hello", Timestamp: ts})
	require.NoError(t, err)
	require.Equal(t, int64(17), saved.ID, "caller supplied id is ignored")
	require.Equal(t, "hello", saved.Content)
	require.False(t, saved.IsRead)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGormStoreMarkRead(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE "messages" SET "is_read"=\$1 WHERE sender_id = \$2 AND receiver_id = \$3 AND is_read = \$4`).
		WithArgs(true, int64(2), int64(1), false).
		WillReturnResult(sqlmock.NewResult(0, 4))
	mock.ExpectCommit()

	n, err := s.MarkRead(context.Background(), 2, 1)
	require.NoError(t, err)
	require.Equal(t, int64(4), n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGormStoreUnreadSummary(t *testing.T) {
	s, mock := newMockStore(t)
	rows := sqlmock.NewRows([]string{"id", "username", "unread_count"}).
		AddRow(int64(1), "alice", int64(0)).
		AddRow(int64(3), "carol", int64(2))
	mock.ExpectQuery(`LEFT JOIN messages ON messages.sender_id = users.id AND messages.receiver_id = \$1 AND messages.is_read = \$2 WHERE users.id <> \$3 GROUP BY users.id, users.username`).
		WithArgs(int64(2), false, int64(2)).
		WillReturnRows(rows)

	summary, err := s.UnreadSummary(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, summary, 2)
	require.Equal(t, "alice", summary[0].Username)
	require.Equal(t, int64(0), summary[0].Count)
	require.Equal(t, int64(3), summary[1].SenderID)
	require.Equal(t, int64(2), summary[1].Count)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGormStoreGetUserByIDMissing(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(`SELECT \* FROM "users" WHERE id = \$1`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "username", "email", "password"}))

	_, ok, err := s.GetUserByID(context.Background(), 42)
	require.NoError(t, err)
	require.False(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDialectorForRejectsUnknownDriver(t *testing.T) {
	_, err := dialectorFor("sqlite", "file::memory:")
	require.Error(t, err)
	_, err = dialectorFor(DriverPostgres, " ")
	require.Error(t, err)
	d, err := dialectorFor(DriverMySQL, "user:pass@tcp(localhost:3306)/chat")
	require.NoError(t, err)
	require.Equal(t, "mysql", d.Name())
}
