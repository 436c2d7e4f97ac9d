package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
	"nexuschat/pkg/domain"
)

const migrateLockID int64 = 61830417

const (
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
	DriverMemory   = "memory"
)

// GormStore implements Store using GORM on Postgres or MySQL.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB for driver and runs auto-migrations.
func NewGormStore(driver, dsn string) (*GormStore, error) {
	dialector, err := dialectorFor(driver, dsn)
	if err != nil {
		return nil, err
	}
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(dialector, &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := withMigrationLock(db, func(tx *gorm.DB) error {
		if err := tx.AutoMigrate(&UserModel{}, &MessageModel{}); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
}

func dialectorFor(driver, dsn string) (gorm.Dialector, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("database URL required")
	}
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", DriverPostgres:
		return postgres.Open(dsn), nil
	case DriverMySQL:
		return mysql.Open(dsn), nil
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", driver)
	}
}

// withMigrationLock serializes migrations across replicas. Only Postgres has
// advisory locks; other dialects migrate directly.
func withMigrationLock(db *gorm.DB, fn func(*gorm.DB) error) error {
	if db.Dialector.Name() != DriverPostgres {
		return fn(db)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if err := execAdvisory(ctx, conn, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_ = execAdvisory(ctx, conn, "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(db)
}

func execAdvisory(ctx context.Context, conn *sql.Conn, query string, lockID int64) error {
	_, err := conn.ExecContext(ctx, query, lockID)
	return err
}

// SaveUser inserts or updates a user.
func (s *GormStore) SaveUser(ctx context.Context, u domain.User) (domain.User, error) {
	model := userToModel(u)
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"username", "email", "password"}),
	}).Create(&model).Error
	if err != nil {
		return domain.User{}, err
	}
	return userFromModel(model), nil
}

// GetUserByID returns a user by ID.
func (s *GormStore) GetUserByID(ctx context.Context, id int64) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// ListUsers returns all users ordered by id.
func (s *GormStore) ListUsers(ctx context.Context) ([]domain.User, error) {
	var models []UserModel
	if err := s.db.WithContext(ctx).Order("id ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.User, 0, len(models))
	for _, m := range models {
		res = append(res, userFromModel(m))
	}
	return res, nil
}

// SaveMessage records a message and returns it with its generated ID.
func (s *GormStore) SaveMessage(ctx context.Context, msg domain.Message) (domain.Message, error) {
	model := messageToModel(msg)
	model.ID = 0
	if err := s.db.WithContext(ctx).Create(&model).Error; err != nil {
		return domain.Message{}, err
	}
	return messageFromModel(model), nil
}

// CountUnread counts unread messages from senderID to receiverID.
func (s *GormStore) CountUnread(ctx context.Context, senderID, receiverID int64) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&MessageModel{}).
		Where("sender_id = ? AND receiver_id = ? AND is_read = ?", senderID, receiverID, false).
		Count(&count).Error
	if err != nil {
		return 0, err
	}
	return count, nil
}

// History returns the full conversation between a and b in timestamp order.
func (s *GormStore) History(ctx context.Context, a, b int64) ([]domain.Message, error) {
	var models []MessageModel
	err := s.db.WithContext(ctx).
		Where("(sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?)", a, b, b, a).
		Order(clause.OrderByColumn{Column: clause.Column{Name: "timestamp"}}).
		Order(clause.OrderByColumn{Column: clause.Column{Name: "id"}}).
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	msgs := make([]domain.Message, 0, len(models))
	for _, m := range models {
		msgs = append(msgs, messageFromModel(m))
	}
	return msgs, nil
}

// MarkRead flags unread messages from senderID to receiverID as read.
func (s *GormStore) MarkRead(ctx context.Context, senderID, receiverID int64) (int64, error) {
	res := s.db.WithContext(ctx).Model(&MessageModel{}).
		Where("sender_id = ? AND receiver_id = ? AND is_read = ?", senderID, receiverID, false).
		Update("is_read", true)
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

// UnreadSummary counts unread messages per sender for receiverID, listing
// every other user even when the count is zero.
func (s *GormStore) UnreadSummary(ctx context.Context, receiverID int64) ([]domain.UnreadCount, error) {
	var rows []unreadRow
	err := s.db.WithContext(ctx).Model(&UserModel{}).
		Select("users.id AS id, users.username AS username, COUNT(messages.id) AS unread_count").
		Joins("LEFT JOIN messages ON messages.sender_id = users.id AND messages.receiver_id = ? AND messages.is_read = ?", receiverID, false).
		Where("users.id <> ?", receiverID).
		Group("users.id, users.username").
		Order("users.id ASC").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]domain.UnreadCount, 0, len(rows))
	for _, row := range rows {
		out = append(out, domain.UnreadCount{
			SenderID: row.ID,
			Username: row.Username,
			Count:    row.UnreadCount,
		})
	}
	return out, nil
}

func userToModel(u domain.User) UserModel {
	return UserModel{
		ID:           u.ID,
		Username:     u.Username,
		Email:        u.Email,
		PasswordHash: u.PasswordHash,
	}
}

func userFromModel(m UserModel) domain.User {
	return domain.User{
		ID:           m.ID,
		Username:     m.Username,
		Email:        m.Email,
		PasswordHash: m.PasswordHash,
	}
}

func messageToModel(msg domain.Message) MessageModel {
	return MessageModel{
		ID:         msg.ID,
		SenderID:   msg.SenderID,
		ReceiverID: msg.ReceiverID,
		Content:    msg.Content,
		Timestamp:  msg.Timestamp.UTC(),
		IsRead:     msg.IsRead,
	}
}

func messageFromModel(m MessageModel) domain.Message {
	return domain.Message{
		ID:         m.ID,
		SenderID:   m.SenderID,
		ReceiverID: m.ReceiverID,
		Content:    m.Content,
		Timestamp:  m.Timestamp.UTC(),
		IsRead:     m.IsRead,
	}
}

// Close releases the underlying connection pool.
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
