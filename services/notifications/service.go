package notifications

import (
	"context"
	"errors"
	"time"

	"sekolah_absenku/models"
	"sekolah_absenku/utils"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// ErrNotFound is returned when a notification does not belong to the user.
var ErrNotFound = errors.New("notification not found")

var validTypes = map[string]bool{"info": true, "success": true, "warning": true, "error": true}

// WSHub interface for WebSocket broadcasting
type WSHub interface {
	BroadcastToUser(userID uint, message interface{})
}

// Service stores notifications and pushes them over websocket and LINE.
type Service struct {
	db   *gorm.DB
	hub  WSHub
	line LinePusher
}

// NewService builds a service; hub and line may be nil.
func NewService(db *gorm.DB, hub WSHub, line LinePusher) *Service {
	return &Service{db: db, hub: hub, line: line}
}

// Notify creates one notification per user and pushes it to any open
// connections. LINE delivery is best effort.
func (s *Service) Notify(ctx context.Context, userIDs []uint, title, message, kind string) error {
	if len(userIDs) == 0 {
		return nil
	}
	if !validTypes[kind] {
		kind = "info"
	}

	notifs := make([]models.Notification, 0, len(userIDs))
	for _, uid := range userIDs {
		notifs = append(notifs, models.Notification{
			UserID:  uid,
			Title:   title,
			Message: message,
			Type:    kind,
		})
	}
	if err := s.db.WithContext(ctx).Create(&notifs).Error; err != nil {
		return err
	}

	if s.hub != nil {
		for _, n := range notifs {
			s.hub.BroadcastToUser(n.UserID, map[string]interface{}{
				"type": "notification",
				"data": n,
			})
		}
	}
	s.pushLine(ctx, userIDs, title, message)
	return nil
}

func (s *Service) pushLine(ctx context.Context, userIDs []uint, title, message string) {
	if s.line == nil || !s.line.Enabled() {
		return
	}
	var recipients []string
	err := s.db.WithContext(ctx).Model(&models.User{}).
		Where("id IN ? AND line_id <> ''", userIDs).
		Pluck("line_id", &recipients).Error
	if err != nil {
		logrus.WithError(err).Warn("Failed to load LINE recipients")
		return
	}
	text := title + "\n" + message
	for _, to := range recipients {
		if err := s.line.PushText(to, text); err != nil {
			logrus.WithError(err).WithField("line_id", to).Warn("LINE push failed")
		}
	}
}

// Announce notifies every active user with the given role, or everyone
// when role is empty, and returns the number of recipients.
func (s *Service) Announce(ctx context.Context, role, title, message, kind string) (int, error) {
	query := s.db.WithContext(ctx).Model(&models.User{}).Where("status = ?", models.UserActive)
	if role != "" {
		query = query.Where("role = ?", role)
	}
	var ids []uint
	if err := query.Pluck("id", &ids).Error; err != nil {
		return 0, err
	}
	return len(ids), s.Notify(ctx, ids, title, message, kind)
}

// List returns the user's notifications, newest first.
func (s *Service) List(ctx context.Context, userID uint, unreadOnly bool, page utils.Pagination) ([]models.Notification, int64, error) {
	query := s.db.WithContext(ctx).Model(&models.Notification{}).Where("user_id = ?", userID)
	if unreadOnly {
		query = query.Where("`read` = ?", false)
	}
	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var notifs []models.Notification
	err := query.Order("created_at DESC, id DESC").Offset(page.Offset()).Limit(page.Limit).Find(&notifs).Error
	return notifs, total, err
}

func (s *Service) UnreadCount(ctx context.Context, userID uint) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.Notification{}).
		Where("user_id = ? AND `read` = ?", userID, false).
		Count(&count).Error
	return count, err
}

// MarkRead marks one of the user's notifications as read.
func (s *Service) MarkRead(ctx context.Context, userID, id uint) error {
	db := s.db.WithContext(ctx)
	var n models.Notification
	if err := db.Where("id = ? AND user_id = ?", id, userID).First(&n).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		return err
	}
	if n.Read {
		return nil
	}
	return db.Model(&n).Updates(map[string]interface{}{"read": true, "read_at": time.Now()}).Error
}

// MarkAllRead marks every unread notification of the user and returns how many changed.
func (s *Service) MarkAllRead(ctx context.Context, userID uint) (int64, error) {
	res := s.db.WithContext(ctx).Model(&models.Notification{}).
		Where("user_id = ? AND `read` = ?", userID, false).
		Updates(map[string]interface{}{"read": true, "read_at": time.Now()})
	return res.RowsAffected, res.Error
}
