package notifications

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"sekolah_absenku/models"
	"sekolah_absenku/utils"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const (
	linkCodePrefix = "line:link:"
	linkCodeTTL    = 10 * time.Minute
)

var (
	// ErrLinkUnavailable is returned when no Redis client is configured.
	ErrLinkUnavailable = errors.New("LINE account linking requires redis")
	// ErrLinkCode is returned for unknown or expired codes.
	ErrLinkCode = errors.New("link code is invalid or expired")
)

// LineLinker connects a LINE user id to an account. The user asks the API
// for a short code and sends "LINK <code>" to the official account.
type LineLinker struct {
	db  *gorm.DB
	rdb *redis.Client
}

func NewLineLinker(db *gorm.DB, rdb *redis.Client) *LineLinker {
	return &LineLinker{db: db, rdb: rdb}
}

// IssueCode creates a one-time code for userID.
func (l *LineLinker) IssueCode(ctx context.Context, userID uint) (string, time.Time, error) {
	if l.rdb == nil {
		return "", time.Time{}, ErrLinkUnavailable
	}
	code, err := utils.GenerateRandomString(8)
	if err != nil {
		return "", time.Time{}, err
	}
	code = strings.ToUpper(code)
	if err := l.rdb.Set(ctx, linkCodePrefix+code, userID, linkCodeTTL).Err(); err != nil {
		return "", time.Time{}, fmt.Errorf("store link code: %w", err)
	}
	return code, time.Now().Add(linkCodeTTL), nil
}

// Link consumes code and stores lineUserID on the account it was issued for.
func (l *LineLinker) Link(ctx context.Context, code, lineUserID string) (*models.User, error) {
	if l.rdb == nil {
		return nil, ErrLinkUnavailable
	}
	key := linkCodePrefix + strings.ToUpper(strings.TrimSpace(code))
	raw, err := l.rdb.GetDel(ctx, key).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrLinkCode
		}
		return nil, fmt.Errorf("read link code: %w", err)
	}
	userID, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return nil, ErrLinkCode
	}

	var user models.User
	db := l.db.WithContext(ctx)
	if err := db.First(&user, uint(userID)).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrLinkCode
		}
		return nil, err
	}
	if err := db.Model(&user).Update("line_id", lineUserID).Error; err != nil {
		return nil, err
	}
	logrus.WithField("user_id", user.ID).Info("LINE account linked")
	return &user, nil
}

// Unlink clears the stored LINE id.
func (l *LineLinker) Unlink(ctx context.Context, userID uint) error {
	return l.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", userID).Update("line_id", "").Error
}

// ParseLinkCommand extracts the code from "LINK <code>" messages.
func ParseLinkCommand(text string) (string, bool) {
	fields := strings.Fields(text)
	if len(fields) != 2 || !strings.EqualFold(fields[0], "link") {
		return "", false
	}
	return fields[1], true
}
