package services

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"sekolah_absenku/models"
	"sekolah_absenku/utils"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const (
	logQueueKey     = "logs:queue"
	logCacheTTL     = 24 * time.Hour
	minArchiveDays  = 7
	archiveBatchLen = 1000
)

// ArchiveUploader puts archive files into object storage.
type ArchiveUploader interface {
	Upload(ctx context.Context, key, contentType string, data []byte) error
}

// S3ArchiveUploader uploads archives with the v2 AWS SDK.
type S3ArchiveUploader struct {
	client *s3.Client
	bucket string
}

// NewS3ArchiveUploader loads the default AWS config for region.
func NewS3ArchiveUploader(ctx context.Context, region, bucket string) (*S3ArchiveUploader, error) {
	cfg, err := awscfg.LoadDefaultConfig(ctx, awscfg.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	return &S3ArchiveUploader{client: s3.NewFromConfig(cfg), bucket: bucket}, nil
}

func (u *S3ArchiveUploader) Upload(ctx context.Context, key, contentType string, data []byte) error {
	_, err := u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(u.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	return err
}

// ActivityLogFilter narrows List.
type ActivityLogFilter struct {
	UserID   uint
	Action   string
	Resource string
	From     string
	To       string
}

// ActivityLogService records the audit trail. Entries are queued in Redis
// when available and flushed to the database by a scheduled job.
type ActivityLogService struct {
	db       *gorm.DB
	redis    *redis.Client
	uploader ArchiveUploader
	now      func() time.Time
}

// NewActivityLogService builds the service; redis and uploader may be nil.
func NewActivityLogService(db *gorm.DB, rdb *redis.Client, uploader ArchiveUploader) *ActivityLogService {
	return &ActivityLogService{db: db, redis: rdb, uploader: uploader, now: time.Now}
}

// Record queues an entry in Redis, writing it straight to the database
// when Redis is unavailable.
func (s *ActivityLogService) Record(ctx context.Context, entry models.ActivityLog) {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = s.now()
	}
	if err := s.cache(ctx, entry); err != nil {
		if s.redis != nil {
			logrus.WithError(err).Warn("Failed to cache activity log, saving directly to database")
		}
		if dbErr := s.db.WithContext(ctx).Create(&entry).Error; dbErr != nil {
			logrus.WithError(dbErr).Error("Failed to save activity log to database")
		}
	}
}

func (s *ActivityLogService) cache(ctx context.Context, entry models.ActivityLog) error {
	if s.redis == nil {
		return fmt.Errorf("redis client is nil")
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal log: %w", err)
	}
	key := fmt.Sprintf("log:%d:%s:%d", entry.UserID, entry.Action, entry.CreatedAt.UnixNano())
	if err := s.redis.Set(ctx, key, data, logCacheTTL).Err(); err != nil {
		return fmt.Errorf("cache log: %w", err)
	}
	return s.redis.ZAdd(ctx, logQueueKey, &redis.Z{
		Score:  float64(entry.CreatedAt.Unix()),
		Member: key,
	}).Err()
}

// FlushCached moves every queued entry into the database and returns how
// many were written.
func (s *ActivityLogService) FlushCached(ctx context.Context) (int, error) {
	if s.redis == nil {
		return 0, nil
	}
	keys, err := s.redis.ZRangeByScore(ctx, logQueueKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(s.now().Unix(), 10),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("read log queue: %w", err)
	}

	var flushed, failed int
	for _, key := range keys {
		raw, err := s.redis.Get(ctx, key).Bytes()
		if err != nil {
			if err == redis.Nil {
				// expired before the flush; drop the dangling queue entry
				s.redis.ZRem(ctx, logQueueKey, key)
			} else {
				failed++
			}
			continue
		}
		var entry models.ActivityLog
		if err := json.Unmarshal(raw, &entry); err != nil {
			logrus.WithError(err).WithField("key", key).Error("Failed to decode cached log")
			s.redis.ZRem(ctx, logQueueKey, key)
			failed++
			continue
		}
		entry.ID = 0
		if err := s.db.WithContext(ctx).Create(&entry).Error; err != nil {
			logrus.WithError(err).WithField("key", key).Error("Failed to save cached log")
			failed++
			continue
		}
		pipe := s.redis.Pipeline()
		pipe.Del(ctx, key)
		pipe.ZRem(ctx, logQueueKey, key)
		if _, err := pipe.Exec(ctx); err != nil {
			logrus.WithError(err).WithField("key", key).Warn("Failed to remove flushed log from cache")
		}
		flushed++
	}
	if len(keys) > 0 {
		logrus.WithFields(logrus.Fields{"flushed": flushed, "errors": failed}).Info("Flushed cached activity logs")
	}
	return flushed, nil
}

// ErrArchiveUnavailable is returned by Archive when no uploader is configured.
var ErrArchiveUnavailable = errors.New("log archiving is not configured")

// Archive moves logs older than daysOld into object storage, one zip per
// calendar day (UTC), and removes them from the database.
func (s *ActivityLogService) Archive(ctx context.Context, daysOld int) ([]models.LogArchive, error) {
	if daysOld < minArchiveDays {
		return nil, invalid("minimum archive age is %d days", minArchiveDays)
	}
	if s.uploader == nil {
		return nil, ErrArchiveUnavailable
	}
	cutoff := s.now().UTC().AddDate(0, 0, -daysOld)
	db := s.db.WithContext(ctx)

	var logs []models.ActivityLog
	for offset := 0; ; offset += archiveBatchLen {
		var batch []models.ActivityLog
		err := db.Where("created_at < ?", cutoff).Order("id ASC").
			Limit(archiveBatchLen).Offset(offset).
			Find(&batch).Error
		if err != nil {
			return nil, internal("load logs for archive", err)
		}
		logs = append(logs, batch...)
		if len(batch) < archiveBatchLen {
			break
		}
	}

	byDay := map[string][]models.ActivityLog{}
	for _, l := range logs {
		day := l.CreatedAt.UTC().Format(utils.DateLayout)
		byDay[day] = append(byDay[day], l)
	}
	days := make([]string, 0, len(byDay))
	for day := range byDay {
		days = append(days, day)
	}
	sort.Strings(days)

	archives := make([]models.LogArchive, 0, len(days))
	for _, day := range days {
		archive, err := s.archiveDay(ctx, day, byDay[day], cutoff)
		if err != nil {
			return archives, err
		}
		archives = append(archives, *archive)
	}
	return archives, nil
}

func (s *ActivityLogService) archiveDay(ctx context.Context, day string, logs []models.ActivityLog, cutoff time.Time) (*models.LogArchive, error) {
	start, err := utils.ParseDate(day)
	if err != nil {
		return nil, internal("parse archive day", err)
	}
	end := start.AddDate(0, 0, 1)
	if end.After(cutoff) {
		end = cutoff
	}

	name := fmt.Sprintf("activity_logs_%s.zip", day)
	data, err := zipLogs(logs, name)
	if err != nil {
		return nil, internal("zip activity logs", err)
	}
	key := fmt.Sprintf("logs/archived/%d/%02d/%s", start.Year(), start.Month(), name)
	if err := s.uploader.Upload(ctx, key, "application/zip", data); err != nil {
		return nil, internal("upload log archive", err)
	}

	archive := models.LogArchive{
		FileName:    name,
		S3Key:       key,
		EndDate:     end,
		RecordCount: len(logs),
		FileSize:    int64(len(data)),
		Status:      "completed",
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Where("created_at >= ? AND created_at < ? AND id <= ?", start, end, logs[len(logs)-1].ID).
			Delete(&models.ActivityLog{}).Error
		if err != nil {
			return err
		}
		return tx.Create(&archive).Error
	})
	if err != nil {
		return nil, internal("finish log archive", err)
	}
	logrus.WithFields(logrus.Fields{"records": len(logs), "key": key}).Info("Archived activity logs")
	return &archive, nil
}

// List returns audit entries newest first.
func (s *ActivityLogService) List(ctx context.Context, f ActivityLogFilter, page utils.Pagination) ([]models.ActivityLog, int64, error) {
	query := s.db.WithContext(ctx).Model(&models.ActivityLog{})
	if f.UserID != 0 {
		query = query.Where("user_id = ?", f.UserID)
	}
	if f.Action != "" {
		query = query.Where("action = ?", f.Action)
	}
	if f.Resource != "" {
		query = query.Where("resource = ?", f.Resource)
	}
	if f.From != "" {
		from, err := utils.ParseDate(f.From)
		if err != nil {
			return nil, 0, invalid("%s", err.Error())
		}
		query = query.Where("created_at >= ?", from)
	}
	if f.To != "" {
		to, err := utils.ParseDate(f.To)
		if err != nil {
			return nil, 0, invalid("%s", err.Error())
		}
		query = query.Where("created_at < ?", to.AddDate(0, 0, 1))
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, internal("count activity logs", err)
	}
	var logs []models.ActivityLog
	if err := query.Order("created_at DESC, id DESC").Offset(page.Offset()).Limit(page.Limit).Find(&logs).Error; err != nil {
		return nil, 0, internal("list activity logs", err)
	}
	return logs, total, nil
}

// Archives lists previous archive runs.
func (s *ActivityLogService) Archives(ctx context.Context) ([]models.LogArchive, error) {
	var archives []models.LogArchive
	if err := s.db.WithContext(ctx).Order("created_at DESC").Find(&archives).Error; err != nil {
		return nil, internal("list log archives", err)
	}
	return archives, nil
}

// zipLogs writes the entries as JSON and CSV into one zip file.
func zipLogs(logs []models.ActivityLog, name string) ([]byte, error) {
	buf := new(bytes.Buffer)
	zw := zip.NewWriter(buf)

	jsonFile, err := zw.Create("activity_logs.json")
	if err != nil {
		return nil, err
	}
	enc := json.NewEncoder(jsonFile)
	enc.SetIndent("", "  ")
	if err := enc.Encode(map[string]interface{}{
		"file_name":      name,
		"export_date":    time.Now().UTC(),
		"record_count":   len(logs),
		"format_version": "1.0",
		"logs":           logs,
	}); err != nil {
		return nil, err
	}

	csvFile, err := zw.Create("activity_logs.csv")
	if err != nil {
		return nil, err
	}
	w := csv.NewWriter(csvFile)
	_ = w.Write([]string{"ID", "User ID", "Action", "Resource", "Resource ID", "IP Address", "User Agent", "Created At", "Details"})
	for _, l := range logs {
		_ = w.Write([]string{
			strconv.FormatUint(uint64(l.ID), 10),
			strconv.FormatUint(uint64(l.UserID), 10),
			l.Action,
			l.Resource,
			strconv.FormatUint(uint64(l.ResourceID), 10),
			l.IPAddress,
			l.UserAgent,
			l.CreatedAt.Format(time.RFC3339),
			string(l.Details),
		})
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
