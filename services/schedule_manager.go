package services

import (
	"context"
	"errors"
	"time"

	"sekolah_absenku/metrics"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

const jobTimeout = 5 * time.Minute

// ScheduleOptions holds cron specs; an empty spec disables that job.
type ScheduleOptions struct {
	AutoAbsentCron string
	ReminderCron   string
	LogArchiveDays int
}

// ScheduleManager runs the background jobs.
type ScheduleManager struct {
	cron       *cron.Cron
	logs       *ActivityLogService
	attendance *AttendanceService
	reminder   *AttendanceReminder
	opts       ScheduleOptions
}

func NewScheduleManager(loc *time.Location, logs *ActivityLogService, attendance *AttendanceService, reminder *AttendanceReminder, opts ScheduleOptions) *ScheduleManager {
	if loc == nil {
		loc = time.UTC
	}
	return &ScheduleManager{
		cron:       cron.New(cron.WithLocation(loc)),
		logs:       logs,
		attendance: attendance,
		reminder:   reminder,
		opts:       opts,
	}
}

// Start registers the jobs and starts the cron runner.
func (sm *ScheduleManager) Start() error {
	jobs := []struct {
		name string
		spec string
		run  func(ctx context.Context) error
	}{
		{"flush_activity_logs", "@hourly", sm.flushLogs},
		{"archive_activity_logs", "30 2 * * *", sm.archiveLogs},
		{"auto_absent", sm.opts.AutoAbsentCron, sm.markAbsent},
		{"attendance_reminder", sm.opts.ReminderCron, sm.remind},
	}
	for _, job := range jobs {
		if job.spec == "" {
			logrus.WithField("job", job.name).Info("Scheduled job disabled")
			continue
		}
		if _, err := sm.cron.AddFunc(job.spec, func() { sm.run(job.name, job.run) }); err != nil {
			return err
		}
		logrus.WithFields(logrus.Fields{"job": job.name, "spec": job.spec}).Info("Scheduled job registered")
	}
	sm.cron.Start()
	return nil
}

// Stop waits for running jobs to finish.
func (sm *ScheduleManager) Stop() {
	<-sm.cron.Stop().Done()
}

func (sm *ScheduleManager) run(name string, fn func(ctx context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			logrus.WithFields(logrus.Fields{"job": name, "panic": r}).Error("Scheduled job panicked")
		}
	}()

	start := time.Now()
	err := fn(ctx)
	metrics.JobRan(name, err)
	entry := logrus.WithFields(logrus.Fields{"job": name, "duration": time.Since(start).String()})
	if err != nil {
		entry.WithError(err).Error("Scheduled job failed")
		return
	}
	entry.Debug("Scheduled job finished")
}

func (sm *ScheduleManager) flushLogs(ctx context.Context) error {
	_, err := sm.logs.FlushCached(ctx)
	return err
}

func (sm *ScheduleManager) archiveLogs(ctx context.Context) error {
	if sm.opts.LogArchiveDays <= 0 {
		return nil
	}
	_, err := sm.logs.Archive(ctx, sm.opts.LogArchiveDays)
	if errors.Is(err, ErrArchiveUnavailable) {
		return nil
	}
	return err
}

func (sm *ScheduleManager) markAbsent(ctx context.Context) error {
	n, err := sm.attendance.MarkTodayAbsent(ctx)
	if err == nil && n > 0 {
		logrus.WithField("students", n).Info("Marked unrecorded students absent")
	}
	return err
}

func (sm *ScheduleManager) remind(ctx context.Context) error {
	_, err := sm.reminder.RemindHomeroomTeachers(ctx)
	return err
}
