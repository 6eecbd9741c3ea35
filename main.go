package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"sekolah_absenku/config"
	"sekolah_absenku/controllers"
	"sekolah_absenku/database"
	"sekolah_absenku/database/seeders"
	"sekolah_absenku/handlers"
	"sekolah_absenku/middleware"
	"sekolah_absenku/routes"
	"sekolah_absenku/services"
	"sekolah_absenku/services/notifications"
	"sekolah_absenku/services/websocket"
	"sekolah_absenku/storage"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/sirupsen/logrus"
)

const (
	serviceName = "Sekolah Absenku API"
	version     = "1.0.0"
)

func init() {
	// Load configuration
	config.LoadConfig()

	// Initialize logging
	setupLogging(config.AppConfig)

	// Connect to database
	database.Connect()
}

func main() {
	cfg := config.AppConfig
	db := database.GetDB()
	rdb := database.GetRedisClient()
	loc := cfg.Location()

	if cfg.Seed {
		if err := seeders.Run(db); err != nil {
			logrus.WithError(err).Fatal("Seeding failed")
		}
	}

	// Create WebSocket hub first
	wsHub := websocket.NewHub()
	go wsHub.Run()

	lineClient, err := notifications.NewLineClient(cfg.LineChannelSecret, cfg.LineChannelToken)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to initialize LINE client")
	}
	notifService := notifications.NewService(db, wsHub, lineClient)
	lineLinker := notifications.NewLineLinker(db, rdb)

	store, err := storage.New(cfg)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to initialize file storage")
	}
	storageMode := "s3"
	if _, ok := store.(*storage.LocalStore); ok {
		storageMode = "local"
	}

	var archiveUploader services.ArchiveUploader
	if cfg.S3BucketName != "" && cfg.AWSRegion != "" {
		uploader, err := services.NewS3ArchiveUploader(context.Background(), cfg.AWSRegion, cfg.S3BucketName)
		if err != nil {
			logrus.WithError(err).Warn("Log archiving to S3 disabled")
		} else {
			archiveUploader = uploader
		}
	}

	statsService := services.NewStatsService(db, rdb, cfg.StatsCacheTTL, loc)
	authService := services.NewAuthService(db)
	attendanceService := services.NewAttendanceService(db, statsService, loc, cfg.LateThreshold)
	leaveService := services.NewLeaveService(db, statsService, notifService, store, loc)
	exportService := services.NewExportService(db, store, cfg.SchoolName, loc)
	activityLogs := services.NewActivityLogService(db, rdb, archiveUploader)
	healthService := services.NewHealthService(serviceName, version, cfg.AppEnv, db, rdb, services.HealthFlags{
		SkipMigrate:       cfg.SkipMigrate,
		StatsCacheEnabled: rdb != nil,
		AutoAbsentEnabled: cfg.AutoAbsentCron != "",
		LineEnabled:       lineClient.Enabled(),
		StorageMode:       storageMode,
	})
	middleware.SetActivityLogService(activityLogs)

	scheduler := services.NewScheduleManager(loc, activityLogs, attendanceService,
		services.NewAttendanceReminder(db, notifService, loc),
		services.ScheduleOptions{
			AutoAbsentCron: cfg.AutoAbsentCron,
			ReminderCron:   cfg.ReminderCron,
			LogArchiveDays: cfg.LogArchiveDays,
		})
	if err := scheduler.Start(); err != nil {
		logrus.WithError(err).Fatal("Failed to start scheduled jobs")
	}

	// Create Fiber app
	app := fiber.New(fiber.Config{
		AppName:      serviceName,
		ErrorHandler: customErrorHandler,
		BodyLimit:    10 * 1024 * 1024,
	})

	// Global middleware
	app.Use(recover.New())
	app.Use(helmet.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,HEAD,PUT,DELETE,PATCH,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization,X-Request-ID",
	}))

	// Custom middleware
	app.Use(middleware.RequestID())
	app.Use(middleware.MetricsMiddleware())
	app.Use(middleware.LoggerMiddleware())
	app.Use(middleware.LogActivityMiddleware())

	var lineWebhook *handlers.LineWebhookHandler
	if lineClient.Enabled() {
		lineWebhook = handlers.NewLineWebhookHandler(cfg.LineChannelSecret, lineClient, lineLinker)
		logrus.Info("LINE webhook enabled at /line/webhook")
	}

	routes.SetupRoutes(app, routes.Controllers{
		Auth:          controllers.NewAuthController(authService),
		Users:         controllers.NewUserController(authService),
		Students:      controllers.NewStudentController(services.NewStudentService(db, statsService, store)),
		Teachers:      controllers.NewTeacherController(services.NewTeacherService(db)),
		Classes:       controllers.NewClassController(services.NewClassService(db, statsService)),
		Attendance:    controllers.NewAttendanceController(attendanceService),
		Leaves:        controllers.NewLeaveRequestController(leaveService, store),
		Dashboard:     controllers.NewDashboardController(statsService, loc),
		Exports:       controllers.NewExportController(exportService),
		Notifications: controllers.NewNotificationController(notifService),
		Logs:          controllers.NewLogController(activityLogs, cfg.LogArchiveDays),
		Health:        controllers.NewHealthController(healthService),
		WebSocket:     controllers.NewWebSocketController(wsHub),
		Line:          controllers.NewLineController(lineLinker),
		LineWebhook:   lineWebhook,
	})
	if local, ok := store.(*storage.LocalStore); ok {
		routes.SetupStaticRoutes(app, local.Dir())
	}

	// 404 handler
	app.Use(func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error":  "route not found",
			"path":   c.Path(),
			"method": c.Method(),
		})
	})

	go func() {
		logrus.WithFields(logrus.Fields{
			"port":        cfg.Port,
			"environment": cfg.AppEnv,
			"version":     version,
		}).Info("Server starting")
		if err := app.Listen(":" + cfg.Port); err != nil {
			logrus.WithError(err).Fatal("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logrus.Info("Shutting down")
	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		logrus.WithError(err).Error("Server shutdown failed")
	}
	scheduler.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if n, err := activityLogs.FlushCached(ctx); err != nil {
		logrus.WithError(err).Warn("Failed to flush activity logs on shutdown")
	} else if n > 0 {
		logrus.WithField("flushed", n).Info("Flushed activity logs on shutdown")
	}
	database.Close()
}

// setupLogging configures the logging system
func setupLogging(cfg *config.Config) {
	logrus.SetFormatter(&logrus.JSONFormatter{})

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)

	// stdout in development, file otherwise
	if strings.EqualFold(cfg.AppEnv, "development") || cfg.LogFile == "" {
		logrus.SetOutput(os.Stdout)
		return
	}
	if err := os.MkdirAll(filepath.Dir(cfg.LogFile), 0755); err != nil {
		log.Printf("Warning: Could not create log directory: %v", err)
	}
	file, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
	if err != nil {
		log.Printf("Warning: Could not open log file, logging to stdout: %v", err)
		logrus.SetOutput(os.Stdout)
		return
	}
	logrus.SetOutput(file)
}

// customErrorHandler handles application errors
func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "internal server error"

	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
		message = fe.Message
	}

	entry := logrus.WithFields(logrus.Fields{
		"error":  err.Error(),
		"path":   c.Path(),
		"method": c.Method(),
		"ip":     c.IP(),
		"status": code,
	})
	if code >= fiber.StatusInternalServerError {
		entry.Error("Request error")
	} else {
		entry.Warn("Request error")
	}

	return c.Status(code).JSON(fiber.Map{
		"error":  message,
		"code":   code,
		"path":   c.Path(),
		"method": c.Method(),
	})
}
