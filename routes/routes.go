package routes

import (
	"sekolah_absenku/controllers"
	"sekolah_absenku/handlers"
	"sekolah_absenku/metrics"
	"sekolah_absenku/middleware"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
)

// Controllers groups every handler the route table needs.
type Controllers struct {
	Auth          *controllers.AuthController
	Users         *controllers.UserController
	Students      *controllers.StudentController
	Teachers      *controllers.TeacherController
	Classes       *controllers.ClassController
	Attendance    *controllers.AttendanceController
	Leaves        *controllers.LeaveRequestController
	Dashboard     *controllers.DashboardController
	Exports       *controllers.ExportController
	Notifications *controllers.NotificationController
	Logs          *controllers.LogController
	Health        *controllers.HealthController
	WebSocket     *controllers.WebSocketController
	Line          *controllers.LineController
	LineWebhook   *handlers.LineWebhookHandler
}

// SetupRoutes configures all application routes
func SetupRoutes(app *fiber.App, h Controllers) {
	app.Get("/health", h.Health.GetHealthStatus)
	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))

	if h.LineWebhook != nil {
		app.Post("/line/webhook", h.LineWebhook.Handle)
	}

	api := app.Group("/api")

	// Authentication routes (no middleware)
	auth := api.Group("/auth")
	auth.Post("/login", h.Auth.Login)

	// Protected routes (require authentication)
	protected := api.Group("/", middleware.JWTMiddleware())

	protected.Post("/auth/logout", h.Auth.Logout)
	protected.Get("/auth/profile", h.Auth.GetProfile)
	protected.Get("/profile", h.Auth.GetProfile)
	protected.Put("/profile/password", h.Auth.ChangePassword)
	protected.Post("/profile/line-link", h.Line.RequestLinkCode)
	protected.Delete("/profile/line-link", h.Line.Unlink)

	// Account management (admin only)
	users := protected.Group("/users", middleware.RequireAdmin())
	users.Get("/", h.Users.GetUsers)
	users.Get("/:id", h.Users.GetUser)
	users.Patch("/:id/status", h.Users.UpdateUserStatus)
	users.Put("/:id/password", h.Users.ResetPassword)

	students := protected.Group("/students")
	students.Get("/", middleware.RequireStaff(), h.Students.GetStudents)
	students.Get("/:id", middleware.RequireStaff(), h.Students.GetStudent)
	students.Post("/", middleware.RequireAdmin(), h.Students.CreateStudent)
	students.Put("/:id", middleware.RequireAdmin(), h.Students.UpdateStudent)
	students.Delete("/:id", middleware.RequireAdmin(), h.Students.DeleteStudent)

	teachers := protected.Group("/teachers")
	teachers.Get("/", middleware.RequireStaff(), h.Teachers.GetTeachers)
	teachers.Get("/:id", middleware.RequireStaff(), h.Teachers.GetTeacher)
	teachers.Post("/", middleware.RequireAdmin(), h.Teachers.CreateTeacher)
	teachers.Put("/:id", middleware.RequireAdmin(), h.Teachers.UpdateTeacher)
	teachers.Delete("/:id", middleware.RequireAdmin(), h.Teachers.DeleteTeacher)

	classes := protected.Group("/classes")
	classes.Get("/", h.Classes.GetClasses)
	classes.Get("/:id", h.Classes.GetClass)
	classes.Get("/:id/students", middleware.RequireStaff(), h.Classes.GetClassStudents)
	classes.Post("/", middleware.RequireAdmin(), h.Classes.CreateClass)
	classes.Put("/:id", middleware.RequireAdmin(), h.Classes.UpdateClass)
	classes.Delete("/:id", middleware.RequireAdmin(), h.Classes.DeleteClass)

	// Attendance: students read their own rows and check in/out
	attendance := protected.Group("/attendance")
	attendance.Get("/", h.Attendance.GetAttendance)
	attendance.Post("/check-in", middleware.RequireRole("student"), h.Attendance.CheckIn)
	attendance.Post("/check-out", middleware.RequireRole("student"), h.Attendance.CheckOut)
	attendance.Post("/bulk", middleware.RequireStaff(), h.Attendance.BulkCreateAttendance)
	attendance.Get("/:id", h.Attendance.GetAttendanceRecord)
	attendance.Post("/", middleware.RequireStaff(), h.Attendance.CreateAttendance)
	attendance.Put("/:id", middleware.RequireStaff(), h.Attendance.UpdateAttendance)
	attendance.Delete("/:id", middleware.RequireStaff(), h.Attendance.DeleteAttendance)

	leaves := protected.Group("/leave-requests")
	leaves.Get("/", h.Leaves.GetLeaveRequests)
	leaves.Post("/attachments", middleware.RequireRole("student", "admin"), h.Leaves.UploadAttachment)
	leaves.Get("/:id", h.Leaves.GetLeaveRequest)
	leaves.Post("/", middleware.RequireRole("student", "admin"), h.Leaves.SubmitLeaveRequest)
	leaves.Patch("/:id/approve", middleware.RequireStaff(), h.Leaves.ApproveLeaveRequest)
	leaves.Patch("/:id/reject", middleware.RequireStaff(), h.Leaves.RejectLeaveRequest)
	leaves.Delete("/:id", middleware.RequireRole("student"), h.Leaves.CancelLeaveRequest)

	dashboard := protected.Group("/dashboard")
	dashboard.Get("/", h.Dashboard.GetDashboard)
	dashboard.Get("/daily", middleware.RequireStaff(), h.Dashboard.GetDailyStats)
	dashboard.Get("/monthly", middleware.RequireStaff(), h.Dashboard.GetMonthlyStats)

	exports := protected.Group("/exports")
	exports.Get("/", h.Exports.GetExports)
	exports.Post("/attendance/pdf", h.Exports.ExportAttendancePDF)
	exports.Post("/attendance/excel", h.Exports.ExportAttendanceExcel)
	exports.Post("/students/excel", middleware.RequireStaff(), h.Exports.ExportStudentsExcel)

	notifications := protected.Group("/notifications")
	notifications.Get("/", h.Notifications.GetNotifications)
	notifications.Get("/unread-count", h.Notifications.GetUnreadCount)
	notifications.Patch("/mark-all-read", h.Notifications.MarkAllAsRead)
	notifications.Patch("/:id/read", h.Notifications.MarkAsRead)
	notifications.Post("/announcements", middleware.RequireAdmin(), h.Notifications.CreateAnnouncement)

	// Log management routes (admin only)
	logs := protected.Group("/logs", middleware.RequireAdmin())
	logs.Get("/", h.Logs.GetLogs)
	logs.Get("/archives", h.Logs.GetArchives)
	logs.Post("/flush-cache", h.Logs.FlushLogs)
	logs.Post("/archive", h.Logs.ArchiveLogs)

	protected.Get("/ws/stats", middleware.RequireAdmin(), h.WebSocket.GetWebSocketStats)

	// WebSocket connection endpoint: ws://<host>/ws?token=<jwt>
	app.Use("/ws", h.WebSocket.Upgrade)
	app.Get("/ws", h.WebSocket.WebSocketHandler())
}

// SetupStaticRoutes serves locally stored export files.
func SetupStaticRoutes(app *fiber.App, exportDir string) {
	if exportDir == "" {
		return
	}
	app.Static("/exports", exportDir, fiber.Static{
		Browse:   false,
		Download: true,
	})
}
