package controllers

import (
	"io"
	"time"

	"sekolah_absenku/services"
	"sekolah_absenku/storage"
	"sekolah_absenku/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

const maxAttachmentSize = 5 * 1024 * 1024

var attachmentTypes = map[string]bool{"pdf": true, "jpg": true, "jpeg": true, "png": true}

type LeaveRequestController struct {
	Leaves *services.LeaveService
	Store  storage.Store
}

func NewLeaveRequestController(leaves *services.LeaveService, store storage.Store) *LeaveRequestController {
	return &LeaveRequestController{Leaves: leaves, Store: store}
}

type reviewRequest struct {
	Note string `json:"note"`
}

func (lc *LeaveRequestController) GetLeaveRequests(c *fiber.Ctx) error {
	actor, err := currentActor(c)
	if err != nil {
		return respondError(c, err)
	}
	studentID, err := queryUint(c, "student_id")
	if err != nil {
		return err
	}
	classID, err := queryUint(c, "class_id")
	if err != nil {
		return err
	}
	page := utils.ParsePagination(c)
	leaves, total, err := lc.Leaves.List(c.UserContext(), actor, services.LeaveFilter{
		Status:    c.Query("status"),
		Type:      c.Query("type"),
		StudentID: studentID,
		ClassID:   classID,
	}, page)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(paginated("leave_requests", leaves, page, total))
}

func (lc *LeaveRequestController) GetLeaveRequest(c *fiber.Ctx) error {
	actor, err := currentActor(c)
	if err != nil {
		return respondError(c, err)
	}
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	leave, err := lc.Leaves.Get(c.UserContext(), actor, id)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"leave_request": leave})
}

// SubmitLeaveRequest files a new pending request
func (lc *LeaveRequestController) SubmitLeaveRequest(c *fiber.Ctx) error {
	actor, err := currentActor(c)
	if err != nil {
		return respondError(c, err)
	}
	var req services.LeaveInput
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	leave, err := lc.Leaves.Submit(c.UserContext(), actor, req)
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"message":       "leave request submitted",
		"leave_request": leave,
	})
}

// UploadAttachment stores a supporting document (doctor's note etc.) and
// returns its URL for use as attachment_url.
func (lc *LeaveRequestController) UploadAttachment(c *fiber.Ctx) error {
	if lc.Store == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "file storage is not configured"})
	}
	fileHeader, err := c.FormFile("file")
	if err != nil {
		return badRequest(c, "file is required")
	}
	if fileHeader.Size > maxAttachmentSize {
		return badRequest(c, "file must be at most 5MB")
	}
	ext := storage.Extension(fileHeader.Filename)
	if !attachmentTypes[ext] {
		return badRequest(c, "file must be a pdf, jpg or png")
	}

	file, err := fileHeader.Open()
	if err != nil {
		return badRequest(c, "cannot read uploaded file")
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		return badRequest(c, "cannot read uploaded file")
	}

	key := storage.NewKey("leave-attachments", ext, time.Now())
	url, err := lc.Store.Put(c.UserContext(), key, storage.ContentType(ext), data)
	if err != nil {
		logrus.WithError(err).WithField("key", key).Error("Failed to store leave attachment")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to store file"})
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"url":  url,
		"key":  key,
		"size": len(data),
	})
}

func (lc *LeaveRequestController) ApproveLeaveRequest(c *fiber.Ctx) error {
	actor, err := currentActor(c)
	if err != nil {
		return respondError(c, err)
	}
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	var req reviewRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return badRequest(c, "invalid request body")
		}
	}
	result, err := lc.Leaves.Approve(c.UserContext(), actor, id, req.Note)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{
		"message": "leave request approved",
		"result":  result,
	})
}

// RejectLeaveRequest requires a note explaining the decision
func (lc *LeaveRequestController) RejectLeaveRequest(c *fiber.Ctx) error {
	actor, err := currentActor(c)
	if err != nil {
		return respondError(c, err)
	}
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	var req reviewRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	leave, err := lc.Leaves.Reject(c.UserContext(), actor, id, req.Note)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{
		"message":       "leave request rejected",
		"leave_request": leave,
	})
}

func (lc *LeaveRequestController) CancelLeaveRequest(c *fiber.Ctx) error {
	actor, err := currentActor(c)
	if err != nil {
		return respondError(c, err)
	}
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	if err := lc.Leaves.Cancel(c.UserContext(), actor, id); err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"message": "leave request cancelled"})
}
