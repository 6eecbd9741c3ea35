package handlers

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"sekolah_absenku/models"
	"sekolah_absenku/services/notifications"

	"github.com/gofiber/fiber/v2"
	"github.com/line/line-bot-sdk-go/linebot"
	"github.com/sirupsen/logrus"
)

const (
	followReply = "Welcome to Sekolah Absenku. Open your profile in the app, request a LINE link code and send it here as: LINK <code>"
	linkedReply = "Your LINE account is now linked to %s. Attendance and leave notifications will be sent here."
)

// Replier answers webhook events.
type Replier interface {
	Enabled() bool
	ReplyText(replyToken, text string) error
}

// Linker stores the LINE user id of an account.
type Linker interface {
	Link(ctx context.Context, code, lineUserID string) (*models.User, error)
}

type LineWebhookHandler struct {
	secret string
	bot    Replier
	linker Linker
}

func NewLineWebhookHandler(secret string, bot Replier, linker Linker) *LineWebhookHandler {
	return &LineWebhookHandler{secret: secret, bot: bot, linker: linker}
}

// Handle verifies the signature, answers 200 right away and processes the
// events in the background.
func (h *LineWebhookHandler) Handle(c *fiber.Ctx) error {
	if h.bot == nil || !h.bot.Enabled() {
		return c.SendStatus(fiber.StatusOK)
	}

	signature := c.Get("X-Line-Signature")
	if signature == "" {
		return c.SendStatus(fiber.StatusBadRequest)
	}
	if !ValidateSignature(h.secret, c.Body(), signature) {
		logrus.WithField("ip", c.IP()).Warn("LINE webhook signature mismatch")
		return c.SendStatus(fiber.StatusUnauthorized)
	}

	var webhook struct {
		Events []*linebot.Event `json:"events"`
	}
	if err := json.Unmarshal(c.Body(), &webhook); err != nil {
		logrus.WithError(err).Warn("Failed to parse LINE events")
		return c.SendStatus(fiber.StatusBadRequest)
	}

	go func(events []*linebot.Event) {
		defer func() {
			if r := recover(); r != nil {
				logrus.WithField("panic", r).Error("panic recovered in LINE webhook")
			}
		}()
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		for _, event := range events {
			h.handleEvent(ctx, event)
		}
	}(webhook.Events)

	return c.SendStatus(fiber.StatusOK)
}

func (h *LineWebhookHandler) handleEvent(ctx context.Context, event *linebot.Event) {
	if event.Source == nil || event.Source.UserID == "" {
		return
	}
	switch event.Type {
	case linebot.EventTypeFollow:
		h.reply(event.ReplyToken, followReply)
	case linebot.EventTypeMessage:
		msg, ok := event.Message.(*linebot.TextMessage)
		if !ok {
			return
		}
		code, ok := notifications.ParseLinkCommand(msg.Text)
		if !ok {
			return
		}
		user, err := h.linker.Link(ctx, code, event.Source.UserID)
		switch {
		case errors.Is(err, notifications.ErrLinkCode):
			h.reply(event.ReplyToken, "That link code is invalid or has expired.")
		case err != nil:
			logrus.WithError(err).Error("Failed to link LINE account")
			h.reply(event.ReplyToken, "Linking failed, please try again later.")
		default:
			h.reply(event.ReplyToken, fmt.Sprintf(linkedReply, user.Name))
		}
	}
}

func (h *LineWebhookHandler) reply(token, text string) {
	if token == "" {
		return
	}
	if err := h.bot.ReplyText(token, text); err != nil {
		logrus.WithError(err).Warn("LINE reply failed")
	}
}

// ValidateSignature checks the X-Line-Signature header against the body.
func ValidateSignature(secret string, body []byte, signature string) bool {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(signature), []byte(expected))
}
