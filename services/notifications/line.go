package notifications

import (
	"fmt"

	"github.com/line/line-bot-sdk-go/linebot"
)

// LinePusher sends plain text to a LINE user or group.
type LinePusher interface {
	Enabled() bool
	PushText(to, text string) error
}

// LineClient wraps the LINE Messaging API client.
type LineClient struct {
	bot *linebot.Client
}

// NewLineClient returns a disabled client when credentials are missing.
func NewLineClient(channelSecret, channelToken string) (*LineClient, error) {
	if channelSecret == "" || channelToken == "" {
		return &LineClient{}, nil
	}
	bot, err := linebot.New(channelSecret, channelToken)
	if err != nil {
		return nil, fmt.Errorf("create LINE bot client: %w", err)
	}
	return &LineClient{bot: bot}, nil
}

func (l *LineClient) Enabled() bool {
	return l != nil && l.bot != nil
}

func (l *LineClient) PushText(to, text string) error {
	if !l.Enabled() {
		return fmt.Errorf("LINE Bot client is not initialized")
	}
	if _, err := l.bot.PushMessage(to, linebot.NewTextMessage(text)).Do(); err != nil {
		return fmt.Errorf("LINE Messaging API failed: %w", err)
	}
	return nil
}

// ReplyText answers a webhook event using its reply token.
func (l *LineClient) ReplyText(replyToken, text string) error {
	if !l.Enabled() {
		return fmt.Errorf("LINE Bot client is not initialized")
	}
	if _, err := l.bot.ReplyMessage(replyToken, linebot.NewTextMessage(text)).Do(); err != nil {
		return fmt.Errorf("LINE reply failed: %w", err)
	}
	return nil
}
