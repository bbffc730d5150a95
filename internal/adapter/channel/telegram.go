// Package channel delivers backup artifacts and reports to Telegram chats.
package channel

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/time/rate"

	"github.com/semmidev/backupd/internal/domain"
)

// MaxFileSize is the Bot API upload limit for documents.
const MaxFileSize = 50 * 1024 * 1024

type Logger interface {
	Infof(template string, args ...interface{})
	Errorf(template string, args ...interface{})
}

type Config struct {
	APIEndpoint string
	MaxFileSize int64

	UploadConnectTimeout time.Duration
	UploadWriteTimeout   time.Duration
	UploadReadTimeout    time.Duration

	TextConnectTimeout time.Duration
	TextTimeout        time.Duration

	// RatePerSecond limits sends across all destinations. Zero disables it.
	RatePerSecond float64
	Burst         int
}

func (c *Config) setDefaults() {
	if c.APIEndpoint == "" {
		c.APIEndpoint = tgbotapi.APIEndpoint
	}
	if c.MaxFileSize <= 0 {
		c.MaxFileSize = MaxFileSize
	}
	if c.UploadConnectTimeout <= 0 {
		c.UploadConnectTimeout = 60 * time.Second
	}
	if c.UploadWriteTimeout <= 0 {
		c.UploadWriteTimeout = 300 * time.Second
	}
	if c.UploadReadTimeout <= 0 {
		c.UploadReadTimeout = 300 * time.Second
	}
	if c.TextConnectTimeout <= 0 {
		c.TextConnectTimeout = 30 * time.Second
	}
	if c.TextTimeout <= 0 {
		c.TextTimeout = 60 * time.Second
	}
	if c.Burst <= 0 {
		c.Burst = 1
	}
}

type Telegram struct {
	cfg     Config
	logger  Logger
	limiter *rate.Limiter
	upload  *http.Client
	text    *http.Client
}

func NewTelegram(cfg Config, logger Logger) *Telegram {
	cfg.setDefaults()

	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}

	return &Telegram{
		cfg:     cfg,
		logger:  logger,
		limiter: rate.NewLimiter(limit, cfg.Burst),
		upload:  newHTTPClient(cfg.UploadConnectTimeout, cfg.UploadWriteTimeout, cfg.UploadReadTimeout),
		text:    newHTTPClient(cfg.TextConnectTimeout, cfg.TextTimeout, cfg.TextTimeout),
	}
}

// DeliverArtifact uploads path as a document with an HTML caption. Files
// above the size limit are rejected before any network call.
func (t *Telegram) DeliverArtifact(ctx context.Context, dest domain.Destination, path, caption string) error {
	info, err := os.Stat(path)
	if err != nil {
		return &domain.ChannelError{
			Kind:        domain.ChannelFileMissing,
			Destination: dest.Name,
			Detail:      fmt.Sprintf("File not found: %s", path),
			Err:         err,
		}
	}
	if info.Size() > t.cfg.MaxFileSize {
		return &domain.ChannelError{
			Kind:        domain.ChannelTooLarge,
			Destination: dest.Name,
			Detail:      fmt.Sprintf("File size (%d bytes) exceeds Telegram's %dMB limit", info.Size(), t.cfg.MaxFileSize/(1024*1024)),
		}
	}

	chat, err := parseChat(dest)
	if err != nil {
		return err
	}
	if err := t.wait(ctx, dest); err != nil {
		return err
	}

	doc := tgbotapi.DocumentConfig{
		BaseFile: tgbotapi.BaseFile{
			BaseChat: chat,
			File:     tgbotapi.FilePath(path),
		},
		Caption:   caption,
		ParseMode: tgbotapi.ModeHTML,
	}

	name := filepath.Base(path)
	t.logger.Infof("Sending file %s to %s", name, dest.Name)
	if _, err := t.bot(ctx, dest, t.upload).Send(doc); err != nil {
		cerr := classify(dest.Name, err)
		t.logger.Errorf("%v", cerr)
		return cerr
	}

	t.logger.Infof("Successfully sent file %s to %s", name, dest.Name)
	return nil
}

// SendText posts an HTML message. Blank messages never reach the API.
func (t *Telegram) SendText(ctx context.Context, dest domain.Destination, message string) error {
	if strings.TrimSpace(message) == "" {
		return &domain.ChannelError{
			Kind:        domain.ChannelEmptyMessage,
			Destination: dest.Name,
			Detail:      "Message cannot be empty",
		}
	}

	chat, err := parseChat(dest)
	if err != nil {
		return err
	}
	if err := t.wait(ctx, dest); err != nil {
		return err
	}

	msg := tgbotapi.MessageConfig{
		BaseChat:  chat,
		Text:      message,
		ParseMode: tgbotapi.ModeHTML,
	}

	t.logger.Infof("Sending message to %s", dest.Name)
	if _, err := t.bot(ctx, dest, t.text).Send(msg); err != nil {
		cerr := classify(dest.Name, err)
		t.logger.Errorf("%v", cerr)
		return cerr
	}

	t.logger.Infof("Successfully sent message to %s", dest.Name)
	return nil
}

// TestConnection checks the bot identity and looks up the chat. It never
// fails; problems are reported in the message.
func (t *Telegram) TestConnection(ctx context.Context, dest domain.Destination) (bool, string) {
	t.logger.Infof("Testing connection to %s", dest.Name)

	bot := t.bot(ctx, dest, t.text)
	me, err := bot.GetMe()
	if err != nil {
		msg := describeProbeFailure(classify(dest.Name, err))
		t.logger.Errorf("%s", msg)
		return false, msg
	}

	chatInfo := fmt.Sprintf("Chat ID: %s", dest.ChatID)
	if cfg, ok := chatInfoConfig(dest.ChatID); ok {
		if chat, err := bot.GetChat(cfg); err == nil {
			title := chat.Title
			if title == "" {
				title = chat.FirstName
			}
			if title == "" {
				title = "Unknown"
			}
			chatInfo = fmt.Sprintf("Chat: %s (ID: %d)", title, chat.ID)
		}
	}

	msg := fmt.Sprintf("Bot @%s connected successfully to %s", me.UserName, chatInfo)
	t.logger.Infof("%s", msg)
	return true, msg
}

func (t *Telegram) wait(ctx context.Context, dest domain.Destination) error {
	if err := t.limiter.Wait(ctx); err != nil {
		return &domain.ChannelError{
			Kind:        domain.ChannelNetwork,
			Destination: dest.Name,
			Detail:      err.Error(),
			Err:         err,
		}
	}
	return nil
}

// bot builds a client without the getMe round trip NewBotAPI performs.
func (t *Telegram) bot(ctx context.Context, dest domain.Destination, client *http.Client) *tgbotapi.BotAPI {
	bot := &tgbotapi.BotAPI{
		Token:  dest.BotToken,
		Client: boundClient{ctx: ctx, client: client},
		Buffer: 100,
	}
	bot.SetAPIEndpoint(t.cfg.APIEndpoint)
	return bot
}

// boundClient attaches the caller's context to every request the bot makes.
type boundClient struct {
	ctx    context.Context
	client *http.Client
}

func (c boundClient) Do(req *http.Request) (*http.Response, error) {
	return c.client.Do(req.WithContext(c.ctx))
}

func newHTTPClient(connect, write, read time.Duration) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = (&net.Dialer{Timeout: connect, KeepAlive: 30 * time.Second}).DialContext
	transport.TLSHandshakeTimeout = connect
	transport.ResponseHeaderTimeout = read
	return &http.Client{
		Transport: transport,
		Timeout:   connect + write + read,
	}
}

// parseChat accepts numeric chat ids and "@channel" usernames.
func parseChat(dest domain.Destination) (tgbotapi.BaseChat, error) {
	id := strings.TrimSpace(dest.ChatID)
	if strings.HasPrefix(id, "@") && len(id) > 1 {
		return tgbotapi.BaseChat{ChannelUsername: id}, nil
	}
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return tgbotapi.BaseChat{}, &domain.ChannelError{
			Kind:        domain.ChannelMalformedRequest,
			Destination: dest.Name,
			Detail:      fmt.Sprintf("chat id %q is neither numeric nor @channel", dest.ChatID),
			Err:         err,
		}
	}
	return tgbotapi.BaseChat{ChatID: n}, nil
}

func chatInfoConfig(chatID string) (tgbotapi.ChatInfoConfig, bool) {
	id := strings.TrimSpace(chatID)
	if strings.HasPrefix(id, "@") {
		return tgbotapi.ChatInfoConfig{ChatConfig: tgbotapi.ChatConfig{SuperGroupUsername: id}}, true
	}
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return tgbotapi.ChatInfoConfig{}, false
	}
	return tgbotapi.ChatInfoConfig{ChatConfig: tgbotapi.ChatConfig{ChatID: n}}, true
}

// classify maps a transport failure onto a ChannelError kind.
func classify(destination string, err error) *domain.ChannelError {
	var cerr *domain.ChannelError
	if errors.As(err, &cerr) {
		return cerr
	}

	kind := domain.ChannelUnexpected
	var apiErr *tgbotapi.Error
	var netErr net.Error
	switch {
	case errors.As(err, &apiErr):
		switch apiErr.Code {
		case http.StatusUnauthorized, http.StatusForbidden:
			kind = domain.ChannelPermissionDenied
		case http.StatusBadRequest:
			kind = domain.ChannelMalformedRequest
		default:
			kind = domain.ChannelProtocol
		}
	case errors.As(err, &netErr),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		kind = domain.ChannelNetwork
	}

	return &domain.ChannelError{
		Kind:        kind,
		Destination: destination,
		Detail:      err.Error(),
		Err:         err,
	}
}

func describeProbeFailure(err *domain.ChannelError) string {
	switch err.Kind {
	case domain.ChannelPermissionDenied:
		return "Bot doesn't have permission to access this chat"
	case domain.ChannelMalformedRequest:
		return fmt.Sprintf("Invalid chat ID or bot token: %s", err.Detail)
	case domain.ChannelNetwork:
		return "Network error - check internet connection"
	case domain.ChannelProtocol:
		return fmt.Sprintf("Telegram API error: %s", err.Detail)
	default:
		return fmt.Sprintf("Unexpected error: %s", err.Detail)
	}
}
