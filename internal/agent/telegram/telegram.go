// Package telegram delivers gateway messages to Telegram chats and feeds
// chat commands back into the gateway.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
	tele "gopkg.in/telebot.v4"

	"github.com/dantte-lp/smgw/internal/gateway"
)

// Name is the agent name used in listener recipient maps.
const Name = "telegram"

// Defaults for Config fields left at zero.
const (
	DefaultPollTimeout = 10 * time.Second
	DefaultRatePerSec  = 3
)

// Agent errors.
var (
	// ErrEmptyToken indicates a missing bot token.
	ErrEmptyToken = errors.New("telegram token is empty")

	// ErrInvalidChatID indicates a recipient that is not a numeric chat ID.
	ErrInvalidChatID = errors.New("telegram recipient must be a numeric chat ID")
)

// Bot is the subset of *tele.Bot used by the agent.
type Bot interface {
	Send(to tele.Recipient, what any, opts ...any) (*tele.Message, error)
	Handle(endpoint any, h tele.HandlerFunc, m ...tele.MiddlewareFunc)
	Start()
	Stop()
}

// Dispatcher handles inbound chat text. Implemented by gateway.Manager.
type Dispatcher interface {
	Receive(ctx context.Context, msg gateway.InboundMessage) (reply string, handled bool)
}

// Config holds the Telegram agent parameters.
type Config struct {
	Token       string //nolint:gosec // G117: bot credential
	PollTimeout time.Duration
	RatePerSec  int
}

// Agent sends messages through a Telegram bot. Sends are paced by a token
// bucket so bursts from several listeners stay within Telegram limits.
type Agent struct {
	bot     Bot
	limiter *rate.Limiter
	logger  *slog.Logger

	mu         sync.RWMutex
	dispatcher Dispatcher
}

// New connects a long-polling bot with cfg.
func New(cfg Config, logger *slog.Logger) (*Agent, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, ErrEmptyToken
	}

	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = DefaultPollTimeout
	}

	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: timeout},
	})
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}

	return NewWithBot(b, cfg.RatePerSec, logger), nil
}

// NewWithBot creates an Agent around an existing bot.
func NewWithBot(bot Bot, ratePerSec int, logger *slog.Logger) *Agent {
	if ratePerSec <= 0 {
		ratePerSec = DefaultRatePerSec
	}
	return &Agent{
		bot:     bot,
		limiter: rate.NewLimiter(rate.Limit(ratePerSec), ratePerSec),
		logger:  logger.With(slog.String("component", "agent.telegram")),
	}
}

// SetDispatcher installs the handler for inbound chat text.
func (a *Agent) SetDispatcher(d Dispatcher) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.dispatcher = d
}

// Deliver sends msg.Body to the chat whose ID is msg.Whom.
func (a *Agent) Deliver(ctx context.Context, msg gateway.Message) error {
	chatID, err := strconv.ParseInt(msg.Whom, 10, 64)
	if err != nil {
		return fmt.Errorf("recipient %q: %w", msg.Whom, ErrInvalidChatID)
	}

	if err := a.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("telegram rate limit: %w", err)
	}

	if _, err := a.bot.Send(&tele.Chat{ID: chatID}, msg.Body); err != nil {
		return fmt.Errorf("telegram send to %d: %w", chatID, err)
	}
	return nil
}

// Run polls for updates until ctx is cancelled.
func (a *Agent) Run(ctx context.Context) error {
	if ctx.Err() != nil {
		return nil
	}

	a.bot.Handle(tele.OnText, func(c tele.Context) error {
		m := c.Message()
		if m == nil || m.Chat == nil {
			return nil
		}
		author := ""
		if m.Sender != nil {
			author = m.Sender.Username
		}
		return a.HandleInbound(ctx, m.Chat.ID, author, m.Text)
	})

	stop := context.AfterFunc(ctx, a.bot.Stop)
	defer stop()

	a.logger.Info("polling started")
	a.bot.Start()
	a.logger.Info("polling stopped")
	return nil
}

// HandleInbound dispatches chat text from chatID and sends the reply, if
// any, back to the same chat.
func (a *Agent) HandleInbound(ctx context.Context, chatID int64, author, text string) error {
	a.mu.RLock()
	d := a.dispatcher
	a.mu.RUnlock()

	if d == nil {
		return nil
	}

	reply, handled := d.Receive(ctx, gateway.InboundMessage{
		Body:   text,
		Whom:   strconv.FormatInt(chatID, 10),
		Author: author,
	})
	if !handled || reply == "" {
		return nil
	}

	if _, err := a.bot.Send(&tele.Chat{ID: chatID}, reply); err != nil {
		a.logger.Warn("reply failed",
			slog.Int64("chat_id", chatID),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("telegram reply to %d: %w", chatID, err)
	}
	return nil
}
