// Package telegram is the Telegram announcement channel.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/time/rate"
	tele "gopkg.in/telebot.v4"

	"pricewatch/internal/catalog"
	"pricewatch/internal/notify"
	"pricewatch/pkg/logx"
)

type Config struct {
	Token      string
	ChatIDs    []int64
	RatePerSec int
}

type Channel struct {
	bot     *tele.Bot
	chats   []int64
	limiter *rate.Limiter
	log     logx.Logger
}

func New(cfg Config, log logx.Logger) (*Channel, error) {
	if len(cfg.ChatIDs) == 0 {
		return nil, errors.New("telegram: no chat ids configured")
	}
	// Send-only: no poller, the bot never consumes updates.
	b, err := tele.NewBot(tele.Settings{Token: cfg.Token})
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}
	rps := cfg.RatePerSec
	if rps <= 0 {
		rps = 3
	}
	return &Channel{
		bot:     b,
		chats:   cfg.ChatIDs,
		limiter: rate.NewLimiter(rate.Limit(rps), rps),
		log:     log,
	}, nil
}

func (c *Channel) Name() string { return "telegram" }

// Send pushes the announcement to every configured chat. A failure for
// one chat does not stop the rest; the joined error is returned so the
// dispatcher can count this channel as failed.
func (c *Channel) Send(ctx context.Context, item catalog.Item) error {
	msg := notify.FormatHTML(item)
	opts := &tele.SendOptions{ParseMode: tele.ModeHTML, DisableWebPagePreview: false}

	var errs []error
	for _, chatID := range c.chats {
		if err := c.limiter.Wait(ctx); err != nil {
			errs = append(errs, err)
			break
		}
		start := time.Now()
		if _, err := c.bot.Send(&tele.Chat{ID: chatID}, msg, opts); err != nil {
			c.log.Warn("telegram send failed", logx.Int64("chat", chatID), logx.Err(err))
			errs = append(errs, fmt.Errorf("chat %d: %w", chatID, err))
			continue
		}
		c.log.Debug("telegram sent", logx.Int64("chat", chatID), logx.Duration("took", time.Since(start)))
	}
	return errors.Join(errs...)
}
