package telegram

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
	tele "gopkg.in/telebot.v4"

	"questbot/pkg/logx"
)

type Config struct {
	Token       string
	RatePerSec  int           // outbound sends per second; default 25
	SendTimeout time.Duration // per-request HTTP deadline; default 10s
}

// Adapter sends messages through the Telegram Bot API.
//
// Sends are rate limited with a token bucket so broadcast fan-outs do not trip
// the API flood control, and each HTTP call carries its own deadline so a
// wedged API endpoint cannot stall a runner forever.
type Adapter struct {
	log logx.Logger
	bot *tele.Bot

	mu      sync.Mutex
	limiter *rate.Limiter
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	timeout := cfg.SendTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Client: &http.Client{Timeout: timeout},
	})
	if err != nil {
		return nil, err
	}
	a := &Adapter{log: log, bot: b}
	a.Apply(cfg)
	return a, nil
}

// Apply adopts new rate settings at runtime.
func (a *Adapter) Apply(cfg Config) {
	rps := cfg.RatePerSec
	if rps <= 0 {
		rps = 25
	}
	a.mu.Lock()
	// Burst = one second worth of sends, so short spikes don't block too hard.
	a.limiter = rate.NewLimiter(rate.Limit(rps), rps)
	a.mu.Unlock()
}

func (a *Adapter) Send(ctx context.Context, recipient int64, text string) error {
	a.mu.Lock()
	lim := a.limiter
	a.mu.Unlock()

	if err := lim.Wait(ctx); err != nil {
		return err
	}
	_, err := a.bot.Send(&tele.User{ID: recipient}, text, tele.ModeHTML)
	return err
}
