package events

import (
	"context"
	"io"
	"log"
	"regexp"
	"time"

	"github.com/nicholas-fedor/shoutrrr"
	"github.com/nicholas-fedor/shoutrrr/pkg/router"
	stypes "github.com/nicholas-fedor/shoutrrr/pkg/types"

	"github.com/tphakala/wildlife-id-bot/internal/errors"
)

// serviceURL matches URLs so that tokens embedded in service URLs never
// reach logs.
var serviceURL = regexp.MustCompile(`[a-zA-Z][a-zA-Z0-9+.-]*://[^\s"']+`)

// ShoutrrrNotifier sends operator alerts through shoutrrr service URLs.
type ShoutrrrNotifier struct {
	sender *router.ServiceRouter
}

// NewShoutrrrNotifier validates urls and builds one sender for all of them.
func NewShoutrrrNotifier(urls []string, timeout time.Duration) (*ShoutrrrNotifier, error) {
	if len(urls) == 0 {
		return nil, errors.Newf("at least one notification URL is required").
			Component("events").
			Category(errors.CategoryConfiguration).
			Build()
	}
	sender, err := shoutrrr.CreateSender(urls...)
	if err != nil {
		return nil, errors.New(sanitize(err)).
			Component("events").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if timeout > 0 {
		sender.Timeout = timeout
	}
	sender.SetLogger(log.New(io.Discard, "", 0))
	return &ShoutrrrNotifier{sender: sender}, nil
}

// Name implements Consumer.
func (n *ShoutrrrNotifier) Name() string { return "shoutrrr" }

// Accepts implements Consumer.
func (n *ShoutrrrNotifier) Accepts(k Kind) bool { return k == KindAlert }

// Process implements Consumer.
func (n *ShoutrrrNotifier) Process(ctx context.Context, e Event) error {
	a, ok := e.(Alert)
	if !ok {
		return nil
	}
	return n.Notify(ctx, a)
}

// Notify sends one alert to every configured service. The router applies
// its own timeout, so ctx is only checked before sending.
func (n *ShoutrrrNotifier) Notify(ctx context.Context, a Alert) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	params := stypes.Params{}
	if a.Title != "" {
		params.SetTitle(a.Title)
	}
	for _, err := range n.sender.Send(a.Message, &params) {
		if err != nil {
			return errors.New(sanitize(err)).
				Component("events").
				Category(errors.CategoryNetwork).
				Context("severity", string(a.Severity)).
				Build()
		}
	}
	return nil
}

func sanitize(err error) error {
	return errors.NewStd(serviceURL.ReplaceAllString(err.Error(), "[URL]"))
}
