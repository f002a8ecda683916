package notify

import (
	"context"
	"errors"
	"fmt"
	"io"
	stdlog "log"
	"net/url"
	"time"

	shoutrrr "github.com/nicholas-fedor/shoutrrr"
	router "github.com/nicholas-fedor/shoutrrr/pkg/router"
	stypes "github.com/nicholas-fedor/shoutrrr/pkg/types"
)

// Shoutrrr forwards messages to shoutrrr service URLs (ntfy, gotify, telegram, ...).
type Shoutrrr struct {
	sender *router.ServiceRouter
	count  int
}

// NewShoutrrr validates the URLs and builds one sender for all of them.
func NewShoutrrr(urls []string, timeout time.Duration) (*Shoutrrr, error) {
	if len(urls) == 0 {
		return nil, errors.New("at least one URL is required")
	}
	sender, err := shoutrrr.CreateSender(urls...)
	if err != nil {
		return nil, fmt.Errorf("invalid notification url: %w", redact(err))
	}
	if timeout > 0 {
		sender.Timeout = timeout
	}
	sender.SetLogger(stdlog.New(io.Discard, "", 0))
	return &Shoutrrr{sender: sender, count: len(urls)}, nil
}

func (s *Shoutrrr) Name() string { return fmt.Sprintf("shoutrrr(%d)", s.count) }

func (s *Shoutrrr) Send(ctx context.Context, m Message) error {
	_ = ctx // the router applies its own timeout
	params := stypes.Params{}
	if m.Title != "" {
		params.SetTitle(m.Title)
	}
	for _, err := range s.sender.Send(m.Body, &params) {
		if err != nil {
			return redact(err)
		}
	}
	return nil
}

// redact drops URL details that may carry tokens.
func redact(err error) error {
	var uerr *url.Error
	if errors.As(err, &uerr) {
		return fmt.Errorf("%s request failed: %w", uerr.Op, uerr.Err)
	}
	return err
}
