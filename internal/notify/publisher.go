// Package notify publishes build-committed events over NATS.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"packforge/pkg/domain"
)

// DefaultSubject carries one message per committed build.
const DefaultSubject = "packforge.builds.committed"

// BuildCommitted is the event payload.
type BuildCommitted struct {
	Event         string            `json:"event"`
	BuildID       string            `json:"build_id"`
	OutputRoot    string            `json:"output_root"`
	OutputDir     string            `json:"output_dir"`
	ProfileSlug   string            `json:"profile_slug"`
	ContentHash   string            `json:"content_hash"`
	ParityMode    domain.ParityMode `json:"parity_mode"`
	Deterministic bool              `json:"deterministic"`
	Files         int               `json:"files"`
	Warnings      int               `json:"warnings"`
	OverlayRolled bool              `json:"overlay_rolled_back"`
	Timestamp     time.Time         `json:"timestamp"`
}

// EventFromSummary builds the payload for summary.
func EventFromSummary(summary domain.BuildSummary) BuildCommitted {
	ev := BuildCommitted{
		Event:         "build_committed",
		BuildID:       summary.BuildID,
		OutputRoot:    summary.OutputRoot,
		OutputDir:     summary.OutputDir,
		ProfileSlug:   summary.ProfileSlug,
		ContentHash:   summary.ContentHash,
		ParityMode:    summary.ParityMode,
		Deterministic: summary.Deterministic,
		Files:         len(summary.Files),
		Warnings:      len(summary.Warnings),
		Timestamp:     summary.Timestamp,
	}
	if summary.Overlay != nil {
		ev.OverlayRolled = summary.Overlay.RolledBack
	}
	return ev
}

// Options configures Connect.
type Options struct {
	URL     string
	Subject string
	// JetStream publishes with acknowledgements and per-build dedup ids.
	JetStream bool
	Timeout   time.Duration
}

type sendFunc func(ctx context.Context, msg *nats.Msg) error

// Publisher sends BuildCommitted events.
type Publisher struct {
	subject string
	send    sendFunc
	close   func() error
	logger  *slog.Logger
}

// Connect dials NATS and returns a publisher bound to opts.Subject.
func Connect(opts Options, logger *slog.Logger) (*Publisher, error) {
	if opts.URL == "" {
		opts.URL = nats.DefaultURL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	nc, err := nats.Connect(opts.URL,
		nats.Name("packforge"),
		nats.Timeout(opts.Timeout),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", slog.String("error", err.Error()))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", slog.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats %s: %w", opts.URL, err)
	}
	var send sendFunc = func(_ context.Context, msg *nats.Msg) error { return nc.PublishMsg(msg) }
	if opts.JetStream {
		js, err := jetstream.New(nc)
		if err != nil {
			nc.Close()
			return nil, fmt.Errorf("jetstream: %w", err)
		}
		send = func(ctx context.Context, msg *nats.Msg) error {
			_, err := js.PublishMsg(ctx, msg)
			return err
		}
	}
	p := newPublisher(opts.Subject, send, logger)
	p.close = nc.Drain
	return p, nil
}

func newPublisher(subject string, send sendFunc, logger *slog.Logger) *Publisher {
	if subject == "" {
		subject = DefaultSubject
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{subject: subject, send: send, close: func() error { return nil }, logger: logger}
}

// Subject returns the subject events are published on.
func (p *Publisher) Subject() string { return p.subject }

// PublishBuildCommitted encodes summary and publishes it.
func (p *Publisher) PublishBuildCommitted(ctx context.Context, summary domain.BuildSummary) error {
	if summary.BuildID == "" {
		return errors.New("notify: summary without build id")
	}
	data, err := json.Marshal(EventFromSummary(summary))
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	msg := nats.NewMsg(p.subject)
	msg.Data = data
	msg.Header.Set("Content-Type", "application/json")
	msg.Header.Set(jetstream.MsgIDHeader, summary.BuildID+":"+summary.ContentHash)
	if err := p.send(ctx, msg); err != nil {
		return fmt.Errorf("publish %s: %w", p.subject, err)
	}
	p.logger.Debug("build event published", slog.String("subject", p.subject), slog.String("build_id", summary.BuildID))
	return nil
}

// Close drains the connection.
func (p *Publisher) Close() error { return p.close() }

// Noop discards events.
type Noop struct{}

// PublishBuildCommitted does nothing.
func (Noop) PublishBuildCommitted(context.Context, domain.BuildSummary) error { return nil }
