package listener

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"git.home.luguber.info/inful/llmstxt/internal/config"
	"git.home.luguber.info/inful/llmstxt/internal/document"
	"git.home.luguber.info/inful/llmstxt/internal/foundation/errors"
	"git.home.luguber.info/inful/llmstxt/internal/logfields"
)

// Change event kinds carried on the NATS subject.
const (
	EventUpserted        = "upserted"
	EventDeleted         = "deleted"
	EventTaxonomyChanged = "taxonomy_changed"
)

// handleTimeout bounds the work done for one message.
const handleTimeout = 30 * time.Second

// Event is the JSON payload of a change notification. It names the document;
// the current revision is read from the document source.
type Event struct {
	Event      string `json:"event"`
	DocumentID int64  `json:"document_id"`
}

// NATSSubscriber feeds change events from a NATS subject into a
// ChangeListener. Subscribers sharing a queue group split the stream.
type NATSSubscriber struct {
	cfg      config.NATSConfig
	listener ChangeListener
	source   document.Source
	logger   *slog.Logger

	mu   sync.Mutex
	conn *nats.Conn
	sub  *nats.Subscription
	base context.Context
}

// NewNATSSubscriber returns an unstarted subscriber.
func NewNATSSubscriber(cfg config.NATSConfig, l ChangeListener, src document.Source, logger *slog.Logger) *NATSSubscriber {
	if logger == nil {
		logger = slog.Default()
	}
	return &NATSSubscriber{cfg: cfg, listener: l, source: src, logger: logger}
}

// Start connects and subscribes. Message handling stops when ctx is done or
// Close is called.
func (s *NATSSubscriber) Start(ctx context.Context) error {
	conn, err := nats.Connect(s.cfg.URL,
		nats.Name("llmstxt"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				s.logger.Warn("NATS disconnected", logfields.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			s.logger.Info("NATS reconnected", slog.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return errors.WrapError(err, errors.CategoryMessaging, "failed to connect to NATS").
			WithContext("url", s.cfg.URL).Build()
	}

	s.mu.Lock()
	s.base = ctx
	s.conn = conn
	s.mu.Unlock()

	sub, err := conn.QueueSubscribe(s.cfg.Subject, s.cfg.Queue, s.onMessage)
	if err != nil {
		conn.Close()
		return errors.WrapError(err, errors.CategoryMessaging, "failed to subscribe to change events").
			WithContext("subject", s.cfg.Subject).Build()
	}
	s.mu.Lock()
	s.sub = sub
	s.mu.Unlock()

	s.logger.Info("Subscribed to document change events",
		logfields.Subject(s.cfg.Subject), slog.String("queue", s.cfg.Queue))
	return nil
}

// Close drains the subscription and closes the connection.
func (s *NATSSubscriber) Close() error {
	s.mu.Lock()
	sub, conn := s.sub, s.conn
	s.sub, s.conn = nil, nil
	s.mu.Unlock()

	var err error
	if sub != nil {
		err = sub.Drain()
	}
	if conn != nil {
		conn.Close()
	}
	return err
}

func (s *NATSSubscriber) onMessage(msg *nats.Msg) {
	s.mu.Lock()
	base := s.base
	s.mu.Unlock()
	if base == nil {
		base = context.Background()
	}
	if base.Err() != nil {
		return
	}
	ctx, cancel := context.WithTimeout(base, handleTimeout)
	defer cancel()
	if err := s.Handle(ctx, msg.Data); err != nil {
		s.logger.WarnContext(ctx, "Failed to apply change event", logfields.Subject(msg.Subject), logfields.Error(err))
	}
}

// Handle decodes one event and applies it.
func (s *NATSSubscriber) Handle(ctx context.Context, data []byte) error {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return errors.WrapError(err, errors.CategoryValidation, "malformed change event").Build()
	}
	if ev.DocumentID <= 0 {
		return errors.ValidationError("change event without document_id").WithContext("event", ev.Event).Build()
	}

	switch ev.Event {
	case EventUpserted:
		doc, err := s.source.Get(ctx, ev.DocumentID)
		if stderrors.Is(err, document.ErrNotFound) {
			return s.listener.OnDocumentDeleted(ctx, ev.DocumentID)
		}
		if err != nil {
			return errors.WrapError(err, errors.CategorySource, "failed to read changed document").
				WithContext("document_id", ev.DocumentID).Build()
		}
		return s.listener.OnDocumentUpserted(ctx, doc)
	case EventDeleted:
		return s.listener.OnDocumentDeleted(ctx, ev.DocumentID)
	case EventTaxonomyChanged:
		return s.listener.OnTaxonomyChanged(ctx, ev.DocumentID)
	default:
		return errors.ValidationError("unknown change event").WithContext("event", ev.Event).Build()
	}
}
