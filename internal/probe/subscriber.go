package probe

import (
	"Go2NetSentinel/internal/config"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// AlertHandler processes one received alert batch.
type AlertHandler func(msg *AlertMessage)

// Subscriber is responsible for subscribing to the alert subject and decoding messages.
type Subscriber struct {
	nc      *nats.Conn
	sub     *nats.Subscription
	subject string
	logger  *zap.Logger
}

// NewSubscriber creates a new NATS subscriber.
func NewSubscriber(cfg config.NATSConfig, logger *zap.Logger) (*Subscriber, error) {
	nc, err := nats.Connect(cfg.URL, nats.Name("go2netsentinel-tail"))
	if err != nil {
		return nil, err
	}
	logger.Info("connected to NATS server", zap.String("url", cfg.URL))
	return &Subscriber{nc: nc, subject: cfg.Subject, logger: logger}, nil
}

// Start subscribes to the subject and hands every decodable message to handler.
func (s *Subscriber) Start(handler AlertHandler) error {
	sub, err := s.nc.Subscribe(s.subject, func(msg *nats.Msg) {
		decoded, err := DecodeAlerts(msg.Data)
		if err != nil {
			s.logger.Warn("dropping undecodable alert message", zap.Error(err))
			return
		}
		if decoded.RunID == "" {
			decoded.RunID = msg.Header.Get(MsgIDHeader)
		}
		handler(decoded)
	})
	if err != nil {
		return err
	}
	s.sub = sub
	s.logger.Info("subscribed, waiting for alerts", zap.String("subject", s.subject))
	return nil
}

// Close unsubscribes and closes the NATS connection.
func (s *Subscriber) Close() {
	if s.sub != nil {
		_ = s.sub.Unsubscribe()
	}
	if s.nc != nil {
		s.nc.Close()
		s.logger.Info("NATS connection closed")
	}
}
