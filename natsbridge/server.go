package natsbridge

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/controlbus/errors"
	"github.com/c360/controlbus/health"
	"github.com/c360/controlbus/message"
	"github.com/c360/controlbus/metric"
)

// DefaultServerName is the sender stamped on requests arriving from NATS.
const DefaultServerName = "natsbridge"

// Subscriber is the part of *nats.Conn a Server uses.
type Subscriber interface {
	Subscribe(subj string, cb nats.MsgHandler) (*nats.Subscription, error)
}

// Server exports local destinations on NATS. Each exported name gets its own
// subject; requests are rebuilt as local messages and delivered through the
// bus. A remote sender waiting for a reply is always served with a direct
// reply, whatever mode it asked for.
type Server struct {
	name    string
	prefix  string
	exports []string
	bus     *message.Bus
	logger  *slog.Logger

	requests *prometheus.CounterVec
	registry metric.MetricsRegistrar

	mu     sync.Mutex
	subs   []*nats.Subscription
	cancel context.CancelFunc
}

// ServerOption configures a Server
type ServerOption func(*Server)

// WithServerName sets the sender name stamped on delivered requests
func WithServerName(name string) ServerOption {
	return func(s *Server) {
		if name != "" {
			s.name = name
		}
	}
}

// WithServerSubjectPrefix overrides DefaultSubjectPrefix
func WithServerSubjectPrefix(prefix string) ServerOption {
	return func(s *Server) {
		if prefix != "" {
			s.prefix = prefix
		}
	}
}

// WithServerMetrics registers the request counter in registry
func WithServerMetrics(registry metric.MetricsRegistrar) ServerOption {
	return func(s *Server) {
		s.registry = registry
	}
}

// NewServer creates a server exporting the named local destinations
func NewServer(bus *message.Bus, exports []string, opts ...ServerOption) *Server {
	s := &Server{
		name:    DefaultServerName,
		prefix:  DefaultSubjectPrefix,
		exports: slices.Clone(exports),
		bus:     bus,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = bus.Logger().With("component", s.name)

	if s.registry != nil {
		s.requests = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "controlbus",
				Subsystem: "natsbridge",
				Name:      "requests_total",
				Help:      "Requests received from NATS by destination and outcome",
			},
			[]string{"destination", "outcome"},
		)
		if err := s.registry.Register(s.name, "requests_total", s.requests); err != nil {
			s.logger.Warn("Request metrics not registered", "error", err)
			s.requests = nil
		}
	}
	return s
}

// Exports returns the exported destination names
func (s *Server) Exports() []string {
	return slices.Clone(s.exports)
}

// Start subscribes every exported destination. Deliveries run under a context
// derived from ctx that ends on Stop.
func (s *Server) Start(ctx context.Context, conn Subscriber) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, s.name, "Start", "subscribe")
	}

	runCtx, cancel := context.WithCancel(ctx)
	subs := make([]*nats.Subscription, 0, len(s.exports))
	for _, destination := range s.exports {
		subject := Subject(s.prefix, destination)
		sub, err := conn.Subscribe(subject, func(m *nats.Msg) {
			out := s.handle(runCtx, destination, m.Data)
			if m.Reply == "" || out == nil {
				return
			}
			if err := m.Respond(out); err != nil {
				s.logger.Warn("Failed to respond", "subject", subject, "error", err)
			}
		})
		if err != nil {
			cancel()
			for _, sub := range subs {
				_ = sub.Unsubscribe()
			}
			return errors.WrapTransient(stderrors.Join(errors.ErrCommunication, err), s.name, "Start", "subscribe "+subject)
		}
		subs = append(subs, sub)
		s.logger.Debug("Exported destination", "destination", destination, "subject", subject)
	}

	s.subs = subs
	s.cancel = cancel
	s.logger.Info("NATS bridge started", "exports", len(s.exports))
	return nil
}

// Stop drains the subscriptions. The timeout is currently advisory: draining
// is bounded by the connection's drain timeout.
func (s *Server) Stop(_ time.Duration) error {
	s.mu.Lock()
	subs, cancel := s.subs, s.cancel
	s.subs, s.cancel = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return nil
	}
	var errs []error
	for _, sub := range subs {
		if err := sub.Drain(); err != nil && !stderrors.Is(err, nats.ErrConnectionClosed) {
			errs = append(errs, err)
		}
	}
	cancel()
	if err := stderrors.Join(errs...); err != nil {
		return errors.WrapTransient(err, s.name, "Stop", "drain subscriptions")
	}
	return nil
}

// Running reports whether the server is subscribed
func (s *Server) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancel != nil
}

// Health implements health.Reporter
func (s *Server) Health() health.Status {
	if s.Running() {
		return health.NewHealthy(s.name, fmt.Sprintf("exporting %d destinations", len(s.exports)))
	}
	return health.NewUnhealthy(s.name, "not subscribed")
}

// handle delivers one request and returns the encoded reply, or nil when the
// sender expects none.
func (s *Server) handle(ctx context.Context, destination string, data []byte) []byte {
	env, err := Unmarshal(data)
	if err != nil {
		s.count(destination, err)
		s.logger.Warn("Dropping malformed request", "destination", destination, "error", err)
		return s.errorReply(&Envelope{Destination: destination}, err)
	}
	env.Destination = destination

	msg, err := env.Message()
	if err != nil {
		s.count(destination, err)
		return s.errorReply(env, err)
	}

	if !msg.ExpectsReply() {
		err = s.bus.SendMessage(ctx, msg, s.name)
		s.count(destination, err)
		if err != nil {
			s.logger.Warn("Remote message not delivered", "message", msg, "error", err)
		}
		return nil
	}

	err = s.bus.SendMessageAndWaitReply(ctx, msg, s.name, msg.MaxWait())
	s.count(destination, err)

	reply, encErr := NewEnvelope(msg, destination)
	if encErr != nil {
		return s.errorReply(env, encErr)
	}
	reply.ID = env.ID
	reply.Sender = env.Sender
	reply.Mode = env.Mode
	reply.Reply = true
	reply.SetError(err)

	out, encErr := reply.Marshal()
	if encErr != nil {
		return s.errorReply(env, encErr)
	}
	return out
}

func (s *Server) errorReply(req *Envelope, err error) []byte {
	reply := &Envelope{
		ID:          req.ID,
		Destination: req.Destination,
		Function:    req.Function,
		Sender:      req.Sender,
		Mode:        req.Mode,
		Reply:       true,
	}
	if reply.Function == "" {
		reply.Function = "-"
	}
	reply.SetError(err)
	out, mErr := reply.Marshal()
	if mErr != nil {
		s.logger.Error("Failed to encode error reply", "error", mErr)
		return nil
	}
	return out
}

func (s *Server) count(destination string, err error) {
	if s.requests == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = errors.KindOf(err).String()
	}
	s.requests.WithLabelValues(destination, outcome).Inc()
}
