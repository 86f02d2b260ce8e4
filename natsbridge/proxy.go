package natsbridge

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/c360/controlbus/errors"
	"github.com/c360/controlbus/message"
)

// DefaultSubjectPrefix prefixes the subject of every exported destination.
const DefaultSubjectPrefix = "controlbus"

// DefaultRequestTimeout bounds requests whose message waits forever.
const DefaultRequestTimeout = 30 * time.Second

// Sentinel errors for remote delivery.
var (
	// ErrNoResponders indicates no server exports the remote destination
	ErrNoResponders = fmt.Errorf("no remote responder: %w", errors.ErrUnsupportedFeature)

	// ErrRemoteReply indicates a remote reply could not be applied
	ErrRemoteReply = fmt.Errorf("invalid remote reply: %w", errors.ErrCommunication)
)

// Requester is the part of *nats.Conn a Proxy uses.
type Requester interface {
	RequestWithContext(ctx context.Context, subj string, data []byte) (*nats.Msg, error)
	Publish(subj string, data []byte) error
}

// Subject returns the subject a destination is exported on.
func Subject(prefix, destination string) string {
	return prefix + "." + destination
}

// Proxy stands in for a destination living in another process. Registered
// under a local name, it forwards requests over NATS and completes the reply
// protocol locally once the remote reply arrives. Delivery is synchronous.
type Proxy struct {
	name    string
	remote  string
	prefix  string
	timeout time.Duration
	conn    Requester
	bus     *message.Bus
	logger  *slog.Logger
}

// ProxyOption configures a Proxy
type ProxyOption func(*Proxy)

// WithRemoteName addresses a remote destination whose name differs from the proxy's
func WithRemoteName(name string) ProxyOption {
	return func(p *Proxy) {
		if name != "" {
			p.remote = name
		}
	}
}

// WithSubjectPrefix overrides DefaultSubjectPrefix
func WithSubjectPrefix(prefix string) ProxyOption {
	return func(p *Proxy) {
		if prefix != "" {
			p.prefix = prefix
		}
	}
}

// WithRequestTimeout overrides DefaultRequestTimeout
func WithRequestTimeout(d time.Duration) ProxyOption {
	return func(p *Proxy) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// NewProxy creates a proxy registered locally as name. Replies are completed
// through bus.
func NewProxy(name string, bus *message.Bus, conn Requester, opts ...ProxyOption) *Proxy {
	p := &Proxy{
		name:    name,
		remote:  name,
		prefix:  DefaultSubjectPrefix,
		timeout: DefaultRequestTimeout,
		conn:    conn,
		bus:     bus,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = bus.Logger().With("proxy", name, "subject", p.Subject())
	return p
}

// Name returns the local registry name
func (p *Proxy) Name() string {
	return p.name
}

// Subject returns the subject requests are sent on
func (p *Proxy) Subject() string {
	return Subject(p.prefix, p.remote)
}

// ReceiveMessage implements message.Receiver. Messages expecting no reply are
// published; the others wait for the remote reply, bounded by MaxWait.
func (p *Proxy) ReceiveMessage(ctx context.Context, msg *message.Message) error {
	if msg.IsReply() {
		return errors.WrapInvalid(message.ErrReplyToReply, p.name, "ReceiveMessage", "forward reply")
	}

	env, err := NewEnvelope(msg, p.remote)
	if err != nil {
		return errors.WrapInvalid(err, p.name, "ReceiveMessage", "encode message")
	}
	data, err := env.Marshal()
	if err != nil {
		return errors.WrapInvalid(err, p.name, "ReceiveMessage", "marshal envelope")
	}

	if !msg.ExpectsReply() {
		if err := p.conn.Publish(p.Subject(), data); err != nil {
			return errors.WrapTransient(stderrors.Join(errors.ErrCommunication, err), p.name, "ReceiveMessage", "publish")
		}
		return nil
	}

	timeout := msg.MaxWait()
	if timeout <= 0 {
		timeout = p.timeout
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resp, err := p.conn.RequestWithContext(reqCtx, p.Subject(), data)
	if err != nil {
		return p.requestError(err)
	}

	reply, err := Unmarshal(resp.Data)
	if err != nil {
		return errors.WrapTransient(stderrors.Join(ErrRemoteReply, err), p.name, "ReceiveMessage", "decode reply")
	}
	payload, err := reply.DecodePayload()
	if err != nil {
		return errors.WrapTransient(stderrors.Join(ErrRemoteReply, err), p.name, "ReceiveMessage", "decode reply payload")
	}
	if len(payload) > 0 {
		msg.SetPayload(payload...)
	}

	p.logger.Debug("Remote reply received", "message", msg, "error", reply.Error)
	return p.bus.Reply(ctx, msg, reply.Err())
}

func (p *Proxy) requestError(err error) error {
	switch {
	case stderrors.Is(err, nats.ErrNoResponders):
		return errors.WrapInvalid(ErrNoResponders, p.name, "ReceiveMessage", p.Subject())
	case stderrors.Is(err, nats.ErrTimeout), stderrors.Is(err, context.DeadlineExceeded):
		return errors.WrapTransient(stderrors.Join(message.ErrReplyTimeout, err), p.name, "ReceiveMessage", "request")
	default:
		return errors.WrapTransient(stderrors.Join(errors.ErrCommunication, err), p.name, "ReceiveMessage", "request")
	}
}
