package classes

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/c360/controlbus/config"
	"github.com/c360/controlbus/errors"
	"github.com/c360/controlbus/message"
	"github.com/c360/controlbus/natsbridge"
	"github.com/c360/controlbus/registry"
	"github.com/c360/controlbus/statemachine"
)

// Class names understood by the configuration tree.
const (
	MessageClass       = statemachine.MessageClass
	StateMachineClass  = "StateMachine"
	ContainerClass     = "ReferenceContainer"
	ValueClass         = "Value"
	MessageLoggerClass = "MessageLogger"
	NATSProxyClass     = "NATSProxy"
)

// Dependencies are the shared collaborators handed to factories.
type Dependencies struct {
	Bus *message.Bus
	// NATS is nil when the bridge is disabled; NATSProxy sections then fail to build
	NATS          natsbridge.Requester
	QueuedOptions []message.QueuedOption
	Logger        *slog.Logger
}

// Register installs every built-in class into r.
func Register(r *registry.Registry, deps Dependencies) error {
	if deps.Bus == nil {
		return errors.WrapInvalid(
			fmt.Errorf("%w: bus", errors.ErrMissingConfig), "classes", "Register", "dependency check")
	}
	if deps.Logger == nil {
		deps.Logger = deps.Bus.Logger()
	}

	regs := []*registry.Registration{
		{
			Name:        MessageClass,
			Description: "Message with destination, function, mode and payload",
			Factory: func(node *config.Node, r *registry.Registry) (any, error) {
				return message.FromConfig(node, r.Build)
			},
		},
		{
			Name:        StateMachineClass,
			Description: "Event driven state machine on a queued endpoint",
			Factory: func(node *config.Node, r *registry.Registry) (any, error) {
				return statemachine.FromConfig(node.Name(), deps.Bus, node, r.Build, deps.QueuedOptions...)
			},
		},
		{
			Name:        ContainerClass,
			Description: "Named group of objects reachable through dotted paths",
			Factory: func(node *config.Node, r *registry.Registry) (any, error) {
				return registry.GroupFromConfig(node, r)
			},
		},
		{
			Name:        ValueClass,
			Description: "Typed scalar used as a message payload",
			Factory: func(node *config.Node, _ *registry.Registry) (any, error) {
				return ValueFromConfig(node)
			},
		},
		{
			Name:        MessageLoggerClass,
			Description: "Endpoint logging and acknowledging every message",
			Factory: func(node *config.Node, _ *registry.Registry) (any, error) {
				return MessageLoggerFromConfig(node, deps.Bus, deps.QueuedOptions...)
			},
		},
		{
			Name:        NATSProxyClass,
			Description: "Local stand-in for a destination exported over NATS",
			Factory: func(node *config.Node, _ *registry.Registry) (any, error) {
				return proxyFromConfig(node, deps)
			},
		},
	}

	for _, reg := range regs {
		if err := r.RegisterClass(reg); err != nil {
			return err
		}
		deps.Logger.Debug("Class registered", "class", reg.Name)
	}
	return nil
}

// proxyFromConfig reads Destination (the remote name, defaults to the
// section name), SubjectPrefix and Timeout.
func proxyFromConfig(node *config.Node, deps Dependencies) (*natsbridge.Proxy, error) {
	if deps.NATS == nil {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: NATS bridge disabled", errors.ErrUnsupportedFeature), "NATSProxy", "FromConfig", node.Name())
	}
	timeout, err := node.Duration("Timeout", 0)
	if err != nil {
		return nil, errors.WrapInvalid(err, "NATSProxy", "FromConfig", node.Name())
	}
	return natsbridge.NewProxy(node.Name(), deps.Bus, deps.NATS,
		natsbridge.WithRemoteName(node.String("Destination", "")),
		natsbridge.WithSubjectPrefix(node.String("SubjectPrefix", "")),
		natsbridge.WithRequestTimeout(timeout)), nil
}

// ValueFromConfig builds a typed scalar from Type and Value. Type defaults
// to string.
func ValueFromConfig(node *config.Node) (any, error) {
	typ := node.String("Type", natsbridge.TypeString)
	if !node.Has("Value") {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: Value of %q", errors.ErrMissingConfig, node.Name()), "Value", "FromConfig", node.Name())
	}

	var (
		v   any
		err error
	)
	switch typ {
	case natsbridge.TypeBool:
		v, err = read[bool](node)
	case natsbridge.TypeString:
		v, err = read[string](node)
	case natsbridge.TypeInt:
		v, err = read[int](node)
	case natsbridge.TypeInt32:
		v, err = read[int32](node)
	case natsbridge.TypeInt64:
		v, err = read[int64](node)
	case natsbridge.TypeUint32:
		v, err = read[uint32](node)
	case natsbridge.TypeUint64:
		v, err = read[uint64](node)
	case natsbridge.TypeFloat32:
		v, err = read[float32](node)
	case natsbridge.TypeFloat64:
		v, err = read[float64](node)
	case "duration":
		v, err = node.Duration("Value", time.Duration(0))
	default:
		err = fmt.Errorf("%w: unknown Type %q", errors.ErrInvalidConfig, typ)
	}
	if err != nil {
		return nil, errors.WrapInvalid(err, "Value", "FromConfig", node.Name())
	}
	return v, nil
}

func read[T any](node *config.Node) (T, error) {
	var out T
	err := node.Read("Value", &out)
	return out, err
}
