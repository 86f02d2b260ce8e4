// Package controlbus is an in-process messaging layer for control
// applications: named objects exchange request/reply messages through a bus,
// and event driven state machines react to them.
//
// # Layout
//
//   - message: messages, the bus, endpoints, filter chains, reply catchers,
//     registered methods and queued endpoints
//   - statemachine: states, events and transitions on a queued endpoint
//   - registry: the name to object database the bus routes through, and
//     construction of object trees from configuration
//   - classes: the built-in classes a configuration tree can instantiate
//   - natsbridge: remote destinations over NATS request/reply
//   - config, errors, health, metric: configuration, the failure taxonomy,
//     health reporting and Prometheus metrics
//   - pkg/retry: backoff for transient failures
//
// # Messaging model
//
// A message is addressed by destination name and function name. The same
// instance travels to the destination and, when a reply is expected, becomes
// the reply. Direct replies complete in place and the sender waits on the
// message; indirect replies are delivered back to the sender, whose reply
// catcher filters pick them up.
//
//	reg := registry.New()
//	bus := message.NewBus(reg)
//
//	methods := message.NewMethodTable()
//	_ = methods.Register("Scale", message.Ref1(func(v *float64) error {
//	    *v *= 2
//	    return nil
//	}))
//	_ = reg.Insert("Gain", message.NewEndpoint("Gain", bus, message.WithMethods(methods)))
//
//	msg := message.New("Gain", "Scale", message.WithPayload(1.5))
//	err := bus.SendMessageAndWaitReply(ctx, msg, "Caller", time.Second)
//	// msg.Payload() is now [3.0]
//
// # Running a tree
//
// The controlbus command loads a YAML file, builds its objects section into
// the registry and runs until interrupted:
//
//	controlbus --config configs/example.yaml
package controlbus
