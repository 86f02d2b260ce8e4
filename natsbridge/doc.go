// Package natsbridge carries messages between processes over NATS
// request/reply.
//
// A Server exports local destinations, one subject per name
// ("controlbus.<name>" by default). A Proxy is registered locally under a
// name and forwards every request it receives to the matching subject, so a
// sender cannot tell a remote destination from a local one.
//
// # Wire format
//
// Messages travel as JSON envelopes. Payload objects carry their Go scalar
// type so a uint32 sent is a uint32 received; other values travel as plain
// JSON. A reply envelope keeps the request id and reports the remote outcome
// as an error string plus its kind, which the proxy turns back into an error
// matching the same sentinel.
//
// # Reply modes
//
// Messages expecting no reply are published. The others are sent as NATS
// requests bounded by the message's MaxWait (DefaultRequestTimeout when it
// is zero). The remote side always answers directly; the proxy then finishes
// the local protocol, routing the message back to its sender when an
// indirect reply was asked for.
//
// # Usage
//
//	client := natsbridge.NewClient("nats://localhost:4222", natsbridge.WithClientName("plant-a"))
//	if err := client.Connect(ctx); err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	server := natsbridge.NewServer(bus, []string{"Receiver"})
//	if err := server.Start(ctx, client.Conn()); err != nil {
//	    return err
//	}
//
//	// In another process:
//	proxy := natsbridge.NewProxy("Receiver", bus, client.Conn())
//	registry.Insert("Receiver", proxy)
package natsbridge
