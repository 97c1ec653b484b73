/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package transport

import (
	"context"
	"encoding/binary"
	"sync"

	"geotxn/config"
	"geotxn/logging"
	"geotxn/txn"
	"geotxn/wire"

	"github.com/pkg/errors"
	"google.golang.org/grpc"
	"google.golang.org/grpc/encoding"
)

// frameCodecName is registered with grpc's encoding package so both ends
// of a connection exchange raw bytes instead of requiring .proto-compiled
// messages; this core ships no protoc step (see DESIGN.md).
const frameCodecName = "geotxn-frame"

func init() {
	encoding.RegisterCodec(frameCodec{})
}

// frame is the physical wire message: sender identity, destination
// channel, and the marshaled Envelope payload. The logical envelope
// carries none of this itself, per the framing rule; frame is where that
// metadata actually travels on a gRPC connection.
type frame struct {
	data []byte
}

// frameCodec is a grpc/encoding.Codec that passes frame.data through
// unchanged, so this transport never needs .proto-generated marshaling.
type frameCodec struct{}

func (frameCodec) Marshal(v interface{}) ([]byte, error) {
	f, ok := v.(*frame)
	if !ok {
		return nil, errors.Errorf("geotxn-frame codec cannot marshal %T", v)
	}
	return f.data, nil
}

func (frameCodec) Unmarshal(data []byte, v interface{}) error {
	f, ok := v.(*frame)
	if !ok {
		return errors.Errorf("geotxn-frame codec cannot unmarshal into %T", v)
	}
	f.data = append([]byte(nil), data...)
	return nil
}

func (frameCodec) Name() string {
	return frameCodecName
}

func encodeFrame(from txn.MachineId, channel config.Channel, payload []byte) []byte {
	channelBytes := []byte(channel)
	buf := make([]byte, 0, 8+4+len(channelBytes)+len(payload))
	buf = appendUint64(buf, uint64(from))
	buf = appendUint32(buf, uint32(len(channelBytes)))
	buf = append(buf, channelBytes...)
	buf = append(buf, payload...)
	return buf
}

func decodeFrame(raw []byte) (txn.MachineId, config.Channel, []byte, error) {
	if len(raw) < 12 {
		return 0, "", nil, errors.New("truncated frame header")
	}
	from := binary.BigEndian.Uint64(raw[0:8])
	channelLen := binary.BigEndian.Uint32(raw[8:12])
	raw = raw[12:]
	if uint32(len(raw)) < channelLen {
		return 0, "", nil, errors.New("truncated frame channel")
	}
	channel := config.Channel(raw[:channelLen])
	payload := raw[channelLen:]
	return txn.MachineId(from), channel, payload, nil
}

func appendUint32(buf []byte, v uint32) []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	return append(buf, b[:]...)
}

func appendUint64(buf []byte, v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return append(buf, b[:]...)
}

// transportServer is the service every GRPCTransport exposes so peers can
// push frames to it.
type transportServer interface {
	Deliver(ctx context.Context, in *frame) (*frame, error)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: "geotxn.Transport",
	HandlerType: (*transportServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Deliver", Handler: deliverHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "geotxn/transport.proto",
}

func deliverHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(frame)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(transportServer).Deliver(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/geotxn.Transport/Deliver"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(transportServer).Deliver(ctx, req.(*frame))
	}
	return interceptor(ctx, in, info, handler)
}

// AddressBook resolves a MachineId to the network address its
// GRPCTransport listens on.
type AddressBook interface {
	Address(machineID txn.MachineId) (string, bool)
}

// StaticAddressBook is a map-backed AddressBook, sufficient for a
// topology fixed at deployment time (the core does not support dynamic
// reconfiguration of replica membership, per its non-goals).
type StaticAddressBook map[txn.MachineId]string

func (b StaticAddressBook) Address(machineID txn.MachineId) (string, bool) {
	addr, ok := b[machineID]
	return addr, ok
}

// GRPCTransport is the inter-machine Transport backend: it lazily dials a
// peer on first Send to it, caches the connection, and delivers incoming
// frames to per-channel local queues for modules to Subscribe to.
type GRPCTransport struct {
	logger    logging.Logger
	localID   txn.MachineId
	addresses AddressBook

	mu    sync.Mutex
	conns map[txn.MachineId]*grpc.ClientConn

	inboundMu sync.Mutex
	inbound   map[config.Channel]chan Delivery

	server *grpc.Server
}

// NewGRPCTransport constructs a transport identified as localID, dialing
// peers lazily through addresses.
func NewGRPCTransport(logger logging.Logger, localID txn.MachineId, addresses AddressBook) *GRPCTransport {
	return &GRPCTransport{
		logger:    logger,
		localID:   localID,
		addresses: addresses,
		conns:     make(map[txn.MachineId]*grpc.ClientConn),
		inbound:   make(map[config.Channel]chan Delivery),
	}
}

// Serve registers this transport's Deliver handler on server. Callers own
// server's lifecycle (listening, Serve, GracefulStop).
func (g *GRPCTransport) Serve(server *grpc.Server) {
	g.server = server
	server.RegisterService(&serviceDesc, g)
}

// Deliver implements transportServer; it is invoked by gRPC when a peer
// pushes a frame to this machine.
func (g *GRPCTransport) Deliver(ctx context.Context, in *frame) (*frame, error) {
	from, channel, payload, err := decodeFrame(in.data)
	if err != nil {
		return nil, errors.Wrap(err, "malformed frame")
	}
	envelope, err := wire.Unmarshal(payload)
	if err != nil {
		// Unknown request variant: log and drop, never fatal.
		g.logger.Errorf("dropping undecodable envelope from %d on channel %s: %v", from, channel, err)
		return &frame{}, nil
	}
	g.deliverLocal(channel, Delivery{Envelope: envelope, From: from})
	return &frame{}, nil
}

// Subscribe returns the inbound channel for channel, lazily creating it.
func (g *GRPCTransport) Subscribe(channel config.Channel) <-chan Delivery {
	g.inboundMu.Lock()
	defer g.inboundMu.Unlock()
	c, ok := g.inbound[channel]
	if !ok {
		c = make(chan Delivery, chanHWM)
		g.inbound[channel] = c
	}
	return c
}

func (g *GRPCTransport) deliverLocal(channel config.Channel, d Delivery) {
	g.inboundMu.Lock()
	c, ok := g.inbound[channel]
	if !ok {
		c = make(chan Delivery, chanHWM)
		g.inbound[channel] = c
	}
	g.inboundMu.Unlock()

	select {
	case c <- d:
	default:
		g.logger.Warnf("channel %s at machine %d is full, dropping message", channel, g.localID)
	}
}

// Send delivers envelope to channel on machineID over gRPC, dialing
// lazily and reusing the connection for subsequent sends. Failures
// during teardown are dropped silently; the core never blocks or
// retries at this layer.
func (g *GRPCTransport) Send(envelope wire.Envelope, machineID txn.MachineId, channel config.Channel) {
	conn, err := g.connFor(machineID)
	if err != nil {
		g.logger.Warnf("failed to connect to machine %d: %v", machineID, err)
		return
	}

	payload, err := wire.Marshal(envelope)
	if err != nil {
		g.logger.Errorf("failed to marshal envelope for machine %d: %v", machineID, err)
		return
	}

	client := &frameClient{cc: conn}
	if _, err := client.Deliver(context.Background(), &frame{data: encodeFrame(g.localID, channel, payload)}); err != nil {
		g.logger.Warnf("failed sending to machine %d: %v", machineID, err)
	}
}

// SendLocal delivers envelope to channel within this process.
func (g *GRPCTransport) SendLocal(envelope wire.Envelope, channel config.Channel) {
	g.deliverLocal(channel, Delivery{Envelope: envelope, From: g.localID})
}

func (g *GRPCTransport) connFor(machineID txn.MachineId) (*grpc.ClientConn, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if conn, ok := g.conns[machineID]; ok {
		return conn, nil
	}

	addr, ok := g.addresses.Address(machineID)
	if !ok {
		return nil, errors.Errorf("no address known for machine %d", machineID)
	}

	conn, err := grpc.NewClient(addr, grpc.WithDefaultCallOptions(grpc.CallContentSubtype(frameCodecName)))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to dial machine %d at %s", machineID, addr)
	}
	g.conns[machineID] = conn
	return conn, nil
}

// Shutdown closes and forgets every outbound connection this transport
// opened. A Send after Shutdown dials the peer again; a send that fails
// is logged and dropped, never returned to the caller as an error.
func (g *GRPCTransport) Shutdown() {
	g.mu.Lock()
	defer g.mu.Unlock()
	for id, conn := range g.conns {
		if err := conn.Close(); err != nil {
			g.logger.Warnf("error closing connection to machine %d: %v", id, err)
		}
	}
	g.conns = make(map[txn.MachineId]*grpc.ClientConn)
}

type frameClient struct {
	cc *grpc.ClientConn
}

func (c *frameClient) Deliver(ctx context.Context, in *frame, opts ...grpc.CallOption) (*frame, error) {
	out := new(frame)
	opts = append(opts, grpc.CallContentSubtype(frameCodecName))
	if err := c.cc.Invoke(ctx, "/geotxn.Transport/Deliver", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
