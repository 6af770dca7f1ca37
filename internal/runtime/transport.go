package runtime

import (
	"context"

	"github.com/elara-net/elara/pkg/ids"
)

// Transport is the only contract the runtime needs from the outside
// world, per spec.md §6: "send(peer, bytes)" / "recv() -> (peer, bytes)".
// Datagram delivery, NAT traversal, discovery and relay are external
// collaborators spec.md §1 places out of scope; Transport is the seam
// between them and the protocol engine.
type Transport interface {
	// Send hands a fully encrypted wire frame to peer. The transport owns
	// retry, fragmentation and path selection; the runtime never inspects
	// the frame again once Send is called.
	Send(ctx context.Context, peer ids.NodeId, frame []byte) error
}

// TransportFunc adapts a plain function to Transport.
type TransportFunc func(ctx context.Context, peer ids.NodeId, frame []byte) error

func (f TransportFunc) Send(ctx context.Context, peer ids.NodeId, frame []byte) error {
	return f(ctx, peer, frame)
}
