package ctlapi

import (
	"context"
	"net"
)

// PeerCredentials identifies the process on the other end of the socket.
type PeerCredentials struct {
	PID int32
	UID uint32
	GID uint32
}

type peerKey struct{}

// withPeerCredentials stores the connecting process's credentials in the
// connection context when the platform can report them.
func withPeerCredentials(ctx context.Context, conn net.Conn) context.Context {
	cred, err := getPeerCredentials(conn)
	if err != nil {
		return ctx
	}
	return context.WithValue(ctx, peerKey{}, cred)
}

// PeerFromContext returns the credentials recorded for the request's
// connection.
func PeerFromContext(ctx context.Context) (*PeerCredentials, bool) {
	cred, ok := ctx.Value(peerKey{}).(*PeerCredentials)
	return cred, ok
}

func peerAttrs(ctx context.Context) []any {
	cred, ok := PeerFromContext(ctx)
	if !ok {
		return nil
	}
	return []any{"peer_uid", cred.UID, "peer_pid", cred.PID}
}
