package inference

import (
	"context"
	"fmt"
	"io"

	"github.com/cbodonnell/civlink/pkg/network"
	"github.com/cbodonnell/civlink/pkg/packets"
)

// loginHandshaker sends the login packet and waits for the reply. It is
// replayed by the connection manager on every reconnect.
type loginHandshaker struct {
	login     packets.Login
	maxPacket int
	// resume returns the highest applied server sequence.
	resume func() uint32
}

func (l *loginHandshaker) Handshake(ctx context.Context, rw io.ReadWriter, creds network.Credentials) (network.HandshakeResult, error) {
	login := l.login
	login.Username = creds.Username
	login.Password = creds.Password
	if l.resume != nil {
		login.ResumeSequence = l.resume()
	}

	p, err := packets.NewJSONPacket(packets.TypeLogin, 0, login)
	if err != nil {
		return network.HandshakeResult{}, err
	}
	b, err := packets.Encode(p, l.maxPacket)
	if err != nil {
		return network.HandshakeResult{}, err
	}
	if _, err := rw.Write(b); err != nil {
		return network.HandshakeResult{}, fmt.Errorf("failed to send login: %w", err)
	}

	dec := packets.NewDecoder(l.maxPacket)
	buf := make([]byte, 4096)
	for {
		p, ok, err := dec.Next()
		if err != nil {
			return network.HandshakeResult{}, fmt.Errorf("failed to read login reply: %w", err)
		}
		if !ok {
			if err := ctx.Err(); err != nil {
				return network.HandshakeResult{}, err
			}
			n, err := rw.Read(buf)
			if n > 0 {
				dec.Feed(buf[:n])
			}
			if err != nil && (n == 0 || err != io.EOF) {
				return network.HandshakeResult{}, fmt.Errorf("failed to read login reply: %w", err)
			}
			continue
		}
		if p.Type != packets.TypeLoginReply {
			continue
		}

		var reply packets.LoginReply
		if err := p.DecodeJSON(&reply); err != nil {
			return network.HandshakeResult{}, err
		}
		if !reply.Accepted {
			kind := HandshakeAuthRejected
			if reply.Code == packets.RejectRuleset {
				kind = HandshakeRulesetMismatch
			}
			return network.HandshakeResult{}, &HandshakeError{Kind: kind, Reason: reply.Reason}
		}
		return network.HandshakeResult{
			PlayerID: reply.PlayerID,
			Session:  reply.Session,
			Leftover: dec.Remaining(),
		}, nil
	}
}
