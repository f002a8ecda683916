package cast

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	nsConnection = "urn:x-cast:com.google.cast.tp.connection"
	nsHeartbeat  = "urn:x-cast:com.google.cast.tp.heartbeat"
	nsReceiver   = "urn:x-cast:com.google.cast.receiver"
	nsMedia      = "urn:x-cast:com.google.cast.media"

	senderID   = "sender-castbridge"
	receiverID = "receiver-0"
)

// ErrRejected wraps error replies such as LAUNCH_ERROR or LOAD_FAILED.
var ErrRejected = errors.New("cast device rejected request")

// Dialer opens the transport to a device. Production dials TLS; the
// device certificate is self-signed, so it cannot be verified.
type Dialer func(ctx context.Context, addr string) (net.Conn, error)

// TLSDialer dials the Cast channel port over TLS.
func TLSDialer(ctx context.Context, addr string) (net.Conn, error) {
	d := &tls.Dialer{
		NetDialer: &net.Dialer{Timeout: DefaultTimeout},
		Config:    &tls.Config{InsecureSkipVerify: true}, //nolint:gosec // Cast devices present self-signed certificates
	}
	return d.DialContext(ctx, "tcp", addr)
}

// reply is the common envelope of receiver and media answers.
type reply struct {
	Type      string          `json:"type"`
	RequestID int             `json:"requestId"`
	Status    json.RawMessage `json:"status"`
	Reason    string          `json:"reason,omitempty"`
}

// channel is one virtual-connection session over a device socket. It is
// used by a single goroutine at a time.
type channel struct {
	conn   net.Conn
	nextID int
}

func openChannel(ctx context.Context, dial Dialer, addr string) (*channel, error) {
	conn, err := dial(ctx, addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	ch := &channel{conn: conn}
	if err := ch.connect(receiverID); err != nil {
		conn.Close()
		return nil, err
	}
	return ch, nil
}

func (ch *channel) Close() error {
	return ch.conn.Close()
}

// connect opens the virtual connection to a receiver or app transport.
func (ch *channel) connect(dest string) error {
	return ch.send(nsConnection, dest, map[string]any{"type": "CONNECT"})
}

func (ch *channel) send(namespace, dest string, payload map[string]any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return writeFrame(ch.conn, message{
		Source:      senderID,
		Destination: dest,
		Namespace:   namespace,
		Payload:     string(body),
	})
}

// request sends payload with a fresh requestId and waits for the answer
// carrying the same id. Heartbeats are answered while waiting.
func (ch *channel) request(ctx context.Context, namespace, dest string, payload map[string]any) (reply, error) {
	ch.nextID++
	id := ch.nextID
	payload["requestId"] = id

	if deadline, ok := ctx.Deadline(); ok {
		_ = ch.conn.SetDeadline(deadline)
	} else {
		_ = ch.conn.SetDeadline(time.Time{})
	}
	// a cancelled context unblocks the pending read
	stop := context.AfterFunc(ctx, func() { _ = ch.conn.SetDeadline(time.Unix(1, 0)) })
	defer stop()

	if err := ch.send(namespace, dest, payload); err != nil {
		return reply{}, ch.ctxErr(ctx, err)
	}

	for {
		m, err := readFrame(ch.conn)
		if err != nil {
			return reply{}, ch.ctxErr(ctx, err)
		}

		if m.Namespace == nsHeartbeat {
			if err := ch.send(nsHeartbeat, m.Source, map[string]any{"type": "PONG"}); err != nil {
				return reply{}, ch.ctxErr(ctx, err)
			}
			continue
		}

		var r reply
		if err := json.Unmarshal([]byte(m.Payload), &r); err != nil {
			log.Debug().Err(err).Str("namespace", m.Namespace).Msg("Ignoring undecodable cast message")
			continue
		}
		if r.RequestID != id {
			continue
		}
		switch r.Type {
		case "LAUNCH_ERROR", "LOAD_FAILED", "LOAD_CANCELLED", "INVALID_REQUEST", "INVALID_PLAYER_STATE":
			if r.Reason != "" {
				return r, fmt.Errorf("%w: %s (%s)", ErrRejected, r.Type, r.Reason)
			}
			return r, fmt.Errorf("%w: %s", ErrRejected, r.Type)
		}
		return r, nil
	}
}

func (ch *channel) ctxErr(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if _, ok := ctx.Deadline(); ok && errors.Is(err, os.ErrDeadlineExceeded) {
		return context.DeadlineExceeded
	}
	return err
}

// application is one entry of a RECEIVER_STATUS.
type application struct {
	AppID       string `json:"appId"`
	SessionID   string `json:"sessionId"`
	TransportID string `json:"transportId"`
	DisplayName string `json:"displayName"`
}

type receiverStatus struct {
	Applications []application `json:"applications"`
}

func (s receiverStatus) app(appID string) (application, bool) {
	for _, a := range s.Applications {
		if a.AppID == appID {
			return a, true
		}
	}
	return application{}, false
}

type mediaStatus struct {
	MediaSessionID int    `json:"mediaSessionId"`
	PlayerState    string `json:"playerState"`
	IdleReason     string `json:"idleReason,omitempty"`
}

func decodeReceiverStatus(r reply) (receiverStatus, error) {
	var s receiverStatus
	if len(r.Status) == 0 {
		return s, nil
	}
	if err := json.Unmarshal(r.Status, &s); err != nil {
		return s, fmt.Errorf("decode receiver status: %w", err)
	}
	return s, nil
}

func decodeMediaStatus(r reply) ([]mediaStatus, error) {
	var s []mediaStatus
	if len(r.Status) == 0 {
		return nil, nil
	}
	if err := json.Unmarshal(r.Status, &s); err != nil {
		return nil, fmt.Errorf("decode media status: %w", err)
	}
	return s, nil
}
