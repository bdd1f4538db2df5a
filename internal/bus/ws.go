package bus

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"

	"github.com/coder/websocket"

	"github.com/surfacekit/uibridge/internal/logx"
	"github.com/surfacekit/uibridge/internal/wire"
)

// Register is the first frame a guest sends after connecting. The token must
// match the one minted by the host for this session; the origin becomes the
// guest's sender identity for the lifetime of the connection.
type Register struct {
	Token  string `json:"token"`
	Origin string `json:"origin"`
}

// RegisterAck confirms a register frame and tells the guest the host origin.
type RegisterAck struct {
	OK     bool   `json:"ok"`
	Origin string `json:"origin,omitempty"`
	Error  string `json:"error,omitempty"`
}

// ErrBadRegister is returned when the handshake frame is missing or invalid.
var ErrBadRegister = errors.New("bus: invalid register frame")

// ErrBadToken is returned when the register token does not match.
var ErrBadToken = errors.New("bus: register token mismatch")

// AcceptWebsocket upgrades an HTTP request to a websocket endpoint bound to
// the registering guest. The handshake frame must arrive first and carry the
// expected token.
func AcceptWebsocket(w http.ResponseWriter, r *http.Request, token, hostOrigin string) (Endpoint, error) {
	c, err := websocket.Accept(w, r, nil)
	if err != nil {
		return nil, err
	}
	c.SetReadLimit(-1)
	// The request context dies when the handler returns; the connection
	// outlives it.
	ctx := context.Background()
	_, data, err := c.Read(ctx)
	if err != nil {
		_ = c.Close(websocket.StatusPolicyViolation, "expected register")
		return nil, ErrBadRegister
	}
	var reg Register
	if json.Unmarshal(data, &reg) != nil || reg.Origin == "" {
		_ = c.Close(websocket.StatusPolicyViolation, "invalid register")
		return nil, ErrBadRegister
	}
	if reg.Token != token {
		ack, _ := json.Marshal(RegisterAck{Error: "unauthorized"})
		_ = c.Write(ctx, websocket.MessageText, ack)
		_ = c.Close(websocket.StatusPolicyViolation, "unauthorized")
		return nil, ErrBadToken
	}
	ack, _ := json.Marshal(RegisterAck{OK: true, Origin: hostOrigin})
	if err := c.Write(ctx, websocket.MessageText, ack); err != nil {
		_ = c.Close(websocket.StatusInternalError, "ack failed")
		return nil, err
	}
	return newWSEndpoint(c, hostOrigin, reg.Origin), nil
}

// DialWebsocket connects a guest to the host's session endpoint and performs
// the register handshake.
func DialWebsocket(ctx context.Context, url, token, origin string) (Endpoint, error) {
	c, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	c.SetReadLimit(-1)
	reg, _ := json.Marshal(Register{Token: token, Origin: origin})
	if err := c.Write(ctx, websocket.MessageText, reg); err != nil {
		_ = c.Close(websocket.StatusInternalError, "register failed")
		return nil, err
	}
	_, data, err := c.Read(ctx)
	if err != nil {
		_ = c.Close(websocket.StatusPolicyViolation, "no ack")
		return nil, err
	}
	var ack RegisterAck
	if json.Unmarshal(data, &ack) != nil || !ack.OK {
		_ = c.Close(websocket.StatusPolicyViolation, "register rejected")
		return nil, ErrBadToken
	}
	return newWSEndpoint(c, origin, ack.Origin), nil
}

type wsEndpoint struct {
	conn   *websocket.Conn
	origin string
	peer   string

	writeMu sync.Mutex
	recv    chan Delivery
	done    chan struct{}
	once    sync.Once
}

func newWSEndpoint(c *websocket.Conn, origin, peer string) *wsEndpoint {
	ep := &wsEndpoint{conn: c, origin: origin, peer: peer, recv: make(chan Delivery, pairBuffer), done: make(chan struct{})}
	go ep.readLoop()
	return ep
}

func (ep *wsEndpoint) readLoop() {
	defer close(ep.recv)
	ctx := context.Background()
	for {
		_, data, err := ep.conn.Read(ctx)
		if err != nil {
			return
		}
		env, err := wire.Decode(data)
		if err != nil {
			logx.Log.Debug().Err(err).Msg("ws: dropping malformed envelope")
			continue
		}
		select {
		case ep.recv <- Delivery{Env: env, Origin: ep.peer}:
		case <-ep.done:
			return
		}
	}
}

func (ep *wsEndpoint) Send(ctx context.Context, env wire.Envelope) error {
	select {
	case <-ep.done:
		return ErrClosed
	default:
	}
	b, err := wire.Encode(env)
	if err != nil {
		return err
	}
	ep.writeMu.Lock()
	defer ep.writeMu.Unlock()
	return ep.conn.Write(ctx, websocket.MessageText, b)
}

func (ep *wsEndpoint) Recv() <-chan Delivery { return ep.recv }
func (ep *wsEndpoint) Origin() string        { return ep.origin }
func (ep *wsEndpoint) Peer() string          { return ep.peer }

func (ep *wsEndpoint) Close() error {
	ep.once.Do(func() {
		close(ep.done)
		_ = ep.conn.Close(websocket.StatusNormalClosure, "detached")
	})
	return nil
}
