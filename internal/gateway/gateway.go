// Package gateway is the websocket front door: it upgrades connections,
// decodes client envelopes, and routes them to the matchmaker and the running
// simulations. One read pump and one write pump run per connection.
package gateway

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"arenaclash/server/internal/broadcast"
	"arenaclash/server/internal/config"
	"arenaclash/server/internal/identity"
	"arenaclash/server/internal/input"
	"arenaclash/server/internal/logging"
	"arenaclash/server/internal/match"
	"arenaclash/server/internal/wire"
)

// Gateway accepts websocket clients and bridges them to the match registry.
type Gateway struct {
	cfg         *config.Config
	log         *logging.Logger
	registry    *match.Registry
	broadcaster *broadcast.Broadcaster
	auth        Authenticator
	gate        *input.Gate
	upgrader    websocket.Upgrader

	mu      sync.Mutex
	clients map[string]*client
}

// New wires a gateway in front of the registry and broadcaster.
func New(cfg *config.Config, log *logging.Logger, registry *match.Registry, broadcaster *broadcast.Broadcaster) (*Gateway, error) {
	if log == nil {
		log = logging.L()
	}
	g := &Gateway{
		cfg:         cfg,
		log:         log.With(logging.String("component", "gateway")),
		registry:    registry,
		broadcaster: broadcaster,
		auth:        AllowAllAuthenticator{},
		gate:        input.NewGate(input.DefaultConfig()),
		clients:     make(map[string]*client),
	}
	if cfg.AuthSecret != "" {
		authenticator, err := NewHMACAuthenticator(cfg.AuthSecret)
		if err != nil {
			return nil, err
		}
		g.auth = authenticator
	}
	g.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     originChecker(cfg.AllowedOrigins),
	}
	return g, nil
}

// originChecker admits requests whose Origin header matches the allow list.
// An empty list or a "*" entry disables the check.
func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	wildcard := false
	for _, origin := range allowed {
		if origin == "*" {
			wildcard = true
		}
		set[origin] = struct{}{}
	}
	return func(r *http.Request) bool {
		if wildcard {
			return true
		}
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}

// ClientCount reports the number of live connections.
func (g *Gateway) ClientCount() int {
	if g == nil {
		return 0
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.clients)
}

// ServeHTTP handles the websocket upgrade on the /ws endpoint.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	subject, err := g.auth.Authenticate(r)
	if err != nil {
		g.log.Warn("rejected websocket upgrade", logging.Error(err))
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if g.cfg.MaxClients > 0 && g.ClientCount() >= g.cfg.MaxClients {
		http.Error(w, "server full", http.StatusServiceUnavailable)
		return
	}

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.log.Warn("websocket upgrade failed", logging.Error(err))
		return
	}

	id := uuid.NewString()
	c := newClient(id, subject, conn, g.log.With(logging.String("conn", id)))
	g.mu.Lock()
	g.clients[id] = c
	g.mu.Unlock()
	c.log.Info("client connected", logging.String("remote", r.RemoteAddr))

	go c.writePump(g.cfg.PingInterval)
	go g.readPump(c)
}

// Shutdown closes every live connection. Registry detachment happens through
// the usual read-pump teardown path as each socket unblocks.
func (g *Gateway) Shutdown() {
	if g == nil {
		return
	}
	g.mu.Lock()
	open := make([]*client, 0, len(g.clients))
	for _, c := range g.clients {
		open = append(open, c)
	}
	g.mu.Unlock()
	for _, c := range open {
		c.close()
	}
}

func (g *Gateway) readPump(c *client) {
	defer g.disconnect(c)

	c.conn.SetReadLimit(g.cfg.MaxPayloadBytes)
	deadline := 2 * g.cfg.PingInterval
	_ = c.conn.SetReadDeadline(time.Now().Add(deadline))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(deadline))
	})

	for {
		messageType, payload, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.Warn("read error", logging.Error(err))
			}
			return
		}
		kind := wire.FrameText
		if messageType == websocket.BinaryMessage {
			kind = wire.FrameBinary
		}
		envelope, err := wire.Decode(kind, payload)
		if err != nil {
			c.sendError("malformed message")
			continue
		}
		g.handle(c, envelope)
	}
}

func (g *Gateway) disconnect(c *client) {
	c.close()
	g.mu.Lock()
	delete(g.clients, c.id)
	g.mu.Unlock()
	//1.- Leave whatever match the connection occupied, then stop its event feed.
	g.registry.LeaveMatch(c.id)
	g.broadcaster.Detach(c.id)
	g.gate.Forget(c.id)
	c.log.Info("client disconnected")
}

// handle dispatches one decoded client envelope. Identity lookups run under
// the connection's context so a dead socket cannot hold a remote call open.
func (g *Gateway) handle(c *client, envelope wire.Envelope) {
	ctx := c.ctx
	switch envelope.Type {
	case wire.TypeCreateMatch:
		var req wire.CreateMatchRequest
		if err := wire.DecodeData(envelope, &req); err != nil {
			c.sendError("malformed createMatch payload")
			return
		}
		created, err := g.registry.CreatePrivateMatch(ctx, c.id, req.PlayerData, req.MaxPlayers)
		if err != nil {
			c.sendError(userMessage(err))
			return
		}
		g.broadcaster.Attach(created.Code, c.id, c)
		c.reply(wire.TypeMatchCreated, created)

	case wire.TypeJoinMatch:
		var req wire.JoinMatchRequest
		if err := wire.DecodeData(envelope, &req); err != nil {
			c.sendError("malformed joinMatch payload")
			return
		}
		update, err := g.registry.JoinMatch(ctx, c.id, req.MatchCode, req.PlayerData)
		if err != nil {
			c.sendError(userMessage(err))
			return
		}
		g.admit(c, update)

	case wire.TypeQuickMatch:
		var req wire.QuickMatchRequest
		if err := wire.DecodeData(envelope, &req); err != nil {
			c.sendError("malformed quickMatch payload")
			return
		}
		data := wire.PlayerData{PlayerID: req.PlayerID, Username: req.Username}
		update, err := g.registry.FindQuickMatch(ctx, c.id, data, req.DesiredCapacity)
		if err != nil {
			c.sendError(userMessage(err))
			return
		}
		g.admit(c, update)

	case wire.TypeStartMatch:
		var req wire.StartMatchRequest
		if err := wire.DecodeData(envelope, &req); err != nil {
			c.sendError("malformed startMatch payload")
			return
		}
		//1.- Only members may start their own match.
		code, ok := g.registry.MatchFor(c.id)
		if !ok || code != req.MatchCode {
			c.sendError("not a member of that match")
			return
		}
		if !g.registry.StartMatch(req.MatchCode) {
			c.sendError("match cannot start")
		}

	case wire.TypePlayerMove:
		if !g.gate.Allow(c.id, input.ChannelMove) {
			return
		}
		var req wire.MoveRequest
		if err := wire.DecodeData(envelope, &req); err != nil {
			return
		}
		g.registry.RouteMove(c.id, req.X, req.Y, req.Rotation)

	case wire.TypePlayerShoot:
		if !g.gate.Allow(c.id, input.ChannelShoot) {
			return
		}
		var req wire.ShootRequest
		if err := wire.DecodeData(envelope, &req); err != nil {
			return
		}
		g.registry.RouteShoot(c.id, req.Angle)

	default:
		c.sendError("unknown message type")
	}
}

// admit attaches a freshly joined connection to its match feed, echoes the
// roster back, and starts the match once the lobby is full.
func (g *Gateway) admit(c *client, update wire.MatchUpdate) {
	g.broadcaster.Attach(update.Code, c.id, c)
	c.reply(wire.TypeMatchUpdate, update)
	if len(update.Players) >= update.MaxPlayers {
		g.registry.StartMatch(update.Code)
	}
}

// userMessage translates registry errors into client-safe strings.
func userMessage(err error) string {
	switch {
	case errors.Is(err, match.ErrMatchNotFound):
		return "match not found"
	case errors.Is(err, match.ErrMatchStarted):
		return "match already started"
	case errors.Is(err, match.ErrAlreadyJoined):
		return "already in a match"
	case errors.Is(err, match.ErrMatchFull):
		return "match is full"
	case errors.Is(err, match.ErrInvalidPlayer):
		return "player identity required"
	case errors.Is(err, identity.ErrUnauthenticated):
		return "identity could not be verified"
	default:
		return "could not join match"
	}
}
