// Package socketio provides the Socket.io status and control surface.
package socketio

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/zishang520/socket.io/servers/socket/v3"
	"github.com/zishang520/socket.io/v3/pkg/types"

	"github.com/edumarques81/castbridge/internal/domain/bridge"
	"github.com/edumarques81/castbridge/internal/domain/coordinator"
	"github.com/edumarques81/castbridge/internal/domain/identity"
	"github.com/edumarques81/castbridge/internal/infra/store"
)

const (
	topicBridges = "bridges"
	topicSystem  = "system"

	// DefaultDebounce is the broadcast window for bridge list changes.
	DefaultDebounce = 200 * time.Millisecond
	// DefaultMaxRemoteClients caps status clients from other hosts.
	DefaultMaxRemoteClients = 4
)

// Poster accepts coordinator events.
type Poster interface {
	Post(ev coordinator.Event) bool
}

// Identity is the instance identity.
type Identity interface {
	Info() identity.Info
	SetName(name string) error
}

// OverrideStore persists per-renderer settings.
type OverrideStore interface {
	Get(rendererID string) (store.Override, bool, error)
	List() ([]store.Override, error)
	Save(o store.Override) error
	Delete(rendererID string) error
}

// Forgetter drops a renderer so discovery resolves it again with new settings.
type Forgetter interface {
	Forget(id string)
}

// Server handles Socket.io connections and events.
type Server struct {
	io        *socket.Server
	poster    Poster
	identity  Identity
	overrides OverrideStore
	forgetter Forgetter
	limiter   *ConnectionLimiter
	debounce  time.Duration
	debouncer *BroadcastDebouncer
	broadcast func(event string, args ...any)

	mu      sync.RWMutex
	clients map[string]*socket.Socket
	views   []bridge.View
}

// Option configures a Server.
type Option func(*Server)

// WithDeviceStore enables device configuration events.
func WithDeviceStore(overrides OverrideStore, forgetter Forgetter) Option {
	return func(s *Server) {
		s.overrides = overrides
		s.forgetter = forgetter
	}
}

// WithMaxRemoteClients caps clients connecting from other hosts.
func WithMaxRemoteClients(n int) Option {
	return func(s *Server) {
		s.limiter = NewConnectionLimiter(n)
	}
}

// WithDebounce sets the broadcast window.
func WithDebounce(d time.Duration) Option {
	return func(s *Server) {
		s.debounce = d
	}
}

// NewServer creates a new Socket.io server.
func NewServer(poster Poster, ident Identity, opts ...Option) (*Server, error) {
	sopts := socket.DefaultServerOptions()
	sopts.SetPingTimeout(20 * time.Second)
	sopts.SetPingInterval(25 * time.Second)
	sopts.SetCors(&types.Cors{
		Origin:      "*",
		Credentials: true,
	})

	s := &Server{
		io:       socket.NewServer(nil, sopts),
		poster:   poster,
		identity: ident,
		limiter:  NewConnectionLimiter(DefaultMaxRemoteClients),
		debounce: DefaultDebounce,
		clients:  make(map[string]*socket.Socket),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.broadcast = func(event string, args ...any) {
		s.io.Emit(event, args...)
	}
	s.debouncer = NewBroadcastDebouncer(s.debounce, map[string]func(){
		topicBridges: s.BroadcastBridges,
		topicSystem:  s.BroadcastSystemInfo,
	})

	s.setupHandlers()
	return s, nil
}

// setupHandlers registers all Socket.io event handlers.
func (s *Server) setupHandlers() {
	s.io.On("connection", func(clients ...any) {
		client := clients[0].(*socket.Socket)
		clientID := string(client.Id())
		addr := client.Handshake().Address

		log.Info().Str("id", clientID).Str("addr", addr).Msg("Client connected")

		s.mu.Lock()
		s.clients[clientID] = client
		s.mu.Unlock()

		if evicted := s.limiter.Add(clientID, addr); evicted != "" {
			s.evict(evicted)
		}

		go func() {
			time.Sleep(100 * time.Millisecond)
			client.Emit("pushBridges", s.Bridges())
			client.Emit("pushSystemInfo", s.systemInfo())
		}()

		client.On("disconnect", func(args ...any) {
			reason := ""
			if len(args) > 0 {
				if r, ok := args[0].(string); ok {
					reason = r
				}
			}
			log.Info().Str("id", clientID).Str("reason", reason).Msg("Client disconnected")

			s.mu.Lock()
			delete(s.clients, clientID)
			s.mu.Unlock()
			s.limiter.Remove(clientID)
		})

		client.On("getBridges", func(args ...any) {
			log.Debug().Str("id", clientID).Msg("getBridges")
			client.Emit("pushBridges", s.Bridges())
		})

		client.On("getSystemInfo", func(args ...any) {
			log.Debug().Str("id", clientID).Msg("getSystemInfo")
			client.Emit("pushSystemInfo", s.systemInfo())
		})

		client.On("setDeviceName", func(args ...any) {
			name := stringField(payload(args), "name")
			log.Debug().Str("id", clientID).Str("name", name).Msg("setDeviceName")
			if err := s.identity.SetName(name); err != nil {
				toast(client, "error", err.Error())
				return
			}
			s.debouncer.Trigger(topicSystem)
		})

		client.On("reevaluate", func(args ...any) {
			id := stringField(payload(args), "id")
			log.Debug().Str("id", clientID).Str("renderer", id).Msg("reevaluate")
			if err := s.reevaluate(id); err != nil {
				toast(client, "error", err.Error())
			}
		})

		s.registerDeviceHandlers(client, clientID)
	})
}

func (s *Server) evict(id string) {
	s.mu.RLock()
	client, ok := s.clients[id]
	s.mu.RUnlock()
	if !ok {
		return
	}
	log.Info().Str("id", id).Msg("Evicting oldest remote client")
	client.Disconnect(true)
}

// PublishBridges records the bridge list and schedules a broadcast.
func (s *Server) PublishBridges(bridges []*bridge.Bridge) {
	views := make([]bridge.View, 0, len(bridges))
	for _, b := range bridges {
		views = append(views, b.View())
	}

	s.mu.Lock()
	s.views = views
	s.mu.Unlock()

	s.debouncer.Trigger(topicBridges)
}

// Bridges returns the last published bridge list.
func (s *Server) Bridges() []bridge.View {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]bridge.View, len(s.views))
	copy(out, s.views)
	return out
}

// BroadcastBridges sends the bridge list to all connected clients.
func (s *Server) BroadcastBridges() {
	views := s.Bridges()
	s.broadcast("pushBridges", views)

	if log.Debug().Enabled() {
		data, _ := json.Marshal(views)
		log.Debug().RawJSON("bridges", data).Int("clients", s.limiter.Len()).Msg("Broadcast bridges")
	}
}

// BroadcastSystemInfo sends the system info to all connected clients.
func (s *Server) BroadcastSystemInfo() {
	s.broadcast("pushSystemInfo", s.systemInfo())
}

// reevaluate asks the coordinator to evaluate one bridge, or all when id is empty.
func (s *Server) reevaluate(id string) error {
	if !s.poster.Post(coordinator.Reevaluate(id)) {
		return errNotRunning
	}
	return nil
}

// ServeHTTP implements http.Handler for the Socket.io server.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.io.ServeHandler(nil).ServeHTTP(w, r)
}

// Close stops pending broadcasts and closes the Socket.io server.
func (s *Server) Close() error {
	s.debouncer.Stop()
	s.io.Close(nil)
	return nil
}

func toast(client *socket.Socket, kind, message string) {
	client.Emit("pushToastMessage", map[string]any{
		"type":    kind,
		"title":   "CastBridge",
		"message": message,
	})
}

func payload(args []any) map[string]any {
	if len(args) == 0 {
		return nil
	}
	m, _ := args[0].(map[string]any)
	return m
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

func stringsField(m map[string]any, key string) []string {
	raw, _ := m[key].([]any)
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
