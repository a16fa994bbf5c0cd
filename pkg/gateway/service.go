package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"basil/pkg/bus"
	"basil/pkg/channel"
	"basil/pkg/config"
	"basil/pkg/logger"
	"basil/pkg/plugin"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	defaultStatusHost = "127.0.0.1"
	defaultStatusPort = 18790
)

// Options wires the gateway to the rest of the process.
type Options struct {
	Bus      *bus.MessageBus
	Router   channel.Router
	Registry *plugin.Registry
	Gatherer prometheus.Gatherer
	Log      *slog.Logger
}

// Service runs channel adapters, delivers queued replies, and serves the
// status endpoints.
type Service struct {
	cfg      config.GatewayConfig
	log      *slog.Logger
	bus      *bus.MessageBus
	router   channel.Router
	registry *plugin.Registry
	gatherer prometheus.Gatherer
	channels []channel.Adapter

	mu            sync.RWMutex
	startedAt     time.Time
	channelStates map[string]channelState
	eventCounts   map[bus.EventType]int
	lastFailure   string
}

type channelState struct {
	Running bool   `json:"running"`
	Error   string `json:"error,omitempty"`
}

type statusResponse struct {
	Status        string                  `json:"status"`
	UptimeSeconds int64                   `json:"uptime_seconds"`
	Channels      map[string]channelState `json:"channels"`
	Handlers      map[string]int          `json:"handlers"`
	Events        map[string]int          `json:"events,omitempty"`
	DroppedEvents uint64                  `json:"dropped_events,omitempty"`
	LastFailure   string                  `json:"last_failure,omitempty"`
}

// NewService validates wiring and constructs a gateway.
func NewService(cfg config.GatewayConfig, adapters []channel.Adapter, opts Options) (*Service, error) {
	if len(adapters) == 0 {
		return nil, errors.New("at least one channel adapter is required")
	}
	if opts.Bus == nil {
		return nil, errors.New("message bus is required")
	}
	if opts.Router == nil {
		return nil, errors.New("router is required")
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}
	if opts.Log == nil {
		opts.Log = slog.Default()
	}

	channelStates := make(map[string]channelState, len(adapters))
	for _, adapter := range adapters {
		if _, dup := channelStates[adapter.Name()]; dup {
			return nil, fmt.Errorf("duplicate channel adapter %q", adapter.Name())
		}
		channelStates[adapter.Name()] = channelState{}
	}

	return &Service{
		cfg:           cfg,
		log:           logger.Component(opts.Log, "gateway.service"),
		bus:           opts.Bus,
		router:        opts.Router,
		registry:      opts.Registry,
		gatherer:      opts.Gatherer,
		channels:      adapters,
		channelStates: channelStates,
		eventCounts:   make(map[bus.EventType]int),
	}, nil
}

// Run blocks until ctx is cancelled, the status server fails, or any adapter
// stops. An adapter stopping cleanly (for example the terminal reaching EOF)
// ends the gateway without error.
func (s *Service) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	var wg sync.WaitGroup
	defer wg.Wait()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.mu.Lock()
	s.startedAt = time.Now().UTC()
	s.mu.Unlock()

	for _, adapter := range s.channels {
		s.bus.RegisterSender(adapter.Name(), adapter.Send)
	}

	serverErrors := make(chan error, 1)
	go s.runStatusServer(ctx, serverErrors)

	events, unsubscribe := s.bus.SubscribeEvents(ctx, 0)

	wg.Add(2)
	go func() {
		defer wg.Done()
		s.deliverOutbound(ctx)
	}()
	go func() {
		defer wg.Done()
		defer unsubscribe()
		s.watchEvents(ctx, events)
	}()

	stopped := make(chan error, len(s.channels))
	for _, adapter := range s.channels {
		s.setChannelState(adapter.Name(), channelState{Running: true})

		go func() {
			err := adapter.Run(ctx, s.router)
			s.setChannelState(adapter.Name(), channelState{Running: false, Error: errorString(err)})
			if err != nil && !errors.Is(err, context.Canceled) {
				stopped <- fmt.Errorf("run %s channel: %w", adapter.Name(), err)
				return
			}
			if ctx.Err() == nil {
				s.log.Info("Channel stopped", "channel", adapter.Name())
			}
			stopped <- nil
		}()
	}

	select {
	case <-ctx.Done():
		return nil
	case err := <-serverErrors:
		return err
	case err := <-stopped:
		return err
	}
}

// deliverOutbound drains the bus and hands each reply to the adapter that
// owns its channel.
func (s *Service) deliverOutbound(ctx context.Context) {
	for {
		reply, ok := s.bus.SubscribeOutbound(ctx)
		if !ok {
			return
		}

		send, ok := s.bus.GetSender(reply.Channel)
		if !ok {
			s.replyFailed(ctx, reply, fmt.Errorf("no adapter for channel %q", reply.Channel))
			continue
		}

		if err := send(ctx, reply); err != nil {
			s.replyFailed(ctx, reply, err)
		}
	}
}

func (s *Service) replyFailed(ctx context.Context, reply bus.Reply, err error) {
	s.log.Error("Failed to deliver reply", "channel", reply.Channel, "chat", reply.Chat, "error", err)
	s.bus.PublishEvent(ctx, bus.Event{
		Type:    bus.EventReplyFailed,
		Channel: reply.Channel,
		Chat:    reply.Chat,
		Error:   err.Error(),
	})
}

// watchEvents keeps per-type event counts and the most recent failure for
// the status payload.
func (s *Service) watchEvents(ctx context.Context, events <-chan bus.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			s.recordEvent(event)
		}
	}
}

func (s *Service) recordEvent(event bus.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.eventCounts[event.Type]++
	if event.Error != "" {
		failure := string(event.Type) + ": " + event.Error
		if event.Handler != "" {
			failure = string(event.Type) + " (" + event.Handler + "): " + event.Error
		}
		s.lastFailure = failure
	}
}

func (s *Service) runStatusServer(ctx context.Context, errCh chan<- error) {
	host := strings.TrimSpace(s.cfg.Host)
	if host == "" {
		host = defaultStatusHost
	}

	port := s.cfg.Port
	if port <= 0 {
		port = defaultStatusPort
	}

	addr := host + ":" + strconv.Itoa(port)
	server := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	s.log.Info("Gateway status server started", "address", addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		errCh <- fmt.Errorf("start status server: %w", err)
	}
}

// Handler serves /healthz, /readyz, and /metrics.
func (s *Service) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/readyz", s.handleReady)
	mux.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	return mux
}

func (s *Service) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.respondStatus(w, http.StatusOK, "ok")
}

func (s *Service) handleReady(w http.ResponseWriter, _ *http.Request) {
	statusCode := http.StatusOK
	status := "ready"
	if !s.isReady() {
		statusCode = http.StatusServiceUnavailable
		status = "not_ready"
	}

	s.respondStatus(w, statusCode, status)
}

func (s *Service) respondStatus(w http.ResponseWriter, statusCode int, status string) {
	payload := s.currentStatus(status)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log.Error("Failed to write status response", "error", err)
	}
}

func (s *Service) currentStatus(status string) statusResponse {
	handlers := map[string]int{}
	if s.registry != nil {
		for kind, n := range s.registry.Len() {
			handlers[string(kind)] = n
		}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	uptime := int64(0)
	if !s.startedAt.IsZero() {
		uptime = int64(time.Since(s.startedAt).Seconds())
	}

	channels := make(map[string]channelState, len(s.channelStates))
	for name, state := range s.channelStates {
		channels[name] = state
	}

	var events map[string]int
	if len(s.eventCounts) > 0 {
		events = make(map[string]int, len(s.eventCounts))
		for eventType, n := range s.eventCounts {
			events[string(eventType)] = n
		}
	}

	return statusResponse{
		Status:        status,
		UptimeSeconds: uptime,
		Channels:      channels,
		Handlers:      handlers,
		Events:        events,
		DroppedEvents: s.bus.DroppedEvents(),
		LastFailure:   s.lastFailure,
	}
}

// isReady reports whether at least one channel is accepting messages.
func (s *Service) isReady() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, state := range s.channelStates {
		if state.Running {
			return true
		}
	}

	return false
}

func (s *Service) setChannelState(name string, state channelState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.channelStates[name] = state
}

func errorString(err error) string {
	if err == nil {
		return ""
	}

	return err.Error()
}
