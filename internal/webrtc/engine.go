package webrtc

import (
	"fmt"
	"log/slog"

	"github.com/pion/interceptor"
	pion "github.com/pion/webrtc/v4"

	"github.com/phudinh153/camcast/internal/config"
)

// Engine builds peer connections that share one codec table, interceptor
// chain and ICE configuration.
type Engine struct {
	api           *pion.API
	configuration pion.Configuration
	logger        *slog.Logger
}

// EngineOption tunes the engine.
type EngineOption func(*engineOptions)

type engineOptions struct {
	logger   *slog.Logger
	loopback bool
}

// WithLogger sets the engine's logger.
func WithLogger(l *slog.Logger) EngineOption {
	return func(o *engineOptions) { o.logger = l }
}

// WithLoopback gathers loopback candidates and restricts ICE to UDP4, so two
// peers on one host can connect without any usable network interface.
func WithLoopback() EngineOption {
	return func(o *engineOptions) { o.loopback = true }
}

// NewEngine creates an engine for ice.
func NewEngine(ice config.ICE, opts ...EngineOption) (*Engine, error) {
	o := engineOptions{logger: slog.Default()}
	for _, fn := range opts {
		fn(&o)
	}

	m := &pion.MediaEngine{}
	if err := registerCodecs(m); err != nil {
		return nil, err
	}

	registry := &interceptor.Registry{}
	if err := pion.RegisterDefaultInterceptors(m, registry); err != nil {
		return nil, fmt.Errorf("failed to register default interceptors: %w", err)
	}

	apiOpts := []func(*pion.API){
		pion.WithMediaEngine(m),
		pion.WithInterceptorRegistry(registry),
	}
	if o.loopback {
		s := pion.SettingEngine{}
		s.SetIncludeLoopbackCandidate(true)
		s.SetNetworkTypes([]pion.NetworkType{pion.NetworkTypeUDP4})
		apiOpts = append(apiOpts, pion.WithSettingEngine(s))
	}

	e := &Engine{
		api:           pion.NewAPI(apiOpts...),
		configuration: configuration(ice, ShouldForceRelay()),
		logger:        o.logger.With("component", "webrtc"),
	}
	e.logger.Debug("webrtc engine ready",
		"ice_servers", len(e.configuration.ICEServers),
		"policy", e.configuration.ICETransportPolicy.String())
	return e, nil
}

// NewPeerConnection creates a peer connection on the engine's API.
func (e *Engine) NewPeerConnection() (*pion.PeerConnection, error) {
	pc, err := e.api.NewPeerConnection(e.configuration)
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}
	return pc, nil
}

// API exposes the underlying pion API, mostly for tests that need a remote
// peer speaking the same codecs.
func (e *Engine) API() *pion.API {
	return e.api
}

// configuration maps ICE settings onto a pion configuration. Relay-only
// transport is used when forced or when the network looks restricted, and
// only if a TURN server is available.
func configuration(ice config.ICE, restricted bool) pion.Configuration {
	var servers []pion.ICEServer
	if len(ice.STUN) > 0 {
		servers = append(servers, pion.ICEServer{URLs: ice.STUN})
	}

	cfg := config.Config{ICE: ice}
	turn := cfg.TURNServers()
	if turn != nil {
		servers = append(servers, pion.ICEServer{
			URLs:       turn,
			Username:   ice.TURNUser,
			Credential: ice.TURNPass,
		})
	}

	policy := pion.ICETransportPolicyAll
	if turn != nil && (ice.ForceRelay || restricted) {
		policy = pion.ICETransportPolicyRelay
	}

	return pion.Configuration{
		ICEServers:         servers,
		ICETransportPolicy: policy,
	}
}
