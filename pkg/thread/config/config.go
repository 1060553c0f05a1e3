// Package config loads the tunables named in spec.md §6 through viper,
// the way RoLex-go-dcpp and kedacore-keda configure their daemons.
package config

import (
	"time"

	"github.com/spf13/viper"
)

// Config holds every timer/tunable the engine reads at start.
type Config struct {
	// UnusedSocketIdleWindow is how long the call transport keeps its
	// ICE sockets allocated after the last call ends.
	UnusedSocketIdleWindow time.Duration

	// MoveMessageToCacheDelay is how long an in-memory message element
	// waits before being moved to the on-disk cache.
	MoveMessageToCacheDelay time.Duration

	// MaxWaitBeforePush bounds how long an undelivered message waits
	// before being marked UserNotAvailable and triggering a push request.
	MaxWaitBeforePush time.Duration

	// PeerAutoFindWindow bounds how long a peer-contact keeps
	// auto-finding the remote peer's locations.
	PeerAutoFindWindow time.Duration

	// CallPeerAlivePeriod is the keep-alive re-step interval for
	// in-progress calls.
	CallPeerAlivePeriod time.Duration

	// BackgroundingPhase is this engine's registration ordinal with the
	// backgrounding notifier.
	BackgroundingPhase int

	// MessageCacheThresholdBytes is the message body size above which a
	// message becomes eligible for cache-out.
	MessageCacheThresholdBytes int
}

// Defaults matches the defaults named in spec.md §6.
func Defaults() Config {
	return Config{
		UnusedSocketIdleWindow:     90 * time.Second,
		MoveMessageToCacheDelay:    30 * time.Second,
		MaxWaitBeforePush:          20 * time.Second,
		PeerAutoFindWindow:         60 * time.Second,
		CallPeerAlivePeriod:        15 * time.Second,
		BackgroundingPhase:         0,
		MessageCacheThresholdBytes: 32 * 1024,
	}
}

// Load reads tunables from the given viper instance, falling back to
// Defaults() for anything unset. Callers typically point v at a config
// file or environment prefix before calling Load.
func Load(v *viper.Viper) Config {
	d := Defaults()
	if v == nil {
		return d
	}
	v.SetDefault("unused_socket_idle_window", d.UnusedSocketIdleWindow)
	v.SetDefault("move_message_to_cache_delay", d.MoveMessageToCacheDelay)
	v.SetDefault("max_wait_before_push", d.MaxWaitBeforePush)
	v.SetDefault("peer_auto_find_window", d.PeerAutoFindWindow)
	v.SetDefault("call_peer_alive_period", d.CallPeerAlivePeriod)
	v.SetDefault("backgrounding_phase", d.BackgroundingPhase)
	v.SetDefault("message_cache_threshold_bytes", d.MessageCacheThresholdBytes)

	return Config{
		UnusedSocketIdleWindow:     v.GetDuration("unused_socket_idle_window"),
		MoveMessageToCacheDelay:    v.GetDuration("move_message_to_cache_delay"),
		MaxWaitBeforePush:          v.GetDuration("max_wait_before_push"),
		PeerAutoFindWindow:         v.GetDuration("peer_auto_find_window"),
		CallPeerAlivePeriod:        v.GetDuration("call_peer_alive_period"),
		BackgroundingPhase:         v.GetInt("backgrounding_phase"),
		MessageCacheThresholdBytes: v.GetInt("message_cache_threshold_bytes"),
	}
}
