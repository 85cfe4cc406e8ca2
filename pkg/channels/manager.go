// BMO - Tunisian Darija dialogue engine
// Derived from DotAgent, itself based on nanobot:
// https://github.com/HKUDS/nanobot
// License: MIT
//
// Copyright (c) 2026 DotAgent contributors

package channels

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/dotsetgreg/bmo/pkg/bus"
	"github.com/dotsetgreg/bmo/pkg/config"
	"github.com/dotsetgreg/bmo/pkg/logger"
)

// ChannelStatus is the health of one enabled channel.
type ChannelStatus struct {
	Running bool `json:"running"`
}

// Manager owns the enabled channels and delivers replies from the bus to
// them.
type Manager struct {
	channels map[string]Channel
	bus      *bus.MessageBus

	mu             sync.RWMutex
	cancelDispatch context.CancelFunc
	dispatchDone   chan struct{}
}

func NewManager(cfg *config.Config, messageBus *bus.MessageBus) (*Manager, error) {
	chans, err := channelsFromConfig(cfg, messageBus)
	if err != nil {
		return nil, err
	}
	return newManager(messageBus, chans...), nil
}

func newManager(messageBus *bus.MessageBus, chans ...Channel) *Manager {
	m := &Manager{
		channels: make(map[string]Channel, len(chans)),
		bus:      messageBus,
	}
	for _, c := range chans {
		m.channels[c.Name()] = c
	}
	return m
}

func channelsFromConfig(cfg *config.Config, messageBus *bus.MessageBus) ([]Channel, error) {
	dc := cfg.Channels.Discord
	if !dc.Enabled {
		logger.InfoC("channels", "Discord channel disabled")
		return nil, nil
	}
	if strings.TrimSpace(dc.Token) == "" {
		return nil, fmt.Errorf("channels.discord.token is required when discord is enabled")
	}
	discord, err := NewDiscordChannel(dc, messageBus)
	if err != nil {
		return nil, fmt.Errorf("initialize Discord channel: %w", err)
	}
	logger.InfoCF("channels", "Discord channel initialized", map[string]interface{}{
		"allow_from": len(dc.AllowFrom),
	})
	return []Channel{discord}, nil
}

// StartAll starts every channel and the outbound dispatcher. If any channel
// fails, the ones already started are stopped again.
func (m *Manager) StartAll(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.channels) == 0 {
		logger.WarnC("channels", "No channels enabled")
		return nil
	}

	var started []Channel
	for _, name := range m.sortedNames() {
		c := m.channels[name]
		if err := c.Start(ctx); err != nil {
			for _, s := range started {
				if stopErr := s.Stop(ctx); stopErr != nil {
					logger.WarnCF("channels", "Failed to stop partially-started channel", map[string]interface{}{
						"channel": s.Name(),
						"error":   stopErr.Error(),
					})
				}
			}
			return fmt.Errorf("start channel %s: %w", name, err)
		}
		started = append(started, c)
	}

	if m.cancelDispatch != nil {
		m.cancelDispatch()
	}
	dispatchCtx, cancel := context.WithCancel(ctx)
	m.cancelDispatch = cancel
	m.dispatchDone = make(chan struct{})
	go m.dispatchOutbound(dispatchCtx, m.dispatchDone)

	logger.InfoCF("channels", "All channels started", map[string]interface{}{
		"count": len(started),
	})
	return nil
}

// StopAll stops the dispatcher, waits for it to return, then stops every
// channel. Channel errors are logged, not returned.
func (m *Manager) StopAll(ctx context.Context) error {
	m.mu.Lock()
	cancel, done := m.cancelDispatch, m.dispatchDone
	m.cancelDispatch, m.dispatchDone = nil, nil
	chans := make(map[string]Channel, len(m.channels))
	for name, c := range m.channels {
		chans[name] = c
	}
	m.mu.Unlock()

	// The dispatcher takes mu, so wait for it outside the lock.
	if cancel != nil {
		cancel()
		<-done
	}

	for name, c := range chans {
		if err := c.Stop(ctx); err != nil {
			logger.ErrorCF("channels", "Error stopping channel", map[string]interface{}{
				"channel": name,
				"error":   err.Error(),
			})
		}
	}
	logger.InfoC("channels", "All channels stopped")
	return nil
}

func (m *Manager) dispatchOutbound(ctx context.Context, done chan<- struct{}) {
	defer close(done)

	for {
		msg, ok := m.bus.SubscribeOutbound(ctx)
		if !ok {
			logger.DebugC("channels", "Outbound dispatcher stopped")
			return
		}
		// Replies to the CLI are returned directly, never dispatched.
		if bus.IsInternalChannel(msg.Channel) {
			continue
		}

		m.mu.RLock()
		c, exists := m.channels[msg.Channel]
		m.mu.RUnlock()
		if !exists {
			logger.WarnCF("channels", "Unknown channel for outbound message", map[string]interface{}{
				"channel": msg.Channel,
			})
			continue
		}

		if err := c.Send(ctx, msg); err != nil {
			logger.ErrorCF("channels", "Error sending message to channel", map[string]interface{}{
				"channel": msg.Channel,
				"chat_id": msg.ChatID,
				"error":   err.Error(),
			})
		}
	}
}

// Status reports each enabled channel by name.
func (m *Manager) Status() map[string]ChannelStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	status := make(map[string]ChannelStatus, len(m.channels))
	for name, c := range m.channels {
		status[name] = ChannelStatus{Running: c.IsRunning()}
	}
	return status
}

func (m *Manager) GetEnabledChannels() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sortedNames()
}

// sortedNames must be called with mu held.
func (m *Manager) sortedNames() []string {
	names := make([]string, 0, len(m.channels))
	for name := range m.channels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
