// Package master is the server listing service: game servers register
// and heartbeat, clients list them. Entries expire after a TTL.
package master

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ServerInfo describes a game server visible to clients.
type ServerInfo struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Address    string `json:"address"`
	Players    int    `json:"players"`
	MaxPlayers int    `json:"maxPlayers"`
	Version    string `json:"version"`
	Region     string `json:"region"`
}

// Full reports whether the server listed no free slot.
func (s ServerInfo) Full() bool {
	return s.MaxPlayers > 0 && s.Players >= s.MaxPlayers
}

type serverRecord struct {
	ServerInfo
	LastSeen time.Time
}

// Registry is an in-memory store of active game servers with TTL-based expiry.
type Registry struct {
	mu      sync.RWMutex
	servers map[string]*serverRecord
	ttl     time.Duration
	now     func() time.Time
	log     logrus.FieldLogger
}

func NewRegistry(ttl time.Duration, log logrus.FieldLogger) *Registry {
	return &Registry{
		servers: make(map[string]*serverRecord),
		ttl:     ttl,
		now:     time.Now,
		log:     log.WithField("component", "registry"),
	}
}

// Register stores info under a fresh id and returns it.
func (r *Registry) Register(info ServerInfo) string {
	info.ID = uuid.NewString()

	r.mu.Lock()
	r.servers[info.ID] = &serverRecord{ServerInfo: info, LastSeen: r.now()}
	r.mu.Unlock()

	return info.ID
}

// Heartbeat refreshes id. It reports false for unknown or expired ids.
func (r *Registry) Heartbeat(id string, players int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.servers[id]
	if !ok {
		return false
	}
	rec.LastSeen = r.now()
	rec.Players = players
	return true
}

// List returns the live servers, joinable ones first, busiest first.
func (r *Registry) List() []ServerInfo {
	r.mu.RLock()
	result := make([]ServerInfo, 0, len(r.servers))
	for _, rec := range r.servers {
		result = append(result, rec.ServerInfo)
	}
	r.mu.RUnlock()

	slices.SortFunc(result, func(a, b ServerInfo) int {
		switch {
		case a.Full() != b.Full():
			if a.Full() {
				return 1
			}
			return -1
		case a.Players != b.Players:
			return b.Players - a.Players
		}
		return strings.Compare(a.Name, b.Name)
	})
	return result
}

// Expire drops servers not seen within the TTL and returns how many.
func (r *Registry) Expire() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	n := 0
	for id, rec := range r.servers {
		if age := now.Sub(rec.LastSeen); age >= r.ttl {
			r.log.WithFields(logrus.Fields{"name": rec.Name, "id": id, "age": age.Round(time.Second)}).Info("expired server")
			delete(r.servers, id)
			n++
		}
	}
	return n
}

// Run expires servers periodically until ctx ends.
func (r *Registry) Run(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Expire()
		}
	}
}
