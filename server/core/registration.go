package core

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// HeartbeatInterval is how often a registered server reports to the master.
const HeartbeatInterval = 30 * time.Second

// Registration handles registering and heartbeating with the master server.
type Registration struct {
	masterURL  string
	mu         sync.Mutex
	serverID   string
	name       string
	address    string
	version    string
	region     string
	maxPlayers int
	players    func() int
	client     *http.Client
	log        logrus.FieldLogger
}

type regRequest struct {
	Name       string `json:"name"`
	Address    string `json:"address"`
	Players    int    `json:"players"`
	MaxPlayers int    `json:"maxPlayers"`
	Version    string `json:"version"`
	Region     string `json:"region"`
}

type regResponse struct {
	ID string `json:"id"`
}

type heartbeatRequest struct {
	ID      string `json:"id"`
	Players int    `json:"players"`
}

// NewRegistration prepares a registration. players must be safe to call
// from the heartbeat goroutine.
func NewRegistration(masterURL, name, address, version, region string, maxPlayers int, players func() int, log logrus.FieldLogger) *Registration {
	return &Registration{
		masterURL:  masterURL,
		name:       name,
		address:    address,
		version:    version,
		region:     region,
		maxPlayers: maxPlayers,
		players:    players,
		client:     &http.Client{Timeout: 5 * time.Second},
		log:        log.WithField("component", "registration"),
	}
}

// Run registers and then heartbeats until ctx ends.
func (r *Registration) Run(ctx context.Context) {
	if err := r.register(ctx); err != nil {
		r.log.WithError(err).Warn("initial registration failed")
	}
	ticker := time.NewTicker(HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.sendHeartbeat(ctx); err != nil {
				r.log.WithError(err).Warn("heartbeat failed")
			}
		}
	}
}

// ID is the master's id for this server, empty until registered.
func (r *Registration) ID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.serverID
}

func (r *Registration) post(ctx context.Context, path string, v any) (*http.Response, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.masterURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("post: %w", err)
	}
	return resp, nil
}

func (r *Registration) register(ctx context.Context) error {
	resp, err := r.post(ctx, "/servers/register", regRequest{
		Name:       r.name,
		Address:    r.address,
		Players:    r.players(),
		MaxPlayers: r.maxPlayers,
		Version:    r.version,
		Region:     r.region,
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	var result regResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("decode: %w", err)
	}

	r.mu.Lock()
	r.serverID = result.ID
	r.mu.Unlock()
	r.log.WithField("id", result.ID).Info("registered with master")
	return nil
}

func (r *Registration) sendHeartbeat(ctx context.Context) error {
	id := r.ID()
	if id == "" {
		return r.register(ctx)
	}
	resp, err := r.post(ctx, "/servers/heartbeat", heartbeatRequest{
		ID:      id,
		Players: r.players(),
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		r.log.Info("master lost our registration, re-registering")
		return r.register(ctx)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	return nil
}
