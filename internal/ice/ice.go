// Package ice supplies the STUN/TURN server list browsers need before they
// start exchanging call offers.
package ice

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	pkglog "github.com/weiawesome/wes-chat-hub/pkg/log"
)

const (
	DefaultFallbackSTUN = "stun:stun.l.google.com:19302"
	defaultTURNEndpoint = "https://rtc.live.cloudflare.com/v1/turn/keys/%s/credentials/generate"
	defaultTURNTTL      = 24 * time.Hour
)

type ServerConfig struct {
	URLs       []string `mapstructure:"urls"`
	Username   string   `mapstructure:"username"`
	Credential string   `mapstructure:"credential"`
}

type Config struct {
	Servers      []ServerConfig `mapstructure:"servers"`
	FallbackSTUN string         `mapstructure:"fallback_stun"`
	// Cloudflare TURN key; both must be set to mint TURN credentials.
	TurnKeyID    string        `mapstructure:"turn_key_id"`
	TurnKey      string        `mapstructure:"turn_key"`
	TurnTTL      time.Duration `mapstructure:"turn_ttl"`
	TurnEndpoint string        `mapstructure:"turn_endpoint"` // format string taking the key id
}

// Server is one entry of RTCConfiguration.iceServers.
type Server struct {
	URLs       []string `json:"urls"`
	Username   string   `json:"username,omitempty"`
	Credential string   `json:"credential,omitempty"`
}

// Provider returns the configured servers plus short-lived TURN credentials,
// which are cached until half their lifetime has passed.
type Provider struct {
	static   []Server
	cfg      Config
	client   *http.Client
	now      func() time.Time
	mu       sync.Mutex
	turn     *Server
	turnTill time.Time
}

func NewProvider(cfg Config) *Provider {
	if cfg.FallbackSTUN == "" {
		cfg.FallbackSTUN = DefaultFallbackSTUN
	}
	if cfg.TurnTTL <= 0 {
		cfg.TurnTTL = defaultTURNTTL
	}
	if cfg.TurnEndpoint == "" {
		cfg.TurnEndpoint = defaultTURNEndpoint
	}

	static := make([]Server, 0, len(cfg.Servers)+1)
	hasSTUN := false
	for _, s := range cfg.Servers {
		for _, u := range s.URLs {
			if strings.HasPrefix(u, "stun:") || strings.HasPrefix(u, "stuns:") {
				hasSTUN = true
			}
		}
		static = append(static, Server{URLs: s.URLs, Username: s.Username, Credential: s.Credential})
	}
	if !hasSTUN {
		static = append([]Server{{URLs: []string{cfg.FallbackSTUN}}}, static...)
	}

	return &Provider{
		static: static,
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
		now:    time.Now,
	}
}

// TURNEnabled reports whether TURN credentials are minted.
func (p *Provider) TURNEnabled() bool {
	return p.cfg.TurnKeyID != "" && p.cfg.TurnKey != ""
}

// Servers returns the list to hand to a browser. A TURN failure is logged and
// the static list is returned alone.
func (p *Provider) Servers(ctx context.Context) []Server {
	out := make([]Server, len(p.static), len(p.static)+1)
	copy(out, p.static)

	if !p.TURNEnabled() {
		return out
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.turn == nil || !p.now().Before(p.turnTill) {
		turn, err := p.fetchTURN(ctx)
		if err != nil {
			l := pkglog.Ctx(ctx)
			l.Warn().Err(err).Str("turn_key_id", p.cfg.TurnKeyID).Msg("failed to mint TURN credentials")
			if p.turn == nil {
				return out
			}
			// keep serving the previous credentials until they lapse
		} else {
			p.turn = turn
			p.turnTill = p.now().Add(p.cfg.TurnTTL / 2)
		}
	}
	return append(out, *p.turn)
}

type turnResponse struct {
	ICEServers struct {
		URLs       []string `json:"urls"`
		Username   string   `json:"username"`
		Credential string   `json:"credential"`
	} `json:"iceServers"`
}

func (p *Provider) fetchTURN(ctx context.Context) (*Server, error) {
	url := fmt.Sprintf(p.cfg.TurnEndpoint, p.cfg.TurnKeyID)
	body := []byte(fmt.Sprintf(`{"ttl": %d}`, int64(p.cfg.TurnTTL/time.Second)))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+p.cfg.TurnKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call TURN API: %w", err)
	}
	defer resp.Body.Close()

	// Cloudflare answers 201 on success.
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("TURN API returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var tr turnResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return nil, fmt.Errorf("failed to decode TURN response: %w", err)
	}
	if len(tr.ICEServers.URLs) == 0 {
		return nil, fmt.Errorf("TURN API returned no urls")
	}

	return &Server{
		URLs:       tr.ICEServers.URLs,
		Username:   tr.ICEServers.Username,
		Credential: tr.ICEServers.Credential,
	}, nil
}
