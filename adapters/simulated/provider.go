// Package simulated provides an in-process rewarded-ad network for development,
// demos and integration tests. Outcomes are drawn from a seedable source.
package simulated

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"adgate/core"
	"adgate/idgen"
)

// ErrNoFill is reported when the simulated network has no ad to serve.
var ErrNoFill = errors.New("no fill")

// Config shapes the simulated network.
type Config struct {
	FillRate     float64       `json:"fill_rate" env:"ADGATE_ADS_SIM_FILL_RATE"`
	RewardRate   float64       `json:"reward_rate" env:"ADGATE_ADS_SIM_REWARD_RATE"`
	LoadLatency  time.Duration `json:"load_latency" env:"ADGATE_ADS_SIM_LOAD_LATENCY"`
	ShowDuration time.Duration `json:"show_duration" env:"ADGATE_ADS_SIM_SHOW_DURATION"`
	// AdTTL expires loaded ads; an expired ad fails to show. Zero never expires.
	AdTTL        time.Duration `json:"ad_ttl" env:"ADGATE_ADS_SIM_AD_TTL"`
	RewardAmount int           `json:"reward_amount" env:"ADGATE_ADS_SIM_REWARD_AMOUNT"`
	RewardType   string        `json:"reward_type" env:"ADGATE_ADS_SIM_REWARD_TYPE"`
	Seed         int64         `json:"seed" env:"ADGATE_ADS_SIM_SEED"`
}

// DefaultConfig fills most requests and rewards most viewers.
func DefaultConfig() Config {
	return Config{
		FillRate:     0.9,
		RewardRate:   0.8,
		LoadLatency:  300 * time.Millisecond,
		ShowDuration: 2 * time.Second,
		AdTTL:        time.Hour,
		RewardAmount: 1,
		RewardType:   "unlock",
	}
}

type ad struct {
	id      string
	unitID  string
	expires time.Time
}

func (a *ad) ID() string { return a.id }

// Provider implements the engine's AdProvider contract. Callbacks are always
// delivered on provider goroutines, never inline.
type Provider struct {
	cfg Config

	mu  sync.Mutex
	rng *rand.Rand
	now func() time.Time
}

func New(cfg Config) *Provider {
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Provider{cfg: cfg, rng: rand.New(rand.NewSource(seed)), now: time.Now}
}

func (p *Provider) roll() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rng.Float64()
}

func (p *Provider) Load(ctx context.Context, unitID string, done func(core.LoadResult)) {
	time.AfterFunc(p.cfg.LoadLatency, func() {
		if err := ctx.Err(); err != nil {
			done(core.LoadResult{Err: err})
			return
		}
		if p.roll() >= p.cfg.FillRate {
			done(core.LoadResult{Err: ErrNoFill})
			return
		}
		a := &ad{id: idgen.Must(idgen.AdPrefix), unitID: unitID}
		if p.cfg.AdTTL > 0 {
			a.expires = p.now().Add(p.cfg.AdTTL)
		}
		done(core.LoadResult{Handle: a})
	})
}

func (p *Provider) Show(ctx context.Context, handle core.AdHandle, emit func(core.ShowEvent)) {
	go func() {
		a, ok := handle.(*ad)
		switch {
		case !ok:
			emit(core.ShowEvent{Kind: core.ShowFailedToShow, Reason: "unknown ad handle"})
			return
		case !a.expires.IsZero() && p.now().After(a.expires):
			emit(core.ShowEvent{Kind: core.ShowFailedToShow, Reason: "ad expired"})
			return
		}

		emit(core.ShowEvent{Kind: core.ShowShowedFullscreen})
		emit(core.ShowEvent{Kind: core.ShowImpression})

		watched := p.roll() < p.cfg.RewardRate
		timer := time.NewTimer(p.cfg.ShowDuration)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			watched = false
		}
		if watched {
			emit(core.ShowEvent{Kind: core.ShowRewardEarned, Reward: core.Reward{Amount: p.cfg.RewardAmount, Type: p.cfg.RewardType}})
		}
		emit(core.ShowEvent{Kind: core.ShowDismissedFullscreen})
	}()
}
