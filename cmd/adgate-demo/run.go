package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"adgate/adapters/jsonfile"
	"adgate/adapters/simulated"
	"adgate/adgate"
	"adgate/core"
	"adgate/engine"
	"adgate/realtime"
)

// runOptions script one in-process session.
type runOptions struct {
	engagements   int
	requests      int
	disableAfter  int
	storePath     string
	denyOnDismiss bool
	verbose       bool
	settle        time.Duration
	sim           simulated.Config
}

var runOpts = runOptions{sim: simulated.DefaultConfig()}

var runCmd = &cobra.Command{
	Use:     "run",
	Short:   "Play a scripted session against a simulated ad network",
	GroupID: "local",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()
		return runSession(ctx, cmd.OutOrStdout(), runOpts)
	},
}

func init() {
	f := runCmd.Flags()
	f.IntVar(&runOpts.engagements, "engagements", 3, "interactions recorded before each unlock request")
	f.IntVar(&runOpts.requests, "requests", 3, "number of unlock requests")
	f.IntVar(&runOpts.disableAfter, "disable-ads-after", 0, "turn ads off after this many requests (0 keeps them on)")
	f.StringVar(&runOpts.storePath, "store", "", "persist the ads preference to this JSON file")
	f.BoolVar(&runOpts.denyOnDismiss, "deny-on-dismiss", false, "refuse access when the ad is closed before the reward")
	f.BoolVar(&runOpts.verbose, "events", false, "print every controller event")
	f.DurationVar(&runOpts.settle, "settle", 5*time.Second, "how long to wait for an ad to load between requests")
	f.Float64Var(&runOpts.sim.FillRate, "fill-rate", runOpts.sim.FillRate, "probability that a load succeeds")
	f.Float64Var(&runOpts.sim.RewardRate, "reward-rate", runOpts.sim.RewardRate, "probability that the viewer earns the reward")
	f.DurationVar(&runOpts.sim.LoadLatency, "load-latency", runOpts.sim.LoadLatency, "simulated load time")
	f.DurationVar(&runOpts.sim.ShowDuration, "show-duration", runOpts.sim.ShowDuration, "simulated time on screen")
	f.Int64Var(&runOpts.sim.Seed, "seed", 0, "random seed (0 picks one)")
}

func runSession(ctx context.Context, out io.Writer, o runOptions) error {
	p := newPrinter(out)

	opts := []adgate.Option{
		adgate.WithProvider(simulated.New(o.sim)),
		adgate.WithDenyOnDismiss(o.denyOnDismiss),
		adgate.WithDispatchMode(engine.DispatchSync),
		adgate.WithLogger(logger),
	}
	if o.storePath != "" {
		store, err := jsonfile.New(o.storePath)
		if err != nil {
			return err
		}
		opts = append(opts, adgate.WithPreferenceStore(store))
	}
	var hub *realtime.Hub
	if o.verbose {
		hub = realtime.NewHub()
		opts = append(opts, adgate.WithRealtime(hub))
	}

	ctrl := adgate.New(ctx, opts...)
	defer ctrl.Close()

	if hub != nil {
		id, events := hub.Subscribe(256)
		done := make(chan struct{})
		go func() {
			defer close(done)
			for ev := range events {
				p.event(ev)
			}
		}()
		defer func() {
			hub.Unsubscribe(id)
			<-done
		}()
	}

	ctrl.Initialize()

	var granted, denied int
	for i := 1; i <= o.requests; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if o.disableAfter > 0 && i == o.disableAfter+1 {
			if err := ctrl.SetAdsEnabled(ctx, false); err != nil {
				return fmt.Errorf("disable ads: %w", err)
			}
			if !p.json {
				fmt.Fprintln(out, "-- ads turned off")
			}
		}
		for range o.engagements {
			ctrl.RecordEngagement()
		}
		waitForAd(ctx, ctrl, o.settle)

		d, err := ctrl.RequestReward(ctx)
		if err != nil {
			return err
		}
		p.decision(d)
		if d.Granted {
			granted++
		} else {
			denied++
		}
	}

	if p.json {
		p.value(map[string]any{
			"granted":     granted,
			"denied":      denied,
			"engagements": ctrl.EngagementCount(),
			"ads_enabled": ctrl.AdsEnabled(),
		})
		return nil
	}
	fmt.Fprintf(out, "-- %d granted, %d denied, %d engagements, ads_enabled=%t\n",
		granted, denied, ctrl.EngagementCount(), ctrl.AdsEnabled())
	return nil
}

// waitForAd gives an in-flight load a chance to finish, like a user pausing
// before tapping unlock.
func waitForAd(ctx context.Context, ctrl *engine.Controller, limit time.Duration) {
	if !ctrl.AdsEnabled() {
		return
	}
	deadline := time.NewTimer(limit)
	defer deadline.Stop()
	tick := time.NewTicker(10 * time.Millisecond)
	defer tick.Stop()
	for ctrl.State().State == core.SlotLoading {
		select {
		case <-ctx.Done():
			return
		case <-deadline.C:
			return
		case <-tick.C:
		}
	}
}
