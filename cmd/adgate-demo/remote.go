package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"adgate/core"
	sdk "adgate/sdk/go"
)

func newClient() (*sdk.Client, error) {
	return sdk.NewClient(httpURL, sdk.WithAPIKey(apiKey))
}

var stateCmd = &cobra.Command{
	Use:     "state",
	Short:   "Show the server's preference, engagement count and ad slot",
	GroupID: "remote",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClient()
		if err != nil {
			return err
		}
		st, err := client.GetState(cmd.Context())
		if err != nil {
			return err
		}
		p := newPrinter(cmd.OutOrStdout())
		if p.json {
			p.value(st)
			return nil
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Ads enabled:  %t\n", st.AdsEnabled)
		fmt.Fprintf(out, "Engagements:  %d\n", st.EngagementCount)
		fmt.Fprintf(out, "Slot:         %s\n", st.Slot.State)
		if st.Slot.HandleID != "" {
			fmt.Fprintf(out, "Ad:           %s\n", st.Slot.HandleID)
		}
		return nil
	},
}

var engageCmd = &cobra.Command{
	Use:     "engage",
	Short:   "Record one user interaction",
	GroupID: "remote",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClient()
		if err != nil {
			return err
		}
		n, err := client.RecordEngagement(cmd.Context())
		if err != nil {
			return err
		}
		p := newPrinter(cmd.OutOrStdout())
		if p.json {
			p.value(map[string]int64{"count": n})
			return nil
		}
		fmt.Fprintf(cmd.OutOrStdout(), "engagements=%d\n", n)
		return nil
	},
}

var rewardCmd = &cobra.Command{
	Use:     "reward",
	Short:   "Request an unlock; waits while the ad is on screen",
	GroupID: "remote",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClient()
		if err != nil {
			return err
		}
		d, err := client.RequestReward(cmd.Context())
		if err != nil {
			return err
		}
		newPrinter(cmd.OutOrStdout()).decision(d)
		return nil
	},
}

var adsCmd = &cobra.Command{
	Use:       "ads <on|off>",
	Short:     "Turn rewarded ads on or off",
	GroupID:   "remote",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"on", "off"},
	RunE: func(cmd *cobra.Command, args []string) error {
		var enabled bool
		switch args[0] {
		case "on":
			enabled = true
		case "off":
		default:
			return fmt.Errorf("expected on or off, got %q", args[0])
		}
		client, err := newClient()
		if err != nil {
			return err
		}
		now, err := client.SetAdsEnabled(cmd.Context(), enabled)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "ads_enabled=%t\n", now)
		return nil
	},
}

var watchTypes []string

var watchCmd = &cobra.Command{
	Use:     "watch",
	Short:   "Stream controller events until interrupted",
	GroupID: "remote",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClient()
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		types := make([]core.EventType, len(watchTypes))
		for i, t := range watchTypes {
			types[i] = core.EventType(t)
		}
		events, err := client.SubscribeEvents(ctx, types...)
		if err != nil {
			return err
		}
		p := newPrinter(cmd.OutOrStdout())
		for ev := range events {
			p.event(ev)
		}
		return nil
	},
}

func init() {
	watchCmd.Flags().StringSliceVar(&watchTypes, "types", nil, "only these event types (comma-separated)")
}
