package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"go.klb.dev/clipsync/internal/engine"
	"go.klb.dev/clipsync/internal/ipc"
	"go.klb.dev/clipsync/internal/message"
)

func newStatusCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show connected peers and stream states",
		Long: `Displays every peer of the local clipsync daemon together with the
state of each synced stream and the measured link bandwidth.`,
		Args:    cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error { return bindViper(cmd, v) },
		RunE:    func(cmd *cobra.Command, _ []string) error { return runStatus(cmd.Context(), cmd.OutOrStdout(), v) },
	}

	f := cmd.Flags()
	f.Bool("json", false, "output raw JSON")
	addConfigFlag(cmd)

	return cmd
}

func runStatus(ctx context.Context, out io.Writer, v *viper.Viper) error {
	resp, err := ipcRequest(ctx, http.MethodGet, "/status", nil, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return responseError(resp)
	}

	var st message.Status
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		return fmt.Errorf("status: %w", err)
	}
	if v.GetBool("json") {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(st)
	}
	printStatus(out, &st, time.Now())
	return nil
}

func printStatus(out io.Writer, st *message.Status, now time.Time) {
	w := tabwriter.NewWriter(out, 1, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Source:\t%s\n", st.Source)
	fmt.Fprintf(w, "Version:\t%s\n", st.Version)
	fmt.Fprintf(w, "Transport:\tipc (%s)\n", ipc.SocketPath())
	fmt.Fprintln(w)
	_ = w.Flush()

	if len(st.Peers) == 0 {
		fmt.Fprintln(out, "No peers connected.")
		return
	}

	tw := tabwriter.NewWriter(out, 1, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "SOURCE\tADDR\tROLE\tCONNECTED\tLAST SEEN\tBANDWIDTH\tRTT\tSTREAMS\n")
	fmt.Fprintf(tw, "------\t----\t----\t---------\t---------\t---------\t---\t-------\n")
	for _, p := range st.Peers {
		bw, rtt := "-", "-"
		if p.Bandwidth != nil {
			if p.Bandwidth.SampleCount > 0 {
				bw = fmtRate(p.Bandwidth.BytesPerSecond)
			}
			if p.Bandwidth.RTTSamples > 0 {
				rtt = time.Duration(p.Bandwidth.RTT).Round(time.Millisecond).String()
			}
		}
		addr := p.Addr
		if addr == "" {
			addr = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			p.Source, addr, p.Role,
			fmtAge(p.ConnectedAt, now), fmtAge(p.LastSeen, now),
			bw, rtt, fmtStreams(p.Streams),
		)
	}
	_ = tw.Flush()
}

func fmtStreams(ss []engine.StreamStatus) string {
	if len(ss) == 0 {
		return "-"
	}
	parts := make([]string, 0, len(ss))
	for _, s := range ss {
		state := "ok"
		switch {
		case s.Inbound == engine.Resyncing:
			state = "resyncing"
		case s.Outbound != engine.Idle:
			state = s.Outbound.String()
		case s.Inbound != engine.Idle:
			state = s.Inbound.String()
		}
		parts = append(parts, fmt.Sprintf("%s(%s tx#%d rx#%d)", s.Stream, state, s.LastSent, s.LastReceived))
	}
	return strings.Join(parts, " ")
}

func fmtRate(bps float64) string {
	switch {
	case bps >= 1<<20:
		return fmt.Sprintf("%.1f MiB/s", bps/(1<<20))
	case bps >= 1<<10:
		return fmt.Sprintf("%.1f KiB/s", bps/(1<<10))
	default:
		return fmt.Sprintf("%.0f B/s", bps)
	}
}

func fmtAge(t, now time.Time) string {
	if t.IsZero() {
		return "-"
	}
	age := now.Sub(t).Round(time.Second)
	if age < time.Minute {
		return fmt.Sprintf("%ds ago", int(age.Seconds()))
	}
	if age < time.Hour {
		return fmt.Sprintf("%dm ago", int(age.Minutes()))
	}
	return t.Format("15:04:05")
}
