package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/protobuf/encoding/protojson"

	"go.klb.dev/clipsync/internal/grpcservice"
	"go.klb.dev/clipsync/internal/stream"
	"go.klb.dev/clipsync/internal/tlsconf"
)

func newHealthcheckCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "healthcheck",
		Short: "Probe a daemon's gRPC health service",
		Long: `Queries the gRPC health service on a daemon's shared port and exits
non-zero unless it reports SERVING. Suitable as a container HEALTHCHECK.

  clipsync healthcheck                      # the daemon itself
  clipsync healthcheck --service peers      # at least one peer linked
  clipsync healthcheck --stream text        # primary/text is not resyncing`,
		Args:    cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error { return bindViper(cmd, v) },
		RunE:    func(cmd *cobra.Command, _ []string) error { return runHealthcheck(cmd, v) },
	}

	f := cmd.Flags()
	f.String("addr", "localhost:8752", "daemon shared port")
	f.String("token", "", "shared secret the daemon was started with")
	f.String("service", "", `health service: "" (daemon) or "peers"`)
	f.String("stream", "", "check a stream instead of --service")
	f.Duration("timeout", 3*time.Second, "probe timeout")
	f.Bool("json", false, "print the response as JSON")
	addConfigFlag(cmd)

	return cmd
}

func healthService(v *viper.Viper) (string, error) {
	if s := v.GetString("stream"); s != "" {
		id, err := stream.Parse(s)
		if err != nil {
			return "", err
		}
		return grpcservice.StreamService(id), nil
	}
	s := v.GetString("service")
	if s == "peers" {
		return grpcservice.PeersService, nil
	}
	return s, nil
}

func runHealthcheck(cmd *cobra.Command, v *viper.Viper) error {
	service, err := healthService(v)
	if err != nil {
		return err
	}
	creds, err := tlsconf.Derive(v.GetString("token"))
	if err != nil {
		return err
	}
	cc, err := grpc.NewClient(v.GetString("addr"), grpc.WithTransportCredentials(creds.GRPCCredentials()))
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer cc.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), v.GetDuration("timeout"))
	defer cancel()
	resp, err := healthpb.NewHealthClient(cc).Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		return fmt.Errorf("health check: %w", err)
	}

	out := cmd.OutOrStdout()
	if v.GetBool("json") {
		b, err := protojson.Marshal(resp)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, string(b))
	} else {
		fmt.Fprintln(out, resp.GetStatus())
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return fmt.Errorf("%q is %s", service, resp.GetStatus())
	}
	return nil
}
