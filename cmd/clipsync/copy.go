package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"go.klb.dev/clipsync/internal/admin"
	"go.klb.dev/clipsync/internal/stream"
)

func newCopyCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "copy",
		Short: "Copy stdin to the synced clipboard (like pbcopy)",
		Long: `Reads stdin and hands it to the local clipsync daemon, which publishes
it to the local clipboard and every peer.

  clipsync copy < notes.txt
  clipsync copy --stream image < screenshot.png`,
		Args:    cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error { return bindViper(cmd, v) },
		RunE:    func(cmd *cobra.Command, _ []string) error { return runCopy(cmd.Context(), v) },
	}

	f := cmd.Flags()
	f.String("stream", stream.PrimaryText.String(), "target stream: [selection/]kind")
	f.String("source", defaultSource(), "source identifier")
	addConfigFlag(cmd)

	return cmd
}

func runCopy(ctx context.Context, v *viper.Viper) error {
	id, err := stream.Parse(v.GetString("stream"))
	if err != nil {
		return err
	}
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return fmt.Errorf("read stdin: %w", err)
	}
	if len(data) == 0 {
		return nil
	}

	header := http.Header{}
	header.Set(admin.SourceHeader, v.GetString("source"))
	header.Set("Content-Type", id.Kind().MIME())
	resp, err := ipcRequest(ctx, http.MethodPost, "/clipboard/"+id.String(), bytes.NewReader(data), header)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		return responseError(resp)
	}
	return nil
}
