package main

import (
	"context"
	"io"
	"net/http"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"go.klb.dev/clipsync/internal/stream"
)

func newPasteCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "paste",
		Short: "Print the synced clipboard to stdout (like pbpaste)",
		Long: `Retrieves the latest content of a stream from the local daemon and
writes it to stdout. If the stream holds nothing yet, nothing is printed
(exit 0). To retrieve an image:

  clipsync paste --stream image > screenshot.png`,
		Args:    cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error { return bindViper(cmd, v) },
		RunE:    func(cmd *cobra.Command, _ []string) error { return runPaste(cmd.Context(), v) },
	}

	f := cmd.Flags()
	f.String("stream", stream.PrimaryText.String(), "source stream: [selection/]kind")
	addConfigFlag(cmd)

	return cmd
}

func runPaste(ctx context.Context, v *viper.Viper) error {
	id, err := stream.Parse(v.GetString("stream"))
	if err != nil {
		return err
	}
	resp, err := ipcRequest(ctx, http.MethodGet, "/clipboard/"+id.String(), nil, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		_, err = io.Copy(os.Stdout, resp.Body)
		return err
	case http.StatusNotFound:
		return nil
	default:
		return responseError(resp)
	}
}
