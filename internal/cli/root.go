// Package cli implements the rosterctl commands.
package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/matheus3301/rosterd/internal/api"
	"github.com/matheus3301/rosterd/internal/client"
	"github.com/matheus3301/rosterd/internal/session"
)

// DialFunc connects to the daemon of a session.
type DialFunc func(socketPath string) (api.SyncServiceClient, io.Closer, error)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Session string
	JSON    bool
	Timeout time.Duration

	Dial DialFunc
}

func dialSocket(socketPath string) (api.SyncServiceClient, io.Closer, error) {
	c, err := client.New(socketPath)
	if err != nil {
		return nil, nil, err
	}
	return c.Sync, c, nil
}

// connect resolves the session and dials its daemon.
func (o *RootOptions) connect() (api.SyncServiceClient, io.Closer, string, error) {
	name, err := session.Resolve(o.Session)
	if err != nil {
		return nil, nil, "", err
	}
	dial := o.Dial
	if dial == nil {
		dial = dialSocket
	}
	c, closer, err := dial(session.SocketPath(name))
	if err != nil {
		return nil, nil, "", fmt.Errorf("cannot connect to daemon for session %q: %w", name, err)
	}
	return c, closer, name, nil
}

// NewRootCommand creates the rosterctl root command.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&RootOptions{})
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "rosterctl",
		Short:         "Control a running rosterd",
		Long:          "Inspect and drive the contact roster synchronization of a rosterd session.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.Session, "session", "s", "", "session name (overrides config default)")
	cmd.PersistentFlags().BoolVar(&opts.JSON, "json", false, "output in JSON format")
	cmd.PersistentFlags().DurationVar(&opts.Timeout, "timeout", 10*time.Second, "request timeout")

	cmd.AddCommand(newStatusCommand(opts))
	cmd.AddCommand(newResyncCommand(opts))
	cmd.AddCommand(newFlushCommand(opts))
	cmd.AddCommand(newWatchCommand(opts))

	return cmd
}
