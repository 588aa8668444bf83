package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

func newStatusCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon status, queued updates and sync checkpoints",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, closer, _, err := opts.connect()
			if err != nil {
				return err
			}
			defer func() { _ = closer.Close() }()

			ctx, cancel := context.WithTimeout(cmd.Context(), opts.Timeout)
			defer cancel()
			resp, err := c.GetSyncStatus(ctx, &emptypb.Empty{})
			if err != nil {
				return err
			}
			if opts.JSON {
				return writeJSON(cmd.OutOrStdout(), resp)
			}
			printStatus(cmd.OutOrStdout(), resp.AsMap())
			return nil
		},
	}
}

func printStatus(w io.Writer, st map[string]any) {
	fmt.Fprintf(w, "Session:  %v\n", st["session"])
	fmt.Fprintf(w, "Status:   %v\n", st["status"])
	fmt.Fprintf(w, "Pending:  %v\n", st["pending"])
	fmt.Fprintf(w, "Inflight: %v\n", st["inflight"])

	if syncs, _ := st["syncs"].([]any); len(syncs) > 0 {
		fmt.Fprintln(w, "Syncing:")
		for _, s := range syncs {
			m, _ := s.(map[string]any)
			fmt.Fprintf(w, "  %-20v pending=%v added=%v removed=%v\n", m["account"], m["pending"], m["added"], m["removed"])
		}
	}

	cps, _ := st["checkpoints"].(map[string]any)
	if len(cps) == 0 {
		return
	}
	accounts := make([]string, 0, len(cps))
	for acc := range cps {
		accounts = append(accounts, acc)
	}
	sort.Strings(accounts)
	fmt.Fprintln(w, "Last sync:")
	for _, acc := range accounts {
		fmt.Fprintf(w, "  %-20s %v\n", acc, cps[acc])
	}
}

func newResyncCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "resync [account]",
		Short: "Re-synchronize one account, or every account",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, closer, _, err := opts.connect()
			if err != nil {
				return err
			}
			defer func() { _ = closer.Close() }()

			fields := map[string]any{}
			if len(args) == 1 {
				fields["account"] = args[0]
			}
			req, err := structpb.NewStruct(fields)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), opts.Timeout)
			defer cancel()
			if _, err := c.Resync(ctx, req); err != nil {
				return err
			}
			if len(args) == 1 {
				fmt.Fprintf(cmd.OutOrStdout(), "Resync of %s started\n", args[0])
			} else {
				fmt.Fprintln(cmd.OutOrStdout(), "Reconciliation started")
			}
			return nil
		},
	}
}

func newFlushCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "flush",
		Short: "Write queued contact updates now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, closer, _, err := opts.connect()
			if err != nil {
				return err
			}
			defer func() { _ = closer.Close() }()

			ctx, cancel := context.WithTimeout(cmd.Context(), opts.Timeout)
			defer cancel()
			if _, err := c.Flush(ctx, &emptypb.Empty{}); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Flushed")
			return nil
		},
	}
}

func newWatchCommand(opts *RootOptions) *cobra.Command {
	var count int
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Stream sync lifecycle and status events",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, closer, _, err := opts.connect()
			if err != nil {
				return err
			}
			defer func() { _ = closer.Close() }()

			stream, err := c.WatchSyncEvents(cmd.Context(), &emptypb.Empty{})
			if err != nil {
				return err
			}
			for seen := 0; count <= 0 || seen < count; seen++ {
				env, err := stream.Recv()
				if errors.Is(err, io.EOF) {
					return nil
				}
				if err != nil {
					return err
				}
				if opts.JSON {
					if err := writeJSON(cmd.OutOrStdout(), env); err != nil {
						return err
					}
					continue
				}
				printEvent(cmd.OutOrStdout(), env.AsMap())
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&count, "count", "n", 0, "stop after this many events (0 = forever)")
	return cmd
}

func printEvent(w io.Writer, env map[string]any) {
	at := ""
	if ms, ok := env["occurred_at_unix_ms"].(float64); ok {
		at = time.UnixMilli(int64(ms)).Format("15:04:05.000")
	}
	p, _ := env["payload"].(map[string]any)
	switch env["kind"] {
	case "sync.started":
		fmt.Fprintf(w, "[%s] %v: sync started\n", at, p["account"])
	case "sync.ended":
		fmt.Fprintf(w, "[%s] %v: sync ended, %v added, %v removed\n", at, p["account"], p["added"], p["removed"])
	case "session.status_changed":
		fmt.Fprintf(w, "[%s] status %v -> %v\n", at, p["from"], p["to"])
	default:
		fmt.Fprintf(w, "[%s] %v\n", at, env["kind"])
	}
}

func writeJSON(w io.Writer, s *structpb.Struct) error {
	data, err := protojson.MarshalOptions{Multiline: true, Indent: "  "}.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode json: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}
