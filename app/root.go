// Package app wires the relay commands.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/samber/lo"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/trufnetwork/fdc-relay/attestation"
	"github.com/trufnetwork/fdc-relay/cmd/version"
	"github.com/trufnetwork/fdc-relay/consumers/sportsmarket"
	"github.com/trufnetwork/fdc-relay/internal/config"
	"github.com/trufnetwork/fdc-relay/internal/ledger"
	"github.com/trufnetwork/fdc-relay/scheduler"
)

// RootCmd creates the relayer root command.
func RootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "relayer",
		Short: "Request, prove and deliver Flare data connector attestations",
		Long: "relayer submits attestation requests to the FdcHub, searches the data availability " +
			"layer for their proofs, verifies them against the published Merkle roots and hands " +
			"the decoded payloads to consumers. Configuration is read from " + config.EnvPrefix + "* variables.",
		SilenceUsage: true,
	}
	cmd.AddCommand(
		version.NewVersionCmd(),
		attestCmd(),
		resumeCmd(),
		pendingCmd(),
		feedsCmd(),
		serveCmd(),
	)
	return cmd
}

func attestCmd() *cobra.Command {
	var specPath string
	cmd := &cobra.Command{
		Use:   "attest",
		Short: "Submit an attestation request and wait for its proof",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			spec, file, err := config.LoadSpecFile(specPath)
			if err != nil {
				return err
			}
			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			rt, err := newRuntime(ctx, needs{submit: true})
			if err != nil {
				return err
			}
			defer rt.Close()

			res, err := rt.pipeline.Run(ctx, spec, file.Consumer)
			if attestation.IsRetryable(err) {
				fmt.Fprintln(cmd.ErrOrStderr(), "request is recorded but not resolved yet; `relayer resume` or `relayer serve` continues it without sending it again")
			}
			if err != nil {
				return err
			}
			return printResult(cmd.OutOrStdout(), res)
		},
	}
	cmd.Flags().StringVar(&specPath, "spec", "", "path to the attestation spec yaml")
	_ = cmd.MarkFlagRequired("spec")
	return cmd
}

func resumeCmd() *cobra.Command {
	var request string
	cmd := &cobra.Command{
		Use:   "resume",
		Short: "Search again for the proof of a recorded request",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			key, err := parseRequestKey(request)
			if err != nil {
				return err
			}
			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			rt, err := newRuntime(ctx, needs{ledger: true})
			if err != nil {
				return err
			}
			defer rt.Close()

			res, err := rt.pipeline.Resume(ctx, key)
			if errors.Is(err, ledger.ErrNotFound) {
				return fmt.Errorf("request %s is not recorded", key.Hex())
			}
			if err != nil {
				return err
			}
			return printResult(cmd.OutOrStdout(), res)
		},
	}
	cmd.Flags().StringVar(&request, "request", "", "request key or abi encoded request (0x hex)")
	_ = cmd.MarkFlagRequired("request")
	return cmd
}

func pendingCmd() *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "pending",
		Short: "List recorded requests",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			store, err := ledger.Open(cfg.LedgerDir)
			if err != nil {
				return err
			}
			defer store.Close()

			entries, err := store.List("")
			if err != nil {
				return err
			}
			if !all {
				entries = lo.Filter(entries, func(e *ledger.Entry, _ int) bool {
					return !e.Status.Terminal() && e.Status != ledger.StatusDelivered
				})
			}
			table, err := ledgerTable(entries)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), table)
			return nil
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "include delivered, failed and rejected requests")
	return cmd
}

func feedsCmd() *cobra.Command {
	var names []string
	cmd := &cobra.Command{
		Use:   "feeds",
		Short: "Fetch and verify the latest finalized FTSO feed values",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			feeds := make([]attestation.FeedID, 0, len(names))
			for _, n := range names {
				id, err := attestation.ParseFeedID(n)
				if err != nil {
					return err
				}
				feeds = append(feeds, id)
			}
			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			rt, err := newRuntime(ctx, needs{})
			if err != nil {
				return err
			}
			defer rt.Close()

			res, err := rt.pipeline.RunFeeds(ctx, feeds)
			if err != nil {
				return err
			}
			table, err := feedsTable(res.Feeds)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), table)
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&names, "feed", []string{"FLR/USD"}, "feed names or 0x feed ids")
	return cmd
}

func serveCmd() *cobra.Command {
	var swapPool, marketsPath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Resume recorded requests on a schedule and deliver their payloads",
		Long: "Resume recorded requests on a schedule and deliver their payloads.\n\n" +
			"Match results settle the markets listed in --markets. Market state lives in\n" +
			"this process only. Without --markets, sportsmarket payloads stay resolved in\n" +
			"the ledger until a run with markets delivers them.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if swapPool != "" && !common.IsHexAddress(swapPool) {
				return fmt.Errorf("--swap-pool %q is not a hex address", swapPool)
			}
			var markets *sportsmarket.Registry
			if marketsPath != "" {
				var err error
				if markets, err = sportsmarket.LoadRegistry(marketsPath); err != nil {
					return err
				}
			}
			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			rt, err := newRuntime(ctx, needs{ledger: true})
			if err != nil {
				return err
			}
			defer rt.Close()

			s := scheduler.NewResolutionScheduler(scheduler.NewResolutionSchedulerParams{
				Resumer:     rt.pipeline,
				Ledger:      rt.ledger,
				Handlers:    deliveryHandlers(rt.logger, markets, common.HexToAddress(swapPool)),
				Metrics:     rt.metrics,
				Logger:      rt.logger,
				Concurrency: rt.cfg.MaxConcurrentFlows,
				FlowTimeout: rt.cfg.FlowTimeout,
			})
			if err := s.Start(ctx, rt.cfg.ResolutionSchedule); err != nil {
				return err
			}
			<-ctx.Done()
			rt.logger.Info("shutting down", zap.Error(context.Cause(ctx)))
			return s.Stop()
		},
	}
	cmd.Flags().StringVar(&swapPool, "swap-pool", "", "only collect swaps emitted by this pool")
	cmd.Flags().StringVar(&marketsPath, "markets", "", "yaml file of match markets to settle")
	return cmd
}
