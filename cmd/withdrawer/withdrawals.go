package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/toncenter/examples/internal/app"
	"github.com/toncenter/examples/internal/config"
	"github.com/toncenter/examples/internal/events"
	"github.com/toncenter/examples/internal/models"
	"github.com/toncenter/examples/internal/services"
)

var (
	enqueueTo     string
	enqueueAmount string
	enqueueJetton string
)

var enqueueCmd = &cobra.Command{
	Use:   "enqueue --to=ADDRESS --amount=AMOUNT [--jetton=NAME]",
	Short: "Store a withdrawal request for the next batch",
	Long: `Store a withdrawal request directly in the configured database.
Amounts are in the asset's smallest units (nanotons for Toncoin).`,
	Args: cobra.NoArgs,
	RunE: runEnqueue,
}

var statusCmd = &cobra.Command{
	Use:   "status REQUEST_ID",
	Short: "Show a withdrawal request and its status",
	Args:  cobra.ExactArgs(1),
	RunE:  runStatus,
}

func init() {
	enqueueCmd.Flags().StringVar(&enqueueTo, "to", "", "destination address")
	enqueueCmd.Flags().StringVar(&enqueueAmount, "amount", "", "amount in smallest units")
	enqueueCmd.Flags().StringVar(&enqueueJetton, "jetton", "", "jetton name from config (omit for Toncoin)")
	_ = enqueueCmd.MarkFlagRequired("to")
	_ = enqueueCmd.MarkFlagRequired("amount")
}

func withdrawalService() (*services.WithdrawalService, error) {
	cfg := config.AppConfig
	if cfg.Database.Driver == "memory" {
		return nil, fmt.Errorf("the memory store is private to a running service, configure postgres to use the CLI")
	}
	store, _, err := app.OpenStore(cfg)
	if err != nil {
		return nil, err
	}
	jettons, err := app.JettonRoutes(cfg)
	if err != nil {
		return nil, err
	}
	return services.NewWithdrawalService(store, jettons, events.LogPublisher{}), nil
}

func runEnqueue(cmd *cobra.Command, args []string) error {
	svc, err := withdrawalService()
	if err != nil {
		return err
	}

	kind := models.AssetKindNative
	if enqueueJetton != "" {
		kind = models.AssetKindJetton
	}
	id, err := svc.Enqueue(cmd.Context(), enqueueTo, enqueueAmount, kind, enqueueJetton)
	if err != nil {
		return err
	}
	fmt.Println(id)
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	svc, err := withdrawalService()
	if err != nil {
		return err
	}

	view, err := svc.Status(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(struct {
		*models.WithdrawalRequest
		Status models.RequestStatus `json:"status"`
	}{view.Request, view.Status})
}
