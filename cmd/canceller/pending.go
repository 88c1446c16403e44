package main

import (
	"fmt"
	"math/big"
	"sort"
	"strconv"
	"time"

	"txcanceller/internal/domain"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

var trackCmd = &cobra.Command{
	Use:   "track",
	Short: "Start tracking a pending transaction",
	RunE:  runTrack,
}

var confirmCmd = &cobra.Command{
	Use:   "confirm",
	Short: "Stop tracking a confirmed transaction and every record sharing its nonce",
	RunE:  runConfirm,
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "Show tracked pending transactions",
	RunE:  runList,
}

var (
	txHash     string
	txFrom     string
	txNonce    uint64
	txFee      string
	txGasLimit string
)

func init() {
	trackCmd.Flags().StringVar(&txHash, "hash", "", "Transaction hash")
	trackCmd.Flags().StringVar(&txFrom, "from", "", "Sender address")
	trackCmd.Flags().Uint64Var(&txNonce, "nonce", 0, "Transaction nonce")
	trackCmd.Flags().StringVar(&txFee, "fee", "", "Max priority fee per gas (decimal or 0x hex)")
	trackCmd.Flags().StringVar(&txGasLimit, "gas-limit", "", "Gas limit (decimal or 0x hex)")
	for _, name := range []string{"hash", "from", "fee", "gas-limit"} {
		_ = trackCmd.MarkFlagRequired(name)
	}

	confirmCmd.Flags().StringVar(&txHash, "hash", "", "Confirmed transaction hash")
	confirmCmd.Flags().Uint64Var(&txNonce, "nonce", 0, "Confirmed transaction nonce")
	_ = confirmCmd.MarkFlagRequired("hash")

	rootCmd.AddCommand(trackCmd, confirmCmd, listCmd)
}

func runTrack(cmd *cobra.Command, args []string) error {
	fee, err := parseAmountFlag("fee", txFee)
	if err != nil {
		return err
	}
	gasLimit, err := parseAmountFlag("gas-limit", txGasLimit)
	if err != nil {
		return err
	}
	rt, err := newRuntime(cmd.Context(), cfg, runtimeOptions{})
	if err != nil {
		return err
	}
	defer rt.Close()

	err = rt.canceller.AddPending(cmd.Context(), domain.PendingTransaction{
		Hash:                 txHash,
		From:                 txFrom,
		Nonce:                txNonce,
		MaxPriorityFeePerGas: fee,
		GasLimit:             gasLimit,
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "tracking %s (nonce %d)\n", txHash, txNonce)
	return nil
}

func runConfirm(cmd *cobra.Command, args []string) error {
	rt, err := newRuntime(cmd.Context(), cfg, runtimeOptions{})
	if err != nil {
		return err
	}
	defer rt.Close()

	if err := rt.canceller.RemoveConfirmed(cmd.Context(), domain.PendingTransaction{Hash: txHash, Nonce: txNonce}); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "confirmed %s (nonce %d)\n", txHash, txNonce)
	return nil
}

func runList(cmd *cobra.Command, args []string) error {
	rt, err := newRuntime(cmd.Context(), cfg, runtimeOptions{})
	if err != nil {
		return err
	}
	defer rt.Close()

	records, err := rt.store.List(cmd.Context())
	if err != nil {
		return err
	}
	renderPending(cmd, records, time.Now())
	return nil
}

func renderPending(cmd *cobra.Command, records []domain.PendingTransaction, now time.Time) {
	sort.Slice(records, func(i, j int) bool {
		if records[i].Nonce != records[j].Nonce {
			return records[i].Nonce < records[j].Nonce
		}
		return records[i].Hash < records[j].Hash
	})
	table := tablewriter.NewWriter(cmd.OutOrStdout())
	table.SetHeader([]string{"Hash", "From", "Nonce", "Priority fee", "Gas limit", "Tracked"})
	for _, record := range records {
		table.Append([]string{
			record.Hash,
			record.From,
			strconv.FormatUint(record.Nonce, 10),
			amountString(record.MaxPriorityFeePerGas),
			amountString(record.GasLimit),
			humanize.RelTime(record.Timestamp, now, "ago", "from now"),
		})
	}
	table.SetFooter([]string{"", "", "", "", "Total", strconv.Itoa(len(records))})
	table.Render()
}

func parseAmountFlag(name, raw string) (*big.Int, error) {
	value, ok := new(big.Int).SetString(raw, 0)
	if !ok {
		return nil, fmt.Errorf("invalid --%s %q", name, raw)
	}
	return value, nil
}

func amountString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return humanize.BigComma(v)
}
