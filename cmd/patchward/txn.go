package main

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/fentz26/patchward/internal/controlplane"
	"github.com/fentz26/patchward/internal/models"
	"github.com/spf13/cobra"
)

var txnCmd = &cobra.Command{
	Use:   "txn",
	Short: "Manage patch transactions on the daemon",
}

var txnSubmitCmd = &cobra.Command{
	Use:   "submit FILE PATCH [FILE PATCH...]",
	Short: "Submit a transaction of patch actions",
	Args: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 || len(args)%2 != 0 {
			return fmt.Errorf("expected FILE PATCH pairs, got %d arguments", len(args))
		}
		return nil
	},
	RunE: runTxnSubmit,
}

var txnListCmd = &cobra.Command{
	Use:   "list",
	Short: "List transactions",
	RunE:  runTxnList,
}

var txnShowCmd = &cobra.Command{
	Use:   "show [txn-id]",
	Short: "Show a transaction with its actions and undo actions",
	Args:  cobra.ExactArgs(1),
	RunE:  runTxnShow,
}

var txnRunsCmd = &cobra.Command{
	Use:   "runs [txn-id]",
	Short: "Show patch tool runs of a transaction",
	Args:  cobra.ExactArgs(1),
	RunE:  runTxnRuns,
}

var txnRollbackCmd = &cobra.Command{
	Use:   "rollback [txn-id]",
	Short: "Undo a committed transaction",
	Args:  cobra.ExactArgs(1),
	RunE:  runTxnRollback,
}

var (
	txnReverse bool
	txnDryRun  bool
	txnAsync   bool
	txnStatus  string
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#7C3AED"))
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#6B7280")).Width(10)
	errorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#EF4444"))
)

func init() {
	txnCmd.AddCommand(txnSubmitCmd, txnListCmd, txnShowCmd, txnRunsCmd, txnRollbackCmd)

	txnSubmitCmd.Flags().BoolVarP(&txnReverse, "reverse", "R", false, "Unapply every patch instead")
	txnSubmitCmd.Flags().BoolVar(&txnDryRun, "dry-run", false, "Check every action without writing")
	txnSubmitCmd.Flags().BoolVar(&txnAsync, "async", false, "Queue for the scheduler instead of applying now")

	txnListCmd.Flags().StringVar(&txnStatus, "status", "", "Filter by status (pending, running, committed, failed, rolled_back)")
}

// submitActions pairs up FILE PATCH arguments. Paths are made absolute since
// the daemon resolves them from its own working directory.
func submitActions(args []string, reverse bool) ([]models.PatchArgs, error) {
	actions := make([]models.PatchArgs, 0, len(args)/2)
	for i := 0; i+1 < len(args); i += 2 {
		file, err := filepath.Abs(args[i])
		if err != nil {
			return nil, err
		}
		patch, err := filepath.Abs(args[i+1])
		if err != nil {
			return nil, err
		}
		actions = append(actions, models.PatchArgs{File: file, Patch: patch, Reverse: reverse})
	}
	return actions, nil
}

func runTxnSubmit(cmd *cobra.Command, args []string) error {
	actions, err := submitActions(args, txnReverse)
	if err != nil {
		return err
	}

	resp, err := apiPost("/transactions", controlplane.SubmitRequest{
		Actions: actions,
		DryRun:  txnDryRun,
		Async:   txnAsync,
	})
	if err != nil {
		return err
	}

	var tx models.Transaction
	if err := json.Unmarshal(resp, &tx); err != nil {
		return err
	}

	fmt.Printf("Transaction %s: %s\n", tx.ID, colorTxStatus(tx.Status))
	if tx.Error != "" {
		fmt.Println(errorStyle.Render(tx.Error))
	}
	return nil
}

func runTxnList(cmd *cobra.Command, args []string) error {
	path := "/transactions"
	if txnStatus != "" {
		path += "?status=" + txnStatus
	}

	resp, err := apiGet(path)
	if err != nil {
		return err
	}

	var txs []models.Transaction
	if err := json.Unmarshal(resp, &txs); err != nil {
		return err
	}

	if len(txs) == 0 {
		fmt.Println("No transactions found")
		return nil
	}

	table := newTable([]string{"ID", "Status", "Dry Run", "Claimed By", "Created", "Error"})
	for _, tx := range txs {
		dry := ""
		if tx.DryRun {
			dry = "yes"
		}
		table.Append([]string{
			truncateID(tx.ID),
			colorTxStatus(tx.Status),
			dry,
			truncate(tx.ClaimedBy, 16),
			tx.CreatedAt.Local().Format("2006-01-02 15:04:05"),
			truncate(tx.Error, 50),
		})
	}
	table.Render()
	return nil
}

func runTxnShow(cmd *cobra.Command, args []string) error {
	resp, err := apiGet("/transactions/" + args[0])
	if err != nil {
		return err
	}

	var tx models.Transaction
	if err := json.Unmarshal(resp, &tx); err != nil {
		return err
	}

	fmt.Println(titleStyle.Render("Transaction " + tx.ID))
	row := func(label, value string) {
		fmt.Println(lipgloss.JoinHorizontal(lipgloss.Top, labelStyle.Render(label), value))
	}
	row("Status", colorTxStatus(tx.Status))
	if tx.DryRun {
		row("Dry run", "yes")
	}
	if tx.ClaimedBy != "" {
		row("Holder", tx.ClaimedBy)
	}
	row("Created", tx.CreatedAt.Local().Format("2006-01-02 15:04:05"))
	row("Updated", tx.UpdatedAt.Local().Format("2006-01-02 15:04:05"))
	if tx.Error != "" {
		row("Error", errorStyle.Render(tx.Error))
	}
	fmt.Println()

	table := newTable([]string{"#", "File", "Reverse", "Status", "Undo", "Message"})
	for _, a := range tx.Actions {
		reverse := ""
		if a.Args.Reverse {
			reverse = "yes"
		}
		table.Append([]string{
			fmt.Sprintf("%d", a.Seq),
			a.Args.File,
			reverse,
			colorActionStatus(a.Status),
			formatUndo(a.Undo),
			truncate(a.Message, 60),
		})
	}
	table.Render()
	return nil
}

func formatUndo(undo []models.UndoAction) string {
	if len(undo) == 0 {
		return "-"
	}
	parts := make([]string, 0, len(undo))
	for _, u := range undo {
		dir := "forward"
		if u.Args.Reverse {
			dir = "reverse"
		}
		parts = append(parts, u.Name+" "+dir)
	}
	return strings.Join(parts, ", ")
}

func runTxnRuns(cmd *cobra.Command, args []string) error {
	resp, err := apiGet("/transactions/" + args[0] + "/runs")
	if err != nil {
		return err
	}

	var runs []models.ToolRun
	if err := json.Unmarshal(resp, &runs); err != nil {
		return err
	}

	if len(runs) == 0 {
		fmt.Println("No runs found")
		return nil
	}

	table := newTable([]string{"ID", "Command", "Exit", "Started", "Stderr"})
	for _, r := range runs {
		table.Append([]string{
			truncateID(r.ID),
			truncate(r.Command+" "+strings.Join(r.Args, " "), 80),
			fmt.Sprintf("%d", r.ExitCode),
			r.StartedAt.Local().Format("15:04:05.000"),
			truncate(strings.TrimSpace(r.Stderr), 60),
		})
	}
	table.Render()
	return nil
}

func runTxnRollback(cmd *cobra.Command, args []string) error {
	resp, err := apiPost("/transactions/"+args[0]+"/rollback", nil)
	if err != nil {
		return err
	}

	var tx models.Transaction
	if err := json.Unmarshal(resp, &tx); err != nil {
		return err
	}

	fmt.Printf("Transaction %s: %s\n", tx.ID, colorTxStatus(tx.Status))
	if tx.Error != "" {
		fmt.Println(errorStyle.Render(tx.Error))
	}
	return nil
}
