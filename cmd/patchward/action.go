package main

import (
	"fmt"
	"io"
	"log"
	"os"

	"github.com/fatih/color"
	"github.com/fentz26/patchward/internal/connectors/localexec"
	"github.com/fentz26/patchward/internal/models"
	"github.com/fentz26/patchward/internal/patchaction"
	"github.com/fentz26/patchward/internal/patchtool"
	"github.com/spf13/cobra"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Report whether a patch still needs applying",
	Long: `Dry-runs the opposite patch direction against the target. Exit codes: 0 for 200 (needs fixing)
and 304 (already applied), 2 for 400, 3 for 412, 1 otherwise.`,
	RunE: runCheck,
}

var fixCmd = &cobra.Command{
	Use:   "fix",
	Short: "Apply a patch atomically",
	RunE:  runFix,
}

var applyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Check, then fix when needed, and print the undo actions",
	RunE:  runApply,
}

var (
	actionFile    string
	actionPatch   string
	actionReverse bool
	actionDryRun  bool
)

func init() {
	for _, c := range []*cobra.Command{checkCmd, fixCmd, applyCmd} {
		c.Flags().StringVarP(&actionFile, "file", "f", "", "File to patch (required)")
		c.Flags().StringVarP(&actionPatch, "patch", "p", "", "Unified diff to apply (required)")
		c.Flags().BoolVarP(&actionReverse, "reverse", "R", false, "Unapply the patch instead")
		c.MarkFlagRequired("file")
		c.MarkFlagRequired("patch")
	}
	checkCmd.Flags().BoolVar(&actionDryRun, "dry-run", false, "Log what would be applied")
	applyCmd.Flags().BoolVar(&actionDryRun, "dry-run", false, "Check only; never write")
}

// newLocalAction builds a patch action that runs the configured patch binary.
func newLocalAction() (*patchaction.Action, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	var out io.Writer = io.Discard
	if verbose || actionDryRun {
		out = os.Stderr
	}
	logger := log.New(out, "", 0)

	conn := localexec.New("", localexec.WithBinary(patchtool.Command, cfg.PatchBinary))
	return patchaction.New(patchtool.New(conn), logger), nil
}

func actionArgs() models.PatchArgs {
	return models.PatchArgs{File: actionFile, Patch: actionPatch, Reverse: actionReverse}
}

func runCheck(cmd *cobra.Command, args []string) error {
	action, err := newLocalAction()
	if err != nil {
		return err
	}
	res := action.Run(cmd.Context(), patchaction.Request{
		Phase:  patchaction.PhaseCheckState,
		Args:   actionArgs(),
		DryRun: actionDryRun,
	})
	return printEnvelope("check", res)
}

func runFix(cmd *cobra.Command, args []string) error {
	action, err := newLocalAction()
	if err != nil {
		return err
	}
	res := action.Run(cmd.Context(), patchaction.Request{
		Phase: patchaction.PhaseFixState,
		Args:  actionArgs(),
	})
	return printEnvelope("fix", res)
}

func runApply(cmd *cobra.Command, args []string) error {
	action, err := newLocalAction()
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	check := action.Run(ctx, patchaction.Request{
		Phase:  patchaction.PhaseCheckState,
		Args:   actionArgs(),
		DryRun: actionDryRun,
	})
	if check.Status != models.StatusOK || actionDryRun {
		return printEnvelope("check", check)
	}

	fix := action.Run(ctx, patchaction.Request{Phase: patchaction.PhaseFixState, Args: actionArgs()})
	if fix.Status != models.StatusOK {
		return printEnvelope("fix", fix)
	}

	fmt.Fprintf(os.Stderr, "%s %s\n", color.New(color.Bold).Sprint("apply"), color.GreenString("applied %s", actionFile))
	return printJSON(os.Stdout, map[string]interface{}{
		models.UndoActionsKey: check.UndoActions(),
	})
}
