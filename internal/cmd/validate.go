package cmd

import (
	"fmt"

	"github.com/prdflow/prdflow/internal/prd"
	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a PRD without creating a session",
	Long: `Check a PRD's structure and report every issue found, using the
same checks a run applies before creating a session.

Warnings alone leave the document valid; the command fails only when
an error-severity issue is found.`,
	RunE: runValidate,
}

var validatePRD string

func init() {
	rootCmd.AddCommand(validateCmd)

	validateCmd.Flags().StringVar(&validatePRD, "prd", "", "path to the PRD file (required)")
	_ = validateCmd.MarkFlagRequired("prd")
}

func runValidate(cmd *cobra.Command, args []string) error {
	doc, err := prd.Load(validatePRD)
	if err != nil {
		return err
	}

	res, err := prd.NewStructureValidator().Validate(cmd.Context(), doc)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	for _, issue := range res.Issues {
		if issue.Line > 0 {
			fmt.Fprintf(out, "%s: line %d: %s\n", issue.Severity, issue.Line, issue.Message)
		} else {
			fmt.Fprintf(out, "%s: %s\n", issue.Severity, issue.Message)
		}
	}

	if !res.Valid {
		return res.Err(validatePRD)
	}
	fmt.Fprintf(out, "%s: valid (%d warning(s))\n", validatePRD, res.Summary.WarningCount)
	return nil
}
