package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"releasedash/src/logger"
	"releasedash/src/model"
)

var (
	noColor bool
	refresh bool
)

var renderCmd = &cobra.Command{
	Use:   "render",
	Short: "Render the status matrix once to the terminal",
	RunE: func(cmd *cobra.Command, args []string) error {
		if noColor {
			color.NoColor = true
		}

		dash, err := setup(configPath, logger.NewSilentLogger(), refresh)
		if err != nil {
			return err
		}
		defer dash.close()

		ctx := context.Background()
		pairs, err := dash.pairs(ctx)
		if err != nil {
			return err
		}
		matrix, err := dash.aggregator.Snapshot(ctx, pairs)
		if err != nil {
			return err
		}

		printMatrix(matrix)
		return nil
	},
}

func init() {
	renderCmd.Flags().BoolVar(&noColor, "no-color", false, "disable colored output")
	renderCmd.Flags().BoolVar(&refresh, "refresh", false, "treat persisted status entries as expired")
}

var (
	healthColors = map[model.BranchHealth]*color.Color{
		model.HealthOK:      color.New(color.FgGreen),
		model.HealthConcern: color.New(color.FgYellow),
		model.HealthBad:     color.New(color.FgRed, color.Bold),
	}
	outcomeColors = map[model.Outcome]*color.Color{
		model.OutcomeSuccess: color.New(color.FgGreen),
		model.OutcomeFailure: color.New(color.FgRed),
		model.OutcomeUnknown: color.New(color.FgHiBlack),
	}
)

func printMatrix(matrix *model.Matrix) {
	fmt.Printf("Generated at %s (may be out of date and inconsistent)\n",
		matrix.GeneratedAt.UTC().Format("2006-01-02 15:04:05 MST"))

	for _, branch := range matrix.Branches {
		health := matrix.Health(branch)
		fmt.Println()
		healthColors[health].Printf("%s  [%s]\n", branch, health)

		for _, builder := range matrix.Builders {
			cell := matrix.Cell(branch, builder.Name)
			if cell == nil {
				continue
			}
			printCell(cell)
		}
	}
}

func printCell(cell *model.StatusCell) {
	var notes []string
	if cell.Completeness != model.CompletenessComplete {
		notes = append(notes, string(cell.Completeness))
	}
	if cell.Stale {
		notes = append(notes, "stale")
	}
	if cell.DetailMismatch {
		notes = append(notes, "detail mismatch")
	}
	if n := cell.FailureCount(); n > 0 {
		notes = append(notes, fmt.Sprintf("%d failing tests", n))
	}
	if cell.Breaking != nil {
		notes = append(notes, fmt.Sprintf("breaking since build %d", cell.Breaking.ID))
	}

	suffix := ""
	if len(notes) > 0 {
		suffix = "  (" + strings.Join(notes, ", ") + ")"
	}

	fmt.Printf("  %-40s ", cell.Builder.Name)
	outcomeColors[cell.Outcome].Printf("%-8s", cell.Outcome)
	fmt.Println(suffix)

	for _, failure := range cell.Failures {
		fmt.Printf("      %s: %s\n", failure.DisplayName(), firstLine(failure.Message))
	}
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
