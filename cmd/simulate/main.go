// Package main runs the canned risk scenarios through the scoring engine and prints the results.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/defiguard/internal/knowledge"
	"github.com/defiguard/internal/models"
	"github.com/defiguard/internal/risk"
	"github.com/defiguard/internal/simulate"
	"github.com/defiguard/internal/types"
)

func main() {
	only := flag.String("scenario", "", "run a single scenario by name")
	seed := flag.String("facts", "", "YAML knowledge file to use instead of the built-in table")
	noColor := flag.Bool("no-color", false, "disable coloured output")
	flag.Parse()

	if *noColor {
		color.NoColor = true
	}

	table := knowledge.NewFallbackTable()
	if *seed != "" {
		facts, err := knowledge.LoadFacts(*seed)
		if err != nil {
			color.Red("Failed to load knowledge file: %v", err)
			os.Exit(1)
		}
		table = knowledge.NewFallbackTableFromFacts(facts)
	}
	engine := risk.NewEngine(table)

	now := time.Now().UTC()
	scenarios := simulate.Scenarios(now)
	if *only != "" {
		s, ok := simulate.Find(now, *only)
		if !ok {
			color.Red("Unknown scenario %q", *only)
			os.Exit(1)
		}
		scenarios = []simulate.Scenario{s}
	}

	color.New(color.Bold).Println("DeFiGuard risk scenarios")
	for _, s := range scenarios {
		report, err := engine.Evaluate(context.Background(), s.Snapshot)
		if err != nil {
			color.Red("%s: %v", s.Name, err)
			continue
		}
		printScenario(s, report)
	}
}

func levelColor(level types.RiskLevel) *color.Color {
	switch level {
	case types.RiskLow:
		return color.New(color.FgGreen, color.Bold)
	case types.RiskMedium:
		return color.New(color.FgYellow, color.Bold)
	case types.RiskHigh:
		return color.New(color.FgHiRed, color.Bold)
	default:
		return color.New(color.FgRed, color.Bold, color.BlinkSlow)
	}
}

func printScenario(s simulate.Scenario, r *models.RiskReport) {
	fmt.Println()
	fmt.Println(strings.Repeat("=", 60))
	color.New(color.FgCyan, color.Bold).Printf("%s", strings.ToUpper(s.Name))
	fmt.Printf("  %s\n", s.Description)
	fmt.Printf("Total value: $%.2f\n", s.Snapshot.TotalUSD)
	fmt.Println(strings.Repeat("=", 60))

	for _, a := range s.Snapshot.Assets {
		share := 0.0
		if s.Snapshot.TotalUSD > 0 {
			share = a.ValueUSD() / s.Snapshot.TotalUSD * 100
		}
		fmt.Printf("  %-16s $%12.2f (%5.1f%%) | 24h: %7.2f%%\n", strings.ToUpper(a.Token), a.ValueUSD(), share, a.Change24h)
	}

	fmt.Print("\nLevel: ")
	levelColor(r.Level).Printf("%s", strings.ToUpper(string(r.Level)))
	fmt.Printf("  score %.2f%%", r.Score*100)
	if r.ShouldAlert {
		color.New(color.FgRed).Print("  [alert]")
	}
	fmt.Printf("\nSub-scores: concentration %.2f, volatility %.2f, asset class %.2f\n",
		r.SubScores.Concentration, r.SubScores.Volatility, r.SubScores.AssetClass)

	if len(r.Concerns) > 0 {
		color.New(color.FgYellow).Println("Concerns:")
		for i, c := range r.Concerns {
			fmt.Printf("  %d. %s\n", i+1, c)
		}
	}
	color.New(color.FgGreen).Println("Recommendations:")
	for i, rec := range r.Recommendations {
		fmt.Printf("  %d. %s\n", i+1, rec)
	}
}
