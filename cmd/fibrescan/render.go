package main

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/mhollis/fibrescan"
)

// renderOffers prints the offer table sorted by provider, then monthly
// price.
func renderOffers(w io.Writer, rows []fibrescan.OfferRow) {
	if len(rows) == 0 {
		fmt.Fprintln(w, "No offers found.")
		return
	}

	sorted := make([]fibrescan.OfferRow, len(rows))
	copy(sorted, rows)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Provider != sorted[j].Provider {
			return sorted[i].Provider < sorted[j].Provider
		}
		return sorted[i].MonthlyPriceGBP < sorted[j].MonthlyPriceGBP
	})

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Provider", "Plan", "Speed (Mbps)", "Monthly (£)", "Upfront (£)", "Term", "Scraped"})
	for _, row := range sorted {
		upfront := ""
		if row.UpfrontFeeGBP != nil {
			upfront = strconv.FormatFloat(*row.UpfrontFeeGBP, 'f', 2, 64)
		}
		term := ""
		if row.ContractMonths != nil {
			term = fmt.Sprintf("%d mo", *row.ContractMonths)
		}
		t.AppendRow(table.Row{
			row.Provider,
			row.PlanName,
			row.SpeedMbps,
			strconv.FormatFloat(row.MonthlyPriceGBP, 'f', 2, 64),
			upfront,
			term,
			row.ScrapedAt.UTC().Format(time.RFC3339),
		})
	}
	t.Render()
}

// renderStatus prints the status trail so a run is auditable at a glance.
func renderStatus(w io.Writer, events []fibrescan.StatusEvent) {
	if len(events) == 0 {
		return
	}

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.SetTitle("Status")
	t.AppendHeader(table.Row{"Provider", "Step", "Detail", "Robots", "Goto", "Steps"})
	for _, e := range events {
		t.AppendRow(table.Row{e.Provider, e.Step, e.Detail, e.Allowed.String(), e.Goto, e.Steps})
	}
	t.Render()
}

// renderProviders prints the built-in provider shortcuts.
func renderProviders(w io.Writer, targets map[string]string) {
	names := make([]string, 0, len(targets))
	for name := range targets {
		names = append(names, name)
	}
	sort.Strings(names)

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Provider", "URL"})
	for _, name := range names {
		t.AppendRow(table.Row{name, targets[name]})
	}
	t.Render()
}
