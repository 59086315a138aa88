package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/arraybeat/arraybeat/internal/collect"
	"github.com/arraybeat/arraybeat/internal/config"
)

func printStartupBanner(cfg config.Config) {
	dim := lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	green := lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	cyan := lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
	yellow := lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
	bold := lipgloss.NewStyle().Bold(true)

	check := green.Render("●")
	dot := dim.Render("●")

	logo := cyan.Bold(true).Render(`
    ╔═╗╦═╗╦═╗╔═╗╦ ╦╔╗ ╔═╗╔═╗╔╦╗
    ╠═╣╠╦╝╠╦╝╠═╣╚╦╝╠╩╗║╣ ╠═╣ ║
    ╩ ╩╩╚═╩╚═╩ ╩ ╩ ╚═╝╚═╝╩ ╩ ╩`)

	ver := dim.Render("v" + version)

	var lines []string
	lines = append(lines, "")
	lines = append(lines, logo)
	lines = append(lines, "    "+ver)
	lines = append(lines, "")

	separator := dim.Render("    ─────────────────────────────────")
	lines = append(lines, separator)
	lines = append(lines, "")

	lines = append(lines, bold.Render("    Arrays"))
	lines = append(lines, "")
	for _, a := range cfg.Arrays {
		marker := check
		detail := cyan.Render(a.Host)
		if a.Disable {
			marker = dot
			detail = dim.Render(a.Host + " (disabled)")
		}
		lines = append(lines, fmt.Sprintf("    %s  %-14s %s", marker, a.ID(), detail))
	}
	lines = append(lines, "")

	lines = append(lines, bold.Render("    Sink"))
	lines = append(lines, "")
	switch cfg.Sink {
	case "influxdb":
		target := fmt.Sprintf("%s:%d/%s", cfg.InfluxDB.Host, cfg.InfluxDB.Port, cfg.InfluxDB.Database)
		lines = append(lines, fmt.Sprintf("    %s  InfluxDB       %s", check, cyan.Render(target)))
	case "duckdb":
		lines = append(lines, fmt.Sprintf("    %s  DuckDB         %s", check, dim.Render(cfg.DuckDB.Path)))
	}
	if cfg.API.Enabled {
		lines = append(lines, fmt.Sprintf("    %s  Status API     %s", check, cyan.Render(cfg.API.Addr)))
	} else {
		lines = append(lines, fmt.Sprintf("    %s  Status API     %s", dot, dim.Render("disabled")))
	}

	lines = append(lines, "")
	lines = append(lines, bold.Render("    Config"))
	lines = append(lines, "")
	if cfg.ConfigPath != "" {
		lines = append(lines, fmt.Sprintf("    %s  Config File    %s", check, dim.Render(cfg.ConfigPath)))
	} else {
		lines = append(lines, fmt.Sprintf("    %s  Config File    %s", dot, dim.Render("default (no file)")))
	}

	lines = append(lines, "")
	lines = append(lines, separator)
	lines = append(lines, "")
	lines = append(lines, "    "+dim.Render("Press ")+yellow.Render("Ctrl+C")+dim.Render(" to stop"))
	lines = append(lines, "")

	fmt.Println(strings.Join(lines, "\n"))
}

// printCollectors lists every available metric family with its
// description and the resolutions its endpoint serves.
func printCollectors() {
	bold := lipgloss.NewStyle().Bold(true)
	dim := lipgloss.NewStyle().Foreground(lipgloss.Color("240"))

	for _, name := range collect.FamilyNames() {
		family := collect.Families[name]
		fmt.Println(bold.Render(name))
		fmt.Println("  " + family.Description)
		if family.Snapshot() {
			fmt.Println(dim.Render("  resolutions: current values only"))
		} else {
			res := make([]string, 0, len(family.Catalog))
			for _, r := range family.Catalog {
				res = append(res, r.String())
			}
			fmt.Println(dim.Render("  resolutions: " + strings.Join(res, ", ")))
		}
		fmt.Println()
	}
}
