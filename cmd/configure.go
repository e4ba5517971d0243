package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/liqi-mitm/core/internal/config"
)

func configureCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "configure",
		Short: "Interactively write the automation config file",
		Run: func(cmd *cobra.Command, args []string) {
			runConfigure()
		},
	}
}

func runConfigure() {
	var (
		endCount    = "0"
		cutoffLevel = "0"
		opInterval  = "800"
		targetsCSV  string
		emailNotify bool
		fuse        = true
		guard       = true
	)

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Stop once this many value-weighted targets are met (minimum 1)").
				Value(&endCount),
			huh.NewInput().
				Title("Give up a run stuck in the shop past this level (0 = no cutoff)").
				Value(&cutoffLevel),
			huh.NewInput().
				Title("Pacing between operations, in milliseconds").
				Value(&opInterval),
			huh.NewInput().
				Title("Target amulet reg ids, comma separated").
				Description("e.g. 101,205").
				Value(&targetsCSV),
			huh.NewConfirm().
				Title("Email a notification when a run ends?").
				Value(&emailNotify),
			huh.NewConfirm().
				Title("Require on-screen confirmation before risky operations (fuse)?").
				Value(&fuse),
			huh.NewConfirm().
				Title("Pause automatically on an unrecognized prompt (guard)?").
				Value(&guard),
		),
	)

	if err := form.Run(); err != nil {
		fmt.Fprintln(os.Stderr, "configure cancelled:", err)
		os.Exit(1)
	}

	doc := config.Document{
		EndCount:     atoiOr(endCount, 0),
		CutoffLevel:  int64(atoiOr(cutoffLevel, 0)),
		OpIntervalMS: atoiOr(opInterval, 800),
		Targets:      parseTargets(targetsCSV),
		EmailNotify:  emailNotify,
		Fuse:         fuse,
		Guard:        guard,
	}

	path := resolveConfigPath()
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		fmt.Fprintln(os.Stderr, "encode config:", err)
		os.Exit(1)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		fmt.Fprintln(os.Stderr, "write config:", err)
		os.Exit(1)
	}
	fmt.Println("Wrote", path)
}

func atoiOr(s string, fallback int) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return fallback
	}
	return n
}

func parseTargets(csv string) []config.Target {
	var out []config.Target
	for _, part := range strings.Split(csv, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			continue
		}
		out = append(out, config.Target{Kind: "amulet", ID: id})
	}
	return out
}
