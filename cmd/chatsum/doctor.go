package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"chatsum/internal/config"
	"chatsum/internal/domain"
	"chatsum/internal/onebot"
	"chatsum/internal/render"

	"github.com/spf13/cobra"
)

const doctorTimeout = 15 * time.Second

func doctorCmd() *cobra.Command {
	var skipRender bool
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostic checks on your chatsum installation",
		Long: `Verifies that the configuration loads, the OneBot host and LLM endpoint
are reachable, and Chrome can render. Reports pass/fail for each check.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			fmt.Printf("chatsum doctor v%s\n", version)
			fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")

			passed := 0
			failed := 0
			warned := 0

			if _, err := os.Stat(cfgPath); err != nil {
				printFail("Config file", fmt.Sprintf("not found at %s", cfgPath))
				fmt.Printf("\nRun 'chatsum init' to create a default configuration.\n")
				return fmt.Errorf("config file missing")
			}
			printPass("Config file", cfgPath)
			passed++

			cfg, _, err := loadConfig()
			if err != nil {
				printFail("Config validation", err.Error())
				failed++
				fmt.Printf("\n%d passed, %d failed\n", passed, failed)
				return fmt.Errorf("%d check(s) failed", failed)
			}
			printPass("Config validation", "valid")
			passed++

			ctx, cancel := context.WithTimeout(cmd.Context(), doctorTimeout)
			defer cancel()

			if err := onebot.Probe(ctx, cfg.OneBot.URL, cfg.OneBot.AccessToken); err != nil {
				printFail("OneBot host", err.Error())
				failed++
			} else {
				printPass("OneBot host", cfg.OneBot.URL)
				passed++
			}

			if cfg.LLM.APIKey == "" {
				printWarn("LLM API key", "empty; only keyless endpoints will work")
				warned++
			}
			prov := buildProvider(cfg)
			if err := prov.Healthy(ctx); err != nil {
				printFail("LLM endpoint", err.Error())
				failed++
			} else {
				printPass("LLM endpoint", fmt.Sprintf("%s (%s)", cfg.LLM.APIBase, cfg.LLM.Model))
				passed++
			}

			switch {
			case !cfg.Render.Enabled:
				printWarn("Renderer", "disabled; replies are sent as text")
				warned++
			case skipRender:
				printWarn("Renderer", "check skipped")
				warned++
			default:
				if err := checkRenderer(ctx, cfg); err != nil {
					printFail("Renderer", err.Error())
					failed++
				} else {
					printPass("Renderer", "chrome screenshot ok")
					passed++
				}
			}

			if cfg.Admin.Enabled {
				if err := checkAddr(cfg.Admin.Addr); err != nil {
					printWarn("Admin address", fmt.Sprintf("%s may be in use: %v", cfg.Admin.Addr, err))
					warned++
				} else {
					printPass("Admin address", cfg.Admin.Addr+" available")
					passed++
				}
			}

			if cfg.Logging.File != "" {
				if err := os.MkdirAll(filepath.Dir(cfg.Logging.File), 0o755); err != nil {
					printWarn("Log file", fmt.Sprintf("cannot create log directory: %v", err))
					warned++
				} else {
					printPass("Log file", cfg.Logging.File)
					passed++
				}
			}

			fmt.Printf("\n━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
			fmt.Printf("Results: %d passed, %d warnings, %d failed\n", passed, warned, failed)
			if failed > 0 {
				fmt.Printf("\nPlease fix the failed checks before running chatsum.\n")
				return fmt.Errorf("%d check(s) failed", failed)
			}
			if warned > 0 {
				fmt.Printf("\nchatsum should work but consider fixing the warnings.\n")
			} else {
				fmt.Printf("\nAll checks passed! chatsum is ready to run.\n")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&skipRender, "skip-render", false, "do not start Chrome")
	return cmd
}

func checkRenderer(ctx context.Context, cfg *config.Config) error {
	chrome := newChrome(cfg)
	defer chrome.Close()
	png, err := chrome.Render(ctx, render.TemplateSummary, domain.RenderData{Markdown: "doctor"})
	if err != nil {
		return err
	}
	if len(png) == 0 {
		return fmt.Errorf("empty screenshot")
	}
	return nil
}

func checkAddr(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return ln.Close()
}

func printPass(check, detail string) {
	fmt.Printf("  [PASS] %-20s %s\n", check, detail)
}

func printFail(check, detail string) {
	fmt.Printf("  [FAIL] %-20s %s\n", check, detail)
}

func printWarn(check, detail string) {
	fmt.Printf("  [WARN] %-20s %s\n", check, detail)
}
