package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"chatsum/internal/config"
	"chatsum/internal/domain"
	"chatsum/internal/render"

	"github.com/spf13/cobra"
)

func renderCmd() *cobra.Command {
	var (
		template string
		out      string
		imageURL string
		htmlOnly bool
	)
	cmd := &cobra.Command{
		Use:   "render [markdown-file]",
		Short: "Preview a reply template offline",
		Long:  "Renders markdown from a file (or stdin) with the summary or identify template and writes a PNG, or the page HTML with --html.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			md, err := readInput(args)
			if err != nil {
				return err
			}
			data := domain.RenderData{Markdown: md, ImageURL: imageURL}

			if htmlOnly {
				page, err := render.BuildPage(template, data)
				if err != nil {
					return err
				}
				return writeOutput(out, []byte(page))
			}

			cfg, _, err := loadConfig()
			if err != nil {
				logger.Warn("config not loaded, using defaults", "err", err)
				cfg = config.Defaults()
			}
			chrome := newChrome(cfg)
			defer chrome.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), config.Seconds(cfg.Render.TimeoutSeconds)*2)
			defer cancel()
			png, err := chrome.Render(ctx, template, data)
			if err != nil {
				return fmt.Errorf("render: %w", err)
			}
			if out == "" || out == "-" {
				out = "chatsum.png"
			}
			if err := writeOutput(out, png); err != nil {
				return err
			}
			logger.Info("rendered", "template", template, "file", out, "bytes", len(png))
			return nil
		},
	}
	cmd.Flags().StringVarP(&template, "template", "t", render.TemplateSummary, "template: summary or identify")
	cmd.Flags().StringVarP(&out, "out", "o", "", "output file (PNG default chatsum.png, HTML default stdout)")
	cmd.Flags().StringVar(&imageURL, "image", "", "image URL shown by the identify template")
	cmd.Flags().BoolVar(&htmlOnly, "html", false, "write the page HTML instead of a screenshot")
	return cmd
}

func readInput(args []string) (string, error) {
	if len(args) == 1 && args[0] != "-" {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return "", err
		}
		return string(data), nil
	}
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return "", fmt.Errorf("read stdin: %w", err)
	}
	return string(data), nil
}

func writeOutput(path string, data []byte) error {
	if path == "" || path == "-" {
		_, err := os.Stdout.Write(data)
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
