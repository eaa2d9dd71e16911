package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"chatsum/internal/config"

	"github.com/spf13/cobra"
)

// endpointPreset describes an OpenAI-compatible endpoint offered by setup.
type endpointPreset struct {
	Name    string
	EnvVar  string
	APIBase string
	Model   string
}

var knownEndpoints = []endpointPreset{
	{Name: "openai", EnvVar: "OPENAI_API_KEY", APIBase: "https://api.openai.com/v1", Model: "gpt-4o-mini"},
	{Name: "openrouter", EnvVar: "OPENROUTER_API_KEY", APIBase: "https://openrouter.ai/api/v1", Model: "openai/gpt-4o-mini"},
	{Name: "groq", EnvVar: "GROQ_API_KEY", APIBase: "https://api.groq.com/openai/v1", Model: "meta-llama/llama-4-scout-17b-16e-instruct"},
	{Name: "ollama", APIBase: "http://localhost:11434/v1", Model: "llava"},
	{Name: "custom"},
}

func setupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "setup",
		Short: "Interactive setup: OneBot host → LLM endpoint → rendering → save config",
		Long:  "Asks for the OneBot websocket, the LLM endpoint (and API key) and the rendering options, then writes the config to --config or the default path.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.LoadRaw(cfgPath)
			if err != nil {
				cfg = config.Defaults()
			}
			if err := runSetup(cfg, os.Stdin, os.Stdout); err != nil {
				return err
			}
			if err := os.MkdirAll(filepath.Dir(cfgPath), 0o755); err != nil {
				return fmt.Errorf("create config dir: %w", err)
			}
			if err := config.Save(cfgPath, cfg); err != nil {
				return err
			}
			fmt.Printf("\nConfig saved to %s\n", cfgPath)
			fmt.Println("Next: run 'chatsum doctor', then 'chatsum run'.")
			return nil
		},
	}
}

// runSetup asks the questions on in and updates cfg.
func runSetup(cfg *config.Config, in io.Reader, out io.Writer) error {
	reader := bufio.NewReader(in)
	ask := func(label, def string) (string, error) {
		if def != "" {
			fmt.Fprintf(out, "%s [%s]: ", label, def)
		} else {
			fmt.Fprintf(out, "%s: ", label)
		}
		line, err := reader.ReadString('\n')
		if err != nil && err != io.EOF {
			return "", err
		}
		if s := strings.TrimSpace(line); s != "" {
			return s, nil
		}
		return def, nil
	}

	fmt.Fprintln(out, "\n--- Step 1: OneBot host ---")
	url, err := ask("Forward websocket URL", cfg.OneBot.URL)
	if err != nil {
		return err
	}
	cfg.OneBot.URL = url
	token, err := ask("Access token (empty for none)", cfg.OneBot.AccessToken)
	if err != nil {
		return err
	}
	cfg.OneBot.AccessToken = token

	fmt.Fprintln(out, "\n--- Step 2: LLM endpoint ---")
	for i, p := range knownEndpoints {
		fmt.Fprintf(out, "  %d) %s", i+1, p.Name)
		if p.EnvVar != "" {
			fmt.Fprintf(out, " (set %s)", p.EnvVar)
		}
		fmt.Fprintln(out)
	}
	choice, err := ask(fmt.Sprintf("Choose endpoint (1-%d)", len(knownEndpoints)), "1")
	if err != nil {
		return err
	}
	var idx int
	if n, _ := fmt.Sscanf(choice, "%d", &idx); n != 1 || idx < 1 || idx > len(knownEndpoints) {
		idx = 1
	}
	preset := knownEndpoints[idx-1]
	if preset.APIBase != "" {
		cfg.LLM.APIBase = preset.APIBase
		cfg.LLM.Model = preset.Model
	}
	if cfg.LLM.APIBase, err = ask("API base", cfg.LLM.APIBase); err != nil {
		return err
	}
	if cfg.LLM.Model, err = ask("Model (must accept images)", cfg.LLM.Model); err != nil {
		return err
	}
	keyDefault := cfg.LLM.APIKey
	if preset.EnvVar != "" {
		keyDefault = "${" + preset.EnvVar + "}"
	}
	if cfg.LLM.APIKey, err = ask("API key: paste key or env reference", keyDefault); err != nil {
		return err
	}

	fmt.Fprintln(out, "\n--- Step 3: Rendering ---")
	enabled, err := ask("Render replies as images with Chrome (y/n)", yesNo(cfg.Render.Enabled))
	if err != nil {
		return err
	}
	cfg.Render.Enabled = strings.HasPrefix(strings.ToLower(enabled), "y")
	if cfg.Render.Enabled {
		if cfg.Render.ChromePath, err = ask("Chrome binary (empty to search PATH)", cfg.Render.ChromePath); err != nil {
			return err
		}
	}

	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("config validation: %w", err)
	}
	return nil
}

func yesNo(b bool) string {
	if b {
		return "y"
	}
	return "n"
}
