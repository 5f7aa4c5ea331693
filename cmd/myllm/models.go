package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/localforge/myllm/internal/config"
)

func runList(args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	registry, _, store, err := buildRuntime(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	models := registry.List()
	if len(models) == 0 {
		fmt.Println("no models found")
		fmt.Printf("models directory: %s\n", cfg.ModelsDir)
		return nil
	}

	fmt.Printf("%-20s %-10s %-12s %-12s\n", "NAME", "FAMILY", "QUANT", "CONTEXT")
	for _, m := range models {
		fmt.Printf("%-20s %-10s %-12s %-12d\n", m.Name, m.Family, m.Quantization, m.ContextSize)
	}
	fmt.Printf("\ntotal: %d models\n", len(models))
	return nil
}

func runShow(args []string) error {
	fs := flag.NewFlagSet("show", flag.ExitOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 1 {
		return fmt.Errorf("usage: myllm show <model>")
	}
	name := fs.Arg(0)

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	registry, cache, store, err := buildRuntime(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	modelCfg, err := registry.GetConfig(name)
	if err != nil {
		return err
	}
	path, _ := registry.GetPath(name)

	fmt.Printf("name:         %s\n", modelCfg.Name)
	fmt.Printf("family:       %s\n", modelCfg.Family)
	fmt.Printf("quantization: %s\n", modelCfg.Quantization)
	fmt.Printf("context_size: %d\n", modelCfg.ContextSize)
	fmt.Printf("template:     %s\n", modelCfg.Template)
	fmt.Printf("path:         %s\n", path)
	fmt.Printf("loaded:       %v\n", cache.IsLoaded(name))
	if len(modelCfg.Parameters) > 0 {
		fmt.Println("parameters:")
		for k, v := range modelCfg.Parameters {
			fmt.Printf("  %s: %v\n", k, v)
		}
	}
	return nil
}

// runPull does not implement a model catalog download: the reference
// runtime's pull command is a documented placeholder, matching the
// filesystem-only model layout (<models_dir>/<name>/model.gguf +
// config.json). This prints the same manual-install instructions.
func runPull(args []string) error {
	fs := flag.NewFlagSet("pull", flag.ExitOnError)
	list := fs.Bool("list", false, "list catalog entries instead of downloading")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *list {
		fmt.Println("no model catalog is configured; this runtime only loads models already present on disk.")
		return nil
	}
	if fs.NArg() < 1 {
		return fmt.Errorf("usage: myllm pull <model> [--list]")
	}
	name := fs.Arg(0)

	fmt.Println("model download is not implemented.")
	fmt.Printf("to use %q, manually:\n", name)
	fmt.Printf("  1. create directory models_data/%s/\n", name)
	fmt.Printf("  2. place the weights file at models_data/%s/model.gguf\n", name)
	fmt.Printf("  3. write models_data/%s/config.json, e.g.:\n", name)
	fmt.Println(`     {
       "name": "` + name + `",
       "family": "llama3",
       "quantization": "Q4_K_M",
       "context_size": 8192,
       "template": "llama3",
       "parameters": {"temperature": 0.7, "top_p": 0.9}
     }`)
	return nil
}

func runRemove(args []string) error {
	fs := flag.NewFlagSet("remove", flag.ExitOnError)
	force := fs.Bool("force", false, "skip confirmation prompt")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 1 {
		return fmt.Errorf("usage: myllm remove <model> [--force]")
	}
	name := fs.Arg(0)

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	registry, cache, store, err := buildRuntime(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	if _, err := registry.GetConfig(name); err != nil {
		return err
	}
	if cache.IsLoaded(name) {
		return fmt.Errorf("model %q is currently loaded; unload it first", name)
	}

	modelDir := filepath.Join(cfg.ModelsDir, name)
	if !*force {
		fmt.Printf("remove %s? this deletes %s [y/N]: ", name, modelDir)
		reader := bufio.NewReader(os.Stdin)
		answer, _ := reader.ReadString('\n')
		if strings.ToLower(strings.TrimSpace(answer)) != "y" {
			fmt.Println("aborted")
			return nil
		}
	}

	if err := os.RemoveAll(modelDir); err != nil {
		return fmt.Errorf("remove model directory: %w", err)
	}
	fmt.Printf("removed %q\n", name)
	return nil
}
