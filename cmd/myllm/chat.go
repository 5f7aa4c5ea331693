package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/localforge/myllm/internal/config"
	"github.com/localforge/myllm/internal/observability"
	"github.com/localforge/myllm/internal/prompt"
	"github.com/localforge/myllm/internal/runtime"
	"github.com/localforge/myllm/internal/sse"
)

// frameSink is an http.ResponseWriter that feeds each SSE frame written
// to it into onFrame, so the Runtime Orchestrator's sse.Writer can be
// reused by a plain terminal REPL without any HTTP connection involved.
type frameSink struct {
	header  http.Header
	onFrame func(runtime.ChatFrame)
}

func newFrameSink(onFrame func(runtime.ChatFrame)) *frameSink {
	return &frameSink{header: make(http.Header), onFrame: onFrame}
}

func (f *frameSink) Header() http.Header  { return f.header }
func (f *frameSink) WriteHeader(int)      {}
func (f *frameSink) Flush()               {}
func (f *frameSink) Write(b []byte) (int, error) {
	raw := strings.TrimSpace(strings.TrimPrefix(string(b), "data: "))
	var frame runtime.ChatFrame
	if err := json.Unmarshal([]byte(raw), &frame); err == nil {
		f.onFrame(frame)
	}
	return len(b), nil
}

func runChat(args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	temperature := fs.Float64("temperature", 0, "sampling temperature override")
	system := fs.String("system", "You are a helpful AI assistant.", "system prompt")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 1 {
		return fmt.Errorf("usage: myllm run <model> [--temperature N]")
	}
	modelName := fs.Arg(0)

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	observability.InitLogger(cfg.LogPath, "warn")

	registry, cache, store, err := buildRuntime(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	if _, err := registry.GetConfig(modelName); err != nil {
		fmt.Fprintf(os.Stderr, "model %q not found. Available models:\n", modelName)
		for _, m := range registry.List() {
			fmt.Fprintf(os.Stderr, "  - %s\n", m.Name)
		}
		return err
	}

	orch := runtime.New(registry, cache, store)

	fmt.Printf("myllm interactive chat\nmodel: %s\n", modelName)
	fmt.Println("commands: /exit  /clear  /help")

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	var sessionID string
	for {
		fmt.Print("\nyou: ")
		if !scanner.Scan() {
			fmt.Println("\ngoodbye")
			return nil
		}
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "/exit":
			fmt.Println("goodbye")
			return nil
		case "/clear":
			sessionID = ""
			fmt.Println("history cleared")
			continue
		case "/help":
			fmt.Println("commands: /exit  /clear  /help")
			continue
		}

		req := runtime.ChatRequest{
			ModelName: modelName,
			SessionID: sessionID,
			Messages:  []prompt.Message{{Role: "system", Content: *system}, {Role: "user", Content: line}},
		}
		if *temperature > 0 {
			req.Params.Temperature = *temperature
		}
		if sessionID != "" {
			req.Messages = req.Messages[1:] // system prompt only seeds a fresh session
		}

		fmt.Print("assistant: ")
		var streamErr error
		sink := newFrameSink(func(frame runtime.ChatFrame) {
			if frame.SessionID != "" {
				sessionID = frame.SessionID
			}
			fmt.Print(frame.Delta)
		})
		writer := sse.New(sink)
		streamErr = orch.Chat(context.Background(), writer, req)
		fmt.Println()
		if streamErr != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", streamErr)
		}
	}
}
