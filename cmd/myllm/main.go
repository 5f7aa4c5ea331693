// Command myllm runs the local LLM runtime server, or drives it from the
// command line: serve, run, pull, remove, list, show.
package main

import (
	"fmt"
	"os"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(os.Args[2:])
	case "run":
		err = runChat(os.Args[2:])
	case "pull":
		err = runPull(os.Args[2:])
	case "remove":
		err = runRemove(os.Args[2:])
	case "list":
		err = runList(os.Args[2:])
	case "show":
		err = runShow(os.Args[2:])
	case "-h", "--help", "help":
		usage()
		return
	default:
		fmt.Fprintf(os.Stderr, "myllm: unknown command %q\n", os.Args[1])
		usage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "myllm: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `myllm - local LLM runtime

Usage:
  myllm serve                  start the API server
  myllm run <model>            interactive chat with a model
  myllm pull <model>           download a model (not yet implemented)
  myllm remove <model>         delete a model from local storage
  myllm list                   list available models
  myllm show <model>           show model details`)
}
