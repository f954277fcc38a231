package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/danmuck/devctl/internal/logging"
	"github.com/danmuck/devctl/internal/uploader"
)

var ErrUsage = errors.New("usage: devpush [-addr host:port] list [prefix] | pull <remote> [local] | push <local> <remote> | remove <remote> | stats")

func main() {
	logging.ConfigureRuntime()

	addr := flag.String("addr", "127.0.0.1:7070", "device storage address")
	timeout := flag.Duration("timeout", 5*time.Second, "dial timeout")
	chunk := flag.Int("chunk", uploader.DefaultChunkBytes, "push chunk size in bytes")
	flag.Parse()

	if err := run(*addr, *timeout, *chunk, flag.Args(), os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "devpush: %v\n", err)
		if errors.Is(err, ErrUsage) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

func run(addr string, timeout time.Duration, chunk int, args []string, out io.Writer) error {
	if err := validate(args); err != nil {
		return err
	}
	var src io.Reader
	if args[0] == "push" {
		f, err := os.Open(args[1])
		if err != nil {
			return err
		}
		defer f.Close()
		src = f
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	c, err := uploader.Dial(ctx, addr)
	if err != nil {
		return err
	}
	defer c.Close()
	c.ChunkBytes = chunk

	if err := dispatch(c, args, src, out); err != nil {
		return err
	}
	return c.Exit()
}

// minArgs is the argument count each command needs, including its name.
var minArgs = map[string]int{
	"list": 1, "ls": 1, "pull": 2, "push": 3, "remove": 2, "rm": 2, "stats": 1,
}

func validate(args []string) error {
	if len(args) == 0 {
		return ErrUsage
	}
	n, ok := minArgs[args[0]]
	if !ok {
		return fmt.Errorf("%w: unknown command %q", ErrUsage, args[0])
	}
	if len(args) < n {
		return ErrUsage
	}
	return nil
}

func dispatch(c *uploader.Client, args []string, src io.Reader, out io.Writer) error {
	switch args[0] {
	case "list", "ls":
		prefix := ""
		if len(args) > 1 {
			prefix = args[1]
		}
		entries, err := c.List(prefix)
		for _, e := range entries {
			fmt.Fprintf(out, "%s %s\n", e.Marker, e.Path)
		}
		return err

	case "pull":
		data, err := c.Pull(args[1])
		if err != nil {
			return err
		}
		if len(args) > 2 {
			return os.WriteFile(args[2], data, 0o644)
		}
		_, err = out.Write(data)
		return err

	case "push":
		if err := c.Push(args[2], src); err != nil {
			return err
		}
		fmt.Fprintf(out, "pushed %s -> %s\n", args[1], args[2])
		return nil

	case "remove", "rm":
		return c.Remove(args[1])

	case "stats":
		free, total, err := c.Stats()
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "free=%d total=%d\n", free, total)
		return nil

	default:
		return ErrUsage
	}
}
