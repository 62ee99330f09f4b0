package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"

	"canvas-studio/tools/config"
	"canvas-studio/tools/display"
	"canvas-studio/tools/logger"
	"canvas-studio/tools/metrics"
	"canvas-studio/tools/telemetry"
)

func main() {
	// CLI flags
	description := flag.String("d", "", "Description of the interface to design")
	descFile := flag.String("f", "", "File containing the interface description")
	configPath := flag.String("config", "", "Path to a TOML configuration file")
	output := flag.String("o", "", "Output PNG path (overrides [output] path)")
	archiveDir := flag.String("archive", "", "Write every iteration under this directory")
	verbose := flag.Bool("v", false, "Verbose logging")
	width := flag.Int("width", 0, "Canvas width in logical pixels")
	height := flag.Int("height", 0, "Canvas height in logical pixels")
	batchFile := flag.String("batch", "", "File with one description per line, designed concurrently")
	parallel := flag.Int("parallel", 4, "Concurrent sessions in batch mode")
	watch := flag.Bool("watch", false, "With -f, redesign whenever the file changes")
	click := flag.String("click", "", "Report the element hit at x,y on the presented interface")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, `Canvas Studio - model-driven interface design

Usage:
  canvas-studio -d "description" [options]
  canvas-studio -f description.txt [options]
  canvas-studio -batch intents.txt [options]

Options:
`)
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, `
Examples:
  canvas-studio -d "login form with two fields and a submit button"
  canvas-studio -f prompt.txt -o ./output/login.png -archive ./runs -v
  canvas-studio -f prompt.txt -watch
  canvas-studio -batch intents.txt -parallel 8 -width 1024 -height 768

Environment:
  ANTHROPIC_API_KEY - API key for Anthropic routes
  OPENAI_API_KEY    - API key for OpenAI routes
  CANVAS_*          - overrides, e.g. CANVAS_WIDTH, CANVAS_PLANNER_MODEL, CANVAS_LOG_LEVEL

Output Structure:
  The presented interface is written to the output PNG. With -archive, each
  session gets its own directory:
    runs/
      <session>/
        iter-01/program.json
        iter-01/snapshot.png
        iter-01/verdict.txt
        session.json
`)
	}

	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}
	if *output != "" {
		cfg.Output.Path = *output
	}
	if *archiveDir != "" {
		cfg.Archive.Dir = *archiveDir
	}
	if *width > 0 {
		cfg.Canvas.Width = *width
	}
	if *height > 0 {
		cfg.Canvas.Height = *height
	}
	if *verbose {
		cfg.Log.Level = "debug"
	}

	level, err := logger.ParseLevel(cfg.Log.Level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(os.Stdout, level, "studio")

	// Metrics are collected in process and printed at exit.
	tel, err := telemetry.Setup(context.Background(), cfg.Telemetry, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error setting up telemetry: %v\n", err)
		os.Exit(1)
	}
	defer tel.Shutdown(context.Background())

	studio, err := NewStudio(cfg, log, tel.Meter(metrics.MeterName))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating studio: %v\n", err)
		os.Exit(1)
	}

	// Setup context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle interrupt
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Println("\nInterrupted, shutting down...")
		cancel()
	}()

	var outcomes []*Outcome
	switch {
	case *batchFile != "":
		intents, err := readIntents(*batchFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error reading batch file: %v\n", err)
			os.Exit(1)
		}
		outcomes, err = studio.GenerateAll(ctx, batchRequests(intents, cfg.Output.Path), *parallel)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

	case *watch:
		if *descFile == "" {
			fmt.Fprintln(os.Stderr, "Error: -watch needs -f")
			os.Exit(1)
		}
		if err := watchIntent(ctx, *descFile, log, func(intent string) {
			out, err := studio.Generate(ctx, InterfaceRequest{Intent: intent, CreatedAt: time.Now()})
			if err != nil {
				log.Error("%v", err)
				return
			}
			fmt.Println(renderSummary([]*Outcome{out}))
		}); err != nil && !errors.Is(err, context.Canceled) {
			fmt.Fprintf(os.Stderr, "Error watching %s: %v\n", *descFile, err)
			os.Exit(1)
		}
		return

	default:
		desc, err := readIntent(*description, *descFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			flag.Usage()
			os.Exit(1)
		}
		out, err := studio.Generate(ctx, InterfaceRequest{Intent: desc, CreatedAt: time.Now()})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error generating interface: %v\n", err)
			os.Exit(1)
		}
		outcomes = []*Outcome{out}

		if *click != "" && out.Succeeded() {
			var x, y float64
			if _, err := fmt.Sscanf(*click, "%g,%g", &x, &y); err != nil {
				fmt.Fprintf(os.Stderr, "Error: -click wants x,y: %v\n", err)
				os.Exit(1)
			}
			ev := display.NewHitIndex(out.Result.Program).Click(x, y)
			fmt.Println(string(ev.JSON()))
		}
	}

	fmt.Println()
	fmt.Println(renderSummary(outcomes))
	if m, err := renderMetrics(context.Background(), tel.Reader()); err != nil {
		log.Warn("%v", err)
	} else if m != "" {
		fmt.Println(m)
	}

	code := 0
	for _, o := range outcomes {
		if o == nil || !o.Succeeded() || o.Result.PresentErr != nil {
			code = 1
		}
	}
	// os.Exit skips deferred calls; flush exporters first.
	tel.Shutdown(context.Background())
	os.Exit(code)
}

// readIntent takes the description from the flag or the file.
func readIntent(desc, path string) (string, error) {
	if desc == "" && path != "" {
		content, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("reading description file: %w", err)
		}
		desc = string(content)
	}
	desc = strings.TrimSpace(desc)
	if desc == "" {
		return "", errors.New("description required (-d or -f)")
	}
	return desc, nil
}

// readIntents reads one description per line, skipping blanks and # comments.
func readIntents(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var intents []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		intents = append(intents, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if len(intents) == 0 {
		return nil, fmt.Errorf("%s has no descriptions", path)
	}
	return intents, nil
}

// watchIntent runs design once and again after every change to path,
// until ctx ends. Bursts of writes are coalesced.
func watchIntent(ctx context.Context, path string, log *logger.Logger, design func(string)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	// Editors replace files, so watch the directory.
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return err
	}

	runOnce := func() {
		intent, err := readIntent("", abs)
		if err != nil {
			log.Warn("%v", err)
			return
		}
		design(intent)
	}
	runOnce()
	log.Info("Watching %s (Ctrl-C to stop)", path)

	var debounce <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if name, _ := filepath.Abs(event.Name); name != abs {
				continue
			}
			debounce = time.After(500 * time.Millisecond)
		case <-debounce:
			debounce = nil
			log.Info("%s changed, redesigning", path)
			runOnce()
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Warn("watch: %v", err)
		}
	}
}
