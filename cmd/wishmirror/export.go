package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/aluiziolira/go-wishlist-mirror/export"
	"github.com/aluiziolira/go-wishlist-mirror/models"
	"github.com/aluiziolira/go-wishlist-mirror/ordering"
)

func runExport(args []string) error {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	var cf commonFlags
	registerCommon(fs, &cf)
	input := fs.String("input", "-", "File with one wishlist URL per line (- for stdin)")
	list := fs.String("list", "", "List identifier whose priorities, dependencies and notes apply")
	output := fs.String("output", "wishlist.csv", "Output file path")
	format := fs.String("format", "csv", "Output format: csv, jsonl, or dual")
	sortField := fs.String("sort", "", "Sort field: name, author, price, pageCount, priority, hasNote, hasDependency")
	sortDir := fs.String("dir", "asc", "Sort direction: asc or desc")
	refresh := fs.Bool("refresh", false, "Refresh stale items from the origin before writing")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadConfig(fs, &cf, nil)
	if err != nil {
		return err
	}
	setupLogging(cfg.Verbose)

	field, err := ordering.ParseField(*sortField)
	if err != nil {
		return err
	}
	urls, err := readURLs(*input)
	if err != nil {
		return err
	}

	writer, err := createWriter(strings.ToLower(*format), *output)
	if err != nil {
		return fmt.Errorf("creating writer: %w", err)
	}
	defer func() {
		if err := writer.Close(); err != nil {
			slog.Error("close writer", slog.Any("error", err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c, err := buildCore(ctx, cfg, nil)
	if err != nil {
		return err
	}
	defer c.shutdown()

	startTime := time.Now()
	entries := make([]models.WishlistEntry, len(urls))
	for i, u := range urls {
		entries[i] = models.WishlistEntry{Link: u}
	}

	items := c.enricher.EnrichEntries(ctx, entries)
	if *refresh {
		slog.Info("refreshing stale items", slog.Int("items", len(items)))
		c.scheduler.Start()
		if err := c.scheduler.Close(); err != nil {
			return fmt.Errorf("refresh: %w", err)
		}
		items = c.enricher.EnrichEntries(ctx, entries)
	}

	priorities, err := c.prefs.Priorities(ctx, *list)
	if err != nil {
		return fmt.Errorf("load priorities: %w", err)
	}
	deps, err := c.prefs.Dependencies(ctx, *list)
	if err != nil {
		return fmt.Errorf("load dependencies: %w", err)
	}
	notes, err := c.prefs.Notes(ctx, *list)
	if err != nil {
		return fmt.Errorf("load notes: %w", err)
	}

	ordered := ordering.Order(items, priorities, deps, ordering.Sort{
		Field:     field,
		Direction: ordering.ParseDirection(*sortDir),
		Notes:     notes,
	})
	if err := writer.Write(export.Rows(ordered, priorities, deps, notes)); err != nil {
		return err
	}

	cycles := ordering.DetectCycles(deps)
	for _, cycle := range cycles {
		slog.Warn("dependency cycle", slog.String("list", *list), slog.Any("items", cycle))
	}
	printSummary(ordered, len(urls), cycles, time.Since(startTime), *output)
	return nil
}

func readURLs(path string) ([]string, error) {
	var r io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open input: %w", err)
		}
		defer f.Close()
		r = f
	}

	var urls []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		urls = append(urls, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read input: %w", err)
	}
	return urls, nil
}

func createWriter(format, filename string) (export.Writer, error) {
	switch format {
	case "jsonl", "json":
		return export.CreateJSON(filename)
	case "csv":
		return export.CreateCSV(filename)
	case "dual":
		csvWriter, err := export.CreateCSV(filename)
		if err != nil {
			return nil, err
		}
		jsonWriter, err := export.CreateJSON(strings.TrimSuffix(filename, ".csv") + ".jsonl")
		if err != nil {
			csvWriter.Close()
			return nil, err
		}
		return export.NewMultiWriter(csvWriter, jsonWriter), nil
	default:
		return nil, fmt.Errorf("unsupported format: %s", format)
	}
}

func printSummary(items []models.EnrichedItem, requested int, cycles [][]string, duration time.Duration, outputFile string) {
	var cached, fallback, stale int
	for _, item := range items {
		if item.FromCache {
			cached++
		}
		if item.IsFallback {
			fallback++
		}
		if item.NeedsUpdate {
			stale++
		}
	}

	separator := "--------------------------------------------------"
	fmt.Println("\n" + separator)
	fmt.Println("Export complete")
	fmt.Printf("  Requested:     %d\n", requested)
	fmt.Printf("  Written:       %d\n", len(items))
	fmt.Printf("  From cache:    %d\n", cached)
	fmt.Printf("  Fallbacks:     %d\n", fallback)
	fmt.Printf("  Needs update:  %d\n", stale)
	if len(cycles) > 0 {
		fmt.Printf("  Cycles:        %v\n", cycles)
	}
	fmt.Printf("  Duration:      %v\n", duration)
	fmt.Printf("  Output file:   %s\n", outputFile)
	fmt.Println(separator)
}
