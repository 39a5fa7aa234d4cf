package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/hallqvist/devteam/internal/backlog"
	"github.com/hallqvist/devteam/internal/config"
	"github.com/hallqvist/devteam/internal/coordinator"
	"github.com/hallqvist/devteam/internal/events"
	"github.com/hallqvist/devteam/internal/scheduler"
	"github.com/hallqvist/devteam/internal/statuslog"
	"github.com/hallqvist/devteam/internal/tui"
	"github.com/hallqvist/devteam/internal/worker"
)

func main() {
	backlogPath := flag.String("backlog", "", "path to a JSON backlog file to load")
	pollInterval := flag.Duration("poll", 10*time.Second, "backlog poll interval")
	headless := flag.Bool("headless", false, "run without the monitor TUI")
	flag.Parse()

	// Create signal-aware context for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load configuration
	cfg, err := config.LoadDefault()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	registry, err := cfg.Registry()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error in workflow config: %v\n", err)
		os.Exit(1)
	}
	roleCaps, err := cfg.RoleCaps()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error in role config: %v\n", err)
		os.Exit(1)
	}

	// Open the status log
	statusStore, err := statuslog.Open(ctx, cfg.StatusDB)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening status log: %v\n", err)
		os.Exit(1)
	}
	defer statusStore.Close()

	// Create event bus
	bus := events.NewEventBus()
	defer bus.Close()

	engine, err := coordinator.New(coordinator.Config{
		Registry:    registry,
		Workers:     buildWorkers(cfg),
		RoleCaps:    roleCaps,
		Concurrency: cfg.Concurrency,
		Bus:         bus,
		Log:         statusStore,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating engine: %v\n", err)
		os.Exit(1)
	}

	// Backlog: items come from a JSON file loaded into the in-memory store
	itemStore := backlog.NewMemoryStore()
	if *backlogPath != "" {
		if err := loadBacklog(itemStore, *backlogPath); err != nil {
			fmt.Fprintf(os.Stderr, "Error loading backlog: %v\n", err)
			os.Exit(1)
		}
	}
	dispatcher := coordinator.NewDispatcher(backlog.NewQueue(), itemStore, engine, bus, *pollInterval)

	engineDone := make(chan error, 1)
	go func() {
		engineDone <- engine.Run(ctx)
	}()
	go func() {
		if err := dispatcher.Run(ctx); err != nil && ctx.Err() == nil {
			log.Printf("dispatcher stopped: %v", err)
		}
	}()

	if *headless {
		<-ctx.Done()
		stop()
		log.Println("Shutdown signal received, draining tasks...")
		waitForEngine(engineDone)
		log.Println("Shutdown complete")
		return
	}

	// Start Bubble Tea program in a goroutine so main can handle shutdown
	p := tea.NewProgram(tui.New(bus), tea.WithAltScreen())

	errChan := make(chan error, 1)
	go func() {
		_, err := p.Run()
		errChan <- err
	}()

	select {
	case err := <-errChan:
		// Normal TUI exit (user pressed 'q' or TUI finished)
		stop()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	case <-ctx.Done():
		// Signal received (Ctrl+C or SIGTERM)
		// Call stop() to restore default signal handling (double Ctrl+C = force exit)
		stop()

		log.Println("Shutdown signal received, cleaning up...")
		p.Quit()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		select {
		case err := <-errChan:
			if err != nil {
				log.Printf("TUI exit error: %v", err)
			}
		case <-shutdownCtx.Done():
			log.Println("Shutdown timeout exceeded, forcing exit")
		}
	}

	waitForEngine(engineDone)
	log.Println("Shutdown complete")
}

func waitForEngine(done <-chan error) {
	select {
	case err := <-done:
		if err != nil && err != context.Canceled {
			log.Printf("engine exit error: %v", err)
		}
	case <-time.After(30 * time.Second):
		log.Println("engine drain timeout exceeded")
	}
}

// buildWorkers binds one subprocess worker per configured role. Roles missing
// from the config still get a worker so startup validation passes; a role
// with no command reports an error the moment a task reaches it.
func buildWorkers(cfg *config.TeamConfig) coordinator.Workers {
	forRole := func(role scheduler.Role) worker.Worker {
		rc := cfg.Roles[role.String()]
		return &worker.CommandWorker{
			Command:      rc.Command,
			Args:         rc.Args,
			SystemPrompt: rc.SystemPrompt,
		}
	}
	return coordinator.Workers{
		Designer:     forRole(scheduler.RoleDesigner),
		Developer:    forRole(scheduler.RoleDeveloper),
		TestEngineer: forRole(scheduler.RoleTestEngineer),
		QA:           forRole(scheduler.RoleQA),
		Reviewer:     forRole(scheduler.RoleReviewer),
		Coordinator:  forRole(scheduler.RoleCoordinator),
	}
}

// backlogItem is the on-disk shape of one backlog entry.
type backlogItem struct {
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	Labels    []string  `json:"labels"`
	State     string    `json:"state"`
	CreatedAt time.Time `json:"created_at"`
}

func loadBacklog(store *backlog.MemoryStore, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading backlog file: %w", err)
	}

	var items []backlogItem
	if err := json.Unmarshal(data, &items); err != nil {
		return fmt.Errorf("parsing backlog file %q: %w", path, err)
	}

	for _, item := range items {
		state := item.State
		if state == "" {
			state = "open"
		}
		createdAt := item.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now()
		}
		number := store.Add(backlog.Record{
			Title:     item.Title,
			State:     state,
			Labels:    item.Labels,
			Body:      item.Body,
			CreatedAt: createdAt,
		})
		log.Printf("backlog: loaded item #%d %q", number, item.Title)
	}
	return nil
}
