// Command archiverd is the daemon: it loads configuration, opens the
// catalog, wires the task manager and worker pipeline together, and
// serves the HTTP command/event surface until told to stop.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/archiveforge/gitarchiver/internal/api"
	"github.com/archiveforge/gitarchiver/internal/commands"
	"github.com/archiveforge/gitarchiver/internal/config"
	"github.com/archiveforge/gitarchiver/internal/credential"
	"github.com/archiveforge/gitarchiver/internal/events"
	"github.com/archiveforge/gitarchiver/internal/githubmeta"
	"github.com/archiveforge/gitarchiver/internal/pipeline"
	"github.com/archiveforge/gitarchiver/internal/store"
	"github.com/archiveforge/gitarchiver/internal/tasks"
	"github.com/archiveforge/gitarchiver/internal/vcsdriver"
)

func main() {
	logger := log.New(os.Stdout, "archiverd ", log.LstdFlags|log.LUTC)

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("config: %v", err)
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		logger.Fatalf("data dir: %v", err)
	}

	st, err := store.Open(cfg.DatabasePath, logger)
	if err != nil {
		logger.Fatalf("db: %v", err)
	}
	defer st.Close()

	token, err := credential.Get()
	if err != nil {
		logger.Fatalf("credential store: %v", err)
	}

	taskMgr := tasks.New(cfg.MaxConcurrentTasks)
	vcs := vcsdriver.New()
	remote, err := githubmeta.NewWithBaseURL(token, cfg.GitHubBaseURL)
	if err != nil {
		logger.Fatalf("github client: %v", err)
	}
	broadcaster := events.NewBroadcaster()

	pl := pipeline.New(st, taskMgr, vcs, remote, broadcaster, cfg.DataDir, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go pl.Run(ctx)

	cmds := &commands.Commands{Store: st, Tasks: taskMgr, Remote: remote, Logger: logger}
	srv := api.New(cmds, broadcaster, logger)

	httpSrv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Printf("listening on %s", cfg.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("server: %v", err)
		}
	}()

	stop := make(chan os.Signal, 2)
	signal.Notify(stop, syscall.SIGTERM, syscall.SIGINT)
	<-stop
	logger.Printf("shutting down...")

	cancel()
	_ = taskMgr.Enqueue(tasks.Stop())
	_ = httpSrv.Close()
}
