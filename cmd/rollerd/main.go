package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"log/slog"

	"github.com/google/uuid"

	"rollerd/internal/config"
	"rollerd/internal/containerrt"
	"rollerd/internal/engine"
	"rollerd/internal/httpapi"
	"rollerd/internal/logging"
	"rollerd/internal/metrics"
	"rollerd/internal/registry"
	"rollerd/internal/vcs"
)

func main() {
	cfg := config.LoadDaemonConfig()
	log := logging.New("rollerd", slog.LevelInfo)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	projectConfigs, err := config.LoadProjectConfigs(cfg.ProjectsFile)
	if err != nil {
		log.Error("failed to load project config", "error", err, "file", cfg.ProjectsFile)
		os.Exit(1)
	}
	if len(projectConfigs) == 0 {
		log.Error("no projects configured", "file", cfg.ProjectsFile)
		os.Exit(1)
	}

	dockerRt, err := containerrt.NewDocker(cfg.DockerHost)
	if err != nil {
		log.Error("failed to create docker client", "error", err)
		os.Exit(1)
	}
	defer dockerRt.Close()
	if err := dockerRt.Ping(ctx); err != nil {
		log.Error("docker ping failed", "error", err)
		os.Exit(1)
	}

	repos := registry.NewRepoRegistry()
	projects := registry.NewProjectRegistry()
	for i, pc := range projectConfigs {
		repo := repos.Get(pc.CloneURL)
		if repo == nil {
			repo = registry.NewRepo(pc.CloneURL, repoWorkdir(cfg.WorkdirRoot, i))
			repos.Put(repo)
		}
		projects.Add(registry.NewProject(i, pc.Dockerfile, pc.ContainerMin, pc.ContainerMax, pc.HookDir, pc.ContainerBase, repo))
	}
	log.Info("loaded project configuration", "projects", len(projects.All()), "repos", len(repos.All()))

	met := metrics.New()
	engCfg := engine.Config{
		GitTimeout:           cfg.GitTimeout,
		BuildTimeout:         cfg.BuildTimeout,
		ExecTimeout:          cfg.ExecTimeout,
		StopTimeout:          cfg.StopTimeout,
		ReadinessRetryBudget: cfg.ReadinessRetryBudget,
		BuildLogTailLines:    cfg.BuildLogTailLines,
	}
	fatal := func(err error) {
		log.Error("fatal engine error", "error", err)
		os.Exit(1)
	}
	eng := engine.New(repos, projects, vcs.NewGit(), dockerRt, engCfg, log, met, fatal, func() string { return uuid.New().String() })
	eng.Start()
	go eng.Run(ctx)
	go eng.RunMetricsSampler(ctx, cfg.RuntimeHeartbeat)

	router := httpapi.New(log, eng)
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errorCh := make(chan error, 1)
	go func() {
		log.Info("rollerd server starting", "addr", cfg.Addr)
		errorCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", "error", err)
		}
		log.Info("rollerd server stopped")
	case err := <-errorCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}
}

// repoWorkdir derives a repo's working directory, rooted under the
// daemon's configured workdir, from the index of the first project that
// references the repo.
func repoWorkdir(root string, firstProjectIndex int) string {
	return filepath.Join(root, fmt.Sprintf("repo-%d", firstProjectIndex))
}
