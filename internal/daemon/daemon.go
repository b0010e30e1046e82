// Package daemon watches every configured repo and runs one reconciliation
// worker per open pull request.
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/marcin-skalski/prwatch/internal/config"
	"github.com/marcin-skalski/prwatch/internal/github"
	"github.com/marcin-skalski/prwatch/internal/tui"
	"github.com/marcin-skalski/prwatch/internal/worker"
)

const eventFeedCap = 50

type Daemon struct {
	cfg    *config.Config
	gh     *github.Client
	logger *slog.Logger

	mu      sync.Mutex
	workers map[string]context.CancelFunc
	wg      sync.WaitGroup

	stateMu  sync.Mutex
	prCache  map[string][]github.PRInfo // key: owner/repo
	statuses map[string]string          // key: owner/repo#number
	events   []worker.Activity          // newest last, capped
}

func New(cfg *config.Config, gh *github.Client, logger *slog.Logger) *Daemon {
	return &Daemon{
		cfg:      cfg,
		gh:       gh,
		logger:   logger,
		workers:  make(map[string]context.CancelFunc),
		prCache:  make(map[string][]github.PRInfo),
		statuses: make(map[string]string),
	}
}

func (d *Daemon) Run(ctx context.Context) error {
	if len(d.cfg.Repos) == 0 {
		return fmt.Errorf("no repos configured")
	}

	d.logger.Info("daemon started", "poll_interval", d.cfg.PollInterval, "repos", len(d.cfg.Repos))

	d.poll(ctx)

	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("shutting down, waiting for workers")
			d.cancelAll()
			d.wg.Wait()
			d.logger.Info("all workers stopped")
			return nil
		case <-ticker.C:
			d.poll(ctx)
		}
	}
}

func (d *Daemon) poll(ctx context.Context) {
	for _, repo := range d.cfg.Repos {
		if err := d.pollRepo(ctx, repo); err != nil {
			d.logger.Error("poll repo failed", "repo", repo.Owner+"/"+repo.Name, "err", err)
		}
	}
}

func (d *Daemon) pollRepo(ctx context.Context, repo config.RepoConfig) error {
	prs, err := d.gh.ListOpenPRs(ctx, repo.Owner, repo.Name)
	if err != nil {
		return fmt.Errorf("list PRs: %w", err)
	}

	repoKey := repo.Owner + "/" + repo.Name
	d.stateMu.Lock()
	d.prCache[repoKey] = prs
	d.stateMu.Unlock()

	d.logger.Info("polled repo", "repo", repoKey, "open_prs", len(prs))

	openKeys := make(map[string]bool)
	activeCount := d.countActiveForRepo(repo)

	for _, pr := range prs {
		key := workerKey(repo.Owner, repo.Name, pr.Number)
		openKeys[key] = true

		if isExcluded(pr.Author.Login, repo.ExcludeAuthors) {
			continue
		}
		if pr.IsDraft {
			continue
		}

		d.mu.Lock()
		_, running := d.workers[key]
		d.mu.Unlock()
		if running {
			continue
		}

		// A worker that already reached a terminal verdict for the PR is
		// not restarted until new activity would change it; the daemon
		// restarts blocked/timeout PRs on every poll so fresh pushes get
		// picked up.
		if activeCount >= repo.MaxConcurrentPRs {
			d.logger.Debug("max concurrent PRs reached", "repo", repoKey)
			break
		}

		d.startWorker(ctx, repo, pr)
		activeCount++
	}

	// Cancel workers for PRs no longer open.
	d.mu.Lock()
	prefix := repoKey + "#"
	for key, cancel := range d.workers {
		if len(key) > len(prefix) && key[:len(prefix)] == prefix {
			if !openKeys[key] {
				d.logger.Info("PR closed externally, cancelling worker", "key", key)
				cancel()
				delete(d.workers, key)
			}
		}
	}
	d.mu.Unlock()

	return nil
}

func (d *Daemon) startWorker(ctx context.Context, repo config.RepoConfig, pr github.PRInfo) {
	key := workerKey(repo.Owner, repo.Name, pr.Number)
	workerCtx, cancel := context.WithCancel(ctx)

	d.mu.Lock()
	d.workers[key] = cancel
	d.mu.Unlock()

	d.setStatus(key, "watching")

	ref := github.PRRef{Owner: repo.Owner, Repo: repo.Name, Number: pr.Number}
	w := worker.New(repo, ref, d.gh.Sampler(ref), d.gh, d.cfg.Monitor, d.logger, d.recordActivity)

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer cancel()
		defer func() {
			d.mu.Lock()
			delete(d.workers, key)
			d.mu.Unlock()
		}()

		d.logger.Info("starting worker", "key", key, "title", pr.Title)
		sum, err := w.Run(workerCtx)
		if err != nil {
			if ctx.Err() == nil {
				d.logger.Error("worker failed", "key", key, "err", err)
			}
			d.setStatus(key, "error")
			return
		}
		d.setStatus(key, string(sum.Status))
	}()
}

func (d *Daemon) cancelAll() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for key, cancel := range d.workers {
		d.logger.Debug("cancelling worker", "key", key)
		cancel()
	}
}

func (d *Daemon) countActiveForRepo(repo config.RepoConfig) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	prefix := repo.Owner + "/" + repo.Name + "#"
	count := 0
	for key := range d.workers {
		if len(key) > len(prefix) && key[:len(prefix)] == prefix {
			count++
		}
	}
	return count
}

func (d *Daemon) setStatus(key, status string) {
	d.stateMu.Lock()
	d.statuses[key] = status
	d.stateMu.Unlock()
}

func (d *Daemon) recordActivity(a worker.Activity) {
	d.stateMu.Lock()
	d.events = append(d.events, a)
	if len(d.events) > eventFeedCap {
		d.events = d.events[len(d.events)-eventFeedCap:]
	}
	d.stateMu.Unlock()
}

func workerKey(owner, repo string, number int) string {
	return fmt.Sprintf("%s/%s#%d", owner, repo, number)
}

func isExcluded(author string, excluded []string) bool {
	for _, e := range excluded {
		if author == e {
			return true
		}
	}
	return false
}

// GetSnapshot renders the daemon's view of the world for the TUI.
func (d *Daemon) GetSnapshot() tui.Snapshot {
	d.mu.Lock()
	workersCopy := make(map[string]bool, len(d.workers))
	for k := range d.workers {
		workersCopy[k] = true
	}
	workerCount := len(d.workers)
	d.mu.Unlock()

	d.stateMu.Lock()
	prCacheCopy := make(map[string][]github.PRInfo, len(d.prCache))
	for k, v := range d.prCache {
		prCacheCopy[k] = append([]github.PRInfo(nil), v...)
	}
	statusCopy := make(map[string]string, len(d.statuses))
	for k, v := range d.statuses {
		statusCopy[k] = v
	}
	eventsCopy := append([]worker.Activity(nil), d.events...)
	d.stateMu.Unlock()

	repos := make([]tui.RepoState, 0, len(d.cfg.Repos))
	for _, repo := range d.cfg.Repos {
		repoKey := repo.Owner + "/" + repo.Name
		prs := prCacheCopy[repoKey]

		prStates := make([]tui.PRState, 0, len(prs))
		repoWorkers := 0
		for _, pr := range prs {
			key := workerKey(repo.Owner, repo.Name, pr.Number)
			hasWorker := workersCopy[key]
			if hasWorker {
				repoWorkers++
			}

			status := statusCopy[key]
			switch {
			case pr.IsDraft:
				status = "draft"
			case status == "":
				status = "pending"
			}

			prStates = append(prStates, tui.PRState{
				Number:    pr.Number,
				Title:     pr.Title,
				Status:    status,
				Author:    pr.Author.Login,
				HasWorker: hasWorker,
			})
		}

		repos = append(repos, tui.RepoState{
			Owner:   repo.Owner,
			Name:    repo.Name,
			PRs:     prStates,
			Workers: repoWorkers,
		})
	}

	events := make([]tui.EventState, 0, len(eventsCopy))
	for i := len(eventsCopy) - 1; i >= 0; i-- { // newest first
		a := eventsCopy[i]
		events = append(events, tui.EventState{
			PR:     a.Ref.String(),
			Kind:   a.Kind.String(),
			Detail: a.Detail,
			At:     a.At,
		})
	}

	return tui.Snapshot{
		Timestamp:   time.Now(),
		Repos:       repos,
		Events:      events,
		WorkerCount: workerCount,
	}
}
