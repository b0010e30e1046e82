package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/mattn/go-isatty"

	"github.com/marcin-skalski/prwatch/internal/config"
	"github.com/marcin-skalski/prwatch/internal/daemon"
	"github.com/marcin-skalski/prwatch/internal/gate"
	"github.com/marcin-skalski/prwatch/internal/github"
	"github.com/marcin-skalski/prwatch/internal/logging"
	"github.com/marcin-skalski/prwatch/internal/poll"
	"github.com/marcin-skalski/prwatch/internal/snapshot"
	"github.com/marcin-skalski/prwatch/internal/tui"
)

const (
	exitOK      = 0
	exitError   = 1
	exitTimeout = 2
)

const usage = `usage: prwatch <command> [flags]

commands:
  watch              watch configured repos and reconcile their PRs (default)
  monitor <number>   poll one PR until activity, merge/close, or timeout
  gate <number>      one-shot merge-readiness check
  merge <number>     gate and merge one PR
  issues             list issues

run 'prwatch <command> -h' for command flags
`

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	cmd := "watch"
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		cmd = args[0]
		args = args[1:]
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch cmd {
	case "watch":
		return watchCmd(ctx, args)
	case "monitor":
		return monitorCmd(ctx, args)
	case "gate":
		return gateCmd(ctx, args)
	case "merge":
		return mergeCmd(ctx, args)
	case "issues":
		return issuesCmd(ctx, args)
	case "help", "-h", "--help":
		fmt.Print(usage)
		return exitOK
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", cmd, usage)
		return exitError
	}
}

// loadConfig reads the config file; a missing file at the default path is
// fine for single-PR commands, which then run on defaults.
func loadConfig(path string, explicit bool) (*config.Config, error) {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) && !explicit {
			cfg := &config.Config{}
			if err := cfg.SetDefaults(); err != nil {
				return nil, err
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return config.Load(path)
}

func parseRepo(s string) (owner, name string, err error) {
	parts := strings.SplitN(s, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid repo %q, want OWNER/REPO", s)
	}
	return parts[0], parts[1], nil
}

func parsePRNumber(fs *flag.FlagSet) (int, error) {
	if fs.NArg() != 1 {
		return 0, errors.New("exactly one PR number required")
	}
	n, err := strconv.Atoi(fs.Arg(0))
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid PR number %q", fs.Arg(0))
	}
	return n, nil
}

func fail(err error) int {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	return exitError
}

func watchCmd(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "path to config file")
	noTUI := fs.Bool("no-tui", false, "disable TUI mode")
	_ = fs.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fail(err)
	}

	enableTUI := !*noTUI && os.Getenv("PRWATCH_TUI") != "0" &&
		isatty.IsTerminal(os.Stdin.Fd()) && isatty.IsTerminal(os.Stdout.Fd())

	logger, closer, err := logging.Setup(cfg.LogFile, cfg.Log.Level, enableTUI)
	if err != nil {
		return fail(fmt.Errorf("setup logger: %w", err))
	}
	defer closer.Close()

	gh := github.NewClient(logger, cfg.Monitor.CallTimeout)
	d := daemon.New(cfg, gh, logger)

	if !enableTUI {
		logger.Info("prwatch starting (headless)", "config", *configPath)
		if err := d.Run(ctx); err != nil {
			logger.Error("daemon error", "err", err)
			return exitError
		}
		return exitOK
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("prwatch daemon starting in background", "config", *configPath)
		if err := d.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error("daemon error", "err", err)
			errCh <- err
		}
	}()

	p := tea.NewProgram(tui.NewModel(d, cfg.TUI.RefreshInterval))
	go func() {
		if err := <-errCh; err != nil {
			p.Send(tea.Quit())
		}
	}()

	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "TUI error: %v\n", err)
		return exitError
	}
	return exitOK
}

type monitorReport struct {
	Outcome string   `json:"outcome"`
	Events  []string `json:"events,omitempty"`
	Elapsed string   `json:"elapsed"`
}

func monitorCmd(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("monitor", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "path to config file")
	repoFlag := fs.String("repo", "", "repository as OWNER/REPO (required)")
	intervalSec := fs.Int("interval", 0, "sampling interval in seconds")
	timeoutMin := fs.Int("timeout", 0, "wall-clock budget in minutes")
	quietSec := fs.Int("quiet-period", 0, "stop after this many quiet seconds instead of on first event")
	unresolvedOnly := fs.Bool("unresolved-only", false, "only react to review-thread events")
	jsonOut := fs.Bool("json", false, "emit JSON")
	_ = fs.Parse(args)

	cfg, err := loadConfig(*configPath, flagWasSet(fs, "config"))
	if err != nil {
		return fail(err)
	}
	if *repoFlag == "" {
		return fail(errors.New("--repo is required"))
	}
	owner, name, err := parseRepo(*repoFlag)
	if err != nil {
		return fail(err)
	}
	number, err := parsePRNumber(fs)
	if err != nil {
		return fail(err)
	}

	opts := poll.Options{
		Interval:         cfg.Monitor.Interval,
		Timeout:          cfg.Monitor.Timeout,
		StopOnFirstEvent: true,
	}
	if *intervalSec > 0 {
		opts.Interval = time.Duration(*intervalSec) * time.Second
	}
	if flagWasSet(fs, "timeout") {
		opts.Timeout = time.Duration(*timeoutMin) * time.Minute
	}
	if *quietSec > 0 {
		opts.StopOnFirstEvent = false
		opts.QuietPeriod = time.Duration(*quietSec) * time.Second
	}
	if *unresolvedOnly {
		opts.Filter = func(e snapshot.DeltaEvent) bool {
			return e.Kind == snapshot.ThreadAdded || e.Kind == snapshot.ResolutionCountChanged
		}
	}

	logger, closer, err := logging.Setup(cfg.LogFile, cfg.Log.Level, *jsonOut)
	if err != nil {
		return fail(err)
	}
	defer closer.Close()

	gh := github.NewClient(logger, cfg.Monitor.CallTimeout)
	ref := github.PRRef{Owner: owner, Repo: name, Number: number}

	var observed []string
	if opts.QuietPeriod > 0 {
		opts.OnEvent = func(e snapshot.DeltaEvent) {
			observed = append(observed, e.Kind.String())
		}
	}

	loop, err := poll.New(gh.Sampler(ref), logger.With("pr", ref.String()), opts)
	if err != nil {
		return fail(err)
	}

	res, err := loop.Run(ctx)
	if err != nil {
		return fail(err)
	}

	for _, e := range res.Events {
		if e.Kind != snapshot.NoChange {
			observed = append(observed, e.Kind.String())
		}
	}

	report := monitorReport{
		Outcome: string(res.Outcome),
		Events:  observed,
		Elapsed: res.Elapsed.Round(time.Second).String(),
	}
	if *jsonOut {
		out, _ := json.MarshalIndent(report, "", "  ")
		fmt.Println(string(out))
	} else {
		fmt.Printf("%s: %s after %s", ref, report.Outcome, report.Elapsed)
		if len(observed) > 0 {
			fmt.Printf(" (%s)", strings.Join(observed, ", "))
		}
		fmt.Println()
	}

	if res.Outcome == poll.TimedOut {
		return exitTimeout
	}
	return exitOK
}

func gateCmd(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("gate", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "path to config file")
	repoFlag := fs.String("repo", "", "repository as OWNER/REPO (required)")
	jsonOut := fs.Bool("json", false, "emit JSON")
	_ = fs.Parse(args)

	cfg, err := loadConfig(*configPath, flagWasSet(fs, "config"))
	if err != nil {
		return fail(err)
	}
	if *repoFlag == "" {
		return fail(errors.New("--repo is required"))
	}
	owner, name, err := parseRepo(*repoFlag)
	if err != nil {
		return fail(err)
	}
	number, err := parsePRNumber(fs)
	if err != nil {
		return fail(err)
	}

	logger, closer, err := logging.Setup(cfg.LogFile, cfg.Log.Level, *jsonOut)
	if err != nil {
		return fail(err)
	}
	defer closer.Close()

	gh := github.NewClient(logger, cfg.Monitor.CallTimeout)
	ref := github.PRRef{Owner: owner, Repo: name, Number: number}

	verdict, err := gate.Evaluate(ctx, gh.Sampler(ref))
	if err != nil {
		return fail(err)
	}

	if *jsonOut {
		out, _ := json.MarshalIndent(verdict, "", "  ")
		fmt.Println(string(out))
	} else {
		fmt.Printf("%s: %s\n", ref, verdict.Status())
		for _, r := range verdict.Reasons {
			fmt.Printf("  - %s\n", r)
		}
	}

	if !verdict.Ready {
		return exitError
	}
	return exitOK
}

func mergeCmd(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("merge", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "path to config file")
	repoFlag := fs.String("repo", "", "repository as OWNER/REPO (required)")
	method := fs.String("method", "squash", "merge method (squash|merge)")
	keepBranch := fs.Bool("keep-branch", false, "do not delete the head branch")
	force := fs.Bool("force", false, "skip the readiness gate")
	_ = fs.Parse(args)

	cfg, err := loadConfig(*configPath, flagWasSet(fs, "config"))
	if err != nil {
		return fail(err)
	}
	if *repoFlag == "" {
		return fail(errors.New("--repo is required"))
	}
	owner, name, err := parseRepo(*repoFlag)
	if err != nil {
		return fail(err)
	}
	number, err := parsePRNumber(fs)
	if err != nil {
		return fail(err)
	}

	logger, closer, err := logging.Setup(cfg.LogFile, cfg.Log.Level, false)
	if err != nil {
		return fail(err)
	}
	defer closer.Close()

	gh := github.NewClient(logger, cfg.Monitor.CallTimeout)
	ref := github.PRRef{Owner: owner, Repo: name, Number: number}

	if !*force {
		verdict, err := gate.Evaluate(ctx, gh.Sampler(ref))
		if err != nil {
			return fail(err)
		}
		if !verdict.Ready {
			fmt.Printf("%s: BLOCKED\n", ref)
			for _, r := range verdict.Reasons {
				fmt.Printf("  - %s\n", r)
			}
			return exitError
		}
	}

	if err := gh.MergePR(ctx, ref, *method, !*keepBranch); err != nil {
		return fail(err)
	}
	fmt.Printf("%s: MERGED\n", ref)
	return exitOK
}

func issuesCmd(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("issues", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "path to config file")
	repoFlag := fs.String("repo", "", "repository as OWNER/REPO (required)")
	state := fs.String("state", "open", "issue state filter")
	labels := fs.String("label", "", "comma-separated label filter")
	assignee := fs.String("assignee", "", "assignee filter")
	limit := fs.Int("limit", 50, "max issues to list")
	jsonOut := fs.Bool("json", false, "emit JSON")
	_ = fs.Parse(args)

	cfg, err := loadConfig(*configPath, flagWasSet(fs, "config"))
	if err != nil {
		return fail(err)
	}
	if *repoFlag == "" {
		return fail(errors.New("--repo is required"))
	}
	owner, name, err := parseRepo(*repoFlag)
	if err != nil {
		return fail(err)
	}

	logger, closer, err := logging.Setup(cfg.LogFile, cfg.Log.Level, *jsonOut)
	if err != nil {
		return fail(err)
	}
	defer closer.Close()

	gh := github.NewClient(logger, cfg.Monitor.CallTimeout)

	filters := github.IssueFilters{State: *state, Assignee: *assignee, Limit: *limit}
	if *labels != "" {
		filters.Labels = strings.Split(*labels, ",")
	}

	issues, err := gh.ListIssues(ctx, owner, name, filters)
	if err != nil {
		return fail(err)
	}

	if *jsonOut {
		out, _ := json.MarshalIndent(issues, "", "  ")
		fmt.Println(string(out))
		return exitOK
	}
	for _, is := range issues {
		fmt.Printf("#%-5d %-8s %s\n", is.Number, is.State, is.Title)
	}
	return exitOK
}

func flagWasSet(fs *flag.FlagSet, name string) bool {
	set := false
	fs.Visit(func(f *flag.Flag) {
		if f.Name == name {
			set = true
		}
	})
	return set
}
