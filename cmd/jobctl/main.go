package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/kaxterzz/job-runner/internal/client"
	"github.com/kaxterzz/job-runner/internal/config"
	"github.com/kaxterzz/job-runner/internal/domain"
	"github.com/kaxterzz/job-runner/internal/logger"
)

// serverURL can be set at build time:
//
//	go build -ldflags "-X main.serverURL=https://jobs.example.com" ./cmd/jobctl
var serverURL string

type paramFlags []domain.InputField

func (p *paramFlags) String() string { return fmt.Sprint(*p) }

func (p *paramFlags) Set(v string) error {
	key, value, ok := strings.Cut(v, "=")
	if !ok {
		return fmt.Errorf("expected key=value, got %q", v)
	}
	*p = append(*p, domain.InputField{Field: strings.TrimSpace(key), Value: strings.TrimSpace(value)})
	return nil
}

type fileFlags []domain.UploadedFile

func (f *fileFlags) String() string { return fmt.Sprint(*f) }

func (f *fileFlags) Set(v string) error {
	idx := strings.LastIndex(v, ":")
	if idx <= 0 {
		return fmt.Errorf("expected name:size, got %q", v)
	}
	name := v[:idx]
	size, err := strconv.ParseInt(v[idx+1:], 10, 64)
	if err != nil || size < 0 {
		return fmt.Errorf("invalid size in %q", v)
	}
	*f = append(*f, domain.UploadedFile{
		ID:        uuid.NewString(),
		Name:      name,
		Size:      size,
		Extension: strings.TrimPrefix(filepath.Ext(name), "."),
	})
	return nil
}

func main() {
	var params paramFlags
	var files fileFlags
	flag.Var(&params, "param", "Job parameter as key=value (repeatable)")
	flag.Var(&files, "file", "Uploaded file as name:size-in-bytes (repeatable)")
	configPath := flag.String("config", "", "Path to config file")
	requireFiles := flag.Bool("require-files", false, "Refuse to run without at least one -file")
	timeout := flag.Duration("timeout", 2*time.Minute, "Give up waiting for the job after this long")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	appLogger := logger.New(&logger.Config{
		Level:       cfg.Log.Level,
		Format:      "text",
		Output:      os.Stderr,
		ServiceName: "jobctl",
	})
	logger.SetDefaultLogger(appLogger)

	os.Exit(run(cfg, appLogger, params, files, *requireFiles, *timeout))
}

func run(cfg *config.Config, log *logger.Logger, params paramFlags, files fileFlags, requireFiles bool, timeout time.Duration) int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	base := cfg.ResolveServerURL(serverURL)
	store, err := client.NewStore(client.StoreConfig{
		ServerURL:      base,
		RequestTimeout: cfg.Client.RequestTimeout,
		ConnectDelay:   cfg.Client.ConnectDelay,
		Channel: client.ChannelConfig{
			ReconnectAttempts: cfg.Client.ReconnectAttempts,
			ReconnectDelay:    cfg.Client.ReconnectDelay,
			DialTimeout:       cfg.Client.RequestTimeout,
		},
	}, client.NotifierFunc(printNotification), log)
	if err != nil {
		log.WithError(err).Error("Failed to create job store")
		return 1
	}
	defer store.Close()

	sub := domain.JobSubmission{InputFields: params, UploadedFiles: files}
	store.SetInputFields(sub.InputFields)
	store.SetUploadedFiles(sub.UploadedFiles)
	store.SetInputsValid(sub.ValidParameters() == len(sub.InputFields))
	store.SetFilesValid(true)
	store.SetAllRequiredFilesUploaded(!requireFiles || len(sub.UploadedFiles) > 0)

	if !store.Snapshot().IsReadyToRun {
		fmt.Fprintln(os.Stderr, "Configuration incomplete: every -param needs a key and a value, and -require-files needs a -file")
		return 2
	}

	// changed is a wakeup signal; the loop always reads a fresh snapshot.
	changed := make(chan struct{}, 1)
	unsubscribe := store.OnChange(func(client.State) {
		select {
		case changed <- struct{}{}:
		default:
		}
	})
	defer unsubscribe()

	store.Start(ctx)
	if !waitConnected(ctx, store, changed, cfg) {
		fmt.Fprintf(os.Stderr, "Could not connect to job server at %s\n", base)
		return 1
	}

	res := store.ExecuteJob(ctx, store.Submission())
	if !res.Success {
		return 1
	}
	fmt.Fprintf(os.Stderr, "Job %s submitted to %s\n", res.JobID, base)

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	printed := 0
	for {
		select {
		case <-ctx.Done():
			cancelCtx, cancel := context.WithTimeout(context.Background(), cfg.Client.RequestTimeout)
			if err := store.API().CancelJob(cancelCtx, res.JobID); err != nil {
				log.WithError(err).Warn("Server-side cancel failed")
			}
			cancel()
			store.CancelJob()
			return 130
		case <-deadline.C:
			fmt.Fprintf(os.Stderr, "Timed out after %s\n", timeout)
			return 1
		case <-changed:
			st := store.Snapshot()
			printed = printLogs(st.Logs, printed)
			switch st.Status {
			case domain.JobStatusCompleted:
				// pick up anything the channel missed before the subscription
				if job, err := store.FetchJob(ctx); err == nil {
					printLogs(job.Logs, printed)
				}
				return printResults(store.Snapshot().Results)
			case domain.JobStatusFailed:
				return 1
			}
		}
	}
}

func waitConnected(ctx context.Context, store *client.Store, changed <-chan struct{}, cfg *config.Config) bool {
	if store.Snapshot().IsConnected {
		return true
	}
	limit := cfg.Client.ConnectDelay + time.Duration(cfg.Client.ReconnectAttempts+1)*(cfg.Client.ReconnectDelay+cfg.Client.RequestTimeout)
	timer := time.NewTimer(limit)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return false
		case <-timer.C:
			return false
		case <-changed:
			if store.Snapshot().IsConnected {
				return true
			}
		}
	}
}

func printLogs(logs []domain.LogEntry, from int) int {
	for _, e := range logs[min(from, len(logs)):] {
		fmt.Printf("%s [%s] %s\n", e.Timestamp, e.Type, e.Message)
	}
	return max(from, len(logs))
}

func printResults(results *domain.JobResults) int {
	if results == nil {
		fmt.Fprintln(os.Stderr, "Job completed without results")
		return 1
	}
	out, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to encode results: %v\n", err)
		return 1
	}
	fmt.Println(string(out))
	return 0
}

func printNotification(level client.Level, title, description string) {
	if description != "" {
		fmt.Fprintf(os.Stderr, "[%s] %s: %s\n", level, title, description)
		return
	}
	fmt.Fprintf(os.Stderr, "[%s] %s\n", level, title)
}
