// Command taskwatch follows a user's tasks on a running render API server
// and prints each task as it completes or fails.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/phrazzld/render-api/internal/client"
	"github.com/phrazzld/render-api/internal/platform/logger"
	"github.com/phrazzld/render-api/internal/reconcile"
)

// printer writes completed tasks to stdout.
type printer struct{}

func (printer) SetPreview(v reconcile.TaskView) {
	fmt.Printf("%s  completed  %s  %s\n", timestamp(v), v.ID, strings.TrimSpace(string(v.OutputData)))
}

func timestamp(v reconcile.TaskView) string {
	if v.CompletedAt != nil {
		return v.CompletedAt.Local().Format(time.TimeOnly)
	}
	return time.Now().Format(time.TimeOnly)
}

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "base URL of the render API")
	token := flag.String("token", os.Getenv("RENDER_TOKEN"), "bearer token (defaults to $RENDER_TOKEN)")
	interval := flag.Duration("interval", reconcile.DefaultInterval, "poll interval")
	level := flag.String("log-level", "warn", "log level (debug, info, warn, error)")
	flag.Parse()

	log := logger.New(os.Stderr, *level)

	cfg := client.DefaultConfig(*baseURL)
	cfg.Token = *token
	c := client.New(cfg)

	r := reconcile.New(c, c, printer{}, reconcile.Config{
		Interval: *interval,
		OnFailed: func(v reconcile.TaskView) {
			fmt.Printf("%s  failed     %s  %s\n", timestamp(v), v.ID, v.ErrorMessage)
		},
	}, log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Tasks that finished before the watch started are not reported.
	r.SetPreviewTime(time.Now())
	r.SetAuthenticated(true)
	fmt.Fprintf(os.Stderr, "watching %s every %s\n", *baseURL, *interval)

	<-ctx.Done()
	r.SetAuthenticated(false)
}
