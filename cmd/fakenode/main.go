// fakenode is a stand-in cloud worker for end-to-end tests. It accepts the
// worker launch arguments, prints the startup markers h2otest scrapes and
// serves the cloud status endpoint.
//
// Usage: fakenode -name <cloud> -baseport <port> -ip <addr> [-flatfile <path>]
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"
)

const (
	portStep          = 2
	portAttempts      = 100
	shutdownTimeout   = 5 * time.Second
	readHeaderTimeout = 10 * time.Second
)

type options struct {
	name           string
	basePort       int
	ip             string
	flatfile       string
	unhealthyAfter time.Duration
	exitAfter      time.Duration
}

func main() {
	var opts options
	// Worker arguments use single-dash long names.
	fs := flag.NewFlagSet("fakenode", flag.ExitOnError)
	fs.StringVar(&opts.name, "name", "fakenode", "cloud name")
	fs.IntVar(&opts.basePort, "baseport", 54321, "first port to try")
	fs.StringVar(&opts.ip, "ip", "127.0.0.1", "address to bind")
	fs.StringVar(&opts.flatfile, "flatfile", "", "file listing the cloud members, one per line")
	fs.DurationVar(&opts.unhealthyAfter, "unhealthy-after", 0, "report unhealthy after this long (0 = never)")
	fs.DurationVar(&opts.exitAfter, "exit-after", 0, "exit with status 1 after this long (0 = never)")
	// Unknown worker arguments are ignored.
	_ = fs.Parse(os.Args[1:])

	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, opts, logrus.NewEntry(logger).WithField("cloud", opts.name)); err != nil {
		logger.WithError(err).Error("fakenode failed")
		os.Exit(1)
	}
}

func run(ctx context.Context, opts options, logger *logrus.Entry) error {
	ln, port, err := listen(opts.ip, opts.basePort)
	if err != nil {
		return err
	}

	size, err := cloudSize(opts.flatfile)
	if err != nil {
		return err
	}

	started := time.Now()
	healthy := func() bool {
		return opts.unhealthyAfter <= 0 || time.Since(started) < opts.unhealthyAfter
	}

	srv := &http.Server{
		Handler:           router(opts.name, size, healthy),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	fmt.Printf("Open H2O Flow in your web browser: http://%s:%d\n", opts.ip, port)
	fmt.Printf("Cloud of size %d formed [/%s:%d]\n", size, opts.ip, port)
	logger.WithFields(logrus.Fields{"port": port, "size": size}).Info("fakenode serving")

	var exit <-chan time.Time
	if opts.exitAfter > 0 {
		exit = time.After(opts.exitAfter)
	}

	select {
	case <-ctx.Done():
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-exit:
		return errors.New("exit requested")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	logger.Info("fakenode stopped")
	return nil
}

// listen binds the first free port starting at base, stepping by two.
func listen(ip string, base int) (net.Listener, int, error) {
	var lastErr error
	for i := range portAttempts {
		port := base + i*portStep
		ln, err := net.Listen("tcp", net.JoinHostPort(ip, strconv.Itoa(port)))
		if err == nil {
			return ln, port, nil
		}
		lastErr = err
	}
	return nil, 0, fmt.Errorf("no free port from %d: %w", base, lastErr)
}

// cloudSize counts the members listed in the flatfile. A missing flatfile
// means a cloud of one.
func cloudSize(path string) (int, error) {
	if path == "" {
		return 1, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open flatfile: %w", err)
	}
	defer f.Close()

	n := 0
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if strings.TrimSpace(scanner.Text()) != "" {
			n++
		}
	}
	if err := scanner.Err(); err != nil {
		return 0, fmt.Errorf("read flatfile: %w", err)
	}
	if n == 0 {
		n = 1
	}
	return n, nil
}

type cloudStatus struct {
	CloudName    string `json:"cloud_name"`
	CloudSize    int    `json:"cloud_size"`
	CloudHealthy bool   `json:"cloud_healthy"`
	Consensus    bool   `json:"consensus"`
	Locked       bool   `json:"locked"`
}

func router(name string, size int, healthy func() bool) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/3/Cloud", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, cloudStatus{
			CloudName:    name,
			CloudSize:    size,
			CloudHealthy: healthy(),
			Consensus:    true,
			Locked:       true,
		})
	})
	return r
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(v)
}
