package main

import (
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	json "github.com/goccy/go-json"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/ajitpratap0/ballast/pkg/config"
	"github.com/ajitpratap0/ballast/pkg/engine"
	"github.com/ajitpratap0/ballast/pkg/errors"
	"github.com/ajitpratap0/ballast/pkg/logger"
	"github.com/ajitpratap0/ballast/pkg/metrics"
	"github.com/ajitpratap0/ballast/pkg/middleware"
	"github.com/ajitpratap0/ballast/pkg/observability"
	"github.com/ajitpratap0/ballast/pkg/pool"
)

var version = "0.1.0"

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	var logLevel string
	var profileName string
	var configFile string

	root := &cobra.Command{
		Use:   "ballast",
		Short: "Ballast - Adaptive resource pooling and overload protection",
		Long: `Ballast keeps services upright under load: auto-scaling object pools
with pluggable overflow strategies, memory-pressure management, load
shedding, circuit breaking, and advisory fleet coordination.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return logger.Init(logger.Config{
				Level:       logLevel,
				Encoding:    "json",
				OutputPaths: []string{"stdout"},
			})
		},
	}

	root.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&profileName, "profile", "standard", "Configuration profile (standard, high, extreme)")
	root.PersistentFlags().StringVar(&configFile, "config", "", "Configuration file (overrides --profile)")

	viper.SetEnvPrefix("BALLAST")
	viper.AutomaticEnv()
	_ = viper.BindPFlag("profile", root.PersistentFlags().Lookup("profile"))
	_ = viper.BindPFlag("log_level", root.PersistentFlags().Lookup("log-level"))

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("Ballast v%s\n", version)
			fmt.Printf("Go version: %s\n", runtime.Version())
			fmt.Printf("OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "profiles",
		Short: "List configuration profiles and their settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, name := range config.Profiles() {
				cfg := config.Profile(name)
				out, err := json.MarshalIndent(cfg, "", "  ")
				if err != nil {
					return err
				}
				fmt.Printf("--- %s ---\n%s\n", name, out)
			}
			return nil
		},
	})

	var duration time.Duration
	var concurrency int
	benchCmd := &cobra.Command{
		Use:   "bench",
		Short: "Drive synthetic load through the full protective chain",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBench(profileName, configFile, duration, concurrency)
		},
	}
	benchCmd.Flags().DurationVar(&duration, "duration", 10*time.Second, "How long to run")
	benchCmd.Flags().IntVar(&concurrency, "concurrency", runtime.NumCPU()*4, "Concurrent workers")
	root.AddCommand(benchCmd)

	var outFile string
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write the resolved configuration to a YAML file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(profileName, configFile)
			if err != nil {
				return err
			}
			if err := config.Save(outFile, cfg); err != nil {
				return err
			}
			fmt.Printf("wrote %s\n", outFile)
			return nil
		},
	}
	initCmd.Flags().StringVar(&outFile, "out", "ballast.yaml", "Output file path")
	root.AddCommand(initCmd)

	var listenAddr string
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the engine and expose /status and /metrics over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(profileName, configFile, listenAddr)
		},
	}
	serveCmd.Flags().StringVar(&listenAddr, "listen", ":9090", "HTTP listen address")
	root.AddCommand(serveCmd)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig resolves the effective configuration from a file or a named
// profile
func loadConfig(profileName, configFile string) (*config.Config, error) {
	if configFile != "" {
		cfg := config.Default()
		if err := config.Load(configFile, cfg); err != nil {
			return nil, err
		}
		return cfg, nil
	}

	if env := viper.GetString("profile"); env != "" {
		profileName = env
	}
	name, err := config.ParseProfile(profileName)
	if err != nil {
		return nil, err
	}
	return config.Profile(name), nil
}

// startEngine wires the shared engine with a demo pool and returns it
func startEngine(profileName, configFile string) (*engine.Engine, *pool.Pool[*[]byte], error) {
	cfg, err := loadConfig(profileName, configFile)
	if err != nil {
		return nil, nil, err
	}

	if err := observability.Initialize(observability.TracingConfig{
		ServiceName:  cfg.Name,
		SamplingRate: cfg.Observability.TracingSampleRate,
		Enabled:      cfg.Observability.TracingEnabled,
	}); err != nil {
		return nil, nil, err
	}

	eng, err := engine.Init(func(e *engine.Engine) error {
		return e.Enable(cfg)
	})
	if err != nil {
		return nil, nil, err
	}

	buffers, err := pool.New("buffers", cfg.Pool,
		func() (*[]byte, error) {
			b := make([]byte, 0, 4096)
			return &b, nil
		},
		func(b *[]byte) {
			*b = (*b)[:0]
		})
	if err != nil {
		eng.Disable()
		return nil, nil, err
	}
	eng.RegisterPool(buffers)

	return eng, buffers, nil
}

// runBench floods the chain with synthetic work and prints the final status
func runBench(profileName, configFile string, duration time.Duration, concurrency int) error {
	eng, buffers, err := startEngine(profileName, configFile)
	if err != nil {
		return err
	}
	defer eng.Disable()

	handler := eng.Chain(func(ctx context.Context, req *middleware.Request) (*middleware.Response, error) {
		h, err := buffers.Borrow(ctx, pool.Hints{Priority: req.Priority})
		if err != nil {
			return nil, err
		}
		defer buffers.Return(h)

		// simulate work proportional to payload size
		time.Sleep(time.Duration(rand.Intn(500)) * time.Microsecond)
		return &middleware.Response{Status: middleware.StatusSuccess}, nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), duration)
	defer cancel()

	var success, rejected, failed atomic.Int64
	var id atomic.Int64
	var wg sync.WaitGroup

	tracker := metrics.NewThroughputTracker()
	log := logger.Get()
	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				log.Info("bench progress",
					zap.Float64("throughput_rps", tracker.GetAndReset()))
			}
		}
	}()

	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ctx.Err() == nil {
				req := &middleware.Request{
					ID:          fmt.Sprintf("bench-%d", id.Add(1)),
					Priority:    pool.PriorityNormal,
					EnqueueTime: time.Now(),
				}
				_, err := handler(ctx, req)
				tracker.Increment(1)
				switch {
				case err == nil:
					success.Add(1)
				case errors.IsRejection(err):
					rejected.Add(1)
				default:
					failed.Add(1)
				}
			}
		}()
	}
	wg.Wait()

	status := eng.Status()
	out, err := json.MarshalIndent(status, "", "  ")
	if err != nil {
		return err
	}

	fmt.Printf("success=%d rejected=%d failed=%d\n",
		success.Load(), rejected.Load(), failed.Load())
	fmt.Println(string(out))
	return nil
}

// runServe runs the engine until interrupted, exposing introspection and
// Prometheus metrics
func runServe(profileName, configFile, listenAddr string) error {
	eng, _, err := startEngine(profileName, configFile)
	if err != nil {
		return err
	}
	defer eng.Disable()

	log := logger.Get()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(eng.Status()); err != nil {
			log.Warn("status encode failed", zap.Error(err))
		}
	})

	srv := &http.Server{
		Addr:         listenAddr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("serving", zap.String("addr", listenAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server failed", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return observability.Shutdown(context.Background())
}
