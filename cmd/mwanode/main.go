// mwanode runs the dApp side of the mobile wallet adapter protocol: it
// binds a local pairing endpoint, prints the association URI for a wallet
// to connect to, and keeps the authorized session open for signing
// requests.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/solmwa/mwanode/config"
	"github.com/solmwa/mwanode/node"
	"github.com/solmwa/mwanode/webui"
)

var (
	// Flags
	configPath string
	keyFile    string
	dbFile     string
	bindHost   string
	bindPort   int
	cluster    string
	logLevel   string
	demoSign   bool

	// WebUI flags
	enableWebUI bool
	webUIAddr   string
	webUIPprof  bool

	// Root command
	rootCmd = &cobra.Command{
		Use:   "mwanode",
		Short: "Mobile wallet adapter dApp endpoint",
		Long: `mwanode implements the dApp side of the mobile wallet adapter protocol.

It binds a loopback pairing endpoint, prints the association URI for a
wallet to scan or receive, establishes the encrypted session, and requests
authorization. The session then stays available for signing requests until
either side closes it.`,
		RunE: runNode,
	}
)

func init() {
	rootCmd.Flags().StringVar(&configPath, "config", "", "Path to YAML config file (flags override file values)")
	rootCmd.Flags().StringVar(&keyFile, "key-file", "", "Path to association key PEM (generated on first run)")
	rootCmd.Flags().StringVar(&dbFile, "db", "", "Path to sqlite database (empty = config value, ':memory:' = ephemeral)")

	rootCmd.Flags().StringVar(&bindHost, "bind-host", "", "Pairing listen interface (loopback recommended)")
	rootCmd.Flags().IntVar(&bindPort, "bind-port", -1, "Pairing listen port (0 = ephemeral)")
	rootCmd.Flags().StringVar(&cluster, "cluster", "", "Solana cluster to request authorization for")

	rootCmd.Flags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.Flags().BoolVar(&demoSign, "demo-sign", false, "Sign a test message after authorization to verify the channel")

	rootCmd.Flags().BoolVar(&enableWebUI, "web-ui", false, "Enable status endpoint")
	rootCmd.Flags().StringVar(&webUIAddr, "web-addr", "127.0.0.1:8080", "Status endpoint listen address")
	rootCmd.Flags().BoolVar(&webUIPprof, "pprof", false, "Enable pprof endpoints")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig merges the config file with command-line overrides.
func loadConfig() (*config.Config, error) {
	cfg := config.Default()
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if keyFile != "" {
		cfg.KeyFile = keyFile
	}
	if dbFile != "" {
		cfg.DBFile = dbFile
	}
	if bindHost != "" {
		cfg.Session.Host = bindHost
	}
	if bindPort >= 0 {
		cfg.Session.Port = bindPort
	}
	if cluster != "" {
		cfg.Cluster = cluster
	}
	if enableWebUI {
		cfg.WebUI.ListenAddr = webUIAddr
		cfg.WebUI.EnablePprof = webUIPprof
	}

	return cfg, cfg.Validate()
}

func runNode(cmd *cobra.Command, args []string) error {
	logger := logrus.New()

	// Set log level
	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	logger.SetLevel(level)

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	n, err := node.New(cfg, logger)
	if err != nil {
		return err
	}
	defer n.Close()

	if cfg.WebUI.ListenAddr != "" {
		webui.StartHttpServer(&webui.FrontendConfig{
			ListenAddr:  cfg.WebUI.ListenAddr,
			EnablePprof: cfg.WebUI.EnablePprof,
		}, logger, n)
	}

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.WithField("signal", sig.String()).Info("shutting down")
		cancel()
	}()

	auth, err := n.Pair(ctx)
	if err != nil {
		return fmt.Errorf("pairing failed: %w", err)
	}
	logger.WithFields(logrus.Fields{
		"account": auth.Accounts[0].Base58,
		"token":   auth.AuthToken,
	}).Info("session ready")

	if demoSign {
		message := []byte(fmt.Sprintf("mwanode channel check %d", os.Getpid()))
		signed, err := n.Client().SignMessages(ctx,
			[][]byte{auth.Accounts[0].Address}, [][]byte{message})
		if err != nil {
			logger.WithError(err).Error("demo signing failed")
		} else {
			n.TouchAuthorization()
			logger.WithField("bytes", len(signed[0])).Info("demo message signed")
		}
	}

	// Keep running until the session ends or a signal arrives.
	select {
	case <-n.Session().Done():
		if err := n.Session().Err(); err != nil {
			logger.WithError(err).Info("session ended")
		}
	case <-ctx.Done():
	}

	return nil
}
