package main

import (
	"context"
	"fmt"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"

	"github.com/optimist-network/coordinator/metrics"
	"github.com/optimist-network/coordinator/optimist-app/config"
	apisrv "github.com/optimist-network/coordinator/server/api"
	apimw "github.com/optimist-network/coordinator/server/api/middleware"
	"github.com/optimist-network/coordinator/x/contracts"
	"github.com/optimist-network/coordinator/x/node"
	"github.com/optimist-network/coordinator/x/prover"
	"github.com/optimist-network/coordinator/x/submitter"
)

// App represents the coordinator application
type App struct {
	cfg  *config.Config
	log  zerolog.Logger
	node *node.Node

	apiServer     *apisrv.Server
	metricsServer *http.Server

	shutdownFns []func() error

	cancel context.CancelFunc
}

// NewApp creates a new application instance
func NewApp(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*App, error) {
	app := &App{
		cfg:         cfg,
		log:         log.With().Str("component", "app").Logger(),
		shutdownFns: make([]func() error, 0),
	}

	if err := app.initialize(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize app: %w", err)
	}

	return app, nil
}

// initialize sets up the chain clients, the coordinator node, the HTTP API
// and the metrics endpoint.
func (a *App) initialize(ctx context.Context) error {
	ethClient, err := ethclient.DialContext(ctx, a.cfg.Chain.RPCEndpoint)
	if err != nil {
		return fmt.Errorf("failed to dial chain RPC %s: %w", a.cfg.Chain.RPCEndpoint, err)
	}
	a.shutdownFns = append(a.shutdownFns, func() error {
		ethClient.Close()
		return nil
	})

	binding, err := contracts.NewRollupBinding(a.cfg.Chain.RollupContract)
	if err != nil {
		return fmt.Errorf("failed to bind rollup contract: %w", err)
	}
	reader := contracts.NewChainReader(ethClient, binding)

	proverClient, err := prover.NewHTTPClient(a.cfg.Chain.ProverBaseURL, nil, a.log)
	if err != nil {
		return fmt.Errorf("failed to create prover client: %w", err)
	}

	signers, err := a.buildSigners()
	if err != nil {
		return err
	}

	nodeCfg := node.Config{
		Context:          ctx,
		Logger:           a.log,
		Self:             common.HexToAddress(a.cfg.Node.Self),
		ContractAddress:  a.cfg.Chain.RollupContract,
		ChallengeWindow:  a.cfg.Node.ChallengeWindow,
		ResubscribeDelay: a.cfg.Node.ResubscribeDelay,
		Assembler:        a.cfg.Assembler,
		Submitter:        a.cfg.Submitter,
		Subscription:     a.cfg.Observer,
		Reader:           reader,
		Prover:           proverClient,
		EthClient:        ethClient,
		Signers:          signers,
	}

	n, err := node.New(nodeCfg)
	if err != nil {
		return fmt.Errorf("failed to create coordinator node: %w", err)
	}
	a.node = n

	// HTTP API
	apiCfg := apisrv.Config{
		ListenAddr:        a.cfg.API.ListenAddr,
		ReadHeaderTimeout: a.cfg.API.ReadHeaderTimeout,
		ReadTimeout:       a.cfg.API.ReadTimeout,
		WriteTimeout:      a.cfg.API.WriteTimeout,
		IdleTimeout:       a.cfg.API.IdleTimeout,
		MaxHeaderBytes:    a.cfg.API.MaxHeaderBytes,
	}
	s := apisrv.NewServer(apiCfg, a.log)
	s.Use(apimw.RequestID())
	s.Use(apimw.Recover(a.log))
	s.Use(apimw.Logger(a.log))

	apisrv.NewHandler(n).Register(s)
	a.apiServer = s

	// Metrics endpoint on its own listener
	if a.cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle(a.cfg.Metrics.Path, metrics.Handler())
		a.metricsServer = &http.Server{
			Addr:              fmt.Sprintf(":%d", a.cfg.Metrics.Port),
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
	}

	return nil
}

// buildSigners creates a signer per configured role key. Roles without keys
// are left unsigned and the node refuses their submissions.
func (a *App) buildSigners() (map[submitter.Role]submitter.Signer, error) {
	chainID := new(big.Int).SetUint64(a.cfg.Submitter.ChainID)
	keys := map[submitter.Role]string{
		submitter.RoleProposer:   a.cfg.Keys.ProposerPkHex,
		submitter.RoleChallenger: a.cfg.Keys.ChallengerPkHex,
		submitter.RoleLiquidity:  a.cfg.Keys.LiquidityPkHex,
	}

	signers := make(map[submitter.Role]submitter.Signer)
	for role, keyHex := range keys {
		if strings.TrimSpace(keyHex) == "" {
			continue
		}
		signer, err := submitter.NewLocalECDSASignerFromHex(chainID, keyHex)
		if err != nil {
			return nil, fmt.Errorf("invalid key for role %s: %w", role, err)
		}
		signers[role] = signer
		a.log.Info().Str("role", string(role)).Str("from", signer.From().Hex()).Msg("Signer configured")
	}
	return signers, nil
}

// Run starts the application and blocks until shutdown.
func (a *App) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	if err := a.node.Start(runCtx); err != nil {
		return fmt.Errorf("failed to start coordinator node: %w", err)
	}

	go func() {
		if err := a.apiServer.Start(runCtx); err != nil {
			a.log.Error().Err(err).Msg("API server error")
		}
	}()

	if a.metricsServer != nil {
		go func() {
			a.log.Info().Str("addr", a.metricsServer.Addr).Msg("Metrics server starting")
			if err := a.metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				a.log.Error().Err(err).Msg("Metrics server error")
			}
		}()
	}

	return a.runWithGracefulShutdown(runCtx)
}

// runWithGracefulShutdown handles shutdown signals.
func (a *App) runWithGracefulShutdown(ctx context.Context) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	a.log.Info().Msg("Optimist coordinator started successfully")

	select {
	case <-ctx.Done():
		a.log.Info().Msg("Context canceled, initiating shutdown")
	case sig := <-sigCh:
		a.log.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
	}

	if a.cancel != nil {
		a.cancel()
	}

	return a.shutdown()
}

// shutdown stops the node, the HTTP servers, and runs shutdown functions.
func (a *App) shutdown() error {
	a.log.Info().Msg("Initiating graceful shutdown")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if a.metricsServer != nil {
		if err := a.metricsServer.Shutdown(shutdownCtx); err != nil {
			a.log.Error().Err(err).Msg("Metrics server shutdown error")
		}
	}

	if err := a.node.Stop(shutdownCtx); err != nil {
		a.log.Error().Err(err).Msg("Coordinator node shutdown error")
		return err
	}

	for _, fn := range a.shutdownFns {
		if err := fn(); err != nil {
			a.log.Error().Err(err).Msg("Shutdown function error")
		}
	}

	a.log.Info().Msg("Graceful shutdown complete")
	return nil
}
