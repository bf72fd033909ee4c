package main

import (
	"context"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/hashicorp/vault/api"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/xueqianLu/txsigner/internal/config"
	"github.com/xueqianLu/txsigner/internal/handler"
	"github.com/xueqianLu/txsigner/internal/logger"
	"github.com/xueqianLu/txsigner/internal/metrics"
	"github.com/xueqianLu/txsigner/internal/middleware"
	"github.com/xueqianLu/txsigner/internal/nonce"
	"github.com/xueqianLu/txsigner/internal/pipeline"
	"github.com/xueqianLu/txsigner/internal/server"
	"github.com/xueqianLu/txsigner/internal/signer"
	"github.com/xueqianLu/txsigner/internal/txparams"
)

func newServeCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Starts the signing proxy",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadConfig(configPath)
			if err != nil {
				return err
			}
			if err := logger.Setup(cfg.Log.Level, cfg.Log.Pretty); err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to the config file (default ./config.yaml)")
	return cmd
}

func serve(ctx context.Context, cfg *config.Config) error {
	upstream, err := rpc.DialContext(ctx, cfg.Upstream.URL)
	if err != nil {
		return errors.Wrapf(err, "failed to dial upstream %s", cfg.Upstream.URL)
	}
	defer upstream.Close()

	chainID, err := resolveChainID(ctx, upstream, cfg.Upstream.ChainID)
	if err != nil {
		return err
	}
	log.Info().Str("upstream", cfg.Upstream.URL).Str("chain_id", chainID.String()).Msg("Connected to upstream")

	keyManager, err := newKeyManager(ctx, cfg.KeyManager)
	if err != nil {
		return err
	}
	registry := signer.NewRegistry()
	if err := signer.RegisterAll(registry, keyManager); err != nil {
		return err
	}

	promRegistry := prometheus.NewRegistry()
	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		promRegistry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		m = metrics.New(promRegistry)
	}

	signing := middleware.NewSigning(middleware.SigningConfig{
		Registry:   registry,
		Assembler:  signer.NewAssembler(signer.WithMaxAttempts(cfg.Signing.MaxSignatureAttempts), signer.WithMetrics(m)),
		Completer:  txparams.NewCompleter(upstream),
		Serializer: nonce.NewSerializer(nonce.NewLockTable(), cfg.Signing.MaxNonceAttempts, m),
		Upstream:   upstream,
		ChainID:    chainID,
		Metrics:    m,
	})
	chain := pipeline.NewChain(pipeline.NewForwarder(upstream), signing)

	protect := func(h http.Handler) http.Handler { return h }
	if cfg.Auth.APIKey != "" {
		protect = middleware.NewAuthMiddleware(cfg.Auth.APIKey, cfg.Auth.APISecret).Wrap
	} else {
		log.Warn().Msg("auth.api_key is empty, JSON-RPC endpoint is unauthenticated")
	}

	mux := http.NewServeMux()
	mux.Handle("/", protect(handler.NewRPCHandler(chain)))
	mux.Handle("/accounts", protect(handler.NewAccountsHandler(registry)))
	mux.Handle("/health", handler.NewHealthHandler(registry, chainID))
	if cfg.Metrics.Enabled {
		mux.Handle("/metrics", promhttp.HandlerFor(promRegistry, promhttp.HandlerOpts{}))
	}

	return server.Run(ctx, server.NewServer(mux, cfg.Server))
}

// resolveChainID returns the configured chain id, or asks upstream when none is set.
func resolveChainID(ctx context.Context, upstream pipeline.Caller, configured uint64) (*big.Int, error) {
	if configured != 0 {
		return new(big.Int).SetUint64(configured), nil
	}
	var chainID hexutil.Big
	if err := upstream.CallContext(ctx, &chainID, "eth_chainId"); err != nil {
		return nil, errors.Wrap(err, "failed to query eth_chainId")
	}
	return chainID.ToInt(), nil
}

func newKeyManager(ctx context.Context, cfg config.KeyManagerConfig) (signer.KeyManager, error) {
	switch cfg.Type {
	case "local":
		km, err := signer.NewLocalKeyManager(cfg.Local.KeyDir, cfg.Local.Password)
		if err != nil {
			return nil, err
		}
		return km, nil
	case "vault":
		vaultConfig := api.DefaultConfig()
		if err := vaultConfig.ReadEnvironment(); err != nil {
			log.Warn().Err(err).Msg("Could not read Vault environment variables")
		}
		if cfg.Vault.Address != "" {
			vaultConfig.Address = cfg.Vault.Address
		}
		vaultClient, err := api.NewClient(vaultConfig)
		if err != nil {
			return nil, errors.Wrap(err, "failed to create Vault client")
		}
		if cfg.Vault.Token != "" {
			vaultClient.SetToken(cfg.Vault.Token)
		}
		km, err := signer.NewVaultKeyManager(ctx, vaultClient, cfg.Vault.TransitPath)
		if err != nil {
			return nil, err
		}
		return km, nil
	}
	return nil, errors.Errorf("unknown key manager type %q", cfg.Type)
}
