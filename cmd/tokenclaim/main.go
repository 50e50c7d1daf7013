package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	ucantoServer "github.com/storacha/go-ucanto/server"
	thttp "github.com/storacha/go-ucanto/transport/http"
	"golang.org/x/sync/errgroup"

	"github.com/relves/tokenclaim/internal/cli"
	"github.com/relves/tokenclaim/internal/config"
	"github.com/relves/tokenclaim/internal/storage/sqlite"
	"github.com/relves/tokenclaim/pkg/claims"
	"github.com/relves/tokenclaim/pkg/derive"
	"github.com/relves/tokenclaim/pkg/server"
	"github.com/relves/tokenclaim/pkg/ucan"
)

func main() {
	if err := cli.NewRootCommand(run).Execute(); err != nil {
		slog.Error("tokenclaim stopped", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	})
	logger := slog.New(handler)
	slog.SetDefault(logger)

	priv, err := cfg.LoadPrivateKey()
	if err != nil {
		return fmt.Errorf("failed to load keys: %w", err)
	}
	issuer, err := ucan.NewIssuer(priv)
	if err != nil {
		return err
	}

	programID := derive.ProgramID(cfg.ProgramSeed)

	// Registries are stored per authority, the ledger is shared
	storeManager := sqlite.NewStoreManager(cfg.DataPath)
	defer storeManager.CloseAll()

	ledgerStore, err := sqlite.OpenLedgerStore(cfg.DataPath, programID)
	if err != nil {
		return fmt.Errorf("failed to open ledger: %w", err)
	}
	defer ledgerStore.Close()

	svc, err := claims.NewService(claims.Config{
		Stores:           storeManager,
		Ledger:           ledgerStore,
		ProgramID:        programID,
		BitmapSize:       cfg.BitmapSize,
		AddressCacheSize: cfg.AddressCacheSize,
		Logger:           logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create claims service: %w", err)
	}

	opts := []server.Option{
		server.WithSigner(issuer.Signer()),
		server.WithClaimsService(svc),
	}
	if len(cfg.SuspendedOperators) > 0 {
		opts = append(opts, server.WithValidator(server.NewSuspendedOperators(cfg.SuspendedOperators...)))
	}
	rpc, err := server.NewServer(opts...)
	if err != nil {
		return fmt.Errorf("failed to create ucanto server: %w", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /", rpcHandler(rpc))
	server.NewHTTPHandler(svc).Register(mux)

	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	printBanner(cfg, issuer, programID.String())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		logger.Info("shutting down")
		return httpServer.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// rpcHandler serves UCAN invocations over HTTP.
func rpcHandler(rpc ucantoServer.ServerView[ucantoServer.Service]) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req := thttp.NewRequest(r.Body, r.Header)

		res, err := rpc.Request(r.Context(), req)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		for name, values := range res.Headers() {
			for _, value := range values {
				w.Header().Add(name, value)
			}
		}

		if res.Status() != 0 {
			w.WriteHeader(res.Status())
		}

		body := res.Body()
		io.Copy(w, body)
		body.Close()
	}
}

func printBanner(cfg config.Config, issuer *ucan.Issuer, programID string) {
	fmt.Println("TOKENCLAIM Service Startup")
	fmt.Println("===================================")
	fmt.Printf("Service DID: %s\n", issuer.DID())
	fmt.Printf("Program ID: %s\n", programID)
	if cfg.Ephemeral() {
		fmt.Println("Key Source: Ephemeral (generated on startup)")
	} else {
		fmt.Println("Key Source: TOKENCLAIM_PRIVATE_KEY environment variable")
	}
	fmt.Printf("Bitmap Size: %d bytes (%d nonces)\n", cfg.BitmapSize, cfg.BitmapSize*8)
	fmt.Println()
	fmt.Println("UCAN RPC Endpoint:")
	fmt.Printf("  POST http://localhost:%s/\n", cfg.Port)
	fmt.Println()
	fmt.Println("UCAN Capabilities:")
	fmt.Println("  claims/create    - Create a campaign registry")
	fmt.Println("  claims/claim     - Redeem a nonce")
	fmt.Println("  claims/status    - Query a nonce")
	fmt.Println("  claims/revoke    - Revoke an operator delegation")
	fmt.Println()
	fmt.Println("Registry API:")
	fmt.Printf("  GET http://localhost:%s/registries/{authority}/{campaignID}\n", cfg.Port)
	fmt.Printf("  GET http://localhost:%s/registries/{authority}/{campaignID}/nonces/{nonce}\n", cfg.Port)
	fmt.Printf("  GET http://localhost:%s/registries/{authority}/{campaignID}/events\n", cfg.Port)
	fmt.Println()
}
