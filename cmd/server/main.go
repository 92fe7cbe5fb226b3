// cmd/server/main.go

// 本服務提供 ATM 帳戶的開戶、刪除、查詢餘額、存款與提款 RESTful API。
// 此檔案負責載入設定、初始化 logger 與 bank.Ledger，並啟動 HTTP 伺服器；
// 收到 SIGINT/SIGTERM 時優雅關閉。狀態只存在記憶體中，重啟即清空。

package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"atm/internal/bank"
	"atm/internal/config"
	"atm/internal/server"
)

const version = "1.0.0"

func main() {
	configPath := flag.String("config", "", "path to YAML config (default "+config.DefaultPath+" if present)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}
	level, _ := cfg.Log.SlogLevel() // 已於 Validate 檢查
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level:     level,
		AddSource: cfg.Server.Debug(),
	}))
	slog.SetDefault(logger)

	opts := []bank.Option{
		bank.WithMaxAccounts(cfg.Ledger.MaxAccounts),
		bank.WithLogger(logger.With("component", "ledger")),
	}
	maxTx, hasMax, _ := cfg.Ledger.MaxAmount()
	if hasMax {
		opts = append(opts, bank.WithMaxTransactionAmount(maxTx))
	}
	ledger := bank.New(opts...)

	s := server.NewServer(ledger, server.Options{
		Version:   version,
		Logger:    logger.With("component", "http"),
		RateRPS:   cfg.RateLimit.RPS,
		RateBurst: cfg.RateLimit.Burst,

		AllowedOrigins: cfg.Server.AllowedOrigins(),
	})
	srv := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("atm server starting",
			"version", version,
			"addr", srv.Addr,
			"environment", cfg.Server.Environment,
			"max_accounts", cfg.Ledger.MaxAccounts,
			"max_transaction_amount", cfg.Ledger.MaxTransactionAmount,
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("listen", "err", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown", "err", err)
		os.Exit(1)
	}
}
