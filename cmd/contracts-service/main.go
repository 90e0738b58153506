package main

import (
	"fmt"
	"os"

	"github.com/kipyegonline/keyman-contracts/internal/auth"
	"github.com/kipyegonline/keyman-contracts/internal/config"
	"github.com/kipyegonline/keyman-contracts/internal/db"
	"github.com/kipyegonline/keyman-contracts/internal/dispatch"
	"github.com/kipyegonline/keyman-contracts/internal/excel"
	httphandler "github.com/kipyegonline/keyman-contracts/internal/http"
	"github.com/kipyegonline/keyman-contracts/internal/http/middleware"
	"github.com/kipyegonline/keyman-contracts/internal/logger"
	"github.com/kipyegonline/keyman-contracts/internal/pdf"
	"github.com/kipyegonline/keyman-contracts/internal/repository"
	"github.com/kipyegonline/keyman-contracts/internal/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Environment)

	database, err := db.New(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect database")
	}

	contractRepo := repository.NewContractRepository(database)
	payments := dispatch.NewPaymentWebhook(cfg.Collaborators.PaymentsURL, log)
	notifier := dispatch.NewNotificationWebhook(cfg.Collaborators.NotifyURL, log)

	contractService := service.NewContractService(contractRepo, payments, notifier, cfg, log)
	exportService := service.NewExportService(contractRepo, pdf.NewGenerator(), excel.NewGenerator())

	tokenParser := auth.NewParser(cfg.Auth.AccessSecret)
	handler := httphandler.NewHandler(contractService, exportService, log)
	authMiddleware := middleware.Auth(tokenParser)
	router := httphandler.NewRouter(handler, authMiddleware, cfg.Environment)

	addr := fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port)
	log.Info().Str("addr", addr).Msg("starting contracts service")

	if err := router.Run(addr); err != nil {
		log.Error().Err(err).Msg("server stopped")
		os.Exit(1)
	}
}
