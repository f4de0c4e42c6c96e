package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"wellspring/api/internal/app"
	"wellspring/api/internal/board"
	"wellspring/api/internal/config"
	"wellspring/api/internal/contract"
	"wellspring/api/internal/contractrepo"
	"wellspring/api/internal/creds"
	"wellspring/api/internal/drive"
	"wellspring/api/internal/executor"
	"wellspring/api/internal/mailer"
	"wellspring/api/internal/messenger"
	"wellspring/api/internal/search"
	"wellspring/api/internal/store"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	if err := cfg.ValidateBoard(); err != nil {
		log.Fatalf("board configuration invalid: %v", err)
	}

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		log.Fatalf("migrations failed: %v", err)
	}

	if err := os.MkdirAll(cfg.ContractReposDir, 0o755); err != nil {
		log.Fatalf("failed to create contract repos dir: %v", err)
	}

	dataStore := store.NewPostgresStore(db)
	historyService := contractrepo.New(cfg.ContractReposDir)

	pgfts := search.NewPgFTS(db)
	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
		defer meiliClient.Close()
	}
	searchService := search.NewService(meiliClient, pgfts)
	go searchService.ReindexAllFromPG(ctx)

	credsProvider := creds.NewOAuthProvider(creds.Config{
		TokenURL:     cfg.TokenURL,
		ClientID:     cfg.TokenClientID,
		ClientSecret: cfg.TokenClientSecret,
		RefreshToken: cfg.TokenRefreshToken,
	})

	var uploader contract.Uploader
	var fileStore executor.FileStore
	if strings.TrimSpace(cfg.DriveEndpoint) != "" {
		driveStore, err := drive.New(drive.Config{
			Endpoint:  cfg.DriveEndpoint,
			AccessKey: cfg.DriveAccessKey,
			SecretKey: cfg.DriveSecretKey,
			Bucket:    cfg.DriveBucket,
			UseSSL:    cfg.DriveUseSSL,
			RefreshKeys: func() (string, string, error) {
				// Re-read the environment so a key rotation lands without a
				// restart.
				fresh := config.Load()
				return fresh.DriveAccessKey, fresh.DriveSecretKey, nil
			},
		})
		if err != nil {
			log.Fatalf("drive client failed: %v", err)
		}
		if err := driveStore.EnsureBucket(ctx); err != nil {
			log.Printf("WARNING: contract bucket check failed (uploads may fail): %v", err)
		}
		uploader = driveStore
		fileStore = driveStore
	} else {
		log.Printf("drive: no endpoint configured, contract uploads disabled")
	}
	generator := contract.NewGenerator(uploader, cfg.ContractsFolder)

	mailClient := mailer.New(mailer.Config{BaseURL: cfg.MailAPIURL, Address: cfg.MailAddress}, credsProvider)
	chatClient := messenger.New(messenger.Config{BaseURL: cfg.MessagingAPIURL, Token: cfg.MessagingToken})

	var boardSync *board.Sync
	if strings.TrimSpace(cfg.BoardAPIURL) != "" {
		boardClient := board.NewClient(board.ClientConfig{BaseURL: cfg.BoardAPIURL, Token: cfg.BoardToken})
		var groupCache *board.GroupCache
		if strings.TrimSpace(cfg.RedisURL) != "" {
			groupCache, err = board.NewGroupCache(cfg.RedisURL)
			if err != nil {
				log.Printf("WARNING: board group cache unavailable, every lookup will hit the API: %v", err)
			} else {
				defer groupCache.Close()
			}
		}
		boardSync = board.NewSync(boardClient, groupCache, cfg.BoardID, cfg.Board)
		log.Printf("board: syncing to board %s", cfg.BoardID)
	} else {
		log.Printf("board: not configured, milestone sync disabled")
	}

	exec := &executor.Executor{
		Store:     dataStore,
		Contracts: generator,
		Mail:      mailClient,
		Files:     fileStore,
		Chat:      chatClient,
		Board:     boardSync,
		History:   historyService,
		Index:     searchService,

		OrgName:         cfg.OrgName,
		OrgPrefix:       cfg.OrgPrefix,
		ContractsFolder: cfg.ContractsFolder,
		AccountingUser:  cfg.AccountingUser,
	}

	service := app.New(cfg, dataStore, exec, boardSync, historyService, searchService)
	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin, cfg.SyncToken)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("Wellspring API listening on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}
