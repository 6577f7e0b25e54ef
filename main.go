package main

import (
	"context"
	"errors"
	"flag"
	"log"
	oshttp "net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"palaver/internal/api"
	"palaver/internal/auth"
	"palaver/internal/commands"
	"palaver/internal/config"
	"palaver/internal/filestore"
	"palaver/internal/http"
	"palaver/internal/hub"
	"palaver/internal/push"
	"palaver/internal/storage"

	"golang.org/x/sync/errgroup"
)

func run(ctx context.Context) error {
	addUser := flag.String("add-user", "", "Username to create (creates user with a random password and prints it)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	if *addUser != "" {
		return commands.AddUser(*addUser, cfg)
	}

	// The durable store doubles as the credential store. Without a
	// database file both messages and accounts live in process memory.
	var (
		store     storage.MessageStore
		credStore auth.CredentialStore
	)
	if cfg.DBFile != "" {
		bbStorage, err := storage.NewBboltStorage(cfg.DBFile)
		if err != nil {
			return err
		}
		store = bbStorage
		credStore = bbStorage
	} else {
		store = storage.NewMemoryStorage()
	}
	defer func() { _ = store.Close() }()

	authService, err := auth.NewAuthService(ctx, auth.Config{TokenExpiry: cfg.TokenExpiry}, credStore)
	if err != nil {
		return err
	}

	files, err := filestore.NewLocalFileStore(cfg.UploadsPath)
	if err != nil {
		return err
	}

	var (
		notifier    *push.Notifier
		hubNotifier hub.Notifier
	)
	if cfg.PushEnabled() {
		notifier = push.NewNotifier(push.Config{
			VAPIDPublicKey:  cfg.VAPIDPublicKey,
			VAPIDPrivateKey: cfg.VAPIDPrivateKey,
			Contact:         cfg.PushContact,
		})
		hubNotifier = notifier
	}

	h := hub.NewHub(store, hubNotifier, authService)

	apiHandlers := api.New(authService, h, store, files, notifier, cfg.BaseURL)
	adminServer := http.NewAdminServer(authService, cfg.AdminAddr)
	apiServer := http.NewAPIServer(authService, h, apiHandlers, cfg.APIAddr)

	g, gCtx := errgroup.WithContext(ctx)

	// Start Admin Server
	g.Go(func() error {
		err := adminServer.Start()
		if err != nil && err != oshttp.ErrServerClosed {
			return err
		}
		return nil
	})

	// Start API Server
	g.Go(func() error {
		err := apiServer.Start()
		if err != nil && err != oshttp.ErrServerClosed {
			return err
		}
		return nil
	})

	// Wait for context cancellation (signal)
	g.Go(func() error {
		<-gCtx.Done()
		log.Println("Shutting down servers...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := adminServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("Admin server shutdown error: %v", err)
		}
		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("API server shutdown error: %v", err)
		}
		return nil
	})

	return g.Wait()
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("Application error: %v", err)
	}
}
