package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MarcoPoloResearchLab/pds/internal/auth"
	"github.com/MarcoPoloResearchLab/pds/internal/config"
	"github.com/MarcoPoloResearchLab/pds/internal/database"
	"github.com/MarcoPoloResearchLab/pds/internal/logging"
	"github.com/MarcoPoloResearchLab/pds/internal/notebook"
	"github.com/MarcoPoloResearchLab/pds/internal/server"
	"github.com/MarcoPoloResearchLab/pds/internal/snowflake"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "pds-api",
		Short: "Personal data store backend service",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)
	rootCmd.AddCommand(newTokenCommand(), newOplogCommand())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("signing-secret", "", "Bearer token signing secret; enables authentication when set")
	cmd.PersistentFlags().String("auth-issuer", defaults.GetString("auth.issuer"), "Bearer token issuer")
	cmd.PersistentFlags().String("allowed-origins", defaults.GetString("cors.allowed_origins"), "Comma separated CORS origins")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
	bindFlag(cmd, "auth.issuer", "auth-issuer")
	bindFlag(cmd, "cors.allowed_origins", "allowed-origins")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

func newTokenCommand() *cobra.Command {
	var (
		subject string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for the configured signing secret",
		RunE: func(cmd *cobra.Command, args []string) error {
			appConfig, err := config.Load(viper.GetViper())
			if err != nil {
				return err
			}
			if !appConfig.AuthEnabled() {
				return errors.New("auth.signing_secret is required to issue tokens")
			}
			issuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
				SigningSecret: []byte(appConfig.AuthSigningSecret),
				Issuer:        appConfig.AuthIssuer,
				TokenTTL:      ttl,
			})
			if err != nil {
				return err
			}
			token, expiresAt, err := issuer.IssueToken(subject)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			fmt.Fprintf(cmd.ErrOrStderr(), "expires at %s\n", expiresAt.UTC().Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "owner", "Token subject")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "Token lifetime (defaults to 24h)")
	return cmd
}

func newOplogCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "oplog <object-id>",
		Short: "Print the recorded history of one object",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			objID, err := snowflake.ParseID(args[0])
			if err != nil {
				return err
			}
			appConfig, err := config.Load(viper.GetViper())
			if err != nil {
				return err
			}
			logger, err := logging.NewLogger(appConfig.LogLevel)
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			store, closeStore, err := openStore(appConfig, logger)
			if err != nil {
				return err
			}
			defer closeStore()

			entries, err := store.ListLog(cmd.Context(), objID)
			if err != nil {
				return err
			}
			encoder := json.NewEncoder(cmd.OutOrStdout())
			for _, entry := range entries {
				line := oplogLine{
					ID:         entry.ID,
					ObjType:    entry.ObjType,
					RecordedAt: entry.ID.Time().UTC().Format(time.RFC3339Nano),
					Deleted:    entry.Deleted(),
				}
				if !entry.Deleted() {
					line.Data = json.RawMessage(entry.Data)
				}
				if err := encoder.Encode(line); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

type oplogLine struct {
	ID         snowflake.ID        `json:"id"`
	ObjType    notebook.ObjectType `json:"obj_type"`
	RecordedAt string              `json:"recorded_at"`
	Deleted    bool                `json:"deleted"`
	Data       json.RawMessage     `json:"data,omitempty"`
}

func openStore(appConfig config.AppConfig, logger *zap.Logger) (*database.Store, func(), error) {
	db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		return nil, nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, nil, err
	}
	store, err := database.NewStore(db)
	if err != nil {
		_ = sqlDB.Close()
		return nil, nil, err
	}
	return store, func() { _ = sqlDB.Close() }, nil
}

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	store, closeStore, err := openStore(appConfig, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	ids := snowflake.NewGenerator(snowflake.Config{Clock: time.Now})
	book, err := notebook.New(notebook.Config{
		Backend: store,
		IDs:     ids,
		Logger:  logger,
	})
	if err != nil {
		return err
	}
	if err := book.Initialize(ctx); err != nil {
		return err
	}

	var validator server.RequestValidator
	if appConfig.AuthEnabled() {
		tokenValidator, err := auth.NewTokenValidator(auth.TokenValidatorConfig{
			SigningSecret: []byte(appConfig.AuthSigningSecret),
			Issuer:        appConfig.AuthIssuer,
		})
		if err != nil {
			return err
		}
		validator = tokenValidator
	} else {
		logger.Warn("authentication disabled: auth.signing_secret is empty")
	}

	streamCtx, stopStreams := context.WithCancel(context.Background())
	defer stopStreams()

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Notebook:       book,
		IDs:            ids,
		Validator:      validator,
		AllowedOrigins: appConfig.AllowedOrigins,
		StreamContext:  streamCtx,
		Logger:         logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:    appConfig.HTTPAddress,
		Handler: handler,
	}
	httpServer.RegisterOnShutdown(stopStreams)

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("address", appConfig.HTTPAddress))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
