package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	httpadapter "github.com/aretw0/pitch/internal/adapters/http"
	"github.com/aretw0/pitch/internal/cli"
	"github.com/aretw0/pitch/internal/sms"
	"github.com/aretw0/pitch/internal/wake"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve [script]",
	Short: "Start the SMS webhook server and the wake scheduler",
	Long: `Serves the Twilio webhook, the JSON API and Prometheus metrics, and
periodically wakes users whose timers expired.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := openApp(cmd, args)
		if err != nil {
			return err
		}
		defer app.Close()

		cfg := app.Config
		logger := app.Logger
		if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
			cfg.Addr = addr
		}

		opts := []httpadapter.Option{
			httpadapter.WithLogger(logger),
			httpadapter.WithMetrics(app.Metrics),
			httpadapter.WithRegion(cfg.Region),
		}
		if cfg.TwilioAuthToken != "" && cfg.PublicURL != "" {
			opts = append(opts, httpadapter.WithSignatureValidation(sms.NewValidator(cfg.TwilioAuthToken), cfg.PublicURL))
		} else {
			logger.Warn("Twilio signature validation disabled (set TWILIO_AUTH_TOKEN and PITCH_PUBLIC_URL)")
		}

		var sender sms.Sender = sms.LogSender{Logger: logger}
		if cfg.TwilioEnabled() {
			sender, err = sms.NewTwilioSender(
				sms.WithAccountSID(cfg.TwilioAccountSID),
				sms.WithAuthToken(cfg.TwilioAuthToken),
				sms.WithFrom(cfg.TwilioFromNumber),
				sms.WithRegion(cfg.Region),
				sms.WithLogger(logger),
			)
			if err != nil {
				return fmt.Errorf("failed to create twilio sender: %w", err)
			}
		} else {
			logger.Warn("Twilio outbound disabled, wake-up messages are only logged")
		}

		ctx := cli.NewSignalContext(cmd.Context())
		defer ctx.Cancel()

		sweeper := wake.New(app.Engine, sender,
			wake.WithLogger(logger),
			wake.WithMetrics(app.Metrics),
			wake.WithBatch(cfg.WakeBatch),
		)
		if err := sweeper.Start(ctx, cfg.WakeSchedule); err != nil {
			return err
		}
		defer sweeper.Stop()

		srv := &http.Server{
			Addr:              cfg.Addr,
			Handler:           httpadapter.NewHandler(app.Engine, opts...),
			ReadHeaderTimeout: 10 * time.Second,
		}

		errCh := make(chan error, 1)
		go func() {
			logger.Info("Server starting", "addr", cfg.Addr, "script", cfg.Script, "store", cfg.Store)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
			close(errCh)
		}()

		select {
		case err := <-errCh:
			if err != nil {
				return fmt.Errorf("server failed: %w", err)
			}
		case <-ctx.Done():
			logger.Info("Received signal", "signal", ctx.Signal())
		}

		logger.Info("Shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}
		logger.Info("Server exited")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("addr", "", "Listen address (PITCH_ADDR, default :8080)")
}
