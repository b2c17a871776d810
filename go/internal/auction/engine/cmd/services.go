package main

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/mcdev12/primegavel/go/internal/auction/engine"
	"github.com/mcdev12/primegavel/go/internal/auction/gateway"
	"github.com/mcdev12/primegavel/go/internal/auction/lots"
	"github.com/mcdev12/primegavel/go/internal/auction/notify"
	"github.com/mcdev12/primegavel/go/internal/auction/publisher"
	"github.com/rs/zerolog/log"
)

type Services struct {
	Lots      *lots.Repository
	Engine    *engine.Engine
	Gateway   *gateway.Service
	Mailer    *notify.Mailer
	Publisher *publisher.JetStreamPublisher
}

func setupServices(ctx context.Context, config *Config, database *sql.DB) (*Services, error) {
	// Database layer → Repository layer → Engine → Gateway
	var repoOpts []lots.Option
	if config.AuctionDate != "" {
		repoOpts = append(repoOpts, lots.WithAuctionDate(config.AuctionDate))
	}
	lotsRepo := lots.NewRepository(database, repoOpts...)
	if err := lotsRepo.EnsureSchema(ctx); err != nil {
		return nil, err
	}

	services := &Services{Lots: lotsRepo}
	engineOpts := []engine.Option{}

	// Notifications
	if config.SMTP.Host != "" {
		mailer := notify.New(config.Mailer, notify.NewSMTP(config.SMTP))
		if err := mailer.ParseTemplates(); err != nil {
			return nil, fmt.Errorf("failed to parse mail templates: %w", err)
		}
		if err := mailer.Start(); err != nil {
			return nil, fmt.Errorf("failed to start mailer: %w", err)
		}
		services.Mailer = mailer
		engineOpts = append(engineOpts, engine.WithNotifier(mailer))
		log.Info().Str("smtp_host", config.SMTP.Host).Int("smtp_port", config.SMTP.Port).Msg("smtp notifications enabled")
	} else {
		engineOpts = append(engineOpts, engine.WithNotifier(notify.LogNotifier{}))
		log.Warn().Msg("SMTP_HOST not set, win notifications will only be logged")
	}

	// Domain events
	if config.NATS.Enabled {
		pub, err := publisher.NewJetStreamPublisher(ctx, config.NATS.JetStreamConfig)
		if err != nil {
			services.Close()
			return nil, fmt.Errorf("failed to create JetStream publisher: %w", err)
		}
		services.Publisher = pub
		engineOpts = append(engineOpts, engine.WithPublisher(pub))
		log.Info().Str("nats_url", config.NATS.URL).Str("stream", config.NATS.StreamName).Msg("domain event publishing enabled")
	}

	// Engine and gateway share the connection manager: the engine broadcasts
	// through it and the gateway routes inbound events to the engine.
	cm := gateway.NewConnectionManager(gateway.DefaultConnectionConfig())
	services.Engine = engine.New(config.Engine, lotsRepo, cm, engineOpts...)
	services.Gateway = gateway.NewService(cm, services.Engine, gateway.NewEngineStateProvider(services.Engine, lotsRepo))

	return services, nil
}

// Close disconnects clients, then stops the engine so in-flight finalizations
// can still notify and publish.
func (s *Services) Close() {
	if s.Gateway != nil {
		s.Gateway.CloseConnections()
	}
	if s.Engine != nil {
		s.Engine.Close()
	}
	if s.Mailer != nil {
		s.Mailer.Stop()
	}
	if s.Publisher != nil {
		if err := s.Publisher.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close JetStream publisher")
		}
	}
}
