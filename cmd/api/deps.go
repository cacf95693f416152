package main

import (
	"context"
	"database/sql"
	"fmt"

	"patient-passport-access/internal/adapters/affiliations/hospitaldir"
	"patient-passport-access/internal/adapters/auth/jwtauth"
	"patient-passport-access/internal/adapters/auth/odin"
	"patient-passport-access/internal/adapters/mail"
	"patient-passport-access/internal/adapters/notify/kafkanotify"
	"patient-passport-access/internal/adapters/notify/lognotify"
	pg "patient-passport-access/internal/adapters/storage/postgres"
	"patient-passport-access/internal/config"
	"patient-passport-access/internal/platform/logger"
	"patient-passport-access/internal/ports/affiliations"
	"patient-passport-access/internal/ports/auth"
	"patient-passport-access/internal/ports/notify"

	"github.com/redis/go-redis/v9"
)

// deps son los recursos externos del proceso, elegidos según config.
type deps struct {
	DB           *sql.DB
	Redis        redis.UniversalClient
	Verifier     auth.AuthVerifier
	Mailer       notify.Mailer
	Notifier     notify.Notifier
	Affiliations affiliations.Resolver

	closers []func() error
}

func (d *deps) Close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		_ = d.closers[i]()
	}
}

// openDeps: con full=false solo abre la base (migrate / sweep).
func openDeps(ctx context.Context, cfg *config.Config, log logger.Logger, full bool) (*deps, error) {
	d := &deps{}

	if cfg.Database.DSN != "" {
		db, err := pg.Open(cfg.Database.DSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		d.closers = append(d.closers, db.Close)
		d.DB = db
		if err := pg.Migrate(ctx, db); err != nil {
			d.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
	} else {
		log.Warn("database.dsn not set, using in-memory storage", nil)
	}

	if !full {
		return d, nil
	}

	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		d.closers = append(d.closers, rdb.Close)
		if err := rdb.Ping(ctx).Err(); err != nil {
			d.Close()
			return nil, fmt.Errorf("redis ping: %w", err)
		}
		d.Redis = rdb
	}

	switch {
	case cfg.Auth.JWTSecret != "":
		d.Verifier = jwtauth.NewVerifier(cfg.Auth.JWTSecret, cfg.Auth.JWTIssuer)
	case cfg.Auth.OdinBaseURL != "":
		c, err := odin.NewClient(odin.Config{BaseURL: cfg.Auth.OdinBaseURL, APIKey: cfg.Auth.OdinAPIKey})
		if err != nil {
			d.Close()
			return nil, err
		}
		d.Verifier = odin.NewVerifier(c)
	default:
		log.Warn("no auth verifier configured, accepting X-Debug-* identity headers", nil)
	}

	if cfg.Mail.BaseURL != "" {
		m, err := mail.NewHTTPMailer(mail.HTTPConfig{
			BaseURL: cfg.Mail.BaseURL,
			APIKey:  cfg.Mail.APIKey,
			From:    cfg.Mail.From,
		})
		if err != nil {
			d.Close()
			return nil, err
		}
		d.Mailer = m
	} else {
		d.Mailer = mail.NewLogMailer(log)
	}

	if len(cfg.Kafka.Brokers) > 0 {
		p, err := kafkanotify.New(kafkanotify.Config{Brokers: cfg.Kafka.Brokers, Topic: cfg.Kafka.Topic}, log)
		if err != nil {
			d.Close()
			return nil, err
		}
		d.closers = append(d.closers, p.Close)
		d.Notifier = p
	} else {
		d.Notifier = lognotify.New(log)
	}

	if cfg.Affiliations.BaseURL != "" {
		c, err := hospitaldir.NewClient(hospitaldir.Config{BaseURL: cfg.Affiliations.BaseURL, APIKey: cfg.Affiliations.APIKey})
		if err != nil {
			d.Close()
			return nil, err
		}
		d.Affiliations = c
	}

	return d, nil
}
