// Package registry wires every bundled component into a runtime.
package registry

import (
	"fmt"

	"github.com/Alwanly/conduit/internal/component/cache"
	"github.com/Alwanly/conduit/internal/component/direct"
	"github.com/Alwanly/conduit/internal/component/file"
	"github.com/Alwanly/conduit/internal/component/graphql"
	"github.com/Alwanly/conduit/internal/component/http"
	logcomp "github.com/Alwanly/conduit/internal/component/log"
	"github.com/Alwanly/conduit/internal/component/minio"
	"github.com/Alwanly/conduit/internal/component/mock"
	"github.com/Alwanly/conduit/internal/component/nats"
	"github.com/Alwanly/conduit/internal/component/platformhttp"
	"github.com/Alwanly/conduit/internal/component/redis"
	"github.com/Alwanly/conduit/internal/component/s3"
	"github.com/Alwanly/conduit/internal/component/scheduler"
	"github.com/Alwanly/conduit/internal/component/seda"
	"github.com/Alwanly/conduit/internal/component/sql"
	"github.com/Alwanly/conduit/internal/component/timer"
	"github.com/Alwanly/conduit/internal/component/websocket"
	"github.com/Alwanly/conduit/internal/config"
	"github.com/Alwanly/conduit/internal/core"
	"github.com/Alwanly/conduit/internal/engine"
	"github.com/Alwanly/conduit/pkg/database"
	"github.com/Alwanly/conduit/pkg/pubsub"
)

// Components builds the bundled components keyed by scheme. http and https
// share one instance.
func Components(cfg *config.Config, c *engine.Context) map[string]core.Component {
	log := c.Logger()
	web := http.New(log)

	return map[string]core.Component{
		direct.Scheme:    direct.New(log),
		seda.Scheme:      seda.New(log),
		timer.Scheme:     timer.New(log),
		scheduler.Scheme: scheduler.New(log),
		logcomp.Scheme:   logcomp.New(log),
		mock.Scheme:      mock.New(),
		cache.Scheme:     cache.New(log),
		file.Scheme:      file.New(log),
		http.Scheme:      web,
		http.SchemeTLS:   web,
		graphql.Scheme:   graphql.New(log),
		websocket.Scheme: websocket.New(log),
		platformhttp.Scheme: platformhttp.New(log,
			platformhttp.WithAddress(cfg.HTTP.Addr),
			platformhttp.WithBodyLimit(cfg.HTTP.BodyLimit),
		),
		redis.Scheme: redis.New(log, redis.WithDefaults(pubsub.RedisConfig{
			Host:     cfg.Redis.Host,
			Port:     cfg.Redis.Port,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})),
		nats.Scheme: nats.New(log, nats.WithServers(cfg.NATS.URL)),
		sql.Scheme: sql.New(log, sql.WithDatabase(database.Config{
			Dialect:         cfg.SQL.Dialect,
			DSN:             cfg.SQL.DSN,
			MaxOpenConns:    cfg.SQL.MaxOpenConns,
			MaxIdleConns:    cfg.SQL.MaxIdleConns,
			ConnMaxLifetime: cfg.SQL.ConnMaxLifetime,
			LogLevel:        cfg.SQL.LogLevel,
		})),
		s3.Scheme: s3.New(log, s3.WithCredentials(s3.Credentials{
			Region:       cfg.AWS.Region,
			AccessKey:    cfg.AWS.AccessKey,
			SecretKey:    cfg.AWS.SecretKey,
			Endpoint:     cfg.AWS.EndpointOverride,
			UsePathStyle: cfg.AWS.UsePathStyle,
		})),
		minio.Scheme: minio.New(log, minio.WithServer(minio.Server{
			Endpoint:  cfg.MinIO.Endpoint,
			AccessKey: cfg.MinIO.AccessKey,
			SecretKey: cfg.MinIO.SecretKey,
			Region:    cfg.MinIO.Region,
			Secure:    cfg.MinIO.Secure,
		})),
	}
}

// Register adds every bundled component to c.
func Register(cfg *config.Config, c *engine.Context) error {
	for scheme, comp := range Components(cfg, c) {
		if err := c.AddComponent(scheme, comp); err != nil {
			return fmt.Errorf("failed to register %s: %w", scheme, err)
		}
	}
	return nil
}
