package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/monedita/pkg/storage"
)

const defaultConnectTimeout = 10 * time.Second

// Cluster is a primary plus optional read replicas.
//
// Anything that feeds a charge or a limit decision reads from the primary.
// Reporting reads (user listings, billing history) go through Reader, which
// rotates over the replicas that passed their last Ping and falls back to
// the primary when none did.
type Cluster struct {
	primary  *sql.DB
	replicas []*replica
	next     atomic.Uint32
}

type replica struct {
	db      *sql.DB
	healthy atomic.Bool
}

// Dial opens the primary and every replica in cfg. An unreachable primary is
// fatal; unreachable replicas are logged and left out.
func Dial(ctx context.Context, cfg storage.Config, logger *logrus.Logger) (*Cluster, error) {
	if logger == nil {
		logger = logrus.New()
	}

	primary, err := openPool(ctx, cfg, cfg.PostgresURL, cfg.PostgresMaxConns)
	if err != nil {
		return nil, fmt.Errorf("primary: %w", err)
	}
	c := &Cluster{primary: primary}

	// Replicas serve only reporting reads, so they get half the pool.
	replicaConns := max(2, cfg.PostgresMaxConns/2)
	for i, url := range cfg.PostgresReplicaURLs {
		db, err := openPool(ctx, cfg, url, replicaConns)
		if err != nil {
			logger.WithError(err).WithField("replica", i).Warn("replica unreachable, reads stay on primary")
			continue
		}
		r := &replica{db: db}
		r.healthy.Store(true)
		c.replicas = append(c.replicas, r)
	}

	logger.WithFields(logrus.Fields{
		"replicas":  len(c.replicas),
		"max_conns": cfg.PostgresMaxConns,
	}).Info("postgres cluster ready")
	return c, nil
}

func openPool(ctx context.Context, cfg storage.Config, url string, maxConns int) (*sql.DB, error) {
	db, err := sql.Open("postgres", url)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(cfg.PostgresMinConns)
	db.SetConnMaxLifetime(cfg.PostgresMaxLifetime)
	db.SetConnMaxIdleTime(cfg.PostgresMaxIdleTime)

	timeout := cfg.PostgresTimeout
	if timeout <= 0 {
		timeout = defaultConnectTimeout
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// Primary is the handle for writes and consistent reads
func (c *Cluster) Primary() *sql.DB {
	return c.primary
}

// Reader picks a healthy replica round-robin, or the primary
func (c *Cluster) Reader() *sql.DB {
	n := len(c.replicas)
	if n == 0 {
		return c.primary
	}
	start := int(c.next.Add(1))
	for i := 0; i < n; i++ {
		if r := c.replicas[(start+i)%n]; r.healthy.Load() {
			return r.db
		}
	}
	return c.primary
}

// Ping fails when the primary is down. Replica failures only take that
// replica out of Reader's rotation until a later Ping succeeds.
func (c *Cluster) Ping(ctx context.Context) error {
	if err := c.primary.PingContext(ctx); err != nil {
		return fmt.Errorf("primary: %w", err)
	}
	for _, r := range c.replicas {
		r.healthy.Store(r.db.PingContext(ctx) == nil)
	}
	return nil
}

// HealthyReplicas reports how many replicas are in rotation
func (c *Cluster) HealthyReplicas() int {
	n := 0
	for _, r := range c.replicas {
		if r.healthy.Load() {
			n++
		}
	}
	return n
}

// Close closes every pool
func (c *Cluster) Close() error {
	errs := []error{c.primary.Close()}
	for _, r := range c.replicas {
		errs = append(errs, r.db.Close())
	}
	return errors.Join(errs...)
}
