// Package runner runs a single job for a set of tenants, each tenant on its own database connection.
package runner

import (
	"context"
	"fmt"
	"io"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-pkgz/syncs"
	"github.com/hashicorp/go-multierror"

	"github.com/umputun/sqlfront/pkg/config"
	"github.com/umputun/sqlfront/pkg/db"
	"github.com/umputun/sqlfront/pkg/report"
)

//go:generate moq -out mocks/connector.go -pkg mocks -skip-ensure -fmt goimports . Connector

// Connector makes a database connection for the tenant, caller must close it
type Connector interface {
	Connect(ctx context.Context, tenant config.Tenant) (*db.Conn, error)
}

// Job is a unit of work done for a single tenant. Output written to out is tagged by tenant name.
type Job func(ctx context.Context, conn *db.Conn, out io.Writer) error

// Process runs a job for a set of tenants, in parallel with limited concurrency
type Process struct {
	Concurrency int
	Connector   Connector
	Writer      *report.Writer
}

// ProcResp holds the information about processed tenants
type ProcResp struct {
	Tenants int
	Failed  int
}

// Run runs the job for all tenants. Each tenant gets its own connection, closed when the job is done.
// Failure of one tenant doesn't stop the others, all errors are collected and returned together.
func (p *Process) Run(ctx context.Context, tenants []config.Tenant, job Job) (ProcResp, error) {
	log.Printf("[DEBUG] run job for %d tenants, concurrency %d", len(tenants), p.Concurrency)
	var failed int32
	lock := sync.Mutex{}
	errs := new(multierror.Error)

	concurrency := p.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}
	wg := syncs.NewErrSizedGroup(concurrency, syncs.Context(ctx), syncs.Preemptive)
	for _, tenant := range tenants {
		wg.Go(func() error {
			if err := p.runForTenant(ctx, tenant, job); err != nil {
				atomic.AddInt32(&failed, 1)
				lock.Lock()
				errs = multierror.Append(errs, fmt.Errorf("tenant %s: %w", tenant.Name, err))
				lock.Unlock()
				p.Writer.WithTenant(tenant.Name).Printf("failed: %v", err)
				return err
			}
			return nil
		})
	}
	if err := wg.Wait(); err != nil && errs.Len() == 0 {
		return ProcResp{Tenants: len(tenants)}, err // context canceled before any job started
	}
	return ProcResp{Tenants: len(tenants), Failed: int(atomic.LoadInt32(&failed))}, errs.ErrorOrNil()
}

func (p *Process) runForTenant(ctx context.Context, tenant config.Tenant, job Job) error {
	st := time.Now()
	conn, err := p.Connector.Connect(ctx, tenant)
	if err != nil {
		return fmt.Errorf("can't connect: %w", err)
	}
	defer conn.Close()

	if err := job(ctx, conn, p.Writer.WithTenant(tenant.Name)); err != nil {
		return err
	}
	log.Printf("[DEBUG] job for tenant %s completed in %v", tenant.Name, time.Since(st).Truncate(time.Millisecond))
	return nil
}

// ProfileConnector opens connections using profile settings, tenant defines prefix and database
type ProfileConnector struct {
	Profile *config.Profile
}

// Connect opens connection for the tenant
func (c *ProfileConnector) Connect(ctx context.Context, tenant config.Tenant) (*db.Conn, error) {
	dsn, err := c.Profile.MakeDSN(tenant)
	if err != nil {
		return nil, fmt.Errorf("can't make dsn for tenant %s: %w", tenant.Name, err)
	}
	loc, err := c.Profile.TimeLocation()
	if err != nil {
		return nil, err
	}
	return db.Open(ctx, dsn, db.WithPrefix(tenant.Prefix), db.WithLocation(loc))
}
