// Package pipeline wires the passes together: select work from the
// store, fan out to collectors, evaluate flags, and flush results back.
package pipeline

import (
	"time"

	"github.com/keystone-reo/distress-scanner/internal/cache"
	"github.com/keystone-reo/distress-scanner/internal/config"
	"github.com/keystone-reo/distress-scanner/internal/fema"
	"github.com/keystone-reo/distress-scanner/internal/landsat"
	"github.com/keystone-reo/distress-scanner/internal/naip"
	"github.com/keystone-reo/distress-scanner/internal/planet"
	"github.com/keystone-reo/distress-scanner/internal/schedule"
	"github.com/keystone-reo/distress-scanner/internal/sentinel"
	"github.com/keystone-reo/distress-scanner/internal/storage"
	"github.com/keystone-reo/distress-scanner/internal/store"
	"github.com/keystone-reo/distress-scanner/internal/usps"
)

// Deps are the shared services every pass draws from. Collectors a pass
// does not use may be nil.
type Deps struct {
	Store    *store.Store
	Cache    *cache.Cache
	NAIP     *naip.Client
	FEMA     *fema.Client
	Sentinel *sentinel.Client
	Landsat  *landsat.Client
	Planet   *planet.Client
	Resolver *usps.Resolver
	Uploader storage.Uploader
	Config   *config.Config
	Now      func() time.Time
}

func (d *Deps) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

// Options are the per-run knobs shared by the passes.
type Options struct {
	Filter     store.SelectFilter
	Workers    int
	FlushEvery int
	DryRun     bool
}

func (o Options) pool(cp *schedule.Checkpoint, progress *schedule.Progress) schedule.PoolOptions {
	return schedule.PoolOptions{
		Workers:    o.Workers,
		FlushEvery: o.FlushEvery,
		Checkpoint: cp,
		Progress:   progress,
	}
}
