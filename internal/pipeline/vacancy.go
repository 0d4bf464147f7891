package pipeline

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/keystone-reo/distress-scanner/internal/domain"
	"github.com/keystone-reo/distress-scanner/internal/evaluate"
	"github.com/keystone-reo/distress-scanner/internal/govern"
	"github.com/keystone-reo/distress-scanner/internal/pkg/logger"
	"github.com/keystone-reo/distress-scanner/internal/schedule"
	"github.com/keystone-reo/distress-scanner/internal/usps"
)

// VacancyOptions are the pass-2.25 specific knobs on top of Options.
type VacancyOptions struct {
	MinComposite float64 // only check leads at or above this composite
	CacheDays    int     // re-check ok rows older than this
	Accounts     string  // credential index spec, e.g. "1,3"; empty = all
	DelayMinSec  float64 // override config when > 0
	DelayMaxSec  float64
}

type address struct {
	Street string
	City   string
	State  string
	Zip    string
}

// PassVacancy is pass 2.25: USPS vacancy checks for the top leads. One
// consumer per credential, each paced by its own governor; results are
// journaled on flush failure so burned quota is never lost.
func PassVacancy(ctx context.Context, deps *Deps, opts Options, vopts VacancyOptions) (schedule.Summary, error) {
	release, err := schedule.AcquireLock(deps.Config.Scan.LockFile)
	if err != nil {
		return schedule.Summary{}, err
	}
	defer release()

	creds, err := deps.Config.USPS.SelectCredentials(vopts.Accounts)
	if err != nil {
		return schedule.Summary{}, err
	}
	if len(creds) == 0 {
		return schedule.Summary{}, fmt.Errorf("no usps credentials configured")
	}

	parcels, err := deps.Store.SelectNeedingUSPS(ctx, opts.Filter, vopts.MinComposite, vopts.CacheDays)
	if err != nil {
		return schedule.Summary{}, err
	}
	log.Printf("[Vacancy] %d leads >= %.1f composite in %s, %d accounts",
		len(parcels), vopts.MinComposite, opts.Filter.County, len(creds))
	if len(parcels) == 0 {
		return schedule.Summary{}, nil
	}

	addrs, checkable := deps.resolveAddresses(ctx, parcels)
	log.Printf("[Vacancy] %d checkable after address resolution (%d skipped)",
		len(checkable), len(parcels)-len(checkable))
	if len(checkable) == 0 {
		return schedule.Summary{}, nil
	}

	journal := schedule.NewJournal(deps.Config.Scan.JournalDir)
	delayMin, delayMax := deps.Config.USPS.DelayMinSec, deps.Config.USPS.DelayMaxSec
	if vopts.DelayMinSec > 0 {
		delayMin = vopts.DelayMinSec
	}
	if vopts.DelayMaxSec > 0 {
		delayMax = vopts.DelayMaxSec
	}

	vlog := logger.Component("vacancy")
	consumers := make([]schedule.ConsumerFunc[domain.VacancyResult], len(creds))
	for i, cred := range creds {
		client := usps.NewClient(deps.Config.USPS, cred, govern.New(delayMin, delayMax))
		consumers[i] = deps.vacancyConsumer(client, addrs)
		vlog.Info("consumer ready",
			"account", cred.Index,
			"client_id", cred.ClientID,
			"delay_min_sec", delayMin,
			"delay_max_sec", delayMax)
	}

	cp := schedule.NewCheckpoint(deps.Config.Scan.CheckpointDir, "usps_enrich")
	progress := schedule.NewProgress(len(checkable), 10)

	summary, err := schedule.RunConsumers(ctx, schedule.ConsumerOptions{
		FlushEvery: opts.FlushEvery,
		Checkpoint: cp,
		Progress:   progress,
	}, checkable, consumers,
		func(batch []domain.VacancyResult) error {
			return deps.flushVacancy(ctx, batch, opts.DryRun)
		},
		func(batch []domain.VacancyResult) {
			if err := schedule.Append(journal, stripInternal(batch)); err != nil {
				log.Printf("[Vacancy] journal write failed, %d results LOST: %v", len(batch), err)
			}
		})

	cp.MarkComplete(map[string]int{
		"processed": summary.Processed,
		"flushed":   summary.Flushed,
	}, summary.Total, summary.Elapsed)
	return summary, err
}

// resolveAddresses splits each situs and fills missing city/zip from
// Nominatim, then from the mailing address when it is in the same state
// (out-of-state mailing means an investor, not the property). Rows that
// still lack both city and zip cannot be checked.
func (d *Deps) resolveAddresses(ctx context.Context, parcels []domain.Parcel) (map[string]address, []domain.Parcel) {
	addrs := make(map[string]address, len(parcels))
	var checkable []domain.Parcel
	nominatimCalls := 0

	for _, p := range parcels {
		if strings.TrimSpace(p.SitusAddress) == "" {
			log.Printf("[Vacancy] skip %s: no_situs", p.ParcelID)
			continue
		}

		parsed := usps.SplitSitus(p.SitusAddress, p.State, "")
		street := strings.TrimSpace(parsed.Street)
		if street == "" {
			log.Printf("[Vacancy] skip %s: no_street", p.ParcelID)
			continue
		}
		city, state, zip := parsed.City, parsed.State, parsed.Zip
		if state == "" {
			state = p.State
		}

		if city == "" && zip == "" && d.Resolver != nil && p.County != "" && state != "" {
			lat, lng := p.Lat, p.Lng
			geo := d.Resolver.ResolveCityZip(ctx, street, p.County, state, &lat, &lng)
			if geo.Source == "nominatim" {
				nominatimCalls++
			}
			if geo.City != "" {
				city = geo.City
			}
			if geo.Zip != "" {
				zip = geo.Zip
			}
		}

		if city == "" && zip == "" {
			if strings.ToUpper(strings.TrimSpace(p.MailingState)) == strings.ToUpper(state) {
				city = strings.TrimSpace(p.MailingCity)
				zip = strings.TrimSpace(p.MailingZip)
				if len(zip) > 5 {
					zip = zip[:5]
				}
			}
		}

		if city == "" && zip == "" {
			log.Printf("[Vacancy] skip %s: no_city_no_zip", p.ParcelID)
			continue
		}

		addrs[p.ParcelID] = address{Street: street, City: city, State: state, Zip: zip}
		checkable = append(checkable, p)
	}

	if nominatimCalls > 0 {
		log.Printf("[Vacancy] %d addresses resolved via nominatim", nominatimCalls)
	}
	return addrs, checkable
}

func (d *Deps) vacancyConsumer(client *usps.Client, addrs map[string]address) schedule.ConsumerFunc[domain.VacancyResult] {
	return func(ctx context.Context, p domain.Parcel) (domain.VacancyResult, bool, bool) {
		addr := addrs[p.ParcelID]
		check := client.CheckAddress(ctx, addr.Street, addr.City, addr.State, addr.Zip)
		if check.Err == "canceled" {
			return domain.VacancyResult{}, false, false
		}

		result := domain.VacancyResult{
			ParcelID:     p.ParcelID,
			County:       p.County,
			State:        p.State,
			InputAddress: addr.Street,
			Vacant:       check.Vacant,
			DPVConfirmed: check.DPVConfirmed,
			Business:     check.Business,
			USPSAddress:  check.Address,
			USPSCity:     check.City,
			USPSState:    check.State,
			USPSZip:      check.Zip,
			USPSZip4:     check.Zip4,
			CarrierRoute: check.CarrierRoute,
			Mismatch:     check.Mismatch,
			ErrorCode:    check.Err,
			Account:      client.Account(),
			Raw:          check.Raw,
		}

		vac := evaluate.Vacancy{
			Present:      check.Err == "",
			Vacant:       check.Vacant,
			DPVConfirmed: check.DPVConfirmed,
			Mismatch:     check.Mismatch,
		}
		if flag, ok := evaluate.USPSVacancy(&vac); ok {
			result.FlagVacancy = true
			result.Confidence = &flag.Confidence
		}
		return result, true, check.Err != ""
	}
}

func (d *Deps) flushVacancy(ctx context.Context, batch []domain.VacancyResult, dryRun bool) error {
	if dryRun {
		for _, r := range batch {
			state := "unknown"
			if r.Vacant != nil {
				state = "occupied"
				if *r.Vacant {
					state = "VACANT"
				}
			}
			log.Printf("[Vacancy] DRY %s %s err=%q", r.ParcelID, state, r.ErrorCode)
		}
		return nil
	}

	counts, err := d.Store.UpdateVacancyResults(ctx, batch)
	if err != nil {
		return err
	}
	log.Printf("[Vacancy] flushed %d (ok=%d transient=%d permanent=%d)",
		counts.Total(), counts.Success, counts.Transient, counts.Permanent)

	for _, r := range batch {
		if err := d.Store.InsertVacancyAudit(ctx, r); err != nil {
			log.Printf("[Vacancy] audit insert failed for %s: %v", r.ParcelID, err)
		}
	}
	return nil
}

// stripInternal drops the raw API payloads before journaling; replay only
// needs the parsed columns.
func stripInternal(batch []domain.VacancyResult) []domain.VacancyResult {
	out := make([]domain.VacancyResult, len(batch))
	for i, r := range batch {
		r.Raw = nil
		r.Account = 0
		out[i] = r
	}
	return out
}

// ReplayVacancy lands journaled results from a previous run into the
// database without re-spending API quota, then marks each file replayed.
func ReplayVacancy(ctx context.Context, deps *Deps) (int, error) {
	pending, err := schedule.PendingJournals(deps.Config.Scan.JournalDir)
	if err != nil {
		return 0, err
	}
	if len(pending) == 0 {
		log.Printf("[Replay] no pending journals in %s", deps.Config.Scan.JournalDir)
		return 0, nil
	}

	total := 0
	for _, path := range pending {
		records, err := schedule.ReadJournal[domain.VacancyResult](path)
		if err != nil {
			return total, fmt.Errorf("reading %s: %w", path, err)
		}
		if len(records) == 0 {
			schedule.MarkReplayed(path)
			continue
		}
		counts, err := deps.Store.UpdateVacancyResults(ctx, records)
		if err != nil {
			return total, fmt.Errorf("replaying %s: %w", path, err)
		}
		if err := schedule.MarkReplayed(path); err != nil {
			return total, fmt.Errorf("marking %s replayed: %w", path, err)
		}
		total += counts.Total()
		log.Printf("[Replay] %s: %d rows landed", path, counts.Total())
	}
	return total, nil
}
