// Package dispatch implements the outbox-driven sync orchestrator: it
// discovers pending local changes, groups them per resource, pushes them in
// bulk through the REST transport, and durably records the outcome in the
// outbox and the audit log.
package dispatch

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/tillworks/possync/internal/audit"
	"github.com/tillworks/possync/internal/cache"
	"github.com/tillworks/possync/internal/localstore"
	"github.com/tillworks/possync/internal/logging"
	"github.com/tillworks/possync/internal/mapper"
	"github.com/tillworks/possync/internal/models"
	"github.com/tillworks/possync/internal/obs"
	"github.com/tillworks/possync/internal/outbox"
	"github.com/tillworks/possync/internal/remote"
	"github.com/tillworks/possync/internal/syncerr"
)

// Transport is the slice of the REST transport the dispatcher needs.
type Transport interface {
	UpsertMany(ctx context.Context, resource string, recs []remote.Record, conflictColumns []string, tenantID string) ([]remote.Record, error)
	Select(ctx context.Context, resource string, columns []string, filter, tenantID string) ([]remote.Record, error)
	Delete(ctx context.Context, resource, filter, tenantID string) (bool, error)
}

// Dispatcher runs sync passes. Multiple passes for different tenants may run
// concurrently; within one pass, groups are processed sequentially in
// descriptor priority order.
type Dispatcher struct {
	outbox   outbox.Repository
	audit    audit.Writer
	store    localstore.Store
	remote   Transport
	registry *mapper.Registry
	lookups  *cache.Lookup
	log      logging.Logger
	actor    string
	now      func() time.Time
}

func NewDispatcher(
	ob outbox.Repository,
	aw audit.Writer,
	store localstore.Store,
	transport Transport,
	registry *mapper.Registry,
	lookups *cache.Lookup,
	log logging.Logger,
	actor string,
) *Dispatcher {
	return &Dispatcher{
		outbox:   ob,
		audit:    aw,
		store:    store,
		remote:   transport,
		registry: registry,
		lookups:  lookups,
		log:      log,
		actor:    actor,
		now:      time.Now,
	}
}

// RunPass executes one full sync pass for a tenant. One resource group's
// failure does not block the others; an authentication failure aborts the
// remainder of the pass, since every further call would fail the same way.
func (d *Dispatcher) RunPass(ctx context.Context, tenantID string) (*PassResult, error) {
	started := d.now()

	entries, err := d.outbox.ListUnsynced(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("outbox discovery failed: %w", err)
	}

	groups := groupByResource(entries)
	ordered := d.orderGroups(groups)

	result := &PassResult{TenantID: tenantID, StartedAt: started}
	for _, resource := range ordered {
		rr := d.dispatchGroup(ctx, tenantID, resource, groups[resource])
		result.Resources = append(result.Resources, rr)
		obs.ObserveRecords(resource, string(models.StatusSynced), rr.Synced)
		obs.ObserveRecords(resource, string(models.StatusFailed), rr.Failed)

		if syncerr.IsAuth(rr.Err) {
			d.log.Error(ctx, "authentication failed, aborting pass", "tenant", tenantID, "resource", resource)
			break
		}
	}

	result.Duration = d.now().Sub(started)
	obs.ObservePass(result.OK(), result.Duration)
	d.log.Info(ctx, "sync pass finished",
		"tenant", tenantID, "ok", result.OK(),
		"synced", result.TotalSynced(), "failed", result.TotalFailed(),
		"duration", result.Duration)
	return result, nil
}

// dispatchGroup pushes one resource group. A panic inside is a programmer
// error: it is logged with context and converted into the group's failure,
// never crashing the pass.
func (d *Dispatcher) dispatchGroup(ctx context.Context, tenantID, resource string, entries []models.OutboxEntry) (rr ResourceResult) {
	rr = ResourceResult{Resource: resource}

	defer func() {
		if p := recover(); p != nil {
			d.log.Error(ctx, "panic during group dispatch", "resource", resource, "panic", fmt.Sprint(p))
			err := syncerr.New(syncerr.KindConfig, fmt.Sprintf("%s: panic during dispatch: %v", resource, p))
			rr = d.failGroup(ctx, tenantID, resource, entries, err)
		}
	}()

	desc, ok := d.registry.Lookup(resource)
	if !ok {
		err := syncerr.New(syncerr.KindConfig, fmt.Sprintf("unsupported resource %q", resource))
		return d.failGroup(ctx, tenantID, resource, entries, err)
	}

	deletes, upserts := splitOperations(entries)

	var ops []string
	var groupErr error

	if len(deletes) > 0 {
		ops = append(ops, "delete")
		ids := entryIDs(deletes)
		if err := d.pushDeletes(ctx, tenantID, desc, ids); err != nil {
			d.markStatus(ctx, tenantID, resource, ids, models.StatusFailed)
			rr.Failed += len(ids)
			groupErr = err
		} else {
			d.markStatus(ctx, tenantID, resource, ids, models.StatusSynced)
			rr.Synced += len(ids)
		}
	}

	if len(upserts) > 0 {
		ops = append(ops, "upsert")
		ids := entryIDs(upserts)
		pushed, err := d.pushUpserts(ctx, tenantID, desc, ids)
		if err != nil {
			d.markStatus(ctx, tenantID, resource, ids, models.StatusFailed)
			rr.Failed += len(ids)
			groupErr = err
		} else {
			d.markStatus(ctx, tenantID, resource, pushed, models.StatusSynced)
			rr.Synced += len(pushed)
			// entries without a local row were never sent; they must not close
			if missing := subtractIDs(ids, pushed); len(missing) > 0 {
				d.markStatus(ctx, tenantID, resource, missing, models.StatusFailed)
				rr.Failed += len(missing)
			}
		}
	}

	rr.Err = groupErr
	d.appendAudit(ctx, tenantID, resource, strings.Join(ops, ","), entryIDs(entries), groupStatus(groupErr), models.DirectionPush)
	return rr
}

// pushDeletes propagates terminal delete markers: remote delete by key
// filter, then local removal.
func (d *Dispatcher) pushDeletes(ctx context.Context, tenantID string, desc mapper.Descriptor, ids []string) error {
	filter := inFilter(desc.KeyColumn, ids)
	if _, err := d.remote.Delete(ctx, desc.Resource, filter, tenantID); err != nil {
		return err
	}
	if err := d.store.Delete(ctx, desc.LocalTable, desc.KeyColumn, ids); err != nil {
		d.log.Error(ctx, "local delete failed after remote delete", "resource", desc.Resource, "count", len(ids))
		return syncerr.Wrap(syncerr.KindConfig, "local delete failed", err)
	}
	return nil
}

// pushUpserts resolves local rows, maps them to wire shape and bulk-upserts.
// The remote bulk call is all-or-nothing: partial success within one call
// cannot be observed, so the resolved rows share one outcome. The returned
// ids are the ones actually sent; entries with no local row are not among
// them and stay open.
func (d *Dispatcher) pushUpserts(ctx context.Context, tenantID string, desc mapper.Descriptor, ids []string) ([]string, error) {
	rows, err := d.store.Fetch(ctx, desc.LocalTable, desc.KeyColumn, ids)
	if err != nil {
		return nil, syncerr.Wrap(syncerr.KindConfig, "failed to resolve local records", err)
	}
	if len(rows) == 0 {
		return nil, syncerr.New(syncerr.KindConfig,
			fmt.Sprintf("%s: no local records found for %d outbox entries", desc.Resource, len(ids)))
	}
	if len(rows) < len(ids) {
		d.log.Warn(ctx, "some outbox entries have no local record", "resource", desc.Resource, "missing", len(ids)-len(rows))
	}

	pushed := make([]string, 0, len(rows))
	wire := make([]remote.Record, 0, len(rows))
	for _, row := range rows {
		rec, err := desc.Mapper.ToRemote(row)
		if err != nil {
			return nil, syncerr.Wrap(syncerr.KindSerialization,
				fmt.Sprintf("%s: mapping to wire shape failed", desc.Resource), err)
		}
		wire = append(wire, rec)
		if id, ok := row[desc.KeyColumn].(string); ok {
			pushed = append(pushed, id)
		}
	}

	if _, err := d.remote.UpsertMany(ctx, desc.Resource, wire, desc.ConflictColumns, tenantID); err != nil {
		return nil, err
	}
	return pushed, nil
}

// failGroup marks every entry Failed and records the attempt.
func (d *Dispatcher) failGroup(ctx context.Context, tenantID, resource string, entries []models.OutboxEntry, err error) ResourceResult {
	ids := entryIDs(entries)
	d.markStatus(ctx, tenantID, resource, ids, models.StatusFailed)
	d.appendAudit(ctx, tenantID, resource, "sync", ids, models.StatusFailed, models.DirectionPush)
	return ResourceResult{Resource: resource, Failed: len(ids), Err: err}
}

func (d *Dispatcher) markStatus(ctx context.Context, tenantID, resource string, ids []string, status models.SyncStatus) {
	if err := d.outbox.MarkStatus(ctx, tenantID, resource, ids, status); err != nil {
		d.log.Error(ctx, "failed to update outbox status", "resource", resource, "status", status)
	}
}

func (d *Dispatcher) appendAudit(ctx context.Context, tenantID, resource, operation string, ids []string, status models.SyncStatus, dir models.Direction) {
	entry := &models.AuditEntry{
		Resource:  resource,
		TenantID:  tenantID,
		Operation: operation,
		RecordIDs: ids,
		Status:    status,
		Direction: dir,
		Actor:     d.actor,
		CreatedAt: d.now().UTC(),
	}
	if err := d.audit.Append(ctx, entry); err != nil {
		d.log.Error(ctx, "failed to append audit entry", "resource", resource)
	}
}

// orderGroups sorts group names by descriptor priority (ascending), then
// name. Unknown resources sort last so known work is attempted first.
func (d *Dispatcher) orderGroups(groups map[string][]models.OutboxEntry) []string {
	names := make([]string, 0, len(groups))
	for name := range groups {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		pi, pj := d.priority(names[i]), d.priority(names[j])
		if pi != pj {
			return pi < pj
		}
		return names[i] < names[j]
	})
	return names
}

func (d *Dispatcher) priority(resource string) int {
	if desc, ok := d.registry.Lookup(resource); ok {
		return desc.Priority
	}
	return int(^uint(0) >> 1)
}

func groupByResource(entries []models.OutboxEntry) map[string][]models.OutboxEntry {
	groups := make(map[string][]models.OutboxEntry)
	for _, e := range entries {
		key := strings.ToLower(e.Resource)
		groups[key] = append(groups[key], e)
	}
	return groups
}

func splitOperations(entries []models.OutboxEntry) (deletes, upserts []models.OutboxEntry) {
	for _, e := range entries {
		if e.Operation == models.OpDelete {
			deletes = append(deletes, e)
			continue
		}
		upserts = append(upserts, e)
	}
	return deletes, upserts
}

// subtractIDs returns the elements of ids not present in done, in order.
func subtractIDs(ids, done []string) []string {
	seen := make(map[string]struct{}, len(done))
	for _, id := range done {
		seen[id] = struct{}{}
	}
	var out []string
	for _, id := range ids {
		if _, ok := seen[id]; !ok {
			out = append(out, id)
		}
	}
	return out
}

func entryIDs(entries []models.OutboxEntry) []string {
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		ids = append(ids, e.RecordID)
	}
	return ids
}

func groupStatus(err error) models.SyncStatus {
	if err != nil {
		return models.StatusFailed
	}
	return models.StatusSynced
}

func inFilter(column string, values []string) string {
	return fmt.Sprintf("%s=in.(%s)", column, strings.Join(values, ","))
}
