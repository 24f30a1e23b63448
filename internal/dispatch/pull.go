package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/tillworks/possync/internal/models"
	"github.com/tillworks/possync/internal/obs"
	"github.com/tillworks/possync/internal/syncerr"
)

// PullByKeys fetches remote rows whose business key matches one of keys
// (for resources where the remote side is authoritative, such as the global
// product catalog) and upserts them into the local store. Rows still inside
// the lookup cache's staleness window are not re-fetched. Local audit fields
// are stamped from context, never trusted from the remote payload.
func (d *Dispatcher) PullByKeys(ctx context.Context, tenantID, resource string, keys []string) (ResourceResult, error) {
	rr := ResourceResult{Resource: resource}

	desc, ok := d.registry.Lookup(resource)
	if !ok {
		rr.Err = syncerr.New(syncerr.KindConfig, fmt.Sprintf("unsupported resource %q", resource))
		rr.Failed = len(keys)
		return rr, rr.Err
	}

	var rows []map[string]any
	var missing []string
	for _, key := range keys {
		if row, ok := d.lookups.Get(lookupKey(resource, key)); ok {
			rows = append(rows, row)
			continue
		}
		missing = append(missing, key)
	}

	if len(missing) > 0 {
		fetched, err := d.remote.Select(ctx, desc.Resource, nil, inFilter(desc.KeyColumn, missing), tenantID)
		if err != nil {
			rr.Err = err
			rr.Failed = len(keys)
			d.appendAudit(ctx, tenantID, resource, "select", keys, models.StatusFailed, models.DirectionPull)
			return rr, err
		}

		now := d.now().UTC().Format(time.RFC3339)
		for _, rec := range fetched {
			local, err := desc.Mapper.ToLocal(rec)
			if err != nil {
				rr.Err = syncerr.Wrap(syncerr.KindSerialization,
					fmt.Sprintf("%s: mapping to local shape failed", resource), err)
				rr.Failed = len(keys)
				d.appendAudit(ctx, tenantID, resource, "select", keys, models.StatusFailed, models.DirectionPull)
				return rr, rr.Err
			}
			// local audit fields come from this context, not the payload
			local["created_at"] = now
			local["updated_at"] = now

			if key, ok := local[desc.KeyColumn].(string); ok {
				d.lookups.Set(lookupKey(resource, key), local)
			}
			rows = append(rows, local)
		}
	}

	if err := d.store.Upsert(ctx, desc.LocalTable, desc.KeyColumn, rows); err != nil {
		rr.Err = syncerr.Wrap(syncerr.KindConfig, "failed to store pulled rows", err)
		rr.Failed = len(rows)
		return rr, rr.Err
	}

	rr.Synced = len(rows)
	obs.ObserveRecords(resource, string(models.StatusSynced), rr.Synced)
	d.appendAudit(ctx, tenantID, resource, "select", keys, models.StatusSynced, models.DirectionPull)
	return rr, nil
}

// ApplyRemoteDeletion removes records locally in response to a deletion
// learned from the remote side: local delete first, then cache invalidation.
func (d *Dispatcher) ApplyRemoteDeletion(ctx context.Context, tenantID, resource string, keys []string) error {
	desc, ok := d.registry.Lookup(resource)
	if !ok {
		return syncerr.New(syncerr.KindConfig, fmt.Sprintf("unsupported resource %q", resource))
	}
	if err := d.store.Delete(ctx, desc.LocalTable, desc.KeyColumn, keys); err != nil {
		return syncerr.Wrap(syncerr.KindConfig, "failed to delete local rows", err)
	}
	for _, key := range keys {
		d.lookups.Invalidate(lookupKey(resource, key))
	}
	d.appendAudit(ctx, tenantID, resource, "delete", keys, models.StatusSynced, models.DirectionPull)
	return nil
}

func lookupKey(resource, key string) string {
	return resource + ":" + key
}
