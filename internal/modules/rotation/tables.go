package rotation

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/yungbote/copilot-adoption-backend/internal/data/kvstore"
	types "github.com/yungbote/copilot-adoption-backend/internal/domain/usage"
	"github.com/yungbote/copilot-adoption-backend/internal/platform/identcrypt"
)

var errMalformedKey = errors.New("rotation: key is not in {yyyy-MM-dd}-{id} form")

// rekeyFunc computes the key a row moves to. done reports the row already
// carries the new key.
type rekeyFunc func(k keys, e kvstore.Entity) (pk, rk string, done bool, err error)

func rekeyDatedPartition(k keys, e kvstore.Entity) (string, string, bool, error) {
	date, cipher, ok := types.SplitDatedPartition(e.PartitionKey)
	if !ok {
		return "", "", false, errMalformedKey
	}
	next, done, err := k.reencrypt(cipher)
	if err != nil {
		return "", "", false, err
	}
	return types.DailyPartition(date, next), e.RowKey, done, nil
}

func rekeyBarePartition(k keys, e kvstore.Entity) (string, string, bool, error) {
	next, done, err := k.reencrypt(e.PartitionKey)
	if err != nil {
		return "", "", false, err
	}
	return next, e.RowKey, done, nil
}

func rekeyRow(k keys, e kvstore.Entity) (string, string, bool, error) {
	next, done, err := k.reencrypt(e.RowKey)
	if err != nil {
		return "", "", false, err
	}
	return e.PartitionKey, next, done, nil
}

// RotatePartitionKeyTable rotates a table keyed "{date}-{encUPN}" for each day
// of the recent window, today first. Older days are left under the old key.
func (p *Processor) RotatePartitionKeyTable(ctx context.Context, runID, table string, oldSvc, newSvc *identcrypt.Service) (TableReport, error) {
	k := keys{old: oldSvc, new: newSvc}
	tr := TableReport{Table: table, Mode: ModePartitionKey}
	start := p.clock.Now()
	defer func() { p.observe(tr, start) }()

	today := p.clock.Now().UTC()
	for i := 0; i <= p.cfg.WindowDays; i++ {
		day := types.FormatDate(today.AddDate(0, 0, -i))
		f := kvstore.Filter{PartitionGE: day + "-", PartitionLT: day + "-\uffff"}
		ur, err := p.runUnit(ctx, runID, table+"/"+day, func() (Stats, error) {
			return p.rotateScan(ctx, table, f, k, rekeyDatedPartition, p.cfg.PartitionChunk)
		})
		tr.Units = append(tr.Units, ur)
		tr.Stats.Add(ur.Stats)
		if err != nil {
			return tr, err
		}
	}
	return tr, nil
}

// RotateLedger rotates the inactivity watchlist, whose partition key is the
// bare encrypted identifier. The whole table is in scope.
func (p *Processor) RotateLedger(ctx context.Context, runID string, oldSvc, newSvc *identcrypt.Service) (TableReport, error) {
	k := keys{old: oldSvc, new: newSvc}
	table := types.TableInactivityLedger
	tr := TableReport{Table: table, Mode: ModePartitionKey}
	start := p.clock.Now()
	defer func() { p.observe(tr, start) }()

	ur, err := p.runUnit(ctx, runID, table, func() (Stats, error) {
		return p.rotateScan(ctx, table, kvstore.Filter{}, k, rekeyBarePartition, p.cfg.PartitionChunk)
	})
	tr.Units = append(tr.Units, ur)
	tr.Stats.Add(ur.Stats)
	return tr, err
}

// RotateRowKeyTable rotates an aggregate table whose row key is the encrypted
// identifier. Weekly and monthly tables are limited to the window of the last
// report refresh; all-time tables are scanned in full.
func (p *Processor) RotateRowKeyTable(ctx context.Context, runID, table string, tf types.Timeframe, oldSvc, newSvc *identcrypt.Service) (TableReport, error) {
	k := keys{old: oldSvc, new: newSvc}
	tr := TableReport{Table: table, Mode: ModeRowKey}
	start := p.clock.Now()
	defer func() { p.observe(tr, start) }()

	f, unit, err := p.rowScope(ctx, table, tf)
	if err != nil {
		return tr, err
	}
	ur, err := p.runUnit(ctx, runID, unit, func() (Stats, error) {
		return p.rotateScan(ctx, table, f, k, rekeyRow, p.cfg.RowChunk)
	})
	tr.Units = append(tr.Units, ur)
	tr.Stats.Add(ur.Stats)
	return tr, err
}

func (p *Processor) rowScope(ctx context.Context, table string, tf types.Timeframe) (kvstore.Filter, string, error) {
	if tf == types.TimeframeAllTime {
		return kvstore.Filter{}, table, nil
	}
	rec, ok, err := p.state.GetReportRefresh(ctx, tf)
	if err != nil {
		return kvstore.Filter{}, "", fmt.Errorf("read %s refresh record: %w", tf, err)
	}
	if !ok || rec.StartDate == "" {
		p.log.Warn("No refresh record, rotating whole table", "table", table, "timeframe", tf)
		return kvstore.Filter{}, table, nil
	}
	startT, err := types.ParseDate(rec.StartDate)
	if err != nil {
		return kvstore.Filter{}, "", fmt.Errorf("parse %s start date: %w", tf, err)
	}
	end := types.FormatDate(types.WindowEnd(tf, startT))
	return kvstore.Filter{PartitionGE: rec.StartDate, PartitionLT: end}, table + "/" + rec.StartDate, nil
}

// RotatePropertyTable re-encrypts an identifier stored as a plain property of
// rows partitioned by date. Keys stay as they are, so rows are rewritten in
// place for each day of the recent window.
func (p *Processor) RotatePropertyTable(ctx context.Context, runID, table, prop string, oldSvc, newSvc *identcrypt.Service) (TableReport, error) {
	k := keys{old: oldSvc, new: newSvc}
	tr := TableReport{Table: table, Mode: ModeProperty}
	start := p.clock.Now()
	defer func() { p.observe(tr, start) }()

	today := p.clock.Now().UTC()
	for i := 0; i <= p.cfg.WindowDays; i++ {
		day := types.FormatDate(today.AddDate(0, 0, -i))
		ur, err := p.runUnit(ctx, runID, table+"/"+day, func() (Stats, error) {
			return p.rewriteScan(ctx, table, prop, kvstore.Filter{PartitionEq: day}, k)
		})
		tr.Units = append(tr.Units, ur)
		tr.Stats.Add(ur.Stats)
		if err != nil {
			return tr, err
		}
	}
	return tr, nil
}

func (p *Processor) rewriteScan(ctx context.Context, table, prop string, f kvstore.Filter, k keys) (Stats, error) {
	var st Stats
	pager := p.store.Query(ctx, table, f, p.cfg.PageSize)
	for pager.More() {
		rows, err := pager.NextPage(ctx)
		if err != nil {
			return st, fmt.Errorf("scan %s: %w", table, err)
		}
		for i, e := range rows {
			if k.alreadyRotated(e) {
				st.Skipped++
				continue
			}
			next, done, err := k.reencrypt(e.String(prop))
			if err != nil {
				st.Errors++
				p.log.Warn("Cannot re-encrypt property", "table", table, "partition_key", e.PartitionKey, "row_key", e.RowKey, "error", err)
				continue
			}
			if done {
				st.Skipped++
				continue
			}
			out := e.Clone()
			out.Set(prop, next)
			out.Set(types.PropKeyFingerprint, k.new.Fingerprint())
			if err := p.store.Update(ctx, table, out, kvstore.Replace); err != nil {
				st.Errors++
				p.log.Warn("Rewrite under new key failed", "table", table, "partition_key", e.PartitionKey, "row_key", e.RowKey, "error", err)
				continue
			}
			st.Processed++
			if (i+1)%p.cfg.RowChunk == 0 {
				if err := p.pause(ctx, p.cfg.ChunkDelay); err != nil {
					return st, err
				}
			}
		}
		if len(rows) >= p.cfg.PageSize {
			if err := p.pause(ctx, p.cfg.PageDelay); err != nil {
				return st, err
			}
		}
	}
	return st, nil
}

type move struct {
	from kvstore.Entity
	to   kvstore.Entity
}

// rotateScan pages through the rows matching f and moves each to its new key
// in chunks. Rows this scan wrote are ignored if the scan meets them again.
func (p *Processor) rotateScan(ctx context.Context, table string, f kvstore.Filter, k keys, rekey rekeyFunc, chunk int) (Stats, error) {
	var st Stats
	written := map[kvstore.Key]struct{}{}
	pager := p.store.Query(ctx, table, f, p.cfg.PageSize)
	for pager.More() {
		rows, err := pager.NextPage(ctx)
		if err != nil {
			return st, fmt.Errorf("scan %s: %w", table, err)
		}
		for i := 0; i < len(rows); i += chunk {
			end := i + chunk
			if end > len(rows) {
				end = len(rows)
			}
			st.Add(p.rotateChunk(ctx, table, k, rows[i:end], rekey, written))
			if err := p.pause(ctx, p.cfg.ChunkDelay); err != nil {
				return st, err
			}
		}
		if len(rows) >= p.cfg.PageSize {
			if err := p.pause(ctx, p.cfg.PageDelay); err != nil {
				return st, err
			}
		}
	}
	return st, nil
}

func (p *Processor) rotateChunk(ctx context.Context, table string, k keys, rows []kvstore.Entity, rekey rekeyFunc, written map[kvstore.Key]struct{}) Stats {
	var st Stats
	moves := make([]move, 0, len(rows))
	for _, e := range rows {
		if _, ok := written[e.Key()]; ok {
			continue
		}
		if k.alreadyRotated(e) {
			st.Skipped++
			continue
		}
		pk, rk, done, err := rekey(k, e)
		if err != nil {
			st.Errors++
			p.log.Warn("Cannot re-encrypt row", "table", table, "partition_key", e.PartitionKey, "error", err)
			continue
		}
		if done {
			st.Skipped++
			continue
		}
		moves = append(moves, move{from: e, to: k.migrated(e, pk, rk)})
	}
	if len(moves) == 0 {
		return st
	}

	added := p.addAll(ctx, table, k, moves)
	var toDelete []move
	for i, m := range moves {
		if added[i] {
			written[m.to.Key()] = struct{}{}
			toDelete = append(toDelete, m)
		} else {
			st.Errors++
		}
	}
	deleted := p.deleteAll(ctx, table, toDelete)
	for _, ok := range deleted {
		if ok {
			st.Processed++
		} else {
			st.Errors++
		}
	}
	return st
}

// addAll writes the new rows, one batch per target partition. A failed batch
// falls back to single adds for its rows.
func (p *Processor) addAll(ctx context.Context, table string, k keys, moves []move) []bool {
	ok := make([]bool, len(moves))
	for _, idx := range groupBy(moves, func(m move) string { return m.to.PartitionKey }) {
		ops := make([]kvstore.BatchOp, len(idx))
		for j, i := range idx {
			ops[j] = kvstore.AddOp(moves[i].to)
		}
		err := p.store.SubmitBatch(ctx, table, ops)
		if err == nil {
			for _, i := range idx {
				ok[i] = true
			}
			continue
		}
		p.log.Debug("Batch add failed, retrying rows one by one", "table", table, "rows", len(idx), "error", err)
		for _, i := range idx {
			if err := p.addNew(ctx, table, k, moves[i].to); err != nil {
				p.log.Warn("Add under new key failed", "table", table, "partition_key", moves[i].to.PartitionKey, "error", err)
				continue
			}
			ok[i] = true
		}
	}
	return ok
}

// deleteAll removes the source rows, one batch per source partition.
func (p *Processor) deleteAll(ctx context.Context, table string, moves []move) []bool {
	ok := make([]bool, len(moves))
	for _, idx := range groupBy(moves, func(m move) string { return m.from.PartitionKey }) {
		ops := make([]kvstore.BatchOp, len(idx))
		for j, i := range idx {
			ops[j] = kvstore.DeleteOp(moves[i].from.PartitionKey, moves[i].from.RowKey)
		}
		if err := p.store.SubmitBatch(ctx, table, ops); err == nil {
			for _, i := range idx {
				ok[i] = true
			}
			continue
		}
		for _, i := range idx {
			if err := p.deleteOld(ctx, table, moves[i].from); err != nil {
				p.log.Warn("Delete of old row failed", "table", table, "partition_key", moves[i].from.PartitionKey, "error", err)
				continue
			}
			ok[i] = true
		}
	}
	return ok
}

// groupBy returns index groups sharing a partition, each at most
// kvstore.MaxBatchSize long, in partition order.
func groupBy(moves []move, key func(move) string) [][]int {
	byKey := map[string][]int{}
	for i, m := range moves {
		byKey[key(m)] = append(byKey[key(m)], i)
	}
	names := make([]string, 0, len(byKey))
	for name := range byKey {
		names = append(names, name)
	}
	sort.Strings(names)
	var out [][]int
	for _, name := range names {
		idx := byKey[name]
		for len(idx) > kvstore.MaxBatchSize {
			out = append(out, idx[:kvstore.MaxBatchSize])
			idx = idx[kvstore.MaxBatchSize:]
		}
		out = append(out, idx)
	}
	return out
}

func (p *Processor) observe(tr TableReport, start time.Time) {
	p.metrics.ObserveRotation(tr.Table, string(tr.Mode), tr.Processed, tr.Errors, tr.Skipped, p.clock.Since(start))
}
