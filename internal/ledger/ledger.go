package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/textswithmyex/backend/internal/kv"
)

const (
	// Records age out via the store's own TTL; the application never deletes.
	recordTTL = 180 * 24 * time.Hour

	defaultListLimit = 20

	keyPurchasePrefix = "purchase:"
	keyRecentIndex    = "purchases:recent"
	keyDeliveryPrefix = "delivery:"
	keyDeliveriesBase = "deliveries:"
)

var errMissingStore = errors.New("ledger: store is required")

// Config configures the purchase ledger.
type Config struct {
	Store  kv.Store
	Logger *zap.Logger
}

// Ledger is the only component that touches purchase and delivery keys.
// Every operation is best-effort: store failures are logged and swallowed so
// auditing can never block the entitlement grant path.
type Ledger struct {
	store  kv.Store
	logger *zap.Logger
}

// New validates the configuration and returns a Ledger.
func New(cfg Config) (*Ledger, error) {
	if cfg.Store == nil {
		return nil, errMissingStore
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ledger{store: cfg.Store, logger: logger}, nil
}

// RecordPurchase persists the record and indexes it by issuance time.
// Replaying the same transaction id overwrites the prior record.
func (l *Ledger) RecordPurchase(ctx context.Context, record PurchaseRecord) {
	if record.TransactionID == "" {
		return
	}
	payload, err := json.Marshal(record)
	if err != nil {
		l.logger.Warn("purchase record marshal failed", zap.String("transaction_id", record.TransactionID), zap.Error(err))
		return
	}
	if err := l.store.SetWithTTL(ctx, keyPurchasePrefix+record.TransactionID, string(payload), recordTTL); err != nil {
		l.logger.Warn("purchase record write failed", zap.String("transaction_id", record.TransactionID), zap.Error(err))
		return
	}
	if err := l.store.ZAdd(ctx, keyRecentIndex, float64(record.TokenIssuedAt), record.TransactionID); err != nil {
		l.logger.Warn("recency index write failed", zap.String("transaction_id", record.TransactionID), zap.Error(err))
	}
}

// ListRecentPurchases returns up to limit purchases, most recent first.
// Unavailable stores and unparsable entries degrade to fewer (or zero)
// results, never an error.
func (l *Ledger) ListRecentPurchases(ctx context.Context, limit int) []PurchaseRecord {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if !l.store.Available(ctx) {
		return []PurchaseRecord{}
	}

	members, err := l.store.ZRevRangeWithScores(ctx, keyRecentIndex, 0, int64(limit)-1)
	if err != nil {
		l.logger.Warn("recency index read failed", zap.Error(err))
		return []PurchaseRecord{}
	}
	if len(members) == 0 {
		return []PurchaseRecord{}
	}

	seen := make(map[string]bool, len(members))
	keys := make([]string, 0, len(members))
	for _, member := range members {
		if seen[member.Member] {
			continue
		}
		seen[member.Member] = true
		keys = append(keys, keyPurchasePrefix+member.Member)
	}

	values, err := l.store.MGet(ctx, keys...)
	if err != nil {
		l.logger.Warn("purchase bulk read failed", zap.Error(err))
		return []PurchaseRecord{}
	}

	records := make([]PurchaseRecord, 0, len(values))
	for _, value := range values {
		if value == nil {
			continue
		}
		var record PurchaseRecord
		if err := json.Unmarshal([]byte(*value), &record); err != nil {
			l.logger.Warn("skipping unparsable purchase record", zap.Error(err))
			continue
		}
		records = append(records, record)
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].TokenIssuedAt > records[j].TokenIssuedAt
	})
	return records
}

// RecordReportDelivery appends one delivery in a single atomic batch: index
// entry, counter increment, last-delivered scalar, full record, and a TTL
// refresh on all four keys. Readers can never observe a partial write.
// The last-delivered scalar holds the maximum recorded time, so an
// out-of-order delivery never regresses it.
func (l *Ledger) RecordReportDelivery(ctx context.Context, record ReportDeliveryRecord) {
	if record.TransactionID == "" || record.ReportID == "" {
		return
	}
	payload, err := json.Marshal(record)
	if err != nil {
		l.logger.Warn("delivery record marshal failed", zap.String("report_id", record.ReportID), zap.Error(err))
		return
	}

	indexKey := keyDeliveriesBase + record.TransactionID
	countKey := indexKey + ":count"
	lastKey := indexKey + ":last"

	lastDelivered := record.DeliveredAt
	if raw, found, err := l.store.Get(ctx, lastKey); err == nil && found {
		if current, parseErr := strconv.ParseInt(raw, 10, 64); parseErr == nil && current > lastDelivered {
			lastDelivered = current
		}
	}

	batch := l.store.Batch()
	batch.ZAdd(indexKey, float64(record.DeliveredAt), record.ReportID)
	batch.Incr(countKey)
	batch.Set(lastKey, strconv.FormatInt(lastDelivered, 10))
	batch.SetWithTTL(keyDeliveryPrefix+record.ReportID, string(payload), recordTTL)
	batch.Expire(indexKey, recordTTL)
	batch.Expire(countKey, recordTTL)
	batch.Expire(lastKey, recordTTL)
	if err := batch.Exec(ctx); err != nil {
		l.logger.Warn("delivery record write failed",
			zap.String("transaction_id", record.TransactionID),
			zap.String("report_id", record.ReportID),
			zap.Error(err))
	}
}

// DeliveryStats fetches counter and last-delivered values for the given
// transactions in one pipelined round trip. Missing values default to zero
// deliveries. An empty input returns an empty map without touching the store.
func (l *Ledger) DeliveryStats(ctx context.Context, transactionIDs []string) map[string]DeliveryStats {
	stats := make(map[string]DeliveryStats, len(transactionIDs))
	if len(transactionIDs) == 0 {
		return stats
	}
	for _, id := range transactionIDs {
		stats[id] = DeliveryStats{}
	}
	if !l.store.Available(ctx) {
		return stats
	}

	keys := make([]string, 0, len(transactionIDs)*2)
	for _, id := range transactionIDs {
		keys = append(keys, keyDeliveriesBase+id+":count", keyDeliveriesBase+id+":last")
	}
	values, err := l.store.MGet(ctx, keys...)
	if err != nil || len(values) != len(keys) {
		l.logger.Warn("delivery stats read failed", zap.Error(err))
		return stats
	}

	for index, id := range transactionIDs {
		entry := DeliveryStats{}
		if raw := values[index*2]; raw != nil {
			if count, err := strconv.ParseInt(*raw, 10, 64); err == nil {
				entry.DeliveredCount = count
			}
		}
		if raw := values[index*2+1]; raw != nil {
			if last, err := strconv.ParseInt(*raw, 10, 64); err == nil {
				entry.LastDeliveredAt = &last
			}
		}
		stats[id] = entry
	}
	return stats
}

// RecentDeliveries lists up to limit deliveries for one transaction, most
// recent first, reconstructed from the index alone so it keeps working even
// after the full per-report records have expired.
func (l *Ledger) RecentDeliveries(ctx context.Context, transactionID string, limit int) []ReportDeliveryRecord {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if transactionID == "" || !l.store.Available(ctx) {
		return []ReportDeliveryRecord{}
	}

	members, err := l.store.ZRevRangeWithScores(ctx, keyDeliveriesBase+transactionID, 0, int64(limit)-1)
	if err != nil {
		l.logger.Warn("delivery index read failed", zap.String("transaction_id", transactionID), zap.Error(err))
		return []ReportDeliveryRecord{}
	}

	records := make([]ReportDeliveryRecord, 0, len(members))
	for _, member := range members {
		records = append(records, ReportDeliveryRecord{
			TransactionID: transactionID,
			ReportID:      member.Member,
			DeliveredAt:   int64(member.Score),
		})
	}
	return records
}
