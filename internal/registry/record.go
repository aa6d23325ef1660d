// Package registry persists approval flow records in Redis so the hosting UI
// can list flows and the daemon can recover visibility after a restart.
package registry

import (
	"context"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/signet-labs/approvald/internal/txreq"
)

// Record is the persisted view of one approval flow.
type Record struct {
	ID        string
	Origin    string
	Address   string
	State     string
	TxHash    string
	Error     string
	CreatedAt int64
	UpdatedAt int64
}

func flowKey(id string) string {
	return fmt.Sprintf(txreq.FlowKeyFmt, id)
}

func CreateRecord(ctx context.Context, rdb *redis.Client, r Record) error {
	return rdb.HSet(ctx, flowKey(r.ID),
		"id", r.ID,
		"origin", r.Origin,
		"address", r.Address,
		"state", r.State,
		"tx_hash", r.TxHash,
		"error", r.Error,
		"created_at", r.CreatedAt,
		"updated_at", r.UpdatedAt,
	).Err()
}

func GetRecord(ctx context.Context, rdb *redis.Client, id string) (*Record, error) {
	vals, err := rdb.HGetAll(ctx, flowKey(id)).Result()
	if err != nil {
		return nil, err
	}
	if len(vals) == 0 {
		return nil, nil
	}
	return recordFromMap(vals), nil
}

// UpdateState writes the flow's current state plus outcome fields.
func UpdateState(ctx context.Context, rdb *redis.Client, id, state, txHash, errMsg string, now int64) error {
	return rdb.HSet(ctx, flowKey(id),
		"state", state,
		"tx_hash", txHash,
		"error", errMsg,
		"updated_at", now,
	).Err()
}

func DeleteRecord(ctx context.Context, rdb *redis.Client, id string) error {
	return rdb.Del(ctx, flowKey(id)).Err()
}

// ScanAll returns every persisted flow record.
func ScanAll(ctx context.Context, rdb *redis.Client) ([]Record, error) {
	var records []Record
	var cursor uint64
	for {
		keys, next, err := rdb.Scan(ctx, cursor, txreq.FlowKeyPrefix+"*", 100).Result()
		if err != nil {
			return nil, fmt.Errorf("scan flows: %w", err)
		}
		for _, key := range keys {
			vals, err := rdb.HGetAll(ctx, key).Result()
			if err != nil || len(vals) == 0 {
				continue
			}
			records = append(records, *recordFromMap(vals))
		}
		if next == 0 {
			break
		}
		cursor = next
	}
	return records, nil
}

func recordFromMap(m map[string]string) *Record {
	createdAt, _ := strconv.ParseInt(m["created_at"], 10, 64)
	updatedAt, _ := strconv.ParseInt(m["updated_at"], 10, 64)
	return &Record{
		ID:        m["id"],
		Origin:    m["origin"],
		Address:   m["address"],
		State:     m["state"],
		TxHash:    m["tx_hash"],
		Error:     m["error"],
		CreatedAt: createdAt,
		UpdatedAt: updatedAt,
	}
}
