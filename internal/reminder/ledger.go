package reminder

import (
	"fmt"
	"time"

	"github.com/dukerupert/fichador/internal/store"
)

// LedgerKey is the KV key holding every day bucket.
const LedgerKey = "nm_seen"

// BucketKey returns the day bucket for t in t's location.
func BucketKey(t time.Time) string {
	return "local-" + t.Format("2006-01-02")
}

// TriggerKey identifies one reminder of one schedule entry.
func TriggerKey(tag, start, end string) string {
	return tag + "-" + start + "-" + end
}

// Ledger records which reminders already fired, per day bucket. Stale
// buckets are left in place.
type Ledger struct {
	kv *store.KVStore
}

func NewLedger(kv *store.KVStore) *Ledger {
	return &Ledger{kv: kv}
}

func (l *Ledger) all() (map[string]map[string]bool, error) {
	all := map[string]map[string]bool{}
	if _, err := l.kv.Get(LedgerKey, &all); err != nil {
		return map[string]map[string]bool{}, err
	}
	return all, nil
}

// Bucket returns the fired trigger keys of one day bucket.
func (l *Ledger) Bucket(bucket string) (map[string]bool, error) {
	all, err := l.all()
	if err != nil {
		return map[string]bool{}, fmt.Errorf("read ledger: %w", err)
	}
	seen := all[bucket]
	if seen == nil {
		seen = map[string]bool{}
	}
	return seen, nil
}

// Mark records key as fired in bucket. An unreadable ledger is replaced.
func (l *Ledger) Mark(bucket, key string) error {
	all, _ := l.all()
	if all[bucket] == nil {
		all[bucket] = map[string]bool{}
	}
	all[bucket][key] = true
	if err := l.kv.Set(LedgerKey, all); err != nil {
		return fmt.Errorf("write ledger: %w", err)
	}
	return nil
}
