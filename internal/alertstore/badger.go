// ScanGuard - Loyalty Scan Abuse Detection and Rate Limiting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/scanguard

package alertstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/tomtom215/scanguard/internal/alerting"
	"github.com/tomtom215/scanguard/internal/logging"
)

// Key prefixes for BadgerDB storage. Timestamps are zero-padded Unix nanos
// so lexical order is chronological order.
const (
	alertKeyPrefix         = "alert:"
	alertEmployeeKeyPrefix = "alert_emp:"
	alertIDKeyPrefix       = "alert_id:"
)

// BadgerConfig configures the embedded store.
type BadgerConfig struct {
	Path     string
	InMemory bool
	// Retention sets a TTL on every key; zero disables expiry.
	Retention time.Duration
}

// BadgerStore is the embedded alert store. It is the default system of
// record for escalation counting.
type BadgerStore struct {
	db        *badger.DB
	retention time.Duration
}

// OpenBadger opens (or creates) the alert database.
func OpenBadger(cfg BadgerConfig) (*BadgerStore, error) {
	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts.Logger = nil // Suppress BadgerDB logs

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger db for alerts: %w", err)
	}

	logging.Info().
		Str("path", cfg.Path).
		Bool("in_memory", cfg.InMemory).
		Dur("retention", cfg.Retention).
		Msg("alert store opened")
	return &BadgerStore{db: db, retention: cfg.Retention}, nil
}

func timeKey(prefix string, at time.Time, id string) []byte {
	return []byte(fmt.Sprintf("%s%020d:%s", prefix, at.UnixNano(), id))
}

func employeePrefix(employeeID string) string {
	return alertEmployeeKeyPrefix + employeeID + ":"
}

func (s *BadgerStore) entry(key, value []byte) *badger.Entry {
	e := badger.NewEntry(key, value)
	if s.retention > 0 {
		e = e.WithTTL(s.retention)
	}
	return e
}

// SaveAlert stores the alert under its own ID.
func (s *BadgerStore) SaveAlert(ctx context.Context, alert *alerting.AbuseAlert) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	data, err := json.Marshal(alert)
	if err != nil {
		return "", fmt.Errorf("marshal alert: %w", err)
	}

	mainKey := timeKey(alertKeyPrefix, alert.Timestamp, alert.ID)
	err = s.db.Update(func(txn *badger.Txn) error {
		if err := txn.SetEntry(s.entry(mainKey, data)); err != nil {
			return fmt.Errorf("set alert: %w", err)
		}

		// Employee index for escalation counts
		empKey := timeKey(employeePrefix(alert.EmployeeID), alert.Timestamp, alert.ID)
		if err := txn.SetEntry(s.entry(empKey, mainKey)); err != nil {
			return fmt.Errorf("set employee index: %w", err)
		}

		idKey := []byte(alertIDKeyPrefix + alert.ID)
		if err := txn.SetEntry(s.entry(idKey, mainKey)); err != nil {
			return fmt.Errorf("set id index: %w", err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return alert.ID, nil
}

// GetAlert retrieves an alert by ID. An unknown ID is
// alerting.ErrAlertNotFound.
func (s *BadgerStore) GetAlert(ctx context.Context, id string) (*alerting.AbuseAlert, error) {
	var alert alerting.AbuseAlert

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(alertIDKeyPrefix + id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return alerting.ErrAlertNotFound
		}
		if err != nil {
			return fmt.Errorf("get alert id: %w", err)
		}
		mainKey, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		return readAlert(txn, mainKey, &alert)
	})
	if err != nil {
		return nil, err
	}
	return &alert, nil
}

func readAlert(txn *badger.Txn, key []byte, out *alerting.AbuseAlert) error {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return alerting.ErrAlertNotFound
	}
	if err != nil {
		return fmt.Errorf("get alert: %w", err)
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, out)
	})
}

// CountAlerts counts alerts matching the filter.
func (s *BadgerStore) CountAlerts(ctx context.Context, filter alerting.AlertFilter) (int, error) {
	filter.Limit = 0
	n := 0
	err := s.scan(ctx, filter, func(*alerting.AbuseAlert) bool {
		n++
		return true
	})
	return n, err
}

// ListAlerts returns matching alerts, newest first.
func (s *BadgerStore) ListAlerts(ctx context.Context, filter alerting.AlertFilter) ([]alerting.AbuseAlert, error) {
	var out []alerting.AbuseAlert
	err := s.scan(ctx, filter, func(a *alerting.AbuseAlert) bool {
		out = append(out, *a)
		return filter.Limit <= 0 || len(out) < filter.Limit
	})
	return out, err
}

// scan walks matching alerts newest first until fn returns false. An
// employee filter walks the employee index instead of every alert.
func (s *BadgerStore) scan(ctx context.Context, filter alerting.AlertFilter, fn func(*alerting.AbuseAlert) bool) error {
	prefix := []byte(alertKeyPrefix)
	indexed := filter.EmployeeID != ""
	if indexed {
		prefix = []byte(employeePrefix(filter.EmployeeID))
	}

	var lowerBound []byte
	if !filter.Since.IsZero() {
		lowerBound = timeKey(string(prefix), filter.Since, "")
	}

	return s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = prefix
		opts.PrefetchValues = !indexed
		it := txn.NewIterator(opts)
		defer it.Close()

		// In reverse mode Seek lands on the last key <= the seek key.
		seek := append(append([]byte{}, prefix...), 0xFF)
		for it.Seek(seek); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()
			if lowerBound != nil && string(item.Key()) < string(lowerBound) {
				return nil
			}

			var alert alerting.AbuseAlert
			if indexed {
				mainKey, err := item.ValueCopy(nil)
				if err != nil {
					return err
				}
				if err := readAlert(txn, mainKey, &alert); err != nil {
					if errors.Is(err, alerting.ErrAlertNotFound) {
						continue // expired between index and record
					}
					return err
				}
			} else {
				err := item.Value(func(val []byte) error {
					return json.Unmarshal(val, &alert)
				})
				if err != nil {
					return fmt.Errorf("decode alert: %w", err)
				}
			}

			if !filter.Matches(&alert) {
				continue
			}
			if !fn(&alert) {
				return nil
			}
		}
		return nil
	})
}

// Close closes the database.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}
