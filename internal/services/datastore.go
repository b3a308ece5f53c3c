package services

import (
	"fmt"
)

// DataStore gives scripts durable key/value and leaderboard access. All
// storage I/O is deferred: the tick loop never blocks on the store, and
// completion callbacks run on a later tick boundary.
type DataStore struct {
	store    KVStore
	deferrer Deferrer
	gameKey  string
}

func newDataStore(store KVStore, deferrer Deferrer, gameKey string) *DataStore {
	return &DataStore{store: store, deferrer: deferrer, gameKey: gameKey}
}

func (d *DataStore) ServiceName() string { return "DataStoreService" }

func (d *DataStore) scoped(name string) string {
	return d.gameKey + "/" + name
}

// GetAsync reads a value; done receives (value string, found bool) via
// the any result as a [2]any pair, or an error.
func (d *DataStore) GetAsync(name, key string, done func(value string, found bool, err error)) error {
	if err := d.check(); err != nil {
		return err
	}
	ns := d.scoped(name)
	d.deferrer.Defer(
		func() (any, error) {
			v, ok, err := d.store.GetValue(ns, key)
			if err != nil {
				return nil, err
			}
			return [2]any{v, ok}, nil
		},
		func(res any, err error) {
			if err != nil {
				done("", false, err)
				return
			}
			pair := res.([2]any)
			done(pair[0].(string), pair[1].(bool), nil)
		},
	)
	return nil
}

// SetAsync writes a value durably.
func (d *DataStore) SetAsync(name, key, value string, done func(err error)) error {
	if err := d.check(); err != nil {
		return err
	}
	ns := d.scoped(name)
	d.deferrer.Defer(
		func() (any, error) {
			return nil, d.store.SetValue(ns, key, value)
		},
		func(_ any, err error) {
			if done != nil {
				done(err)
			}
		},
	)
	return nil
}

// IncrementAsync atomically adds delta and reports the new value.
func (d *DataStore) IncrementAsync(name, key string, delta float64, done func(newValue float64, err error)) error {
	if err := d.check(); err != nil {
		return err
	}
	ns := d.scoped(name)
	d.deferrer.Defer(
		func() (any, error) {
			return d.store.Increment(ns, key, delta)
		},
		func(res any, err error) {
			if done == nil {
				return
			}
			if err != nil {
				done(0, err)
				return
			}
			done(res.(float64), nil)
		},
	)
	return nil
}

// SubmitScoreAsync records a leaderboard entry. Scores are decimal
// strings so ordering is exact.
func (d *DataStore) SubmitScoreAsync(name, member, score string, done func(err error)) error {
	if err := d.check(); err != nil {
		return err
	}
	ns := d.scoped(name)
	d.deferrer.Defer(
		func() (any, error) {
			return nil, d.store.SubmitScore(ns, member, score)
		},
		func(_ any, err error) {
			if done != nil {
				done(err)
			}
		},
	)
	return nil
}

// TopScoresAsync fetches the best entries, highest first.
func (d *DataStore) TopScoresAsync(name string, limit int, done func(entries []ScoreEntry, err error)) error {
	if err := d.check(); err != nil {
		return err
	}
	ns := d.scoped(name)
	d.deferrer.Defer(
		func() (any, error) {
			return d.store.TopScores(ns, limit)
		},
		func(res any, err error) {
			if err != nil {
				done(nil, err)
				return
			}
			done(res.([]ScoreEntry), nil)
		},
	)
	return nil
}

func (d *DataStore) check() error {
	if d.store == nil {
		return fmt.Errorf("no datastore backend configured")
	}
	if d.deferrer == nil {
		return fmt.Errorf("no deferrer configured")
	}
	return nil
}
