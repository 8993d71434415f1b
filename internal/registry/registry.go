// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package registry remembers the headsets musestat has connected to, so a
// later run can reconnect to the last one without scanning by name.
package registry

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"go.etcd.io/bbolt"
	"gopkg.in/yaml.v3"

	"github.com/Thermoquad/musestat/internal/session"
)

const (
	DevicesBucket = "devices"
	MetaBucket    = "meta"
	LastDeviceKey = "last_device"
)

// ErrNoDevice is returned by Last when nothing has been remembered yet
var ErrNoDevice = errors.New("no remembered device")

// Entry is a remembered headset
type Entry struct {
	Name        string    `yaml:"name" json:"name"`
	ID          string    `yaml:"id" json:"id"`
	FirstSeen   time.Time `yaml:"first_seen" json:"first_seen"`
	LastSeen    time.Time `yaml:"last_seen" json:"last_seen"`
	Connections uint64    `yaml:"connections" json:"connections"`
}

// Device returns the entry as session device info
func (e Entry) Device() session.DeviceInfo {
	return session.DeviceInfo{Name: e.Name, ID: e.ID}
}

// Registry is a bbolt-backed device store
type Registry struct {
	db  *bbolt.DB
	now func() time.Time
}

// Open opens or creates the store at path
func Open(path string) (*Registry, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("create registry directory: %w", err)
	}
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open registry %s: %w", path, err)
	}
	if err := db.Update(func(tx *bbolt.Tx) error {
		for _, name := range []string{DevicesBucket, MetaBucket} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		db.Close()
		return nil, err
	}
	return &Registry{db: db, now: time.Now}, nil
}

// Close closes the store
func (r *Registry) Close() error {
	return r.db.Close()
}

// Remember records a connection to device and marks it as the last one used
func (r *Registry) Remember(device session.DeviceInfo) (Entry, error) {
	if device.ID == "" {
		return Entry{}, errors.New("device has no id")
	}

	var entry Entry
	err := r.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(DevicesBucket))
		now := r.now()
		entry = Entry{Name: device.Name, ID: device.ID, FirstSeen: now}
		if data := b.Get([]byte(device.ID)); data != nil {
			if err := yaml.Unmarshal(data, &entry); err != nil {
				return fmt.Errorf("decode entry %s: %w", device.ID, err)
			}
			if device.Name != "" {
				entry.Name = device.Name
			}
		}
		entry.LastSeen = now
		entry.Connections++

		data, err := yaml.Marshal(entry)
		if err != nil {
			return err
		}
		if err := b.Put([]byte(device.ID), data); err != nil {
			return err
		}
		return tx.Bucket([]byte(MetaBucket)).Put([]byte(LastDeviceKey), []byte(device.ID))
	})
	return entry, err
}

// Get returns the entry for id
func (r *Registry) Get(id string) (Entry, error) {
	var entry Entry
	err := r.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(DevicesBucket)).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("device not found: %s", id)
		}
		return yaml.Unmarshal(data, &entry)
	})
	return entry, err
}

// Last returns the most recently remembered device
func (r *Registry) Last() (Entry, error) {
	var id []byte
	if err := r.db.View(func(tx *bbolt.Tx) error {
		if v := tx.Bucket([]byte(MetaBucket)).Get([]byte(LastDeviceKey)); v != nil {
			id = append(id, v...)
		}
		return nil
	}); err != nil {
		return Entry{}, err
	}
	if id == nil {
		return Entry{}, ErrNoDevice
	}
	return r.Get(string(id))
}

// List returns every remembered device, most recent first
func (r *Registry) List() ([]Entry, error) {
	var entries []Entry
	err := r.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(DevicesBucket)).ForEach(func(k, v []byte) error {
			var e Entry
			if err := yaml.Unmarshal(v, &e); err != nil {
				return fmt.Errorf("decode entry %s: %w", k, err)
			}
			entries = append(entries, e)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].LastSeen.After(entries[j].LastSeen)
	})
	return entries, nil
}

// Forget removes a device
func (r *Registry) Forget(id string) error {
	return r.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.Bucket([]byte(DevicesBucket)).Delete([]byte(id)); err != nil {
			return err
		}
		meta := tx.Bucket([]byte(MetaBucket))
		if string(meta.Get([]byte(LastDeviceKey))) == id {
			return meta.Delete([]byte(LastDeviceKey))
		}
		return nil
	})
}
