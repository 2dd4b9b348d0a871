package dom

import (
	"github.com/GriffinCanCode/workerdom/internal/protocol"
)

// Storage is a Web Storage area. Writes are applied locally at once and
// replayed into the main context's storage.
type Storage struct {
	doc      *Document
	location protocol.StorageLocation
	keys     []string
	items    map[string]string
}

func newStorage(d *Document, loc protocol.StorageLocation) *Storage {
	return &Storage{doc: d, location: loc, items: make(map[string]string)}
}

// Length returns the number of stored items.
func (s *Storage) Length() int { return len(s.keys) }

// Key returns the i-th key in insertion order.
func (s *Storage) Key(i int) (string, bool) {
	if i < 0 || i >= len(s.keys) {
		return "", false
	}
	return s.keys[i], true
}

// GetItem returns the value stored under key.
func (s *Storage) GetItem(key string) (string, bool) {
	v, ok := s.items[key]
	return v, ok
}

// SetItem stores value under key.
func (s *Storage) SetItem(key, value string) {
	if _, ok := s.items[key]; !ok {
		s.keys = append(s.keys, key)
	}
	s.items[key] = value
	sess := s.doc.sess
	s.transfer(protocol.StorageSet, sess.StoreString(key), sess.StoreString(value))
}

// RemoveItem deletes key. Removing a missing key does nothing.
func (s *Storage) RemoveItem(key string) {
	if _, ok := s.items[key]; !ok {
		return
	}
	delete(s.items, key)
	for i, k := range s.keys {
		if k == key {
			s.keys = append(s.keys[:i], s.keys[i+1:]...)
			break
		}
	}
	s.transfer(protocol.StorageRemove, s.doc.sess.StoreString(key), protocol.NoString)
}

// Clear deletes every item.
func (s *Storage) Clear() {
	s.keys = nil
	s.items = make(map[string]string)
	s.transfer(protocol.StorageClear, protocol.NoString, protocol.NoString)
}

// Load fills the area without transferring anything, for state the main
// context already holds.
func (s *Storage) Load(items map[string]string) {
	for k, v := range items {
		if _, ok := s.items[k]; !ok {
			s.keys = append(s.keys, k)
		}
		s.items[k] = v
	}
}

func (s *Storage) transfer(op protocol.StorageOperation, key, value uint16) {
	s.doc.sess.Transfer(uint16(protocol.OpStorage), uint16(s.location), uint16(op), key, value)
}
