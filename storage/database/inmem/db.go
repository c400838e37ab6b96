// Package inmemdb provides a map-backed user.Repository for tests and local
// development without a running database.
package inmemdb

import (
	"sync"

	"github.com/nuruedu/nuru/core/user"
)

type userTable struct {
	mutex sync.RWMutex
	table map[string]*user.User // keyed by User.ID
}

type DB struct {
	user *userTable
}

func NewDB() *DB {
	return &DB{
		user: &userTable{table: make(map[string]*user.User)},
	}
}

// Reset empties all tables.
func (db *DB) Reset() {
	db.user.mutex.Lock()
	defer db.user.mutex.Unlock()
	db.user.table = make(map[string]*user.User)
}
