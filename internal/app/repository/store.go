package repository

import "gorm.io/gorm"

// Store bundles the repositories a storage backend provides.
type Store struct {
	Links    LinkRepository
	Clicks   ClickEventRepository
	Recorder ClickRecorder
}

// NewGormStore returns a Store backed by the given GORM connection.
func NewGormStore(db *gorm.DB) Store {
	return Store{
		Links:    NewLinkRepository(db),
		Clicks:   NewClickEventRepository(db),
		Recorder: NewClickRecorder(db),
	}
}
