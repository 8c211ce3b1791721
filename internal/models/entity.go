package models

// Entity is implemented by every document the replica layer can cache.
// Versions are assigned by the document store and increase monotonically
// with every committed write to the underlying document.
type Entity interface {
	GetID() string
	GetVersion() int64
	SetVersion(v int64)
	Clone() Entity
}
