package artifact

import "time"

// Visibility scopes who may fetch an artifact.
type Visibility string

const (
	VisibilityPrivate Visibility = "private"
	VisibilityPublic  Visibility = "public"
)

// Stored is one generated document held until its expiry.
type Stored struct {
	Key         string
	Shop        string
	Filename    string
	ContentType string
	Size        int
	Payload     []byte
	CreatedAt   time.Time
	ExpiresAt   time.Time
	Visibility  Visibility
}

// Metadata is the listing view of a stored artifact, without the payload.
type Metadata struct {
	Key         string
	Filename    string
	ContentType string
	Size        int
	CreatedAt   time.Time
	ExpiresAt   time.Time
	Visibility  Visibility
}

// StoreParams describes a store request.
type StoreParams struct {
	Shop        string
	Filename    string
	ContentType string
	// TTLHours defaults to 24 when zero.
	TTLHours int
	// Visibility defaults to private when empty.
	Visibility Visibility
}

func (s Stored) metadata() Metadata {
	return Metadata{
		Key:         s.Key,
		Filename:    s.Filename,
		ContentType: s.ContentType,
		Size:        s.Size,
		CreatedAt:   s.CreatedAt,
		ExpiresAt:   s.ExpiresAt,
		Visibility:  s.Visibility,
	}
}
