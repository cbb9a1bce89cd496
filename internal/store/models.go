package store

import "time"

const (
	ThreadStatusUnresolved = "unresolved"
	ThreadStatusResolved   = "resolved"
)

// Document is the slice of a document the annotation service needs: who owns
// it and how many position units its content currently spans.
type Document struct {
	ID        string
	OwnerID   string
	Title     string
	Size      int
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Collaborator struct {
	DocumentID string
	UserID     string
	Role       string
}

type Thread struct {
	ID           string
	DocumentID   string
	CreatedBy    string
	Status       string
	AnchorFrom   int
	AnchorTo     int
	AnchorExact  *string
	AnchorPrefix *string
	AnchorSuffix *string
	ResolvedAt   *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
	Comments     []Comment
}

type Comment struct {
	ID          string
	ThreadID    string
	UserID      string
	Content     string
	ContentText string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// AnchorUpdate is one entry of a bulk anchor sync. Nil fingerprint fields
// keep the stored value.
type AnchorUpdate struct {
	ThreadID string
	From     int
	To       int
	Exact    *string
	Prefix   *string
	Suffix   *string
}
