package database

import (
	"time"

	"family-gallery/internal/mediatypes"
)

// MediaStatus is the processing lifecycle state of a media item.
type MediaStatus string

const (
	StatusProcessing MediaStatus = "processing"
	StatusReady      MediaStatus = "ready"
	StatusError      MediaStatus = "error"
)

// Valid reports whether s is one of the known states.
func (s MediaStatus) Valid() bool {
	switch s {
	case StatusProcessing, StatusReady, StatusError:
		return true
	}
	return false
}

// MediaItem is one uploaded photo or video.
type MediaItem struct {
	ID               string          `json:"id"`
	UploaderID       string          `json:"uploaderId"`
	UploaderName     string          `json:"uploaderName,omitempty"`
	StorageKey       string          `json:"storageKey"`
	OriginalFilename string          `json:"originalFilename"`
	MimeType         string          `json:"mimeType"`
	Kind             mediatypes.Kind `json:"kind"`
	FileSizeBytes    int64           `json:"fileSizeBytes"`
	Description      *string         `json:"description"`
	Width            *int            `json:"width"`
	Height           *int            `json:"height"`
	CapturedAt       *string         `json:"capturedAt"`
	ThumbnailKey     *string         `json:"thumbnailPath"`
	Status           MediaStatus     `json:"status"`
	CreatedAt        time.Time       `json:"createdAt"`
	ProcessedAt      *time.Time      `json:"processedAt"`
	IsFavorite       bool            `json:"isFavorite"`
}

// ProcessingResult carries every field the worker sets when it marks an
// item ready. It is written in one statement.
type ProcessingResult struct {
	StorageKey   string
	MimeType     string
	Width        *int
	Height       *int
	CapturedAt   *string
	ThumbnailKey *string
}

// ListOptions controls feed queries.
type ListOptions struct {
	Filter   mediatypes.Filter
	Sort     mediatypes.Sort
	Status   MediaStatus // empty for any status
	ViewerID string      // drives "mine", "favorites" and IsFavorite
	Page     int
	PageSize int
}

// MediaPage is one page of the feed.
type MediaPage struct {
	Items      []MediaItem       `json:"items"`
	Filter     mediatypes.Filter `json:"filter"`
	Sort       mediatypes.Sort   `json:"sort"`
	TotalItems int               `json:"totalItems"`
	Page       int               `json:"page"`
	PageSize   int               `json:"pageSize"`
	TotalPages int               `json:"totalPages"`
}

// Role determines what a user may do to other users' media.
type Role string

const (
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
)

// User is a gallery account.
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	DisplayName  string    `json:"displayName"`
	PasswordHash string    `json:"-"`
	Role         Role      `json:"role"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// IsAdmin reports whether the user has the admin role.
func (u *User) IsAdmin() bool {
	return u != nil && u.Role == RoleAdmin
}

// Session represents an authenticated user session. Token is only populated
// when the session is created; the database stores its SHA-256 hash.
type Session struct {
	UserID    string    `json:"userId"`
	Token     string    `json:"-"`
	ExpiresAt time.Time `json:"expiresAt"`
	CreatedAt time.Time `json:"createdAt"`
}
