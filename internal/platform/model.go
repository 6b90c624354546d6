package platform

import (
	"fmt"
	"math"
	"strings"
)

const (
	maxIdentityLength        = 190
	maxTitleLength           = 256
	maxDescriptionLength     = 1024
	maxCategoryLength        = 64
	maxSubscriptionTypeLen   = 32
	maxPlaylistNameLength    = 64
	maxStorableUnsignedValue = math.MaxInt64
)

// Identity is an already-authenticated ledger principal.
type Identity string

// NewIdentity validates raw input and returns an Identity.
func NewIdentity(rawInput string) (Identity, error) {
	identity := Identity(strings.TrimSpace(rawInput))
	if err := identity.validate(); err != nil {
		return "", err
	}
	return identity, nil
}

func (id Identity) validate() error {
	value := string(id)
	if value == "" {
		return fmt.Errorf("%w: identity is empty", ErrInvalidField)
	}
	if len(value) > maxIdentityLength {
		return fmt.Errorf("%w: identity exceeds %d characters", ErrInvalidField, maxIdentityLength)
	}
	if strings.ContainsAny(value, " \t\r\n") {
		return fmt.Errorf("%w: identity contains whitespace", ErrInvalidField)
	}
	return nil
}

// String returns the underlying principal.
func (id Identity) String() string {
	return string(id)
}

// ContentID is the caller-supplied, immutable key of a content record.
type ContentID uint64

// PlaylistID is unique per owner, not globally.
type PlaylistID uint64

// checkStorable rejects unsigned values SQLite cannot hold in a signed 64-bit column.
func checkStorable(field string, value uint64) error {
	if value > maxStorableUnsignedValue {
		return fmt.Errorf("%w: %s exceeds %d", ErrInvalidField, field, uint64(maxStorableUnsignedValue))
	}
	return nil
}

// checkText enforces the printable-ASCII, bounded-length text fields of the ledger.
func checkText(field, value string, maxLength int, allowEmpty bool) error {
	if value == "" && !allowEmpty {
		return fmt.Errorf("%w: %s is empty", ErrInvalidField, field)
	}
	if len(value) > maxLength {
		return fmt.Errorf("%w: %s exceeds %d characters", ErrInvalidField, field, maxLength)
	}
	for index := 0; index < len(value); index++ {
		if value[index] < 0x20 || value[index] > 0x7e {
			return fmt.Errorf("%w: %s must be printable ascii", ErrInvalidField, field)
		}
	}
	return nil
}

// ContentRecord is a published piece of content.
type ContentRecord struct {
	ContentID       uint64 `gorm:"column:content_id;primaryKey;autoIncrement:false"`
	Creator         string `gorm:"column:creator;size:190;not null;index"`
	Title           string `gorm:"column:title;size:256;not null"`
	Description     string `gorm:"column:description;size:1024;not null"`
	Price           uint64 `gorm:"column:price;not null"`
	IsNFT           bool   `gorm:"column:is_nft;not null"`
	Category        string `gorm:"column:category;size:64;not null"`
	IsPremium       bool   `gorm:"column:is_premium;not null"`
	TotalEarnings   uint64 `gorm:"column:total_earnings;not null"`
	CreatedAtHeight uint64 `gorm:"column:created_at_height;not null"`
}

// TableName provides the explicit table binding for GORM.
func (ContentRecord) TableName() string {
	return "content_records"
}

// CreatorProfile aggregates per-creator stats. It is never deleted.
type CreatorProfile struct {
	Creator         string `gorm:"column:creator;primaryKey;size:190;not null"`
	TotalContent    uint64 `gorm:"column:total_content;not null"`
	TotalEarnings   uint64 `gorm:"column:total_earnings;not null"`
	SubscriberCount uint64 `gorm:"column:subscriber_count;not null"`
	Verified        bool   `gorm:"column:verified;not null"`
	CreatorLevel    uint32 `gorm:"column:creator_level;not null"`
	CreatedAtHeight uint64 `gorm:"column:created_at_height;not null"`
}

// TableName provides the explicit table binding for GORM.
func (CreatorProfile) TableName() string {
	return "creator_profiles"
}

// Subscription is keyed by (subscriber, creator). Active marks creation, not liveness.
type Subscription struct {
	Subscriber       string `gorm:"column:subscriber;primaryKey;size:190;not null"`
	Creator          string `gorm:"column:creator;primaryKey;size:190;not null;index"`
	StartHeight      uint64 `gorm:"column:start_height;not null"`
	DurationBlocks   uint64 `gorm:"column:duration_blocks;not null"`
	SubscriptionType string `gorm:"column:subscription_type;size:32;not null"`
	Active           bool   `gorm:"column:active;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Subscription) TableName() string {
	return "subscriptions"
}

// ContentRating is a single, immutable rating by one rater.
type ContentRating struct {
	ContentID     uint64 `gorm:"column:content_id;primaryKey;autoIncrement:false"`
	Rater         string `gorm:"column:rater;primaryKey;size:190;not null"`
	Rating        uint8  `gorm:"column:rating;not null"`
	RatedAtHeight uint64 `gorm:"column:rated_at_height;not null"`
}

// TableName provides the explicit table binding for GORM.
func (ContentRating) TableName() string {
	return "content_ratings"
}

// ContentRatingSummary holds the running sum and count behind the average.
type ContentRatingSummary struct {
	ContentID   uint64 `gorm:"column:content_id;primaryKey;autoIncrement:false"`
	RatingSum   uint64 `gorm:"column:rating_sum;not null"`
	RatingCount uint64 `gorm:"column:rating_count;not null"`
}

// TableName provides the explicit table binding for GORM.
func (ContentRatingSummary) TableName() string {
	return "content_rating_summaries"
}

// Playlist is keyed by (playlist id, owner).
type Playlist struct {
	PlaylistID      uint64 `gorm:"column:playlist_id;primaryKey;autoIncrement:false"`
	Owner           string `gorm:"column:owner;primaryKey;size:190;not null"`
	Name            string `gorm:"column:name;size:64;not null"`
	IsPublic        bool   `gorm:"column:is_public;not null"`
	CreatedAtHeight uint64 `gorm:"column:created_at_height;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Playlist) TableName() string {
	return "playlists"
}

// PlaylistEntry is one position of a playlist's ordered content sequence.
type PlaylistEntry struct {
	PlaylistID uint64 `gorm:"column:playlist_id;primaryKey;autoIncrement:false"`
	Owner      string `gorm:"column:owner;primaryKey;size:190;not null"`
	Position   uint32 `gorm:"column:position;primaryKey;autoIncrement:false"`
	ContentID  uint64 `gorm:"column:content_id;not null;index"`
}

// TableName provides the explicit table binding for GORM.
func (PlaylistEntry) TableName() string {
	return "playlist_entries"
}

// Models lists every persisted type for schema migration.
func Models() []any {
	return []any{
		&PlatformSettings{},
		&ContentRecord{},
		&CreatorProfile{},
		&Subscription{},
		&ContentRating{},
		&ContentRatingSummary{},
		&Playlist{},
		&PlaylistEntry{},
		&Receipt{},
	}
}
