package platform

import (
	"context"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// MaxPlaylistEntries caps the length of one playlist.
const MaxPlaylistEntries = 100

const (
	queryPlaylistOwner   = "playlist_id = ? AND owner = ?"
	orderPositionAsc     = "position ASC"
	reasonPlaylistSelect = "playlist_select_failed"
	reasonPlaylistInsert = "playlist_insert_failed"
	reasonEntrySelect    = "playlist_entry_select_failed"
	reasonEntryInsert    = "playlist_entry_insert_failed"
)

// PlaylistView is a playlist together with its ordered content ids.
type PlaylistView struct {
	PlaylistID PlaylistID  `json:"playlist_id"`
	Owner      Identity    `json:"owner"`
	Name       string      `json:"name"`
	IsPublic   bool        `json:"is_public"`
	ContentIDs []ContentID `json:"content_ids"`
}

type createPlaylistPayload struct {
	PlaylistID PlaylistID `json:"playlist_id"`
	Name       string     `json:"name"`
	IsPublic   bool       `json:"is_public"`
}

// CreatePlaylist creates an empty playlist owned by the caller.
func (s *Service) CreatePlaylist(ctx context.Context, caller Identity, playlistID PlaylistID, name string, isPublic bool) (Receipt, error) {
	return s.submit(ctx, OperationCreatePlaylist, caller, func(txc *txContext) (any, error) {
		if err := checkStorable("playlist id", uint64(playlistID)); err != nil {
			return nil, err
		}
		_, found, err := s.lookupPlaylist(txc, playlistID)
		if err != nil {
			return nil, err
		}
		if found {
			return nil, ErrContentExists
		}
		if err := checkText("playlist name", name, maxPlaylistNameLength, false); err != nil {
			return nil, err
		}
		record := Playlist{
			PlaylistID:      uint64(playlistID),
			Owner:           txc.caller.String(),
			Name:            name,
			IsPublic:        isPublic,
			CreatedAtHeight: txc.height,
		}
		if err := txc.tx.Create(&record).Error; err != nil {
			return nil, s.storageFailure(txc.operation, reasonPlaylistInsert, err,
				zap.Uint64("playlist_id", record.PlaylistID))
		}
		return createPlaylistPayload{PlaylistID: playlistID, Name: name, IsPublic: isPublic}, nil
	})
}

type addToPlaylistPayload struct {
	PlaylistID PlaylistID `json:"playlist_id"`
	ContentID  ContentID  `json:"content_id"`
	Position   uint32     `json:"position"`
}

// AddToPlaylist appends contentID to the caller's playlist, preserving insertion order.
// Duplicate content ids are allowed.
func (s *Service) AddToPlaylist(ctx context.Context, caller Identity, playlistID PlaylistID, contentID ContentID) (Receipt, error) {
	return s.submit(ctx, OperationAddToPlaylist, caller, func(txc *txContext) (any, error) {
		_, contentFound, err := s.lookupContent(txc, contentID)
		if err != nil {
			return nil, err
		}
		if !contentFound {
			return nil, ErrContentNotFound
		}
		_, playlistFound, err := s.lookupPlaylist(txc, playlistID)
		if err != nil {
			return nil, err
		}
		if !playlistFound {
			return nil, ErrPlaylistNotFound
		}

		var length int64
		if err := txc.tx.Model(&PlaylistEntry{}).
			Where(queryPlaylistOwner, uint64(playlistID), txc.caller.String()).
			Count(&length).Error; err != nil {
			return nil, s.storageFailure(txc.operation, reasonEntrySelect, err)
		}
		if length >= MaxPlaylistEntries {
			return nil, ErrPlaylistFull
		}

		entry := PlaylistEntry{
			PlaylistID: uint64(playlistID),
			Owner:      txc.caller.String(),
			Position:   uint32(length),
			ContentID:  uint64(contentID),
		}
		if err := txc.tx.Create(&entry).Error; err != nil {
			return nil, s.storageFailure(txc.operation, reasonEntryInsert, err,
				zap.Uint64("playlist_id", entry.PlaylistID),
				zap.Uint64("content_id", entry.ContentID))
		}
		return addToPlaylistPayload{PlaylistID: playlistID, ContentID: contentID, Position: entry.Position}, nil
	})
}

func (s *Service) lookupPlaylist(txc *txContext, playlistID PlaylistID) (Playlist, bool, error) {
	if uint64(playlistID) > maxStorableUnsignedValue {
		return Playlist{}, false, nil
	}
	var record Playlist
	err := txc.tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where(queryPlaylistOwner, uint64(playlistID), txc.caller.String()).
		Take(&record).Error
	if isNotFound(err) {
		return Playlist{}, false, nil
	}
	if err != nil {
		return Playlist{}, false, s.storageFailure(txc.operation, reasonPlaylistSelect, err,
			zap.Uint64("playlist_id", uint64(playlistID)))
	}
	return record, true, nil
}

// Playlist returns the playlist (playlistID, owner) with its entries in insertion order.
func (s *Service) Playlist(ctx context.Context, playlistID PlaylistID, owner Identity) (PlaylistView, bool, error) {
	if uint64(playlistID) > maxStorableUnsignedValue {
		return PlaylistView{}, false, nil
	}
	var record Playlist
	var entries []PlaylistEntry
	found := true
	err := s.read(ctx, func(db *gorm.DB) error {
		err := db.Where(queryPlaylistOwner, uint64(playlistID), owner.String()).Take(&record).Error
		if isNotFound(err) {
			found = false
			return nil
		}
		if err != nil {
			return err
		}
		return db.Where(queryPlaylistOwner, uint64(playlistID), owner.String()).
			Order(orderPositionAsc).
			Find(&entries).Error
	})
	if err != nil {
		return PlaylistView{}, false, s.readFailure(reasonPlaylistSelect, err)
	}
	if !found {
		return PlaylistView{}, false, nil
	}

	view := PlaylistView{
		PlaylistID: PlaylistID(record.PlaylistID),
		Owner:      Identity(record.Owner),
		Name:       record.Name,
		IsPublic:   record.IsPublic,
		ContentIDs: make([]ContentID, 0, len(entries)),
	}
	for _, entry := range entries {
		view.ContentIDs = append(view.ContentIDs, ContentID(entry.ContentID))
	}
	return view, true, nil
}
