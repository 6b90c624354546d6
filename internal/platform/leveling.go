package platform

import (
	"context"
	"errors"
	"fmt"
)

var errInvalidLevelTiers = errors.New("level tiers are invalid")

// LevelTier is the threshold a creator at FromLevel must meet to advance to FromLevel+1.
type LevelTier struct {
	FromLevel      uint32
	MinContent     uint64
	MinSubscribers uint64
}

// DefaultLevelTiers returns the standard tier table. Level 5 is the top tier.
func DefaultLevelTiers() []LevelTier {
	return []LevelTier{
		{FromLevel: 1, MinContent: 10, MinSubscribers: 100},
		{FromLevel: 2, MinContent: 25, MinSubscribers: 500},
		{FromLevel: 3, MinContent: 50, MinSubscribers: 2000},
		{FromLevel: 4, MinContent: 100, MinSubscribers: 10000},
	}
}

type levelingPolicy struct {
	tiers map[uint32]LevelTier
}

func newLevelingPolicy(tiers []LevelTier) (levelingPolicy, error) {
	indexed := make(map[uint32]LevelTier, len(tiers))
	for _, tier := range tiers {
		if tier.FromLevel < initialCreatorLevel {
			return levelingPolicy{}, fmt.Errorf("%w: level %d below %d", errInvalidLevelTiers, tier.FromLevel, initialCreatorLevel)
		}
		if _, duplicate := indexed[tier.FromLevel]; duplicate {
			return levelingPolicy{}, fmt.Errorf("%w: duplicate level %d", errInvalidLevelTiers, tier.FromLevel)
		}
		indexed[tier.FromLevel] = tier
	}
	return levelingPolicy{tiers: indexed}, nil
}

// authorize decides whether caller may move creator's profile to the next level.
// Every refusal is ErrNotAuthorized.
func (policy levelingPolicy) authorize(profile CreatorProfile, creator, caller Identity) error {
	if err := requireIdentity(caller, creator); err != nil {
		return err
	}
	tier, ok := policy.tiers[profile.CreatorLevel]
	if !ok {
		return ErrNotAuthorized
	}
	if profile.TotalContent < tier.MinContent || profile.SubscriberCount < tier.MinSubscribers {
		return ErrNotAuthorized
	}
	return nil
}

type levelPayload struct {
	Creator       string `json:"creator"`
	PreviousLevel uint32 `json:"previous_level"`
	NewLevel      uint32 `json:"new_level"`
}

// LevelUpCreator advances the caller's own creator level by one when its stats meet the next tier.
func (s *Service) LevelUpCreator(ctx context.Context, caller Identity) (Receipt, error) {
	return s.submit(ctx, OperationLevelUpCreator, caller, func(txc *txContext) (any, error) {
		return s.levelUp(txc, txc.caller)
	})
}

func (s *Service) levelUp(txc *txContext, creator Identity) (any, error) {
	profile, found, err := s.lookupCreator(txc, creator)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrNotAuthorized
	}
	if err := s.leveling.authorize(profile, creator, txc.caller); err != nil {
		return nil, err
	}
	nextLevel := profile.CreatorLevel + 1
	if err := txc.tx.Model(&CreatorProfile{}).
		Where(queryCreator+" AND "+columnCreatorLevel+" = ?", creator.String(), profile.CreatorLevel).
		UpdateColumn(columnCreatorLevel, nextLevel).Error; err != nil {
		return nil, s.storageFailure(txc.operation, reasonCreatorUpdate, err)
	}
	return levelPayload{Creator: creator.String(), PreviousLevel: profile.CreatorLevel, NewLevel: nextLevel}, nil
}
