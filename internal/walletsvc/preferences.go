package walletsvc

import (
	"context"
	"fmt"

	"github.com/Fantasim/bitwallet-coordinator/internal/models"
)

// GetPreferences loads a single copayer's wallet preferences, or nil if
// none were ever saved.
func (s *Service) GetPreferences(ctx context.Context, walletID, copayerID string) (*models.Preferences, error) {
	p, err := s.Storage.GetPreferences(walletID, copayerID)
	if err != nil {
		return nil, fmt.Errorf("load preferences for copayer %s in wallet %s: %w", copayerID, walletID, err)
	}
	return p, nil
}

// SavePreferences upserts a copayer's wallet preferences (§4.2 "Preferences").
func (s *Service) SavePreferences(ctx context.Context, p models.Preferences) error {
	if err := s.Storage.UpsertPreferences(&p); err != nil {
		return fmt.Errorf("save preferences for copayer %s in wallet %s: %w", p.CopayerID, p.WalletID, err)
	}
	return nil
}
