package walletsvc

import (
	"context"
	"fmt"
	"time"

	"github.com/Fantasim/bitwallet-coordinator/internal/config"
	"github.com/Fantasim/bitwallet-coordinator/internal/models"
)

// DeriveAddress derives the next address on the given chain for a wallet,
// enforcing the single-address and main-address-gap policies (§4.2).
func (s *Service) DeriveAddress(ctx context.Context, walletID string, isChange bool) (*models.Address, error) {
	var derived *models.Address

	err := s.runLocked(ctx, walletID, func(ctx context.Context) error {
		w, err := s.Storage.GetWallet(walletID)
		if err != nil {
			return fmt.Errorf("load wallet %s: %w", walletID, err)
		}
		if w == nil {
			return fmt.Errorf("wallet %s: %w", walletID, config.ErrWalletNotFound)
		}
		if !w.IsComplete() {
			return fmt.Errorf("wallet %s: %w", walletID, config.ErrWalletNotComplete)
		}

		if w.SingleAddress && !isChange {
			existing, err := s.Storage.ListAddresses(walletID)
			if err != nil {
				return fmt.Errorf("list addresses for wallet %s: %w", walletID, err)
			}
			for i := range existing {
				if !existing[i].IsChange {
					derived = &existing[i]
					return nil
				}
			}
		}

		if !isChange {
			if err := s.checkMainAddressGap(ctx, w); err != nil {
				return err
			}
		}

		index := w.AddressManager.NextIndex(isChange)
		addr, err := BuildAddress(w, isChange, index)
		if err != nil {
			return fmt.Errorf("build address at index %d: %w", index, err)
		}
		addr.CreatedOn = time.Now().Unix()

		if err := s.Storage.InsertAddress(addr); err != nil {
			return fmt.Errorf("persist address: %w", err)
		}
		if err := s.Storage.UpdateAddressManager(walletID, w.AddressManager); err != nil {
			return fmt.Errorf("persist address manager: %w", err)
		}

		derived = addr
		return nil
	})
	return derived, err
}

// ListAddresses returns every address derived for a wallet.
func (s *Service) ListAddresses(ctx context.Context, walletID string) ([]models.Address, error) {
	return s.Storage.ListAddresses(walletID)
}

// checkMainAddressGap enforces MAX_MAIN_ADDRESS_GAP: creating a new
// non-change address is denied when the trailing MaxMainAddressGap receive
// addresses show no activity, unless the explorer now reports activity on
// the latest of them (§4.2, §8 boundary behavior).
func (s *Service) checkMainAddressGap(ctx context.Context, w *models.Wallet) error {
	addrs, err := s.Storage.ListAddresses(w.ID)
	if err != nil {
		return fmt.Errorf("list addresses for wallet %s: %w", w.ID, err)
	}

	var receive []models.Address
	for _, a := range addrs {
		if !a.IsChange {
			receive = append(receive, a)
		}
	}
	if len(receive) < config.MaxMainAddressGap {
		return nil
	}

	trailing := receive[len(receive)-config.MaxMainAddressGap:]
	for _, a := range trailing {
		if a.HasActivity {
			return nil
		}
	}

	latest := &trailing[len(trailing)-1]
	active, err := s.addressHasActivity(ctx, latest.Address)
	if err != nil {
		return fmt.Errorf("check explorer activity for %s: %w", latest.Address, err)
	}
	if !active {
		return fmt.Errorf("wallet %s: %w", w.ID, config.ErrMainAddressGapReached)
	}

	if err := s.Storage.MarkAddressActivity(latest.Address, time.Now().Unix()); err != nil {
		return fmt.Errorf("mark activity for %s: %w", latest.Address, err)
	}
	return nil
}

// addressHasActivity reports whether the explorer currently sees any
// unspent output at address. Esplora's UTXO endpoint only surfaces
// currently-unspent outputs, so a spent-but-historically-active address
// reads as inactive here; a full chain-stats lookup would close that gap,
// but the Explorer collaborator contract (§6) does not require one.
func (s *Service) addressHasActivity(ctx context.Context, address string) (bool, error) {
	utxos, err := s.Explorer.GetUTXOs(ctx, address)
	if err != nil {
		return false, err
	}
	return len(utxos) > 0, nil
}

// Scan derives successive addresses on each branch until ScanAddressGap
// consecutive derivations show no explorer activity, then rewinds the
// unused tail (§4.2 "Scan").
func (s *Service) Scan(ctx context.Context, walletID string) error {
	if err := s.Storage.UpdateScanStatus(walletID, models.ScanRunning); err != nil {
		return fmt.Errorf("set scan status running: %w", err)
	}

	err := s.runLocked(ctx, walletID, func(ctx context.Context) error {
		w, err := s.Storage.GetWallet(walletID)
		if err != nil {
			return fmt.Errorf("load wallet %s: %w", walletID, err)
		}
		if w == nil {
			return fmt.Errorf("wallet %s: %w", walletID, config.ErrWalletNotFound)
		}

		for _, isChange := range []bool{false, true} {
			if err := s.scanBranch(ctx, w, isChange); err != nil {
				return err
			}
		}
		return s.Storage.UpdateAddressManager(walletID, w.AddressManager)
	})

	if err != nil {
		if statusErr := s.Storage.UpdateScanStatus(walletID, models.ScanError); statusErr != nil {
			return fmt.Errorf("scan failed (%w) and could not record error status: %w", err, statusErr)
		}
		return err
	}
	return s.Storage.UpdateScanStatus(walletID, models.ScanSuccess)
}

// scanBranch derives and probes addresses on one chain until
// ScanAddressGap consecutive derivations show no activity, persisting only
// the active ones and leaving the address manager pointed just past the
// last active index — the unused tail is never written, which is how the
// gap policy on the next natural derivation starts clean.
func (s *Service) scanBranch(ctx context.Context, w *models.Wallet, isChange bool) error {
	startIndex := w.AddressManager.ReceiveIndex
	if isChange {
		startIndex = w.AddressManager.ChangeIndex
	}

	var misses int
	index := startIndex
	lastActive := startIndex

	for misses < config.ScanAddressGap {
		addr, err := BuildAddress(w, isChange, index)
		if err != nil {
			return fmt.Errorf("build address at index %d: %w", index, err)
		}
		active, err := s.addressHasActivity(ctx, addr.Address)
		if err != nil {
			return fmt.Errorf("check activity for %s: %w", addr.Address, err)
		}

		if active {
			addr.CreatedOn = time.Now().Unix()
			addr.HasActivity = true
			addr.LastUsedOn = time.Now().Unix()
			if err := s.Storage.InsertAddress(addr); err != nil {
				return fmt.Errorf("persist address: %w", err)
			}
			misses = 0
			lastActive = index + 1
		} else {
			misses++
		}
		index++
	}

	if isChange {
		w.AddressManager.ChangeIndex = lastActive
	} else {
		w.AddressManager.ReceiveIndex = lastActive
	}
	return nil
}
