package walletsvc

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Fantasim/bitwallet-coordinator/internal/config"
	"github.com/Fantasim/bitwallet-coordinator/internal/models"
	"github.com/Fantasim/bitwallet-coordinator/internal/walletauth"
)

// CreateWalletRequest describes a new m-of-n wallet (§3, §6 POST /wallets).
type CreateWalletRequest struct {
	Name               string
	M                  int
	N                  int
	Network            models.Network
	PubKey             string // wallet-secret public key, hex
	DerivationStrategy models.DerivationStrategy
	AddressType        models.AddressType
	SingleAddress      bool
}

// CreateWallet validates and persists a new wallet. Unauthenticated per §6.
func (s *Service) CreateWallet(ctx context.Context, req CreateWalletRequest) (*models.Wallet, error) {
	if req.N < 1 || req.N > config.MaxCopayersPerWallet {
		return nil, fmt.Errorf("wallet size n=%d: %w", req.N, config.ErrInvalidConfig)
	}
	if req.M < 1 || req.M > req.N {
		return nil, fmt.Errorf("threshold m=%d of n=%d: %w", req.M, req.N, config.ErrInvalidConfig)
	}
	if req.Network != models.NetworkLivenet && req.Network != models.NetworkTestnet {
		return nil, fmt.Errorf("network %q: %w", req.Network, config.ErrInvalidConfig)
	}
	if req.PubKey == "" {
		return nil, fmt.Errorf("missing wallet secret pubkey: %w", config.ErrInvalidConfig)
	}

	w := &models.Wallet{
		ID:                 uuid.NewString(),
		Name:               req.Name,
		M:                  req.M,
		N:                  req.N,
		Network:            req.Network,
		PubKey:             req.PubKey,
		DerivationStrategy: req.DerivationStrategy,
		AddressType:        req.AddressType,
		SingleAddress:      req.SingleAddress,
		ScanStatus:         models.ScanIdle,
		CreatedOn:          time.Now().Unix(),
	}

	if err := s.Storage.CreateWallet(w); err != nil {
		return nil, fmt.Errorf("create wallet: %w", err)
	}
	return w, nil
}

// JoinWalletRequest carries a prospective copayer's join credentials.
type JoinWalletRequest struct {
	Name           string
	XPubKey        string
	RequestPubKey  string // hex-encoded compressed pubkey, this copayer's primary signing key
	WalletSignature string // hex ECDSA signature over "name|xPubKey|requestPubKey", by the wallet secret
}

// JoinWallet appends a copayer to a wallet once it verifies the caller
// knows the wallet secret (§4.2 "Copayer join"). Unauthenticated per §6 —
// the wallet-secret signature is the authentication.
func (s *Service) JoinWallet(ctx context.Context, walletID string, req JoinWalletRequest) (*models.Copayer, error) {
	var joined *models.Copayer
	var becameComplete bool

	err := s.runLocked(ctx, walletID, func(ctx context.Context) error {
		w, err := s.Storage.GetWallet(walletID)
		if err != nil {
			return fmt.Errorf("load wallet %s: %w", walletID, err)
		}
		if w == nil {
			return fmt.Errorf("wallet %s: %w", walletID, config.ErrWalletNotFound)
		}
		if w.IsComplete() {
			return fmt.Errorf("wallet %s: %w", walletID, config.ErrWalletFull)
		}
		if w.HasXPubKey(req.XPubKey) {
			return fmt.Errorf("xPubKey already joined wallet %s: %w", walletID, config.ErrCopayerInWallet)
		}

		message := req.Name + "|" + req.XPubKey + "|" + req.RequestPubKey
		ok, err := walletauth.VerifySignature(message, req.WalletSignature, w.PubKey)
		if err != nil {
			return fmt.Errorf("verify join signature: %w", err)
		}
		if !ok {
			return fmt.Errorf("join signature does not match wallet secret: %w", config.ErrBadSignatures)
		}

		c := &models.Copayer{
			ID:           walletauth.DeriveCopayerID(req.XPubKey, string(w.Network)),
			WalletID:     walletID,
			Name:         req.Name,
			CopayerIndex: len(w.Copayers),
			XPubKey:      req.XPubKey,
			RequestPubKeys: []models.RequestPubKey{{
				Key:     req.RequestPubKey,
				AddedOn: time.Now().Unix(),
			}},
			CreatedOn: time.Now().Unix(),
		}
		if err := s.Storage.AddCopayer(c); err != nil {
			return fmt.Errorf("add copayer: %w", err)
		}

		if err := s.notify(walletID, models.NotificationNewCopayer, c.ID, map[string]any{
			"copayerId":   c.ID,
			"copayerName": c.Name,
		}); err != nil {
			return err
		}

		becameComplete = len(w.Copayers)+1 == w.N
		joined = c
		return nil
	})
	if err != nil {
		return nil, err
	}

	if becameComplete {
		w, err := s.Storage.GetWallet(walletID)
		if err == nil && w != nil {
			if err := s.notify(string(w.Network), models.NotificationWalletComplete, "", map[string]any{
				"walletId": walletID,
			}); err != nil {
				return joined, err
			}
		}
	}
	return joined, nil
}

// AddAccessRequest carries a new request-signing key chained to a
// copayer's xPubKey through the fixed REQUEST_KEY_AUTH path.
type AddAccessRequest struct {
	CopayerID     string
	Name          string
	RequestPubKey string // hex-encoded compressed pubkey being added
	ChainSignature string // hex ECDSA signature over RequestPubKey, by the REQUEST_KEY_AUTH key
}

// AddAccess appends an access key to a copayer, enforcing MAX_KEYS (§4.2).
func (s *Service) AddAccess(ctx context.Context, walletID string, req AddAccessRequest) (*models.RequestPubKey, error) {
	var added *models.RequestPubKey

	err := s.runLocked(ctx, walletID, func(ctx context.Context) error {
		w, err := s.Storage.GetWallet(walletID)
		if err != nil {
			return fmt.Errorf("load wallet %s: %w", walletID, err)
		}
		if w == nil {
			return fmt.Errorf("wallet %s: %w", walletID, config.ErrWalletNotFound)
		}
		c := w.CopayerByID(req.CopayerID)
		if c == nil {
			return fmt.Errorf("copayer %s not in wallet %s: %w", req.CopayerID, walletID, config.ErrNotAuthorized)
		}
		if len(c.RequestPubKeys) >= config.TooManyKeysMargin {
			return fmt.Errorf("copayer %s: %w", req.CopayerID, config.ErrTooManyKeys)
		}

		authKey, err := requestKeyAuthPubKey(c.XPubKey)
		if err != nil {
			return fmt.Errorf("derive REQUEST_KEY_AUTH key: %w", err)
		}
		ok, err := walletauth.VerifySignature(req.RequestPubKey, req.ChainSignature, fmt.Sprintf("%x", authKey.SerializeCompressed()))
		if err != nil {
			return fmt.Errorf("verify access-key chain signature: %w", err)
		}
		if !ok {
			return fmt.Errorf("access-key signature does not chain to xPubKey: %w", config.ErrBadSignatures)
		}

		key := models.RequestPubKey{
			Key:       req.RequestPubKey,
			Signature: req.ChainSignature,
			Name:      req.Name,
			AddedOn:   time.Now().Unix(),
		}
		keys := append(append([]models.RequestPubKey{}, c.RequestPubKeys...), key)
		if err := s.Storage.UpdateCopayerRequestPubKeys(c.ID, keys); err != nil {
			return fmt.Errorf("persist access key: %w", err)
		}
		added = &key
		return nil
	})
	return added, err
}

// StatusResult is the composite payload for GET /wallets (§6): the wallet,
// its preferences, and any pending transaction proposals.
type StatusResult struct {
	Wallet      *models.Wallet       `json:"wallet"`
	Preferences []models.Preferences `json:"preferences"`
	Pending     []models.TxProposal  `json:"pendingTxps"`
}

// Status loads a wallet's composite view for the authenticated copayer.
func (s *Service) Status(ctx context.Context, walletID string) (*StatusResult, error) {
	w, err := s.Storage.GetWallet(walletID)
	if err != nil {
		return nil, fmt.Errorf("load wallet %s: %w", walletID, err)
	}
	if w == nil {
		return nil, fmt.Errorf("wallet %s: %w", walletID, config.ErrWalletNotFound)
	}
	prefs, err := s.Storage.ListWalletPreferences(walletID)
	if err != nil {
		return nil, fmt.Errorf("load preferences for wallet %s: %w", walletID, err)
	}
	pending, err := s.Storage.ListTxProposals(walletID, true)
	if err != nil {
		return nil, fmt.Errorf("load pending proposals for wallet %s: %w", walletID, err)
	}
	return &StatusResult{Wallet: w, Preferences: prefs, Pending: pending}, nil
}
