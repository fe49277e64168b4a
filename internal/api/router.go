package api

import (
	"log/slog"

	"github.com/go-chi/chi/v5"

	"github.com/Fantasim/bitwallet-coordinator/internal/api/handlers"
	"github.com/Fantasim/bitwallet-coordinator/internal/api/middleware"
	"github.com/Fantasim/bitwallet-coordinator/internal/config"
	"github.com/Fantasim/bitwallet-coordinator/internal/explorer"
	"github.com/Fantasim/bitwallet-coordinator/internal/storage"
	"github.com/Fantasim/bitwallet-coordinator/internal/txproposal"
	"github.com/Fantasim/bitwallet-coordinator/internal/walletsvc"
)

// Version is set at build time via ldflags.
var Version = "dev"

// NewRouter builds the full §6 HTTP surface, mounted under cfg.BasePath.
// createWallet, joinWallet and getFeeLevels carry no copayer identity yet
// and so skip WalletAuth; every other route requires a valid x-identity/
// x-signature pair (§5/§6).
func NewRouter(db *storage.DB, cfg *config.Config, wallets *walletsvc.Service, proposals *txproposal.Service, feeCache *explorer.FeeLevelCache) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestLogging)
	r.Use(middleware.CORS)
	r.Use(middleware.BodyLimit(config.BodyLimitBytes))

	slog.Info("router initialized",
		"middleware", []string{"requestLogging", "cors", "bodyLimit"},
		"basePath", cfg.BasePath,
	)

	auth := middleware.WalletAuth(db)

	r.Route(cfg.BasePath, func(r chi.Router) {
		r.Get("/health", handlers.HealthHandler(cfg, Version))
		r.Get("/feelevels", handlers.FeeLevels(feeCache))

		r.Post("/wallets", handlers.CreateWallet(wallets))
		r.Post("/wallets/{id}/copayers", handlers.JoinWallet(wallets))

		r.Group(func(r chi.Router) {
			r.Use(auth)

			r.Get("/wallets", handlers.Status(wallets))
			r.Put("/copayers", handlers.AddAccess(wallets))

			r.Get("/preferences", handlers.GetPreferences(wallets))
			r.Put("/preferences", handlers.SavePreferences(wallets))

			r.Get("/balance", handlers.Balance(wallets))
			r.Get("/utxos", handlers.UTXOs(wallets))
			r.Get("/stats", handlers.Stats(wallets))
			r.Get("/txhistory", handlers.TxHistory(wallets))

			r.Get("/addresses", handlers.Addresses(wallets))
			r.Post("/addresses", handlers.Addresses(wallets))
			r.Post("/addresses/scan", handlers.StartScan(wallets))

			r.Get("/txproposals", handlers.ListPendingTxProposals(proposals))
			r.Post("/txproposals", handlers.CreateTxProposal(proposals))
			r.Get("/txproposals/{id}", handlers.GetTxProposal(proposals))
			r.Delete("/txproposals/{id}", handlers.RemoveTxProposal(proposals))
			r.Post("/txproposals/{id}/publish", handlers.PublishTxProposal(proposals))
			r.Post("/txproposals/{id}/signatures", handlers.SignTxProposal(proposals))
			r.Post("/txproposals/{id}/broadcast", handlers.BroadcastTxProposal(proposals))
			r.Post("/txproposals/{id}/rejections", handlers.RejectTxProposal(proposals))
		})
	})

	return r
}
