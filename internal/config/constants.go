package config

import "time"

// Wallet limits
const (
	MaxCopayersPerWallet = 15
	TooManyKeysMargin     = 20 // max RequestPubKeys kept per copayer before rejecting new ones
)

// BIP-44 / BIP-45 Derivation Paths
const (
	BIP44Purpose = 44 // m/44'/0'/0'
	BIP45Purpose = 45 // m/45'/N (shared cosigner index path)

	BTCLivenetCoinType = 0 // m/44'/0'/0'
	BTCTestnetCoinType = 1 // m/44'/1'/0'

	// RequestKeyAuthPath is the fixed derivation path used to derive the
	// per-copayer ECDSA request-signing key from the extended private key
	// supplied at join time.
	RequestKeyAuthPath = "m/1/0"
)

// Pagination
const (
	DefaultPage     = 1
	DefaultPageSize = 100
	MaxPageSize     = 1000
)

// Address derivation / scanning
const (
	ScanAddressGap    = 20  // consecutive unused addresses before a scan stops
	MaxMainAddressGap = 20  // hard cap enforced outside of scan mode
	MaxKeys           = 100 // max addresses derivable per wallet in one request
)

// Backoff for CreateTx after a copayer's own proposals have been rejected
// several times in a row: more than BackoffOffset consecutive rejections
// block new proposals until BackoffTime has passed since the latest one.
const (
	BackoffOffset = 3 // number of rejected proposals before backoff kicks in
	BackoffTime   = 2 * time.Minute
)

// Tx proposal construction
const (
	MaxTxSizeInKb   = 100
	MinFeePerKb     = int64(0)
	MaxFeePerKb     = int64(10_000) // sat/kb hard ceiling on a proposal's feePerKb
	MaxTxFee        = int64(5_000_000) // 0.05 BTC hard ceiling regardless of fee rate
	DustThreshold   = int64(546)        // satoshis; standard BTC dust limit
	MinOutputAmount = int64(0)          // floor an output amount is compared against alongside DustThreshold
	DeleteLockTime  = 24 * time.Hour    // minimum proposal age before the creator may removePendingTx

	MaxSingleUTXOFactor = 2 // a candidate UTXO whose value alone exceeds N times the requested amount is deferred

	// MaxFeeVsTxAmountFactor and MinTxAmountVsUTXOFactor are ratios, compared
	// directly against fee/amount and inputAmount/target (§4.1 step 4).
	MaxFeeVsTxAmountFactor      = 0.05 // running fee must not exceed this share of the tx amount
	MinTxAmountVsUTXOFactor     = 0.5  // a marginal input below this share of the target is too small, with big inputs still available
	MaxFeeVsSingleUTXOFeeFactor = 5    // abort the small-UTXO pass once its fee is over MaxFeeVsTxAmountFactor of the amount and over N times the single-big-UTXO fee
	TwoStepBalanceThreshold     = int64(100) // wallets with more addresses than this use the two-step balance mode (§4.2)
)

// Blockchain monitor
const (
	MaxReorgDepth                = 100  // ancestor hashes retained per network tip
	MaxAncestorsPerInputToVerify = 5    // bounded walk when checking a tx's unconfirmed ancestor chain
	HistoryLimit                 = 1000 // max tx history entries returned per request page

	// BroadcastConfirmDelay is how long the monitor waits after observing a
	// proposal's txid relayed by a third party before re-checking and
	// transitioning it to broadcasted — gives the normal broadcastTx
	// completion path a head start so the two don't race.
	BroadcastConfirmDelay = 20 * time.Second
)

// Wallet lock
const (
	DefaultLockTimeout = 10 * time.Second
	LockLeaseTTL       = 30 * time.Second
)

// Server
const (
	DefaultServerPort    = 3232
	DefaultBasePath      = "/bws/api"
	ServerReadTimeout    = 30 * time.Second
	ServerWriteTimeout   = 60 * time.Second
	ServerIdleTimeout    = 120 * time.Second
	ServerMaxHeaderBytes = 1 << 20 // 1 MiB
	APITimeout           = 30 * time.Second
	BodyLimitBytes       = 100 * 1024 // 100 KiB, §6 POST body ceiling
	ShutdownTimeout      = 15 * time.Second
)

// Logging
const (
	DefaultLogDir  = "./logs"
	LogFilePattern = "bitwalletd-%s-%s.log" // date, level
	LogFilePrefix  = "bitwalletd-"
	LogMaxAgeDays  = 30
)

// Database
const (
	DefaultDBPath = "./data/bitwallet.sqlite"
	DBTestPath    = "./data/bitwallet_test.sqlite"
	DBWALMode     = true
	DBBusyTimeout = 5000 // milliseconds
)

// Explorer client reliability
const (
	ProviderRequestTimeout = 15 * time.Second
	ProviderMaxRetries     = 3
	ProviderRetryBaseDelay = 1 * time.Second
	RateLimitExplorer      = 10 // requests per second, per provider
	FeeLevelCacheDuration  = 1 * time.Minute
)

// Push notifications
const (
	PushRequestTimeout = 10 * time.Second
	DefaultLanguage    = "en"
)
