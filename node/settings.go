// Package node holds the matcher node's configuration and the
// interfaces to its external collaborators: the unconfirmed-transaction
// pool, the blockchain view, the wallet, and the clock.
package node

import (
	"os"
	"strconv"
	"time"
)

// Settings is the matcher configuration.
type Settings struct {
	// MatcherAccount is the base58 address whose key signs exchange
	// transactions; every accepted order must name its public key.
	MatcherAccount string

	// OrderMatchTxFee is the fee set on emitted exchange transactions.
	OrderMatchTxFee int64

	// MinOrderFee is the lower bound the validator enforces on order
	// matcher fees.
	MinOrderFee int64

	// OrderCleanupInterval is the period of the expiry sweep.
	OrderCleanupInterval time.Duration

	// ValidationTimeout bounds how long a placement waits on the
	// validator before the client gets a timeout.
	ValidationTimeout time.Duration

	// SmartAccountTradingHeight is the activation height of the
	// smart-account trading feature (pre-activated feature 10). Orders
	// from scripted accounts are rejected below it; zero means the
	// feature is not activated and such orders are always rejected.
	SmartAccountTradingHeight uint64

	// SnapshotInterval is how often each pair's book is snapshotted.
	SnapshotInterval time.Duration

	// DataDir is the root for journals, snapshots and the history db.
	DataDir string

	// KafkaBrokers and the two topics the node publishes to.
	KafkaBrokers []string
	TxTopic      string
	BookTopic    string
}

// LoadSettings reads the configuration from the environment, applying
// defaults for anything unset.
func LoadSettings() *Settings {
	return &Settings{
		MatcherAccount:            getEnv("MATCHER_ACCOUNT", ""),
		OrderMatchTxFee:           getEnvInt64("MATCHER_ORDER_MATCH_TX_FEE", 300_000),
		MinOrderFee:               getEnvInt64("MATCHER_MIN_ORDER_FEE", 300_000),
		OrderCleanupInterval:      getEnvDuration("MATCHER_ORDER_CLEANUP_INTERVAL", time.Minute),
		ValidationTimeout:         getEnvDuration("MATCHER_VALIDATION_TIMEOUT", 10*time.Minute),
		SmartAccountTradingHeight: uint64(getEnvInt64("PRE_ACTIVATED_FEATURE_10", 0)),
		SnapshotInterval:          getEnvDuration("MATCHER_SNAPSHOT_INTERVAL", time.Minute),
		DataDir:                   getEnv("MATCHER_DATA_DIR", "./data"),
		KafkaBrokers:              []string{getEnv("KAFKA_BROKER", "localhost:9092")},
		TxTopic:                   getEnv("KAFKA_TX_TOPIC", "matcher.transactions"),
		BookTopic:                 getEnv("KAFKA_BOOK_TOPIC", "matcher.book-events"),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.ParseInt(v, 10, 64); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
