package config

// Constants defining default values for application configuration
const (
	DefaultFeedsCSVPath = "./feeds.csv"
	DefaultDBPath       = "./feedkeeper.db"

	DefaultServerPort = 8080
	DefaultServerHost = "" // Empty string means all interfaces

	DefaultWorkerCount  = 0 // 0 means use runtime.NumCPU()
	DefaultScanInterval = 5 // Minutes between due-feed scans

	DefaultFetchTimeoutSec = 15
	DefaultMaxItems        = 100
	DefaultUserAgent       = "feedkeeper/1.0"

	DefaultLogLevel = "info"
)
