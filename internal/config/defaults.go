package config

// Default configuration values.
const (
	DefaultProcessesDir = "processes"
	DefaultScenariosDir = "scenarios"
	DefaultStoreType    = "sqlite"
	DefaultStatePath    = ".leapsim/state.db"
	DefaultParallelism  = 4
	DefaultPostgresPort = 5432
)

// ApplyStoreDefaults applies default values to a StoreConfig based on the
// store type.
func ApplyStoreDefaults(s *StoreConfig) {
	if s == nil {
		return
	}
	if s.Type == "" {
		s.Type = DefaultStoreType
	}
	if s.Type == "sqlite" && s.DSN == "" {
		s.DSN = DefaultStatePath
	}
	if s.Type == "postgres" && s.Port == 0 {
		s.Port = DefaultPostgresPort
	}
}
