// Package config loads the logrelay-server configuration.
//
// Settings come from three layers, later ones winning:
//  1. a YAML file (logrelay.yaml); a missing file means defaults
//  2. environment variables DB_HOST, DB_PORT, DB_USER, DB_PASSWORD,
//     DB_NAME, APP_PORT and LOG_LEVEL
//  3. command-line flags, applied by the caller
//
// # Configuration File Location
//
// ./logrelay.yaml is used when present, otherwise:
//   - Linux: $XDG_CONFIG_HOME/logrelay/logrelay.yaml or $HOME/.config/logrelay/logrelay.yaml
//   - macOS: $HOME/.config/logrelay/logrelay.yaml
//   - Windows: %LOCALAPPDATA%\logrelay\logrelay.yaml
//
// # Security
//
// Save never writes the database password. It is read from DB_PASSWORD or
// prompted for on a terminal.
//
// # Usage Example
//
//	path, _ := config.DefaultPath()
//	cfg, err := config.Load(path)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := cfg.ApplyEnv(os.Getenv); err != nil {
//	    log.Fatal(err)
//	}
//	if err := cfg.Validate(); err != nil {
//	    log.Fatal(err)
//	}
package config
