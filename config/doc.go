// Package config defines the dasflex configuration.
//
// A Config starts from Default, may be overlaid from a YAML or JSON file with
// LoadFile, and is exposed on the command line through RegisterFlags. The
// dasflex binary layers flags, DASFLEX_* environment variables and an optional
// config file in that priority order before calling Validate.
//
//	cfg := config.Default()
//	config.RegisterFlags(cmd.Flags(), cfg)
//	...
//	if err := cfg.Validate(); err != nil {
//		return err
//	}
//
// Auth users and groups have no flags; they come from the config file only.
package config
