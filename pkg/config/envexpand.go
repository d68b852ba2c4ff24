package config

import "os"

// ExpandEnv expands ${VAR}/$VAR references in a YAML document before
// parsing, exactly the teacher's pkg/config/envexpand.go idiom — lets a
// checked-in config file reference secrets (DB password, Redis URL) without
// embedding them.
func ExpandEnv(data []byte) []byte {
	return []byte(os.ExpandEnv(string(data)))
}
