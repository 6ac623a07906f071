package dotenv

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/joho/godotenv"
)

// LoadFile loads KEY=VALUE pairs from a dotenv-style file into the process
// environment. Existing environment variables are preserved, and a missing
// file is not an error.
func LoadFile(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load env file %q: %w", path, err)
	}
	return nil
}
