package config

import (
	"errors"
	"io/fs"
	"os"
)

func isNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}

func setUnset(vals map[string]string) error {
	for k, v := range vals {
		if _, ok := os.LookupEnv(k); ok {
			continue
		}
		if err := os.Setenv(k, v); err != nil {
			return err
		}
	}
	return nil
}
