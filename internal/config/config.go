// Package config loads and saves structured values to JSON or YAML files,
// chosen by file extension.
package config

import (
	"os"

	"github.com/deep-rent/jwtverify/internal/codec"
)

func Load(path string, v any) error {
	c, err := codec.Infer(path)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return c.Decode(data, v)
}

func Save(path string, v any) error {
	c, err := codec.Infer(path)
	if err != nil {
		return err
	}
	data, err := c.Encode(v)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
