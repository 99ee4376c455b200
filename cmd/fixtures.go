package cmd

import (
	"fmt"
	"os"

	"user-level-system/fixtures"
)

func loadFixtures(path string) (*fixtures.Set, error) {
	if path == "" {
		return fixtures.Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixtures: %w", err)
	}
	return fixtures.Parse(data)
}
