package caseforge

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/caseforge/caseforge/internal/model"
)

// loadEpicFile reads a YAML (or JSON, which YAML subsumes) epic seed:
//
//	title: Checkout
//	goal: Customers can pay for their cart
//	scope: web storefront only
func loadEpicFile(path string) (*model.Epic, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read epic file: %w", err)
	}
	var epic model.Epic
	if err := yaml.Unmarshal(raw, &epic); err != nil {
		return nil, fmt.Errorf("parse epic file %s: %w", path, err)
	}
	if err := epic.Validate(); err != nil {
		return nil, fmt.Errorf("epic file %s: %w", path, err)
	}
	return &epic, nil
}
