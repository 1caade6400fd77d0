package core

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// MaxRuleLength bounds the size of a rule expression accepted for storage.
const MaxRuleLength = 10000

// StoredRule is a persisted rule expression
type StoredRule struct {
	ID          string    `json:"id" validate:"required,uuid"`
	Name        string    `json:"name,omitempty" validate:"max=200"`
	Rule        string    `json:"rule" validate:"required,max=10000"`
	Fingerprint string    `json:"fingerprint" validate:"required,len=16,hexadecimal"`
	NodeCount   int       `json:"node_count"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

var ruleValidator = validator.New()

// Validate checks the rule's fields before it is written to storage.
func (r *StoredRule) Validate() error {
	if strings.TrimSpace(r.Rule) == "" {
		return fmt.Errorf("rule expression cannot be empty")
	}
	if err := ruleValidator.Struct(r); err != nil {
		return fmt.Errorf("invalid rule: %w", err)
	}
	return nil
}
