package quota

import (
	"fmt"
	"os"

	"github.com/kiranshivaraju/docrender/pkg/models"
	"gopkg.in/yaml.v3"
)

// FreePlan is assigned to owners without a subscription.
const FreePlan = "free"

// Plans maps plan names to quota policies.
type Plans map[string]models.Plan

// DefaultPlans returns the built-in tiers.
func DefaultPlans() Plans {
	return Plans{
		"free":         {Name: "free", PagesPerMonth: 100, AIPerMonth: 0, APIKeysAllowed: 1},
		"starter":      {Name: "starter", PagesPerMonth: 1000, AIPerMonth: 1, APIKeysAllowed: 3},
		"professional": {Name: "professional", PagesPerMonth: 10000, AIPerMonth: 15, APIKeysAllowed: 10},
		"enterprise":   {Name: "enterprise", PagesPerMonth: models.Unlimited, AIPerMonth: models.Unlimited, APIKeysAllowed: models.Unlimited},
	}
}

// Lookup returns the named plan, falling back to free for unknown names.
func (p Plans) Lookup(name string) models.Plan {
	if plan, ok := p[name]; ok {
		return plan
	}
	return p[FreePlan]
}

type plansFile struct {
	Plans []models.Plan `yaml:"plans"`
}

// LoadPlans returns the built-in tiers overridden and extended by the YAML
// file at path. An empty path returns the defaults.
func LoadPlans(path string) (Plans, error) {
	plans := DefaultPlans()
	if path == "" {
		return plans, nil
	}

	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read plans file: %w", err)
	}
	var f plansFile
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("parse plans file: %w", err)
	}
	for _, plan := range f.Plans {
		if plan.Name == "" {
			return nil, fmt.Errorf("plans file: plan without a name")
		}
		for _, v := range []int{plan.PagesPerMonth, plan.AIPerMonth, plan.APIKeysAllowed} {
			if v < models.Unlimited {
				return nil, fmt.Errorf("plans file: plan %q has a negative limit", plan.Name)
			}
		}
		plans[plan.Name] = plan
	}
	if _, ok := plans[FreePlan]; !ok {
		return nil, fmt.Errorf("plans file: %q plan is required", FreePlan)
	}
	return plans, nil
}
