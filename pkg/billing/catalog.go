package billing

import (
	"fmt"
	"io"
	"sort"

	"gopkg.in/yaml.v3"
)

// Plan IDs of the built-in catalog
const (
	PlanFree    = "free"
	PlanBasic   = "basic"
	PlanPremium = "premium"
)

// Catalog is the immutable set of plans known to the deployment
type Catalog struct {
	plans   map[string]*Plan
	ordered []*Plan
	def     *Plan
}

// DefaultPlans returns the built-in plan definitions
func DefaultPlans() []*Plan {
	return []*Plan{
		{
			ID:           PlanFree,
			Name:         "Free",
			PriceMonthly: 0,
			Limits: map[UsageType]Limit{
				UsageText:           Limited(30),
				UsageVoice:          Limited(5),
				UsageImage:          Limited(5),
				UsageAIConversation: Limited(10),
				UsageBudget:         Limited(1),
			},
			IsDefault: true,
		},
		{
			ID:            PlanBasic,
			Name:          "Basic",
			PriceMonthly:  2.99,
			PriceCOPCents: 1190000,
			Limits: map[UsageType]Limit{
				UsageText:           Limited(150),
				UsageVoice:          Limited(30),
				UsageImage:          Limited(20),
				UsageAIConversation: Limited(50),
				UsageBudget:         Limited(5),
			},
			CanExportCSV: true,
		},
		{
			ID:            PlanPremium,
			Name:          "Premium",
			PriceMonthly:  7.99,
			PriceCOPCents: 3190000,
			Limits: map[UsageType]Limit{
				UsageText:           Unlimited(),
				UsageVoice:          Limited(100),
				UsageImage:          Limited(50),
				UsageAIConversation: Unlimited(),
				UsageBudget:         Unlimited(),
			},
			CanExportCSV: true,
			CanExportPDF: true,
		},
	}
}

// DefaultCatalog returns the catalog built from DefaultPlans
func DefaultCatalog() *Catalog {
	c, err := NewCatalog(DefaultPlans())
	if err != nil {
		panic(fmt.Sprintf("built-in catalog is invalid: %v", err))
	}
	return c
}

// NewCatalog validates plans and builds a catalog. Exactly one plan must be
// the default and it must be free.
func NewCatalog(plans []*Plan) (*Catalog, error) {
	if len(plans) == 0 {
		return nil, fmt.Errorf("catalog has no plans")
	}

	c := &Catalog{plans: make(map[string]*Plan, len(plans))}
	for _, p := range plans {
		if p == nil || p.ID == "" {
			return nil, fmt.Errorf("plan without id")
		}
		if _, dup := c.plans[p.ID]; dup {
			return nil, fmt.Errorf("duplicate plan id %q", p.ID)
		}
		if p.PriceCOPCents < 0 || p.PriceMonthly < 0 {
			return nil, fmt.Errorf("plan %q has a negative price", p.ID)
		}
		for t := range p.Limits {
			if !t.Valid() {
				return nil, fmt.Errorf("plan %q: %w: %s", p.ID, ErrUnknownUsageType, t)
			}
		}
		if p.IsDefault {
			if c.def != nil {
				return nil, fmt.Errorf("plans %q and %q are both marked default", c.def.ID, p.ID)
			}
			if !p.IsFree() {
				return nil, fmt.Errorf("default plan %q must be free", p.ID)
			}
			c.def = p
		}
		c.plans[p.ID] = p
		c.ordered = append(c.ordered, p)
	}
	if c.def == nil {
		return nil, fmt.Errorf("catalog has no default plan")
	}

	sort.SliceStable(c.ordered, func(i, j int) bool {
		return c.ordered[i].PriceMonthly < c.ordered[j].PriceMonthly
	})
	return c, nil
}

type catalogFile struct {
	Plans []*Plan `yaml:"plans"`
}

// LoadCatalog reads a YAML plan catalog
func LoadCatalog(r io.Reader) (*Catalog, error) {
	var f catalogFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}
	return NewCatalog(f.Plans)
}

// Get returns the plan with the given ID
func (c *Catalog) Get(planID string) (*Plan, bool) {
	p, ok := c.plans[planID]
	return p, ok
}

// All returns every plan ordered by monthly price
func (c *Catalog) All() []*Plan {
	out := make([]*Plan, len(c.ordered))
	copy(out, c.ordered)
	return out
}

// Default returns the plan new users start on
func (c *Catalog) Default() *Plan {
	return c.def
}
