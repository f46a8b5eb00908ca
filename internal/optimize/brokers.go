package optimize

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/mpaton/backtester/internal/portfolio"
)

// Broker is a fee and tax preset applied to every trial run against it.
type Broker struct {
	FeeEnabled bool    `yaml:"fee_enabled" json:"fee_enabled"`
	FeeType    string  `yaml:"fee_type" json:"fee_type"`
	FeeValue   float64 `yaml:"fee_value" json:"fee_value"`
	TaxEnabled bool    `yaml:"tax_enabled" json:"tax_enabled"`
	TaxRatePct float64 `yaml:"tax_rate_pct" json:"tax_rate_pct"`
}

// DefaultBrokers returns the built-in presets.
func DefaultBrokers() map[string]Broker {
	return map[string]Broker{
		"bossa": {
			FeeEnabled: true,
			FeeType:    portfolio.FeePercentage,
			FeeValue:   0.29,
		},
		"interactive_brokers": {
			FeeEnabled: true,
			FeeType:    portfolio.FeeFixed,
			FeeValue:   1.0,
			TaxEnabled: true,
			TaxRatePct: 19.0,
		},
	}
}

// LoadBrokers merges a YAML preset file over the defaults. Unknown keys in
// the file are rejected. An empty path returns the defaults unchanged.
func LoadBrokers(path string) (map[string]Broker, error) {
	brokers := DefaultBrokers()
	if path == "" {
		return brokers, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open broker presets: %w", err)
	}
	defer f.Close()

	decoder := yaml.NewDecoder(f)
	decoder.KnownFields(true)

	var overrides map[string]Broker
	if err := decoder.Decode(&overrides); err != nil {
		return nil, fmt.Errorf("failed to parse broker presets %s: %w", path, err)
	}

	for name, broker := range overrides {
		if broker.FeeType != portfolio.FeePercentage && broker.FeeType != portfolio.FeeFixed {
			return nil, fmt.Errorf("broker %s: unknown fee type %q", name, broker.FeeType)
		}
		brokers[name] = broker
	}
	return brokers, nil
}
