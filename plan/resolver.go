package plan

import (
	"encoding/json"
	"fmt"
	"io/ioutil"

	"github.com/go-playground/validator/v10"
	extErrors "github.com/pkg/errors"
)

// Resolver answers "which plan does this price belong to". The table is
// static for the lifetime of the process and must be kept in sync with the
// billing provider's product catalog.
type Resolver struct {
	table map[string]Entry
}

// NewResolver will construct a Resolver from the given entries
func NewResolver(entries []Entry) (*Resolver, error) {
	if len(entries) == 0 {
		return nil, fmt.Errorf("empty price table is invalid")
	}
	validate := validator.New()
	table := make(map[string]Entry)
	for _, entry := range entries {
		if err := validate.Struct(entry); err != nil {
			return nil, extErrors.Wrap(err, "Invalid price table entry")
		}
		if _, ok := table[entry.PriceID]; ok {
			return nil, fmt.Errorf("duplicate price id in table: %s", entry.PriceID)
		}
		table[entry.PriceID] = entry
	}
	return &Resolver{
		table: table,
	}, nil
}

// NewResolverFromFile will read the price table from a JSON file.
// Note, if you rotate Prices on Stripe (e.g. a price increase), append the
// new price ids here and keep the old ones: lifecycle events for existing
// subscriptions continue to reference the price they were sold at.
func NewResolverFromFile(filename string) (*Resolver, error) {
	jsonBytes, err := ioutil.ReadFile(filename)
	if err != nil {
		return nil, extErrors.Wrap(err, "Cannot open price table JSON file")
	}
	entries := make([]Entry, 0, 4)
	if err := json.Unmarshal(jsonBytes, &entries); err != nil {
		return nil, extErrors.Wrap(err, "Invalid price table JSON file")
	}
	return NewResolver(entries)
}

// Resolve will look up the plan for a price id. A miss is expected for
// prices outside the catalog (e.g. one-off invoices) and is not an error.
func (r *Resolver) Resolve(priceID string) (Entry, bool) {
	entry, ok := r.table[priceID]
	return entry, ok
}
