package usecase

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/vitos/grid_market_maker/internal/domain"
	"go.uber.org/zap"
)

// ContractLister is the slice of the venue the resolver needs.
type ContractLister interface {
	ListContracts(ctx context.Context) ([]domain.Contract, error)
}

// contractAliases maps quote-currency spellings the operator may use onto
// the names contract listings carry.
var contractAliases = map[string]string{
	"BTC-USDT": "BTCUSD",
	"ETH-USDT": "ETHUSD",
	"SOL-USDT": "SOLUSD",
	"BNB-USDT": "BNBUSD",
	"BTC-USD":  "BTCUSD",
	"ETH-USD":  "ETHUSD",
	"SOL-USD":  "SOLUSD",
	"BNB-USD":  "BNBUSD",
}

// ContractResolver caches the venue's contract listing and maps trading
// symbols to contract ids.
type ContractResolver struct {
	lister ContractLister
	logger *zap.Logger

	mu     sync.Mutex
	loaded bool
	byName map[string]string
	names  map[string]string // id -> name
}

func NewContractResolver(lister ContractLister, logger *zap.Logger) *ContractResolver {
	return &ContractResolver{lister: lister, logger: logger}
}

// Load fetches the listing once. A failed load is retried on the next call.
func (r *ContractResolver) Load(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.loadLocked(ctx)
}

func (r *ContractResolver) loadLocked(ctx context.Context) error {
	if r.loaded {
		return nil
	}
	contracts, err := r.lister.ListContracts(ctx)
	if err != nil {
		return fmt.Errorf("list contracts: %w", err)
	}
	r.byName = make(map[string]string, len(contracts))
	r.names = make(map[string]string, len(contracts))
	for _, c := range contracts {
		r.byName[c.Name] = c.ID
		r.byName[normalizeSymbol(c.Name)] = c.ID
		r.names[c.ID] = c.Name
	}
	r.loaded = true
	r.logger.Info("Loaded contract listing", zap.Int("contracts", len(contracts)))
	return nil
}

// Resolve returns the contract id for symbol. Purely numeric symbols are
// taken to be ids already.
func (r *ContractResolver) Resolve(ctx context.Context, symbol string) (string, error) {
	if isNumeric(symbol) {
		return symbol, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.loadLocked(ctx); err != nil {
		return "", err
	}

	if id, ok := r.lookupLocked(symbol); ok {
		return id, nil
	}
	return "", fmt.Errorf("%w: %s", domain.ErrContractNotFound, symbol)
}

// Cached resolves symbol from the already loaded listing without calling
// the venue.
func (r *ContractResolver) Cached(symbol string) (string, bool) {
	if isNumeric(symbol) {
		return symbol, true
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.loaded {
		return "", false
	}
	return r.lookupLocked(symbol)
}

func (r *ContractResolver) lookupLocked(symbol string) (string, bool) {
	candidates := []string{symbol, normalizeSymbol(symbol)}
	if alias, ok := contractAliases[strings.ToUpper(symbol)]; ok {
		candidates = append(candidates, alias)
	}
	for _, c := range candidates {
		if id, ok := r.byName[c]; ok {
			return id, true
		}
	}
	return "", false
}

// SymbolFor returns the listing name for a contract id, or the id itself.
func (r *ContractResolver) SymbolFor(id string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n, ok := r.names[id]; ok {
		return n
	}
	return id
}

func normalizeSymbol(s string) string {
	s = strings.ToUpper(s)
	return strings.NewReplacer("-", "", "_", "", "/", "").Replace(s)
}

func isNumeric(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
