package gateway

import (
	"fmt"
	"strings"

	"github.com/sokoworks/payment-hub/internal"
	"github.com/sokoworks/payment-hub/pkg/logger"
)

// defaultOrder is the gateway preference used when a region has no
// explicit routing entry. It also fixes the iteration order everywhere a
// stable listing is needed.
var defaultOrder = []string{NameStripe, NamePaystack, NameFlutterwave, NameMTNMoMo}

// regionPreferences routes a payment to gateways by the customer's
// country. Regions listed here never fall back to the default order: if
// none of their gateways can serve the currency, the payment is
// rejected.
var regionPreferences = map[string][]string{
	"NG": {NamePaystack, NameFlutterwave},
	"GH": {NamePaystack, NameFlutterwave},
	"KE": {NameFlutterwave},
	"UG": {NameFlutterwave, NameMTNMoMo},
	"US": {NameStripe},
	"EU": {NameStripe},
}

// Registry holds the configured gateway adapters. The set is fixed at
// construction; lookups after that are read-only and safe for
// concurrent use.
type Registry struct {
	gateways map[string]Gateway
	order    []string
}

func NewRegistry(cfg internal.GatewaysConfig) (*Registry, error) {
	builders := []struct {
		name    string
		enabled bool
		build   func() Gateway
	}{
		{NameStripe, cfg.Stripe.Enabled(), func() Gateway { return NewStripe(cfg.Stripe) }},
		{NamePaystack, cfg.Paystack.Enabled(), func() Gateway { return NewPaystack(cfg.Paystack) }},
		{NameFlutterwave, cfg.Flutterwave.Enabled(), func() Gateway { return NewFlutterwave(cfg.Flutterwave) }},
		{NameMTNMoMo, cfg.MTNMoMo.Enabled(), func() Gateway { return NewMTNMoMo(cfg.MTNMoMo) }},
	}

	registry := &Registry{
		gateways: make(map[string]Gateway),
	}
	for _, builder := range builders {
		if !builder.enabled {
			logger.L().Warn("payment gateway not configured, skipping", "gateway", builder.name)
			continue
		}
		registry.gateways[builder.name] = builder.build()
		registry.order = append(registry.order, builder.name)
	}

	if len(registry.gateways) == 0 {
		return nil, fmt.Errorf("no payment gateways configured")
	}
	return registry, nil
}

// NewRegistryWithGateways builds a registry from ready adapters,
// preserving argument order. Intended for tests and custom wiring.
func NewRegistryWithGateways(gateways ...Gateway) *Registry {
	registry := &Registry{
		gateways: make(map[string]Gateway),
	}
	for _, gw := range gateways {
		registry.gateways[gw.Name()] = gw
		registry.order = append(registry.order, gw.Name())
	}
	return registry
}

func (r *Registry) Get(name string) (Gateway, error) {
	gw, ok := r.gateways[strings.ToLower(name)]
	if !ok {
		return nil, NewUnknownGatewayError(name)
	}
	return gw, nil
}

func (r *Registry) Has(name string) bool {
	_, ok := r.gateways[strings.ToLower(name)]
	return ok
}

// ForRegion picks the gateway for a payment: the first gateway in the
// region's preference order that is configured and supports the
// currency. Unknown regions use the default order.
func (r *Registry) ForRegion(countryCode, currency string) (Gateway, error) {
	region := strings.ToUpper(countryCode)
	preferences, known := regionPreferences[region]
	if !known {
		preferences = defaultOrder
	}

	for _, name := range preferences {
		gw, ok := r.gateways[name]
		if !ok {
			continue
		}
		if gw.SupportsCurrency(currency) {
			return gw, nil
		}
	}
	return nil, NewNoGatewayAvailableError(region)
}

// Available returns the configured gateways in registration order.
func (r *Registry) Available() []Gateway {
	gateways := make([]Gateway, 0, len(r.order))
	for _, name := range r.order {
		gateways = append(gateways, r.gateways[name])
	}
	return gateways
}

func (r *Registry) Names() []string {
	names := make([]string, len(r.order))
	copy(names, r.order)
	return names
}
