package gateway

import (
	"errors"
	"fmt"
)

// Kind classifies gateway failures so callers can decide between
// retrying, failing the payment, or surfacing a configuration problem.
type Kind string

const (
	KindConfiguration       Kind = "configuration"
	KindConnection          Kind = "connection"
	KindProvider            Kind = "provider"
	KindVerification        Kind = "verification"
	KindUnsupportedCurrency Kind = "unsupported_currency"
	KindNotSupported        Kind = "not_supported"
	KindSignature           Kind = "signature"
	KindUnknownGateway      Kind = "unknown_gateway"
	KindNoGatewayAvailable  Kind = "no_gateway_available"
)

type Error struct {
	GatewayName string
	Kind        Kind
	Message     string
	Err         error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.GatewayName, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.GatewayName, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func NewConfigurationError(gatewayName, message string) *Error {
	return &Error{GatewayName: gatewayName, Kind: KindConfiguration, Message: message}
}

// NewConnectionError wraps transport failures: timeouts, refused
// connections, unreadable responses. The provider's decision is unknown,
// so these must never settle a payment.
func NewConnectionError(gatewayName string, err error) *Error {
	return &Error{GatewayName: gatewayName, Kind: KindConnection, Message: "request failed", Err: err}
}

// NewProviderError wraps a definitive rejection from the provider.
func NewProviderError(gatewayName, message string) *Error {
	return &Error{GatewayName: gatewayName, Kind: KindProvider, Message: message}
}

func NewVerificationError(gatewayName, message string) *Error {
	return &Error{GatewayName: gatewayName, Kind: KindVerification, Message: message}
}

func NewUnsupportedCurrencyError(gatewayName, currency string) *Error {
	return &Error{
		GatewayName: gatewayName,
		Kind:        KindUnsupportedCurrency,
		Message:     fmt.Sprintf("currency %s is not supported", currency),
	}
}

func NewNotSupportedError(gatewayName, operation string) *Error {
	return &Error{
		GatewayName: gatewayName,
		Kind:        KindNotSupported,
		Message:     fmt.Sprintf("%s is not supported", operation),
	}
}

func NewSignatureError(gatewayName string) *Error {
	return &Error{GatewayName: gatewayName, Kind: KindSignature, Message: "webhook signature verification failed"}
}

func NewUnknownGatewayError(name string) *Error {
	return &Error{GatewayName: name, Kind: KindUnknownGateway, Message: "unknown gateway"}
}

func NewNoGatewayAvailableError(region string) *Error {
	return &Error{
		GatewayName: "",
		Kind:        KindNoGatewayAvailable,
		Message:     fmt.Sprintf("no gateway available for region %s", region),
	}
}

// KindOf extracts the failure kind from any error in the chain.
func KindOf(err error) (Kind, bool) {
	var gatewayErr *Error
	if errors.As(err, &gatewayErr) {
		return gatewayErr.Kind, true
	}
	return "", false
}

func isKind(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}

func IsConnectionError(err error) bool {
	return isKind(err, KindConnection)
}

func IsProviderError(err error) bool {
	return isKind(err, KindProvider)
}

func IsConfigurationError(err error) bool {
	return isKind(err, KindConfiguration)
}

func IsNotSupported(err error) bool {
	return isKind(err, KindNotSupported)
}

func IsUnsupportedCurrency(err error) bool {
	return isKind(err, KindUnsupportedCurrency)
}

func IsUnknownGateway(err error) bool {
	return isKind(err, KindUnknownGateway)
}

func IsNoGatewayAvailable(err error) bool {
	return isKind(err, KindNoGatewayAvailable)
}
