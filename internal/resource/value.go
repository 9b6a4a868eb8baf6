package resource

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// ValueProvider yields a value that may only be known once the stack runs.
type ValueProvider interface {
	Value(ctx context.Context) (string, error)
}

// ManifestExpression is implemented by providers that have a placeholder form for
// published manifests, e.g. {postgres.bindings.tcp.port}.
type ManifestExpression interface {
	ManifestExpression() string
}

// Literal is a value known at declaration time.
type Literal string

func (l Literal) Value(context.Context) (string, error) { return string(l), nil }

// ValueFunc adapts a function to ValueProvider.
type ValueFunc func(ctx context.Context) (string, error)

func (f ValueFunc) Value(ctx context.Context) (string, error) { return f(ctx) }

// ReferenceExpression is a format string whose {0}, {1}, ... placeholders are filled
// from value providers.
type ReferenceExpression struct {
	format    string
	providers []ValueProvider
	quote     func(string) string
}

// Expr builds a ReferenceExpression.
func Expr(format string, providers ...ValueProvider) *ReferenceExpression {
	return &ReferenceExpression{format: format, providers: providers}
}

// ConnectionStringExpr builds a Key={n};Key={n} expression whose resolved values are
// quoted with QuoteConnectionValue. Manifest placeholders are left as they are.
func ConnectionStringExpr(format string, providers ...ValueProvider) *ReferenceExpression {
	return &ReferenceExpression{format: format, providers: providers, quote: QuoteConnectionValue}
}

// QuoteConnectionValue wraps v in double quotes when it would otherwise end or change a
// Key=Value pair. Embedded double quotes are doubled.
func QuoteConnectionValue(v string) string {
	if v == "" || (!strings.ContainsAny(v, ";\"'") && strings.TrimSpace(v) == v) {
		return v
	}
	return `"` + strings.ReplaceAll(v, `"`, `""`) + `"`
}

func (e *ReferenceExpression) Format() string { return e.format }

// ValueProviders returns the structured value parts in placeholder order.
func (e *ReferenceExpression) ValueProviders() []ValueProvider {
	return append([]ValueProvider(nil), e.providers...)
}

func (e *ReferenceExpression) Value(ctx context.Context) (string, error) {
	values := make([]string, len(e.providers))
	for i, p := range e.providers {
		v, err := p.Value(ctx)
		if err != nil {
			return "", fmt.Errorf("failed to resolve value part %d: %w", i, err)
		}
		if e.quote != nil {
			v = e.quote(v)
		}
		values[i] = v
	}
	return e.expand(values), nil
}

func (e *ReferenceExpression) ManifestExpression() string {
	values := make([]string, len(e.providers))
	for i, p := range e.providers {
		switch v := p.(type) {
		case ManifestExpression:
			values[i] = v.ManifestExpression()
		case Literal:
			values[i] = string(v)
		default:
			values[i] = "{" + strconv.Itoa(i) + "}"
		}
	}
	return e.expand(values)
}

func (e *ReferenceExpression) expand(values []string) string {
	pairs := make([]string, 0, 2*len(values))
	for i, v := range values {
		pairs = append(pairs, "{"+strconv.Itoa(i)+"}", v)
	}
	return strings.NewReplacer(pairs...).Replace(e.format)
}
