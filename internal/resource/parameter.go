package resource

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"sync"
)

// ValueStore persists generated values across runs.
type ValueStore interface {
	Load(ctx context.Context, key string) (string, bool, error)
	Save(ctx context.Context, key, value string) error
}

const passwordAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789-_"

// DefaultPasswordLength is the length of generated passwords.
const DefaultPasswordLength = 22

// Parameter is a named value, either given at declaration time or generated on first use
// and then kept stable through a ValueStore.
type Parameter struct {
	name   string
	secret bool
	length int

	mu    sync.Mutex
	value string
	known bool
	store ValueStore
}

// NewParameter returns a parameter with a fixed value.
func NewParameter(name, value string, secret bool) *Parameter {
	return &Parameter{name: name, secret: secret, value: value, known: true}
}

// GeneratedParameter returns a secret parameter generated with length characters.
func GeneratedParameter(name string, length int) *Parameter {
	if length <= 0 {
		length = DefaultPasswordLength
	}
	return &Parameter{name: name, secret: true, length: length}
}

func (p *Parameter) Name() string   { return p.name }
func (p *Parameter) IsSecret() bool { return p.secret }

// UseStore makes a generated parameter persist its value in s.
func (p *Parameter) UseStore(s ValueStore) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.store = s
}

func (p *Parameter) storeKey() string { return "parameters/" + p.name }

func (p *Parameter) Value(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.known {
		return p.value, nil
	}

	if p.store != nil {
		v, ok, err := p.store.Load(ctx, p.storeKey())
		if err != nil {
			return "", fmt.Errorf("failed to load parameter %s: %w", p.name, err)
		}
		if ok {
			p.value, p.known = v, true
			return v, nil
		}
	}

	v, err := GeneratePassword(p.length)
	if err != nil {
		return "", fmt.Errorf("failed to generate parameter %s: %w", p.name, err)
	}
	if p.store != nil {
		if err := p.store.Save(ctx, p.storeKey(), v); err != nil {
			return "", fmt.Errorf("failed to save parameter %s: %w", p.name, err)
		}
	}
	p.value, p.known = v, true
	return v, nil
}

func (p *Parameter) ManifestExpression() string {
	return "{" + p.name + ".value}"
}

// GeneratePassword returns n characters drawn from a URL-safe alphabet.
func GeneratePassword(n int) (string, error) {
	max := big.NewInt(int64(len(passwordAlphabet)))
	buf := make([]byte, n)
	for i := range buf {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		buf[i] = passwordAlphabet[idx.Int64()]
	}
	return string(buf), nil
}
