package license

import (
	"context"
	"crypto/rsa"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/algorand/go-deadlock"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	fiterrors "fitcore/internal/errors"
	"fitcore/internal/security"
)

// Core version. Licenses whose header asks for a newer major.minor are
// rejected.
const (
	VersionMajor    = 1
	VersionMinor    = 0
	VersionRevision = 3
)

// Version is the core version triple.
type Version struct {
	Major    uint8 `json:"major"`
	Minor    uint8 `json:"minor"`
	Revision uint8 `json:"revision"`
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Revision)
}

// GetVersion returns the core version.
func GetVersion() Version {
	return Version{Major: VersionMajor, Minor: VersionMinor, Revision: VersionRevision}
}

type keySlot struct {
	Key
	rsaPub *rsa.PublicKey
	err    error
}

// Core is one license checking instance. Several cores with different
// keys may coexist in a process.
type Core struct {
	initMu      deadlock.Mutex
	initialized atomic.Bool

	mu deadlock.RWMutex

	opts   Options
	keys   [MaxKeys]keySlot
	nkeys  int
	caps   Capability
	cache  *SignatureCache
	rsa    RSAVerifier
	logger *slog.Logger
	tracer trace.Tracer
}

// New creates a core. It must be initialized with Init before use.
func New(opts Options) (*Core, error) {
	if err := opts.validate(); err != nil {
		return nil, fiterrors.Wrap(fiterrors.CodeInvalidParameter, "license.new", err)
	}

	c := &Core{
		opts:   opts,
		caps:   opts.Capabilities,
		cache:  NewSignatureCache(),
		rsa:    opts.RSAVerifier,
		logger: opts.Logger,
		tracer: otel.Tracer(TracerName),
	}
	if c.logger == nil {
		c.logger = slog.Default().With("component", "license")
	}
	if c.rsa == nil {
		c.rsa = RSAVerifierFunc(security.VerifyRSA)
	}
	if c.caps.Has(CapClock) && c.opts.Clock == nil {
		c.opts.Clock = SystemClock{}
	}
	if c.caps.Has(CapNodeLock) && c.opts.DeviceID == nil {
		c.opts.DeviceID = security.NewHostDeviceID(c.logger)
	}
	for i, k := range opts.Keys {
		c.keys[i] = keySlot{Key: Key{
			Algorithm: k.Algorithm,
			Scope:     k.Scope,
			Material:  append([]byte(nil), k.Material...),
		}}
	}
	c.nkeys = len(opts.Keys)
	return c, nil
}

// Init prepares key material. It is idempotent; every other entry point
// fails with NotInitialized until it has run.
func (c *Core) Init(ctx context.Context) error {
	c.initMu.Lock()
	defer c.initMu.Unlock()

	if c.initialized.Load() {
		return nil
	}

	for i := 0; i < c.nkeys; i++ {
		slot := &c.keys[i]
		switch slot.Algorithm {
		case AlgAES:
			if len(slot.Material) != security.OMACKeySize {
				slot.err = fiterrors.New(fiterrors.CodeInvalidSigningKey, "license.init")
			}
		case AlgRSA:
			pub, err := security.ParseRSAPublicKey(slot.Material, c.caps.Has(CapPEM))
			if err != nil {
				slot.err = fiterrors.Wrap(fiterrors.CodeInvalidSigningKey, "license.init", err)
			}
			slot.rsaPub = pub
		}
		if slot.err != nil {
			c.logger.WarnContext(ctx, "Unusable signing key",
				slog.Int("slot", i),
				slog.String("algorithm", slot.Algorithm.String()),
				slog.String("error", slot.err.Error()),
			)
		}
	}

	c.initialized.Store(true)
	c.logger.InfoContext(ctx, "License core initialized",
		slog.String("version", GetVersion().String()),
		slog.String("capabilities", c.caps.String()),
		slog.Int("keys", c.nkeys),
		slog.Bool("enforce_node_lock", c.opts.EnforceNodeLock),
	)
	return nil
}

// Initialized reports whether Init has completed.
func (c *Core) Initialized() bool {
	return c.initialized.Load()
}

// Capabilities returns the capabilities this core provides.
func (c *Core) Capabilities() Capability {
	return c.caps
}

// ResetSignatureCache invalidates the RSA cache and its statistics.
func (c *Core) ResetSignatureCache() {
	c.cache.Reset()
}

// SignatureCacheStats returns the RSA cache statistics.
func (c *Core) SignatureCacheStats() CacheStats {
	return c.cache.Stats()
}

func (c *Core) persistenceEnabled() bool {
	return c.caps.Has(CapPersistence) && c.opts.Store != nil
}

// keyFor returns the signing key for alg.
func (c *Core) keyFor(alg Algorithm) (*keySlot, error) {
	for i := 0; i < c.nkeys; i++ {
		slot := &c.keys[i]
		if slot.Algorithm != alg || slot.Scope != ScopeSign {
			continue
		}
		if slot.err != nil {
			return nil, slot.err
		}
		return slot, nil
	}
	return nil, fiterrors.New(fiterrors.CodeKeyNotPresent, "license.key")
}

// enter checks initialization and takes the shared lock. The returned
// function releases it.
func (c *Core) enter(op string) (func(), error) {
	if !c.initialized.Load() {
		return nil, fiterrors.New(fiterrors.CodeNotInitialized, op)
	}
	if c.opts.DisableLocking {
		return func() {}, nil
	}
	c.mu.RLock()
	return c.mu.RUnlock, nil
}

// enterExclusive is enter with the write lock.
func (c *Core) enterExclusive(op string) (func(), error) {
	if !c.initialized.Load() {
		return nil, fiterrors.New(fiterrors.CodeNotInitialized, op)
	}
	if c.opts.DisableLocking {
		return func() {}, nil
	}
	c.mu.Lock()
	return c.mu.Unlock, nil
}

