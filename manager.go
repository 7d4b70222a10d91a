package credvault

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/sirupsen/logrus"
	"k8s.io/utils/clock"

	"github.com/libopenstorage/credvault/pkg/codec"
	"github.com/libopenstorage/credvault/pkg/ratelimit"
	"github.com/libopenstorage/credvault/pkg/validate"
)

const (
	opStore     = "store"
	opRetrieve  = "retrieve"
	opList      = "list"
	opDelete    = "delete"
	opHas       = "check"
	opReencrypt = "reencrypt"
)

type limit struct {
	maxAttempts int
	window      time.Duration
}

// Manager validates, encrypts and persists credentials on behalf of the
// authenticated owner found on the context of each call. It is safe for
// concurrent use.
type Manager struct {
	store         Store
	codec         *codec.Codec
	limiter       ratelimit.Limiter
	sweeper       *ratelimit.Sweeper
	storeLimit    limit
	retrieveLimit limit
	clock         clock.PassiveClock
	log           *logrus.Entry
}

// New returns a Manager persisting through store. See the *Key constants for
// the supported config entries.
func New(
	store Store,
	config map[string]interface{},
) (*Manager, error) {
	if store == nil {
		return nil, fmt.Errorf("a credential store is required")
	}

	iterations, err := getIntParam(config, KdfIterationsKey, 0)
	if err != nil {
		return nil, err
	}
	var salt []byte
	if s := getParam(config, KdfSaltKey); s != "" {
		salt = []byte(s)
	}
	c, err := codec.New(codec.Config{Salt: salt, Iterations: iterations})
	if err != nil {
		return nil, err
	}

	clk, ok := config[ClockKey].(clock.PassiveClock)
	if !ok || clk == nil {
		clk = clock.RealClock{}
	}

	limiter, owned, err := newLimiter(config, clk)
	if err != nil {
		return nil, err
	}
	var sweeper *ratelimit.Sweeper
	if owned {
		// Injected limiters are swept by whoever owns them.
		if sweeper, err = newSweeper(config, limiter); err != nil {
			return nil, err
		}
	}

	m := &Manager{
		store:   store,
		codec:   c,
		limiter: limiter,
		sweeper: sweeper,
		clock:   clk,
	}
	if m.storeLimit, err = getLimit(config, StoreMaxAttemptsKey, StoreWindowKey, defaultStoreMaxAttempts); err != nil {
		return nil, err
	}
	if m.retrieveLimit, err = getLimit(config, RetrieveMaxAttemptsKey, RetrieveWindowKey, defaultRetrieveMaxAttempts); err != nil {
		return nil, err
	}

	logger, ok := config[LoggerKey].(*logrus.Logger)
	if !ok || logger == nil {
		logger = logrus.StandardLogger()
	}
	m.log = logger.WithFields(logrus.Fields{
		"component": "credvault",
		"backend":   store.String(),
	})
	if m.sweeper != nil {
		m.sweeper.Start()
	}
	return m, nil
}

// newLimiter returns the configured limiter and whether it was built here.
func newLimiter(config map[string]interface{}, clk clock.PassiveClock) (ratelimit.Limiter, bool, error) {
	if l, ok := config[RateLimiterKey].(ratelimit.Limiter); ok && l != nil {
		return l, false, nil
	}
	strategy := getParam(config, RateLimitStrategyKey)
	if strategy == RateLimitNone {
		return nil, false, nil
	}
	l, err := ratelimit.New(strategy, clk)
	if err != nil {
		return nil, false, fmt.Errorf("invalid value for %v: %w", RateLimitStrategyKey, err)
	}
	return l, true, nil
}

func newSweeper(config map[string]interface{}, limiter ratelimit.Limiter) (*ratelimit.Sweeper, error) {
	maxAge, err := getDurationParam(config, RateLimitSweepMaxAgeKey, ratelimit.DefaultSweepMaxAge)
	if err != nil {
		return nil, err
	}
	sweeper, err := ratelimit.NewSweeper(limiter, getParam(config, RateLimitSweepScheduleKey), maxAge)
	if err != nil {
		return nil, fmt.Errorf("invalid value for %v: %w", RateLimitSweepScheduleKey, err)
	}
	return sweeper, nil
}

func getLimit(config map[string]interface{}, attemptsKey, windowKey string, def int) (limit, error) {
	attempts, err := getIntParam(config, attemptsKey, def)
	if err != nil {
		return limit{}, err
	}
	window, err := getDurationParam(config, windowKey, defaultWindow)
	if err != nil {
		return limit{}, err
	}
	return limit{maxAttempts: attempts, window: window}, nil
}

// Store validates secret for serviceName, encrypts it, and saves it for the
// calling owner, replacing any previous value.
func (m *Manager) Store(ctx context.Context, serviceName, secret string) error {
	owner, log, err := m.begin(ctx, opStore, serviceName, &m.storeLimit)
	if err != nil {
		return err
	}
	if !validate.ServiceName(serviceName) || !validate.Format(serviceName, secret) {
		return m.fail(log, opStore, serviceName, StepValidate, ErrValidation)
	}

	hash := codec.Fingerprint(secret)
	blob, err := m.codec.Encrypt(secret, codec.Passphrase(owner, serviceName))
	if err != nil {
		return m.fail(log, opStore, serviceName, StepEncrypt, ErrEncryption)
	}

	now := m.clock.Now().UTC()
	err = m.store.Upsert(ctx, Record{
		OwnerID:          owner,
		ServiceName:      serviceName,
		EncryptedPayload: blob,
		IntegrityHash:    hash,
		CreatedAt:        now,
		UpdatedAt:        now,
	})
	if err != nil {
		return m.fail(log, opStore, serviceName, StepPersist, storeErr(err))
	}
	log.Info("Stored credential")
	return nil
}

// Retrieve returns the calling owner's plaintext credential for serviceName.
func (m *Manager) Retrieve(ctx context.Context, serviceName string) (string, error) {
	owner, log, err := m.begin(ctx, opRetrieve, serviceName, &m.retrieveLimit)
	if err != nil {
		return "", err
	}
	rec, err := m.lookup(ctx, log, opRetrieve, owner, serviceName)
	if err != nil {
		return "", err
	}

	plain, err := m.codec.Decrypt(rec.EncryptedPayload, codec.Passphrase(owner, serviceName))
	if err != nil {
		return "", m.fail(log, opRetrieve, serviceName, StepDecrypt, ErrDecryption)
	}
	if subtle.ConstantTimeCompare([]byte(codec.Fingerprint(plain)), []byte(rec.IntegrityHash)) != 1 {
		return "", m.fail(log, opRetrieve, serviceName, StepDecrypt, ErrDecryption)
	}
	log.Debug("Retrieved credential")
	return plain, nil
}

// List returns the services the calling owner has stored credentials for,
// sorted by name.
func (m *Manager) List(ctx context.Context) ([]Summary, error) {
	owner, log, err := m.begin(ctx, opList, "", nil)
	if err != nil {
		return nil, err
	}
	records, err := m.store.List(ctx, owner)
	if err != nil {
		return nil, m.fail(log, opList, "", StepPersist, storeErr(err))
	}

	summaries := make([]Summary, 0, len(records))
	for _, rec := range records {
		if rec.OwnerID != owner {
			continue
		}
		summaries = append(summaries, Summary{
			ServiceName: rec.ServiceName,
			CreatedAt:   rec.CreatedAt,
			UpdatedAt:   rec.UpdatedAt,
		})
	}
	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].ServiceName < summaries[j].ServiceName
	})
	return summaries, nil
}

// Delete removes the calling owner's credential for serviceName.
func (m *Manager) Delete(ctx context.Context, serviceName string) error {
	owner, log, err := m.begin(ctx, opDelete, serviceName, nil)
	if err != nil {
		return err
	}
	if !validate.ServiceName(serviceName) {
		return m.fail(log, opDelete, serviceName, StepValidate, ErrValidation)
	}
	if err := m.store.Delete(ctx, owner, serviceName); err != nil {
		return m.fail(log, opDelete, serviceName, StepPersist, storeErr(err))
	}
	log.Info("Deleted credential")
	return nil
}

// Has reports whether the calling owner has a credential for serviceName.
func (m *Manager) Has(ctx context.Context, serviceName string) (bool, error) {
	owner, log, err := m.begin(ctx, opHas, serviceName, nil)
	if err != nil {
		return false, err
	}
	_, err = m.lookup(ctx, log, opHas, owner, serviceName)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

// Reencrypt re-seals the calling owner's credential for serviceName, which
// was sealed by previous, with the Manager's current codec. It is used after
// changing the key derivation salt or iteration count. A nil previous
// re-seals with a fresh nonce under the current codec.
func (m *Manager) Reencrypt(ctx context.Context, serviceName string, previous *codec.Codec) error {
	owner, log, err := m.begin(ctx, opReencrypt, serviceName, nil)
	if err != nil {
		return err
	}
	if previous == nil {
		previous = m.codec
	}
	rec, err := m.lookup(ctx, log, opReencrypt, owner, serviceName)
	if err != nil {
		return err
	}

	blob, err := previous.Reencrypt(rec.EncryptedPayload, codec.Passphrase(owner, serviceName), m.codec)
	if err != nil {
		step := StepDecrypt
		if errors.Is(err, ErrEncryption) {
			step = StepEncrypt
		}
		return m.fail(log, opReencrypt, serviceName, step, err)
	}

	resealed := *rec
	resealed.EncryptedPayload = blob
	resealed.UpdatedAt = m.clock.Now().UTC()
	if err := m.store.Upsert(ctx, resealed); err != nil {
		return m.fail(log, opReencrypt, serviceName, StepPersist, storeErr(err))
	}
	log.Info("Re-encrypted credential")
	return nil
}

// Close stops the background sweep of the Manager's own rate limiter. The
// store is left open.
func (m *Manager) Close() {
	if m.sweeper != nil {
		m.sweeper.Stop()
		m.sweeper = nil
	}
}

// begin authenticates the caller and applies the rate limit, if any.
func (m *Manager) begin(ctx context.Context, op, serviceName string, lim *limit) (string, *logrus.Entry, error) {
	log := m.log.WithField("op", op)
	if serviceName != "" {
		log = log.WithField("service", serviceName)
	}

	owner, ok := ownerFromContext(ctx)
	if !ok {
		return "", log, m.fail(log, op, serviceName, StepAuthenticate, ErrNotAuthenticated)
	}
	log = log.WithField("owner", owner)

	if lim != nil && m.limiter != nil && !m.limiter.Allow(op+":"+owner, lim.maxAttempts, lim.window) {
		return "", log, m.fail(log, op, serviceName, StepRateLimit, ErrRateLimited)
	}
	return owner, log, nil
}

// lookup fetches the owner's record and checks it really belongs to them.
func (m *Manager) lookup(ctx context.Context, log *logrus.Entry, op, owner, serviceName string) (*Record, error) {
	if !validate.ServiceName(serviceName) {
		return nil, m.fail(log, op, serviceName, StepValidate, ErrValidation)
	}
	rec, err := m.store.Get(ctx, owner, serviceName)
	if err != nil {
		return nil, m.fail(log, op, serviceName, StepLookup, storeErr(err))
	}
	if rec == nil || rec.OwnerID != owner || rec.ServiceName != serviceName {
		return nil, m.fail(log, op, serviceName, StepLookup, ErrNotFound)
	}
	return rec, nil
}

func (m *Manager) fail(log *logrus.Entry, op, serviceName, step string, kind error) error {
	entry := log.WithFields(logrus.Fields{"step": step, "error": kind.Error()})
	if kind == ErrNotFound {
		entry.Debug("Credential operation found nothing")
	} else {
		entry.Warn("Credential operation failed")
	}
	return &Error{Op: op, Service: serviceName, Step: step, Err: kind}
}

// storeErr maps a backend error onto the package sentinels, dropping the
// backend's own message.
func storeErr(err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return ErrNotFound
	case errors.Is(err, ErrNotAuthenticated):
		return ErrNotAuthenticated
	case errors.Is(err, ErrInvalidIdentifier):
		return ErrValidation
	}
	return ErrPersistence
}
