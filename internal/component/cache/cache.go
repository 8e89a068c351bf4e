// Package cache exposes named in-memory caches as endpoints.
package cache

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Alwanly/conduit/internal/core"
	lru "github.com/Alwanly/conduit/pkg/cache"
	"github.com/Alwanly/conduit/pkg/logger"
)

const Scheme = "cache"

const (
	HeaderAction          = "CamelCacheAction"
	HeaderKey             = "CamelCacheKey"
	HeaderKeys            = "CamelCacheKeys"
	HeaderValue           = "CamelCacheValue"
	HeaderOldValue        = "CamelCacheOldValue"
	HeaderActionHasResult = "CamelCacheActionHasResult"
	HeaderActionSucceeded = "CamelCacheActionSucceeded"
	HeaderHitRatio        = "CamelCacheHitRatio"
)

const (
	ActionPut           = "PUT"
	ActionPutAll        = "PUT_ALL"
	ActionGet           = "GET"
	ActionGetAll        = "GET_ALL"
	ActionInvalidate    = "INVALIDATE"
	ActionInvalidateAll = "INVALIDATE_ALL"
	ActionCleanup       = "CLEANUP"
	ActionAsMap         = "AS_MAP"
	ActionStats         = "STATS"
)

type Config struct {
	// MaximumSize bounds the number of entries. Zero is unbounded.
	MaximumSize      int           `uri:"maximumSize" validate:"gte=0"`
	ExpireAfterWrite time.Duration `uri:"expireAfterWrite" validate:"gte=0"`
	// Action and Key are defaults for exchanges without the headers.
	Action string `uri:"action"`
	Key    string `uri:"key"`
}

func DefaultConfig() Config {
	return Config{MaximumSize: 10000}
}

type Component struct {
	logger *logger.CanonicalLogger

	mu     sync.Mutex
	caches map[string]*lru.Cache[any]
}

func New(log *logger.CanonicalLogger) *Component {
	return &Component{
		logger: log.Component(Scheme),
		caches: make(map[string]*lru.Cache[any]),
	}
}

func (c *Component) CreateEndpoint(uri, remaining string, params core.Parameters) (core.Endpoint, error) {
	if remaining == "" {
		return nil, core.NewResolveEndpointError(uri, "cache endpoint requires a cache name", nil)
	}
	cfg := DefaultConfig()
	if err := core.BindParameters(uri, params, &cfg); err != nil {
		return nil, err
	}
	return &Endpoint{
		EndpointBase: core.EndpointBase{EndpointURI: uri},
		name:         remaining,
		cfg:          cfg,
		cache:        c.getOrCreate(remaining, cfg),
	}, nil
}

// getOrCreate returns the cache called name. The first endpoint decides its size and expiry.
func (c *Component) getOrCreate(name string, cfg Config) *lru.Cache[any] {
	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.caches[name]; ok {
		return existing
	}
	created := lru.New[any](cfg.MaximumSize, cfg.ExpireAfterWrite)
	c.caches[name] = created
	c.logger.Debug("cache created", logger.String("cache", name), logger.Int("maximum_size", cfg.MaximumSize))
	return created
}

type Endpoint struct {
	core.EndpointBase
	name  string
	cfg   Config
	cache *lru.Cache[any]
}

func (e *Endpoint) CreateProducer() (core.Producer, error) {
	return core.NewProducer(e.process), nil
}

func (e *Endpoint) process(ctx context.Context, ex *core.Exchange) error {
	msg := ex.Message
	action := msg.HeaderString(HeaderAction)
	if action == "" {
		action = e.cfg.Action
	}
	if action == "" {
		return core.Invalidf("cache:%s: no action set in header %s or endpoint option", e.name, HeaderAction)
	}
	msg.RemoveHeader(HeaderAction)

	switch strings.ToUpper(action) {
	case ActionPut:
		key, err := e.key(msg)
		if err != nil {
			return err
		}
		value := msg.Body
		if v, ok := msg.Header(HeaderValue); ok {
			value = v
		}
		old, replaced, err := e.cache.Put(key, value)
		if err != nil {
			return core.Invalid(err)
		}
		if replaced {
			msg.SetHeader(HeaderOldValue, old)
		}
		setResult(msg, true, false)

	case ActionPutAll:
		values, ok := msg.Body.(map[string]any)
		if !ok {
			return core.Invalidf("cache:%s: %s requires a map body, got %T", e.name, ActionPutAll, msg.Body)
		}
		if err := e.cache.PutAll(values); err != nil {
			return core.Invalid(err)
		}
		setResult(msg, true, false)

	case ActionGet:
		key, err := e.key(msg)
		if err != nil {
			return err
		}
		v, found := e.cache.Get(key)
		if found {
			msg.Body = v
		}
		setResult(msg, true, found)

	case ActionGetAll:
		keys, err := keysHeader(msg)
		if err != nil {
			return err
		}
		result := e.cache.GetAll(keys)
		msg.Body = result
		setResult(msg, true, len(result) > 0)

	case ActionInvalidate:
		key, err := e.key(msg)
		if err != nil {
			return err
		}
		e.cache.Delete(key)
		setResult(msg, true, false)

	case ActionInvalidateAll:
		if _, ok := msg.Header(HeaderKeys); ok {
			keys, err := keysHeader(msg)
			if err != nil {
				return err
			}
			for _, k := range keys {
				e.cache.Delete(k)
			}
		} else {
			e.cache.Clear()
		}
		setResult(msg, true, false)

	case ActionCleanup:
		e.cache.Cleanup()
		setResult(msg, true, false)

	case ActionAsMap:
		msg.Body = e.cache.AsMap()
		setResult(msg, true, true)

	case ActionStats:
		stats := e.cache.Stats()
		msg.Body = stats
		msg.SetHeader(HeaderHitRatio, stats.HitRatio())
		setResult(msg, true, true)

	default:
		return core.Invalidf("cache:%s: unsupported action %q", e.name, action)
	}
	return nil
}

func (e *Endpoint) key(msg *core.Message) (string, error) {
	key := msg.HeaderString(HeaderKey)
	if key == "" {
		key = e.cfg.Key
	}
	if key == "" {
		return "", core.Invalidf("cache:%s: no key set in header %s or endpoint option", e.name, HeaderKey)
	}
	return key, nil
}

func keysHeader(msg *core.Message) ([]string, error) {
	v, _ := msg.Header(HeaderKeys)
	switch keys := v.(type) {
	case []string:
		return keys, nil
	case string:
		return strings.Split(keys, ","), nil
	case []any:
		out := make([]string, 0, len(keys))
		for _, k := range keys {
			out = append(out, core.ToString(k))
		}
		return out, nil
	default:
		return nil, core.Invalid(fmt.Errorf("header %s must be a list of keys, got %T", HeaderKeys, v))
	}
}

func setResult(msg *core.Message, succeeded, hasResult bool) {
	msg.SetHeader(HeaderActionSucceeded, succeeded)
	msg.SetHeader(HeaderActionHasResult, hasResult)
}
