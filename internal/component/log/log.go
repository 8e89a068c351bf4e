// Package log writes exchanges to the structured logger.
package log

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/Alwanly/conduit/internal/core"
	"github.com/Alwanly/conduit/pkg/logger"
)

const Scheme = "log"

type Config struct {
	Level          string `uri:"level" validate:"oneof=TRACE DEBUG INFO WARN ERROR OFF"`
	ShowHeaders    bool   `uri:"showHeaders"`
	ShowBody       bool   `uri:"showBody"`
	ShowBodyType   bool   `uri:"showBodyType"`
	ShowProperties bool   `uri:"showProperties"`
	ShowExchangeID bool   `uri:"showExchangeId"`
	ShowAll        bool   `uri:"showAll"`
	// MaxChars truncates the rendered body. Zero disables truncation.
	MaxChars int `uri:"maxChars" validate:"gte=0"`
	// GroupSize switches to throughput logging: one line every N exchanges.
	GroupSize int `uri:"groupSize" validate:"gte=0"`
}

func DefaultConfig() Config {
	return Config{
		Level:        "INFO",
		ShowBody:     true,
		ShowBodyType: true,
		MaxChars:     10000,
	}
}

func (c Config) level() (zapcore.Level, bool) {
	switch c.Level {
	case "TRACE", "DEBUG":
		return zapcore.DebugLevel, true
	case "WARN":
		return zapcore.WarnLevel, true
	case "ERROR":
		return zapcore.ErrorLevel, true
	case "OFF":
		return zapcore.InfoLevel, false
	default:
		return zapcore.InfoLevel, true
	}
}

type Component struct {
	logger *logger.CanonicalLogger
}

func New(log *logger.CanonicalLogger) *Component {
	return &Component{logger: log}
}

func (c *Component) CreateEndpoint(uri, remaining string, params core.Parameters) (core.Endpoint, error) {
	if remaining == "" {
		return nil, core.NewResolveEndpointError(uri, "log endpoint requires a logger name", nil)
	}
	cfg := DefaultConfig()
	if err := core.BindParameters(uri, params, &cfg); err != nil {
		return nil, err
	}
	if cfg.ShowAll {
		cfg.ShowHeaders, cfg.ShowBody, cfg.ShowBodyType = true, true, true
		cfg.ShowProperties, cfg.ShowExchangeID = true, true
	}
	return &Endpoint{
		EndpointBase: core.EndpointBase{EndpointURI: uri},
		name:         remaining,
		cfg:          cfg,
		logger:       c.logger.Component(Scheme).With(zap.String("logger", remaining)),
	}, nil
}

type Endpoint struct {
	core.EndpointBase
	name   string
	cfg    Config
	logger *logger.CanonicalLogger
}

func (e *Endpoint) CreateProducer() (core.Producer, error) {
	p := &producer{endpoint: e}
	if e.cfg.GroupSize > 0 {
		p.throughput = &throughput{size: e.cfg.GroupSize}
	}
	return p, nil
}

type producer struct {
	core.NopService
	endpoint   *Endpoint
	throughput *throughput
}

func (p *producer) Process(ctx context.Context, ex *core.Exchange) error {
	level, enabled := p.endpoint.cfg.level()
	if !enabled {
		return nil
	}
	if p.throughput != nil {
		if msg, ok := p.throughput.record(time.Now()); ok {
			p.endpoint.logger.Log(level, msg)
		}
		return nil
	}
	p.endpoint.logger.Log(level, Format(p.endpoint.cfg, ex))
	return nil
}

// Format renders ex the way the log endpoint prints it.
func Format(cfg Config, ex *core.Exchange) string {
	var parts []string
	if cfg.ShowExchangeID {
		parts = append(parts, "Id: "+ex.ID)
	}
	parts = append(parts, "ExchangePattern: "+string(ex.Pattern))
	if cfg.ShowProperties && len(ex.Properties) > 0 {
		parts = append(parts, "Properties: "+formatMap(ex.Properties))
	}
	if cfg.ShowHeaders {
		parts = append(parts, "Headers: "+formatMap(ex.Message.Headers))
	}
	if cfg.ShowBodyType {
		parts = append(parts, "BodyType: "+bodyType(ex.Message.Body))
	}
	if cfg.ShowBody {
		body := bodyText(ex.Message)
		if cfg.MaxChars > 0 && len(body) > cfg.MaxChars {
			body = body[:cfg.MaxChars] + "... [Body clipped after " + fmt.Sprint(cfg.MaxChars) + " chars, total length is " + fmt.Sprint(len(body)) + "]"
		}
		parts = append(parts, "Body: "+body)
	}
	return "Exchange[" + strings.Join(parts, ", ") + "]"
}

func formatMap(m map[string]any) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, k+"="+core.ToString(m[k]))
	}
	return "{" + strings.Join(pairs, ", ") + "}"
}

func bodyType(body any) string {
	if body == nil {
		return "null"
	}
	return reflect.TypeOf(body).String()
}

func bodyText(m *core.Message) string {
	if m.Body == nil {
		return "[Body is null]"
	}
	if _, ok := m.Body.(interface{ Read([]byte) (int, error) }); ok {
		return "[Body is a stream]"
	}
	s, err := m.BodyString()
	if err != nil {
		return "[Body is not readable: " + err.Error() + "]"
	}
	return s
}

// throughput summarises how fast exchanges pass, one line per group.
type throughput struct {
	size int

	mu         sync.Mutex
	received   int64
	groupStart time.Time
	firstSeen  time.Time
}

func (t *throughput) record(now time.Time) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.received == 0 {
		t.firstSeen = now
		t.groupStart = now
	}
	t.received++
	if t.received%int64(t.size) != 0 {
		return "", false
	}

	group := now.Sub(t.groupStart)
	total := now.Sub(t.firstSeen)
	msg := fmt.Sprintf("Received: %d new messages, with total %d so far. Last group took: %d millis which is: %.2f messages per second. average: %.2f",
		t.size, t.received, group.Milliseconds(), rate(int64(t.size), group), rate(t.received, total))
	t.groupStart = now
	return msg, true
}

func rate(n int64, d time.Duration) float64 {
	if d <= 0 {
		return float64(n)
	}
	return float64(n) / d.Seconds()
}
